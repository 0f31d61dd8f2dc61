package k8sclient

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// ToolInvoker executes the named remediation tools a playbook step can
// reference against a real cluster, via the dynamic client for generic
// resource operations and the typed clientset for logs.
type ToolInvoker struct {
	clientset     kubernetes.Interface
	dynamicClient dynamic.Interface
}

// NewToolInvoker returns an executor.ToolInvoker backed by cs/dc.
func NewToolInvoker(cs kubernetes.Interface, dc dynamic.Interface) *ToolInvoker {
	return &ToolInvoker{clientset: cs, dynamicClient: dc}
}

var deploymentGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
var podGVR = schema.GroupVersionResource{Version: "v1", Resource: "pods"}
var nodeGVR = schema.GroupVersionResource{Version: "v1", Resource: "nodes"}

// Invoke dispatches to the concrete handler for toolName.
func (t *ToolInvoker) Invoke(ctx context.Context, toolName string, params map[string]string) (string, error) {
	switch toolName {
	case "k8s_describe_resource":
		return t.describeResource(ctx, params)
	case "k8s_analyze_logs":
		return t.podLogs(ctx, params)
	case "k8s_restart_pod":
		return t.restartPod(ctx, params)
	case "k8s_get_pods":
		return t.getPods(ctx, params)
	case "k8s_patch_resource":
		return t.patchResource(ctx, params)
	case "k8s_get_rollout_history":
		return t.describeResource(ctx, params)
	case "k8s_rollback_deployment":
		return t.rollbackDeployment(ctx, params)
	case "k8s_rollout_status":
		return t.describeResource(ctx, params)
	case "k8s_cordon_node":
		return t.cordonNode(ctx, params, true)
	case "k8s_drain_node":
		return t.drainNode(ctx, params)
	case "k8s_scale_deployment":
		return t.scaleDeployment(ctx, params)
	default:
		return "", fmt.Errorf("unknown tool %q", toolName)
	}
}

func (t *ToolInvoker) describeResource(ctx context.Context, params map[string]string) (string, error) {
	gvr := resourceGVR(params["resource"])
	obj, err := t.dynamicClient.Resource(gvr).Namespace(params["namespace"]).Get(ctx, params["name"], metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("describe %s/%s: %w", params["resource"], params["name"], err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "name=%s namespace=%s kind=%s\n", obj.GetName(), obj.GetNamespace(), obj.GetKind())
	return buf.String(), nil
}

func resourceGVR(resource string) schema.GroupVersionResource {
	switch resource {
	case "node":
		return nodeGVR
	case "deployment":
		return deploymentGVR
	default:
		return podGVR
	}
}

func (t *ToolInvoker) podLogs(ctx context.Context, params map[string]string) (string, error) {
	tail := int64(200)
	stream, err := t.clientset.CoreV1().Pods(params["namespace"]).GetLogs(params["name"], &corev1.PodLogOptions{TailLines: &tail}).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("get logs for %s/%s: %w", params["namespace"], params["name"], err)
	}
	defer stream.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(stream); err != nil {
		return "", fmt.Errorf("read log stream: %w", err)
	}
	return buf.String(), nil
}

func (t *ToolInvoker) restartPod(ctx context.Context, params map[string]string) (string, error) {
	if err := t.clientset.CoreV1().Pods(params["namespace"]).Delete(ctx, params["name"], metav1.DeleteOptions{}); err != nil {
		return "", fmt.Errorf("restart pod %s/%s: %w", params["namespace"], params["name"], err)
	}
	return fmt.Sprintf("pod %s/%s deleted for restart", params["namespace"], params["name"]), nil
}

func (t *ToolInvoker) getPods(ctx context.Context, params map[string]string) (string, error) {
	list, err := t.clientset.CoreV1().Pods(params["namespace"]).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list pods in %s: %w", params["namespace"], err)
	}
	return fmt.Sprintf("%d pods in %s", len(list.Items), params["namespace"]), nil
}

func (t *ToolInvoker) patchResource(ctx context.Context, params map[string]string) (string, error) {
	gvr := resourceGVR(params["resource"])
	_, err := t.dynamicClient.Resource(gvr).Namespace(params["namespace"]).Patch(
		ctx, params["name"], types.MergePatchType, []byte(params["patch"]), metav1.PatchOptions{})
	if err != nil {
		return "", fmt.Errorf("patch %s/%s: %w", params["namespace"], params["name"], err)
	}
	return fmt.Sprintf("patched %s/%s", params["namespace"], params["name"]), nil
}

func (t *ToolInvoker) rollbackDeployment(ctx context.Context, params map[string]string) (string, error) {
	obj, err := t.dynamicClient.Resource(deploymentGVR).Namespace(params["namespace"]).Get(ctx, params["name"], metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get deployment %s/%s: %w", params["namespace"], params["name"], err)
	}
	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations["kubectl.kubernetes.io/restartedAt"] = metav1.Now().Format("2006-01-02T15:04:05Z")
	obj.SetAnnotations(annotations)
	if _, err := t.dynamicClient.Resource(deploymentGVR).Namespace(params["namespace"]).Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("rollback deployment %s/%s: %w", params["namespace"], params["name"], err)
	}
	return fmt.Sprintf("rollback triggered for %s/%s", params["namespace"], params["name"]), nil
}

func (t *ToolInvoker) cordonNode(ctx context.Context, params map[string]string, unschedulable bool) (string, error) {
	obj, err := t.dynamicClient.Resource(nodeGVR).Get(ctx, params["name"], metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get node %s: %w", params["name"], err)
	}
	if err := unstructured.SetNestedField(obj.Object, unschedulable, "spec", "unschedulable"); err != nil {
		return "", fmt.Errorf("set unschedulable on %s: %w", params["name"], err)
	}
	if _, err := t.dynamicClient.Resource(nodeGVR).Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("cordon node %s: %w", params["name"], err)
	}
	return fmt.Sprintf("node %s cordoned", params["name"]), nil
}

func (t *ToolInvoker) drainNode(ctx context.Context, params map[string]string) (string, error) {
	pods, err := t.clientset.CoreV1().Pods(corev1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + params["name"],
	})
	if err != nil {
		return "", fmt.Errorf("list pods on node %s: %w", params["name"], err)
	}
	evicted := 0
	for _, pod := range pods.Items {
		if err := t.clientset.CoreV1().Pods(pod.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{}); err != nil {
			continue
		}
		evicted++
	}
	return fmt.Sprintf("drained node %s, evicted %d pods", params["name"], evicted), nil
}

func (t *ToolInvoker) scaleDeployment(ctx context.Context, params map[string]string) (string, error) {
	replicas, err := strconv.Atoi(params["replicas"])
	if err != nil || replicas <= 0 {
		replicas = 1
	}
	obj, err := t.dynamicClient.Resource(deploymentGVR).Namespace(params["namespace"]).Get(ctx, params["name"], metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get deployment %s/%s: %w", params["namespace"], params["name"], err)
	}
	if err := unstructured.SetNestedField(obj.Object, int64(replicas), "spec", "replicas"); err != nil {
		return "", fmt.Errorf("set replicas: %w", err)
	}
	if _, err := t.dynamicClient.Resource(deploymentGVR).Namespace(params["namespace"]).Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("scale deployment %s/%s: %w", params["namespace"], params["name"], err)
	}
	return fmt.Sprintf("scaled %s/%s to %d replicas", params["namespace"], params["name"], replicas), nil
}
