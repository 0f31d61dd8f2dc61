// Package k8sclient implements watchloop.ClusterAPI against a real
// Kubernetes API server via client-go.
package k8sclient

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kubernaut/controlplane/internal/watchloop"
)

const (
	skippedNamespaceKubeSystem   = "kube-system"
	skippedNamespaceKubePublic   = "kube-public"
	skippedNamespaceNodeLease    = "kube-node-lease"
)

// Client wraps a kubernetes.Interface and exposes the narrow read surface
// watchloop.ClusterAPI needs.
type Client struct {
	clientset kubernetes.Interface
}

// New returns a watchloop.ClusterAPI backed by cs.
func New(cs kubernetes.Interface) *Client {
	return &Client{clientset: cs}
}

var _ watchloop.ClusterAPI = (*Client)(nil)

func (c *Client) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		switch ns.Name {
		case skippedNamespaceKubeSystem, skippedNamespaceKubePublic, skippedNamespaceNodeLease:
			continue
		}
		names = append(names, ns.Name)
	}
	return names, nil
}

func (c *Client) ListCrashingPods(ctx context.Context) ([]watchloop.PodStatus, error) {
	list, err := c.clientset.CoreV1().Pods(corev1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	var out []watchloop.PodStatus
	for _, pod := range list.Items {
		for _, cs := range pod.Status.ContainerStatuses {
			reason, message := containerTrouble(cs)
			if reason == "" {
				continue
			}
			out = append(out, watchloop.PodStatus{
				Namespace: pod.Namespace,
				Name:      pod.Name,
				Phase:     string(pod.Status.Phase),
				Reason:    reason,
				Message:   message,
			})
			break
		}
	}
	return out, nil
}

// troubleWaitingReasons are the container waiting-state reasons the watch
// loop treats as trouble worth an event.
var troubleWaitingReasons = map[string]bool{
	"CrashLoopBackOff": true,
	"Error":            true,
	"OOMKilled":        true,
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
}

// containerTrouble inspects a single container's status for a waiting state
// whose reason is one the watch loop cares about.
func containerTrouble(cs corev1.ContainerStatus) (reason, message string) {
	if cs.State.Waiting != nil && troubleWaitingReasons[cs.State.Waiting.Reason] {
		return cs.State.Waiting.Reason, cs.State.Waiting.Message
	}
	return "", ""
}

func (c *Client) ListNotReadyNodes(ctx context.Context) ([]watchloop.NodeStatus, error) {
	list, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	out := make([]watchloop.NodeStatus, 0, len(list.Items))
	for _, node := range list.Items {
		ready := false
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady {
				ready = cond.Status == corev1.ConditionTrue
				break
			}
		}
		out = append(out, watchloop.NodeStatus{Name: node.Name, Ready: ready})
	}
	return out, nil
}

func (c *Client) ListDeployments(ctx context.Context, namespace string) ([]watchloop.DeploymentStatus, error) {
	list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %s: %w", namespace, err)
	}

	out := make([]watchloop.DeploymentStatus, 0, len(list.Items))
	for _, d := range list.Items {
		replicas := int32(0)
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		out = append(out, watchloop.DeploymentStatus{
			Namespace:         d.Namespace,
			Name:              d.Name,
			Replicas:          replicas,
			AvailableReplicas: d.Status.AvailableReplicas,
		})
	}
	return out, nil
}
