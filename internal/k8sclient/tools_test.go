package k8sclient

import (
	"context"
	"strings"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

func newTestInvoker(t *testing.T, objects ...runtime.Object) (*ToolInvoker, *k8sfake.Clientset) {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := appsv1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme: %v", err)
	}

	cs := k8sfake.NewSimpleClientset()
	dc := fake.NewSimpleDynamicClient(scheme, objects...)
	return NewToolInvoker(cs, dc), cs
}

func unstructuredDeployment(namespace, name string, replicas int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"namespace": namespace,
			"name":      name,
		},
		"spec": map[string]interface{}{
			"replicas": replicas,
		},
	}}
}

func unstructuredNode(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Node",
		"metadata": map[string]interface{}{
			"name": name,
		},
		"spec": map[string]interface{}{},
	}}
}

func TestInvokeUnknownToolReturnsError(t *testing.T) {
	invoker, _ := newTestInvoker(t)
	if _, err := invoker.Invoke(context.Background(), "nonexistent_tool", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestScaleDeploymentUpdatesReplicas(t *testing.T) {
	dep := unstructuredDeployment("payments", "api", 1)
	invoker, _ := newTestInvoker(t, dep)

	out, err := invoker.Invoke(context.Background(), "k8s_scale_deployment", map[string]string{
		"namespace": "payments",
		"name":      "api",
		"replicas":  "5",
	})
	if err != nil {
		t.Fatalf("Invoke scale: %v", err)
	}
	if !strings.Contains(out, "5 replicas") {
		t.Errorf("output = %q, want mention of 5 replicas", out)
	}
}

func TestScaleDeploymentFallsBackToOneOnInvalidInput(t *testing.T) {
	dep := unstructuredDeployment("payments", "api", 3)
	invoker, _ := newTestInvoker(t, dep)

	out, err := invoker.Invoke(context.Background(), "k8s_scale_deployment", map[string]string{
		"namespace": "payments",
		"name":      "api",
		"replicas":  "not-a-number",
	})
	if err != nil {
		t.Fatalf("Invoke scale: %v", err)
	}
	if !strings.Contains(out, "1 replicas") {
		t.Errorf("output = %q, want fallback to 1 replica", out)
	}
}

func TestCordonNodeSetsUnschedulable(t *testing.T) {
	node := unstructuredNode("node-a")
	invoker, _ := newTestInvoker(t, node)

	out, err := invoker.Invoke(context.Background(), "k8s_cordon_node", map[string]string{"name": "node-a"})
	if err != nil {
		t.Fatalf("Invoke cordon: %v", err)
	}
	if !strings.Contains(out, "node-a cordoned") {
		t.Errorf("output = %q, want confirmation of cordon", out)
	}
}

func TestRestartPodDeletesPod(t *testing.T) {
	cs := k8sfake.NewSimpleClientset(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web-1"}})
	invoker := NewToolInvoker(cs, fake.NewSimpleDynamicClient(runtime.NewScheme()))

	out, err := invoker.Invoke(context.Background(), "k8s_restart_pod", map[string]string{"namespace": "default", "name": "web-1"})
	if err != nil {
		t.Fatalf("Invoke restart: %v", err)
	}
	if !strings.Contains(out, "deleted for restart") {
		t.Errorf("output = %q, want deletion confirmation", out)
	}

	if _, err := cs.CoreV1().Pods("default").Get(context.Background(), "web-1", metav1.GetOptions{}); err == nil {
		t.Error("expected pod to be gone after restart")
	}
}

func TestGetPodsReportsCount(t *testing.T) {
	cs := k8sfake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "a"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "b"}},
	)
	invoker := NewToolInvoker(cs, fake.NewSimpleDynamicClient(runtime.NewScheme()))

	out, err := invoker.Invoke(context.Background(), "k8s_get_pods", map[string]string{"namespace": "default"})
	if err != nil {
		t.Fatalf("Invoke get pods: %v", err)
	}
	if !strings.Contains(out, "2 pods") {
		t.Errorf("output = %q, want 2 pods", out)
	}
}

func TestResourceGVRMapping(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"node", "nodes"},
		{"deployment", "deployments"},
		{"pod", "pods"},
		{"", "pods"},
	}
	for _, tt := range tests {
		if got := resourceGVR(tt.resource).Resource; got != tt.want {
			t.Errorf("resourceGVR(%q).Resource = %s, want %s", tt.resource, got, tt.want)
		}
	}
}
