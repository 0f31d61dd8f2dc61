package watchloop

import "context"

// PodStatus is the subset of pod state the watch loop inspects when looking
// for crash loops and OOM kills.
type PodStatus struct {
	Namespace string
	Name      string
	Phase     string
	Reason    string // e.g. CrashLoopBackOff, OOMKilled, Error
	Message   string
}

// NodeStatus is the subset of node state the watch loop inspects when
// looking for nodes that have gone NotReady.
type NodeStatus struct {
	Name  string
	Ready bool
}

// DeploymentStatus is the subset of deployment state the watch loop uses to
// detect replication failures (desired replicas > 0, none available).
type DeploymentStatus struct {
	Namespace         string
	Name              string
	Replicas          int32
	AvailableReplicas int32
}

// ClusterAPI is the read surface the watch loop needs from the cluster. It
// is intentionally narrow and poll-shaped rather than informer-shaped, so a
// fake implementation in tests needs no shared-informer bookkeeping.
type ClusterAPI interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	ListCrashingPods(ctx context.Context) ([]PodStatus, error)
	ListNotReadyNodes(ctx context.Context) ([]NodeStatus, error)
	ListDeployments(ctx context.Context, namespace string) ([]DeploymentStatus, error)
}
