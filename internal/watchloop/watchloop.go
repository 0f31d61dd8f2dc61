// Package watchloop periodically polls the cluster for conditions the
// control plane should react to: crashing pods, not-ready nodes, and
// deployments with zero available replicas. It emits one clusterevent.Event
// per newly observed issue and again when that issue recovers.
package watchloop

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kubernaut/controlplane/internal/clusterevent"
)

// EventCallback receives every event the watch loop produces. Errors
// returned by the callback are logged and otherwise ignored: a single
// downstream failure must not stop the loop from observing the next tick.
type EventCallback func(clusterevent.Event) error

// Watchloop owns three independent KnownIssueSets, one per category, so a
// resource key is only ever reaped from the category it was actually
// observed missing from.
type Watchloop struct {
	cluster  ClusterAPI
	callback EventCallback
	interval time.Duration
	log      logr.Logger

	runMu    sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	issueMu         sync.Mutex
	knownPods       map[string]time.Time
	knownNodes      map[string]time.Time
	knownDeploys    map[string]time.Time
}

// New constructs a Watchloop. interval must be positive.
func New(cluster ClusterAPI, callback EventCallback, interval time.Duration, log logr.Logger) *Watchloop {
	return &Watchloop{
		cluster:      cluster,
		callback:     callback,
		interval:     interval,
		log:          log,
		knownPods:    make(map[string]time.Time),
		knownNodes:   make(map[string]time.Time),
		knownDeploys: make(map[string]time.Time),
	}
}

// Start begins the polling loop in a background goroutine. It is idempotent:
// calling Start on an already-running loop is a no-op.
func (w *Watchloop) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx)
}

// Stop signals the loop to exit and blocks until the in-flight tick, if any,
// finishes. It is idempotent.
func (w *Watchloop) Stop() {
	w.runMu.Lock()
	if !w.running {
		w.runMu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.runMu.Unlock()

	<-doneCh
}

// IsRunning reports whether the loop is currently active.
func (w *Watchloop) IsRunning() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.running
}

func (w *Watchloop) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.safeTick(ctx)
		}
	}
}

func (w *Watchloop) safeTick(ctx context.Context) {
	events, err := w.tick(ctx)
	if err != nil {
		w.log.Error(err, "watchloop tick failed")
	}
	for _, evt := range events {
		if err := w.callback(evt); err != nil {
			w.log.Error(err, "watchloop event callback failed", "event_type", evt.Type, "resource", evt.ResourceKey())
		}
	}
	if len(events) > 0 {
		w.log.Info("watchloop tick produced events", "count", len(events))
	}
}

func (w *Watchloop) tick(ctx context.Context) ([]clusterevent.Event, error) {
	var events []clusterevent.Event

	podEvents, err := w.tickCrashingPods(ctx)
	if err != nil {
		return events, err
	}
	events = append(events, podEvents...)

	nodeEvents, err := w.tickNotReadyNodes(ctx)
	if err != nil {
		return events, err
	}
	events = append(events, nodeEvents...)

	deployEvents, err := w.tickDeployments(ctx)
	if err != nil {
		return events, err
	}
	events = append(events, deployEvents...)

	return events, nil
}

func (w *Watchloop) tickCrashingPods(ctx context.Context) ([]clusterevent.Event, error) {
	pods, err := w.cluster.ListCrashingPods(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current := make(map[string]struct{}, len(pods))
	var events []clusterevent.Event

	w.issueMu.Lock()
	for _, pod := range pods {
		key := clusterevent.Resource{Kind: "pod", Namespace: pod.Namespace, Name: pod.Name}.Key()
		current[key] = struct{}{}
		if _, known := w.knownPods[key]; known {
			continue
		}
		w.knownPods[key] = now

		eventType := clusterevent.EventCrashLoop
		severity := clusterevent.SeverityWarning
		if pod.Reason == "OOMKilled" {
			eventType = clusterevent.EventOOMKilled
			severity = clusterevent.SeverityCritical
		} else if pod.Reason == "CrashLoopBackOff" {
			severity = clusterevent.SeverityCritical
		}

		events = append(events, clusterevent.Event{
			Type:       eventType,
			Severity:   severity,
			Resource:   clusterevent.Resource{Kind: "pod", Namespace: pod.Namespace, Name: pod.Name},
			Message:    pod.Message,
			DetectedAt: now,
		})
	}
	for key := range w.knownPods {
		if _, stillBad := current[key]; !stillBad {
			delete(w.knownPods, key)
			w.log.V(1).Info("watchloop pod recovered", "resource", key)
		}
	}
	w.issueMu.Unlock()

	return events, nil
}

func (w *Watchloop) tickNotReadyNodes(ctx context.Context) ([]clusterevent.Event, error) {
	nodes, err := w.cluster.ListNotReadyNodes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current := make(map[string]struct{})
	var events []clusterevent.Event

	w.issueMu.Lock()
	for _, node := range nodes {
		if node.Ready {
			continue
		}
		key := clusterevent.Resource{Kind: "node", Name: node.Name}.Key()
		current[key] = struct{}{}
		if _, known := w.knownNodes[key]; known {
			continue
		}
		w.knownNodes[key] = now
		events = append(events, clusterevent.Event{
			Type:       clusterevent.EventNotReadyNode,
			Severity:   clusterevent.SeverityCritical,
			Resource:   clusterevent.Resource{Kind: "node", Name: node.Name},
			Message:    "node is not ready",
			DetectedAt: now,
		})
	}
	for key := range w.knownNodes {
		if _, stillBad := current[key]; !stillBad {
			delete(w.knownNodes, key)
			w.log.V(1).Info("watchloop node recovered", "resource", key)
		}
	}
	w.issueMu.Unlock()

	return events, nil
}

func (w *Watchloop) tickDeployments(ctx context.Context) ([]clusterevent.Event, error) {
	namespaces, err := w.cluster.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current := make(map[string]struct{})
	var events []clusterevent.Event

	for _, ns := range namespaces {
		deployments, err := w.cluster.ListDeployments(ctx, ns)
		if err != nil {
			return events, err
		}
		for _, d := range deployments {
			if d.Replicas <= 0 || d.AvailableReplicas > 0 {
				continue
			}
			key := clusterevent.Resource{Kind: "deployment", Namespace: d.Namespace, Name: d.Name}.Key()
			current[key] = struct{}{}

			w.issueMu.Lock()
			_, known := w.knownDeploys[key]
			if !known {
				w.knownDeploys[key] = now
			}
			w.issueMu.Unlock()
			if known {
				continue
			}

			events = append(events, clusterevent.Event{
				Type:       clusterevent.EventReplicationFailure,
				Severity:   clusterevent.SeverityCritical,
				Resource:   clusterevent.Resource{Kind: "deployment", Namespace: d.Namespace, Name: d.Name},
				Message:    "deployment has zero available replicas",
				DetectedAt: now,
			})
		}
	}

	w.issueMu.Lock()
	for key := range w.knownDeploys {
		if _, stillBad := current[key]; !stillBad {
			delete(w.knownDeploys, key)
			w.log.V(1).Info("watchloop deployment recovered", "resource", key)
		}
	}
	w.issueMu.Unlock()

	return events, nil
}

// NeedLeaderElection marks Watchloop as a controller-runtime Runnable that
// must not run concurrently from more than one replica when embedded in a
// manager, matching the leader-election marker used elsewhere in the stack
// for singleton background loops.
func (w *Watchloop) NeedLeaderElection() bool { return true }
