// Kubernaut Control Plane — watches a cluster for trouble, matches it
// against remediation playbooks, and gates anything risky on human approval.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/go-logr/zapr"

	"github.com/kubernaut/controlplane/internal/alertingress"
	"github.com/kubernaut/controlplane/internal/approvalmanager"
	"github.com/kubernaut/controlplane/internal/approvalstore"
	"github.com/kubernaut/controlplane/internal/clusterevent"
	"github.com/kubernaut/controlplane/internal/config"
	"github.com/kubernaut/controlplane/internal/eventstore"
	"github.com/kubernaut/controlplane/internal/executor"
	"github.com/kubernaut/controlplane/internal/k8sclient"
	"github.com/kubernaut/controlplane/internal/metrics"
	slacknotifier "github.com/kubernaut/controlplane/internal/notifier/slack"
	"github.com/kubernaut/controlplane/internal/ruleengine"
	"github.com/kubernaut/controlplane/internal/watchloop"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KUBERNAUT_CONFIG_PATH"), "path to a JSON config file overlaying the defaults")
	kubeconfig := flag.String("kubeconfig", os.Getenv("KUBECONFIG"), "path to a kubeconfig file; empty uses in-cluster config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	approvalStore, closeStore := newApprovalStore(ctx, cfg, logger)
	if closeStore != nil {
		defer closeStore()
	}

	notifier := slacknotifier.New(cfg.SlackBotToken, logger)

	invoker, clusterAPI := newClusterSurfaces(*kubeconfig, logger)

	approvals := approvalmanager.New(approvalStore, notifier, invoker, time.Duration(cfg.ApprovalTimeoutSeconds)*time.Second, logger)
	approvals.StartReaper(ctx, 15*time.Second)

	playbooks := executor.NewRegistry()
	exec := executor.New(playbooks, invoker, approvals, logger).
		WithAutoRemediation(cfg.AutoRemediationEnabled).
		WithOnComplete(func(run executor.PlaybookRun) {
			metricsReg.PlaybookRunsTotal.WithLabelValues(string(run.Status)).Inc()
		})

	rules := ruleengine.New(logger)

	rawStore, closeEventStore := newEventStore(ctx, cfg, logger)
	if closeEventStore != nil {
		defer closeEventStore()
	}

	dispatch := func(event clusterevent.Event) error {
		metricsReg.EventsTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
		matches := rules.Evaluate(event)
		for _, match := range matches {
			incidentContext := map[string]string{
				"namespace":     event.Resource.Namespace,
				"resource_name": event.Resource.Name,
				"resource_kind": event.Resource.Kind,
				"message":       event.Message,
			}
			if _, err := exec.Execute(ctx, match.PlaybookID, incidentContext, "watchloop", "slack", cfg.NotificationChannel); err != nil {
				logger.Error("failed to start playbook run",
					zap.String("playbook_id", match.PlaybookID),
					zap.Error(err),
				)
			}
		}
		return nil
	}

	var loop *watchloop.Watchloop
	if cfg.WatchloopEnabled && clusterAPI != nil {
		loop = watchloop.New(clusterAPI, dispatch, time.Duration(cfg.WatchloopIntervalSeconds)*time.Second, zapr.NewLogger(logger))
		loop.Start(ctx)
		defer loop.Stop()
	} else {
		logger.Info("watchloop disabled", zap.Bool("configured", cfg.WatchloopEnabled), zap.Bool("cluster_reachable", clusterAPI != nil))
	}

	ingress := alertingress.New(cfg.AlertmanagerWebhookSecret, rawStore, dispatch, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":"%s","commit":"%s","date":"%s"}`+"\n", version, commit, date)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.Handle("POST /webhook/alertmanager", ingress)

	mux.HandleFunc("GET /api/v1/approvals", func(w http.ResponseWriter, r *http.Request) {
		pending, err := approvals.ListPending(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metricsReg.PendingApprovals.Set(float64(len(pending)))
		writeApprovalList(w, pending)
	})

	mux.HandleFunc("POST /api/v1/approvals/reply", func(w http.ResponseWriter, r *http.Request) {
		handleApprovalReply(w, r, approvals)
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting control plane",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.Bool("auto_remediation", cfg.AutoRemediationEnabled),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// newApprovalStore prefers Redis when cfg.RedisAddr is reachable and falls
// back to an in-memory store otherwise, so a single-replica deployment
// without Redis still starts and serves approvals.
func newApprovalStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (approvalstore.KVStore, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("no redis address configured, using in-memory approval store")
		return approvalstore.NewMemStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	store, err := approvalstore.NewRedisStore(connectCtx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("could not connect to redis, falling back to in-memory approval store",
			zap.String("redis_addr", cfg.RedisAddr), zap.Error(err))
		return approvalstore.NewMemStore(), nil
	}
	logger.Info("using redis-backed approval store", zap.String("redis_addr", cfg.RedisAddr))
	return store, func() { _ = store.Close() }
}

// newEventStore uses a Postgres-backed store when cfg.EventStoreDSN is set,
// so the alert ingress audit trail survives a restart; otherwise it falls
// back to an in-memory store for single-process or test deployments.
func newEventStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (eventstore.Store, func()) {
	if cfg.EventStoreDSN == "" {
		return eventstore.NewMemStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := eventstore.NewPostgresStore(connectCtx, cfg.EventStoreDSN)
	if err != nil {
		logger.Warn("could not connect to postgres event store, falling back to in-memory", zap.Error(err))
		return eventstore.NewMemStore(), nil
	}
	logger.Info("using postgres-backed event store")
	return store, store.Close
}

// newClusterSurfaces builds the executor's ToolInvoker and the watch loop's
// ClusterAPI from the same clientset. Both fall back to a disabled surface
// when no kube config (in-cluster or via --kubeconfig) can be resolved, so
// playbook steps fail loudly instead of the process panicking on a nil
// client and the watch loop simply staying off.
func newClusterSurfaces(kubeconfigPath string, logger *zap.Logger) (executor.ToolInvoker, watchloop.ClusterAPI) {
	restCfg, err := resolveRestConfig(kubeconfigPath)
	if err != nil {
		logger.Warn("no kubernetes config available, remediation tools are disabled", zap.Error(err))
		return noopInvoker{}, nil
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		logger.Warn("failed to build kubernetes clientset", zap.Error(err))
		return noopInvoker{}, nil
	}
	dc, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		logger.Warn("failed to build kubernetes dynamic client", zap.Error(err))
		return noopInvoker{}, nil
	}

	return k8sclient.NewToolInvoker(cs, dc), k8sclient.New(cs)
}

func resolveRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			kubeconfigPath = home + "/.kube/config"
		}
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

// noopInvoker rejects every tool call with a clear error rather than
// panicking, so playbook runs fail loudly when no cluster is reachable.
type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, toolName string, params map[string]string) (string, error) {
	return "", fmt.Errorf("no kubernetes cluster configured, cannot run tool %q", toolName)
}
