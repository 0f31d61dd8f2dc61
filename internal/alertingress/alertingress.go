// Package alertingress accepts inbound Alertmanager webhook deliveries,
// verifies their signature, normalizes them into clusterevent.Event values,
// and dispatches them after persisting the raw payload.
package alertingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/clusterevent"
	"github.com/kubernaut/controlplane/internal/eventstore"
)

const replayWindow = 300 * time.Second

// alertmanagerPayload is the subset of the Alertmanager webhook schema the
// ingress cares about.
type alertmanagerPayload struct {
	Alerts []alertmanagerAlert `json:"alerts"`
}

type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// Ingress is the HTTP handler backing POST /webhook/alertmanager.
type Ingress struct {
	secret   string
	store    eventstore.Store
	dispatch func(clusterevent.Event) error
	log      *zap.Logger
}

// New constructs an Ingress. secret may be empty, in which case signature
// verification is skipped entirely (matching an operator who hasn't
// configured Alertmanager webhook signing yet).
func New(secret string, store eventstore.Store, dispatch func(clusterevent.Event) error, log *zap.Logger) *Ingress {
	return &Ingress{secret: secret, store: store, dispatch: dispatch, log: log}
}

// ServeHTTP implements http.Handler.
func (ing *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "could not read request body")
		return
	}

	if ing.secret != "" {
		if !ing.verifySignature(r, body) {
			writeError(w, http.StatusForbidden, "invalid_signature", "signature verification failed")
			return
		}
	}

	if ts := r.Header.Get("X-Alert-Timestamp"); ts != "" {
		if !withinReplayWindow(ts) {
			writeError(w, http.StatusBadRequest, "stale_request", "request timestamp outside replay window")
			return
		}
	}

	var payload alertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "could not parse alertmanager payload")
		return
	}

	storeErr := ing.store.Append(r.Context(), eventstore.StoredEvent{
		ID:         uuid.NewString(),
		Source:     "alertmanager",
		RawPayload: string(body),
		ReceivedAt: time.Now(),
	})
	if storeErr != nil {
		ing.log.Error("alert ingress: failed to persist raw payload", zap.Error(storeErr))
		writeError(w, http.StatusInternalServerError, "persist_failed", "could not persist alert")
		return
	}

	processed := 0
	for _, alert := range payload.Alerts {
		event := normalize(alert)
		if err := ing.dispatch(event); err != nil {
			ing.log.Error("alert ingress: dispatch failed", zap.Error(err), zap.String("event_type", string(event.Type)))
			continue
		}
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// normalize maps an Alertmanager alert onto a clusterevent.Event. Resource
// kind is never known from the webhook payload; name comes from whichever of
// the `pod`/`instance` labels Alertmanager populated.
func normalize(alert alertmanagerAlert) clusterevent.Event {
	eventType := clusterevent.EventAlertmanagerFiring
	severity := clusterevent.ParseSeverity(alert.Labels["severity"])

	status := alert.Status
	if status == "" {
		status = "firing"
	}

	detectedAt := alert.StartsAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	name := alert.Labels["pod"]
	if name == "" {
		name = alert.Labels["instance"]
	}

	return clusterevent.Event{
		Type:     eventType,
		Severity: severity,
		Resource: clusterevent.Resource{
			Namespace: alert.Labels["namespace"],
			Name:      name,
		},
		Message:    alert.Annotations["summary"],
		Labels:     alert.Labels,
		DetectedAt: detectedAt,
	}
}

func (ing *Ingress) verifySignature(r *http.Request, body []byte) bool {
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(ing.secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func withinReplayWindow(raw string) bool {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(sec, 0)
	return math.Abs(time.Since(ts).Seconds()) <= replayWindow.Seconds()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
