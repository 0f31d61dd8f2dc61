package alertingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/clusterevent"
	"github.com/kubernaut/controlplane/internal/eventstore"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func collectDispatch() (func(clusterevent.Event) error, func() []clusterevent.Event) {
	var mu sync.Mutex
	var events []clusterevent.Event
	dispatch := func(e clusterevent.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}
	get := func() []clusterevent.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]clusterevent.Event(nil), events...)
	}
	return dispatch, get
}

func processedCount(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var body struct {
		Processed int `json:"processed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body.Processed
}

const samplePayload = `{"alerts":[{"status":"firing","labels":{"severity":"critical","namespace":"default","pod":"api-7c9f","instance":"10.0.0.5:9100"},"annotations":{"summary":"deployment has zero available replicas"}}]}`

func TestAcceptsUnsignedWhenNoSecretConfigured(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if processedCount(t, rec) != 1 {
		t.Errorf("processed = %d, want 1", processedCount(t, rec))
	}
	if len(get()) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(get()))
	}
}

func TestRejectsMissingSignatureWhenSecretConfigured(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("s3cret", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(get()) != 0 {
		t.Fatalf("expected no dispatch for rejected request, got %d", len(get()))
	}
}

func TestAcceptsValidSignature(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	secret := "s3cret"
	ing := New(secret, store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	req.Header.Set("X-Hub-Signature-256", sign(secret, []byte(samplePayload)))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if processedCount(t, rec) != 1 {
		t.Errorf("processed = %d, want 1", processedCount(t, rec))
	}
	if len(get()) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(get()))
	}
}

func TestRejectsWrongSignature(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, _ := collectDispatch()
	ing := New("s3cret", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	req.Header.Set("X-Hub-Signature-256", sign("wrong-secret", []byte(samplePayload)))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRejectsStaleTimestampOutsideReplayWindow(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	old := time.Now().Add(-10 * time.Minute).Unix()
	req.Header.Set("X-Alert-Timestamp", strconv.FormatInt(old, 10))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(get()) != 0 {
		t.Fatalf("expected no dispatch for stale request, got %d", len(get()))
	}
}

func TestAcceptsFreshTimestamp(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	req.Header.Set("X-Alert-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(get()) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(get()))
	}
}

func TestUnknownSeverityDefaultsToWarning(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	payload := `{"alerts":[{"status":"firing","labels":{"severity":"bogus"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	events := get()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Severity != clusterevent.SeverityWarning {
		t.Errorf("Severity = %s, want warning default", events[0].Severity)
	}
}

func TestNormalizeReadsPodAndInstanceLabels(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	events := get()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Resource.Name != "api-7c9f" {
		t.Errorf("Resource.Name = %q, want pod label value api-7c9f", events[0].Resource.Name)
	}
	if events[0].Resource.Namespace != "default" {
		t.Errorf("Resource.Namespace = %q, want default", events[0].Resource.Namespace)
	}
	if events[0].Resource.Kind != "" {
		t.Errorf("Resource.Kind = %q, want empty", events[0].Resource.Kind)
	}
}

func TestNormalizeFallsBackToInstanceLabelWhenNoPod(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, get := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	payload := `{"alerts":[{"status":"firing","labels":{"severity":"warning","instance":"10.0.0.9:9100"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	events := get()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Resource.Name != "10.0.0.9:9100" {
		t.Errorf("Resource.Name = %q, want instance label value", events[0].Resource.Name)
	}
}

func TestPersistsRawPayloadBeforeDispatch(t *testing.T) {
	store := eventstore.NewMemStore()
	dispatch, _ := collectDispatch()
	ing := New("", store, dispatch, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook/alertmanager", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	recent, err := store.Recent(req.Context(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(recent))
	}
}
