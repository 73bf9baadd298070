package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"steward/internal/types"
)

func newTestWorkflowClient(t *testing.T, serverURL string) *WorkflowClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-workflow",
		RetryPolicy{
			MaxRetries: 0,
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"Steward-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewWorkflowClientWithBase(base, serverURL, nil)
}

func testTriggerMessage() types.TriggerMessage {
	return types.TriggerMessage{
		MessageID: "msg_1",
		EventType: types.EventPaymentSucceeded,
		Data:      map[string]any{"donation_id": "don_1"},
		EmittedAt: time.Now().UTC(),
	}
}

func TestWorkflowClient_Trigger_Success(t *testing.T) {
	var received types.TriggerMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/triggers" {
			t.Errorf("expected path /v1/triggers, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode trigger: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestWorkflowClient(t, server.URL)
	if err := client.Trigger(context.Background(), testTriggerMessage()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if received.MessageID != "msg_1" {
		t.Errorf("unexpected forwarded message: %+v", received)
	}
	if received.EventType != types.EventPaymentSucceeded {
		t.Errorf("unexpected event type: %s", received.EventType)
	}
}

func TestWorkflowClient_Trigger_EngineRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unknown trigger type"}`))
	}))
	defer server.Close()

	client := newTestWorkflowClient(t, server.URL)
	err := client.Trigger(context.Background(), testTriggerMessage())
	if err == nil {
		t.Fatal("expected error for 422 response")
	}

	// A rejection carries the automation-specific code so the worker drops
	// the message instead of retrying forever.
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamAutomation {
		t.Errorf("expected %q, got %q", types.ErrCodeUpstreamAutomation, appErr.Code)
	}
}

func TestWorkflowClient_Trigger_EngineUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestWorkflowClient(t, server.URL)
	err := client.Trigger(context.Background(), testTriggerMessage())
	if err == nil {
		t.Fatal("expected error for 503 response")
	}

	// Unavailability is retryable; the worker sends the message back to the
	// queue rather than dropping it.
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %q, got %q", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}
