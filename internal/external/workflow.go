package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"steward/internal/types"
)

// WorkflowClient forwards automation triggers to the ministry workflow
// engine over HTTP. The automation worker drains the trigger queue and calls
// Trigger once per dequeued message; the engine decides which follow-up
// workflows (thank-you sequences, pastoral care tasks, lapsed-donor
// outreach) the event starts.
type WorkflowClient struct {
	base      *BaseClient
	engineURL string
	logger    *slog.Logger
}

// NewWorkflowClient creates a WorkflowClient for the given engine base URL.
func NewWorkflowClient(httpClient *http.Client, engineURL string, logger *slog.Logger) *WorkflowClient {
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"workflow-engine",
		DefaultRetryPolicy(),
		"Steward/1.0",
	)

	return &WorkflowClient{
		base:      base,
		engineURL: strings.TrimSuffix(engineURL, "/"),
		logger:    logger,
	}
}

// NewWorkflowClientWithBase creates a WorkflowClient with a pre-configured
// BaseClient, for tests that need to control retry behavior.
func NewWorkflowClientWithBase(base *BaseClient, engineURL string, logger *slog.Logger) *WorkflowClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowClient{
		base:      base,
		engineURL: strings.TrimSuffix(engineURL, "/"),
		logger:    logger,
	}
}

// Trigger posts one automation trigger to the engine. A non-2xx response is
// an error so the SQS message returns to the queue for redelivery; the
// engine deduplicates on MessageID.
func (c *WorkflowClient) Trigger(ctx context.Context, msg types.TriggerMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal automation trigger",
			err,
		)
	}

	reqURL := c.engineURL + "/v1/triggers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create automation trigger request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		// Transport failures are retryable; only an engine rejection below
		// gets the automation-specific code that makes the worker drop.
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("automation trigger request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("automation trigger forwarded",
			"message_id", msg.MessageID,
			"event_type", string(msg.EventType),
			"duration", time.Since(start),
		)
		return nil
	}

	// 4xx from the engine: the trigger is malformed or rejected, and a
	// redelivery will not change that. Surface a distinct error so the
	// worker can drop the message instead of retrying forever.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return types.NewAppError(
		types.ErrCodeUpstreamAutomation,
		fmt.Sprintf("workflow engine rejected trigger (%d): %s", resp.StatusCode, string(snippet)),
		nil,
	)
}
