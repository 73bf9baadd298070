// Package main is the entrypoint for the Automation Worker Lambda function.
//
// The worker consumes trigger messages from the automation SQS queue
// (published by the webhook server after each successfully handled payment
// event) and forwards them to the ministry workflow engine over HTTP.
//
// Cold start:
//  1. Initialize structured logger.
//  2. Load AWS SDK configuration.
//  3. Read environment variables for the workflow engine URL.
//  4. Initialize the workflow client and CloudWatch metrics.
//  5. Register handler and call lambda.Start.
//
// Lambda SQS integration uses partial batch responses: messages that fail
// processing are returned in batchItemFailures so SQS retries only them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"golang.org/x/sync/errgroup"

	"steward/internal/external"
	"steward/internal/metrics"
	"steward/internal/types"
)

// maxConcurrentForwards bounds parallel calls to the workflow engine within
// one batch. SQS batches are at most 10 messages, but the engine rate-limits
// aggressively during campaign sends.
const maxConcurrentForwards = 4

// TriggerForwarder is the subset of the workflow client the handler needs.
type TriggerForwarder interface {
	Trigger(ctx context.Context, msg types.TriggerMessage) error
}

// DeliveryRecorder publishes per-trigger telemetry. Optional.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, eventType string, outcome types.DeliveryOutcome)
}

// Handler holds the dependencies for the automation worker Lambda handler.
type Handler struct {
	forwarder TriggerForwarder
	metrics   DeliveryRecorder
	logger    *slog.Logger
}

// Handle processes an SQS event containing one or more trigger messages.
// Messages are forwarded concurrently with a bounded degree of parallelism;
// each message fails or succeeds independently.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		response events.SQSEventResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentForwards)

	for _, record := range sqsEvent.Records {
		g.Go(func() error {
			if err := h.processMessage(gctx, record); err != nil {
				h.logger.Error("failed to process trigger message",
					"message_id", record.MessageId,
					"error", err,
				)
				mu.Lock()
				response.BatchItemFailures = append(response.BatchItemFailures,
					events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
				)
				mu.Unlock()
			}
			// Failures are reported via BatchItemFailures, never as a group
			// error: one bad message must not fail the whole batch.
			return nil
		})
	}

	_ = g.Wait()
	return response, nil
}

// processMessage forwards a single dequeued trigger to the workflow engine.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.TriggerMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal trigger message; dropping",
			"message_id", record.MessageId,
			"error", err,
		)
		// Permanent parse failure - do not retry (return nil to ACK).
		return nil
	}

	logger := h.logger.With(
		"message_id", msg.MessageID,
		"event_type", string(msg.EventType),
	)

	logger.InfoContext(ctx, "forwarding automation trigger",
		"queue_lag", queueLag(record),
	)

	if err := h.forwarder.Trigger(ctx, msg); err != nil {
		// A rejected trigger (engine 4xx) will be rejected again on every
		// redelivery; drop it rather than retrying forever.
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamAutomation {
			logger.ErrorContext(ctx, "workflow engine rejected trigger; dropping",
				"error", err,
			)
			h.record(ctx, msg, types.OutcomeHandlerFailure)
			return nil
		}
		h.record(ctx, msg, types.OutcomeHandlerFailure)
		return fmt.Errorf("forward trigger: %w", err)
	}

	h.record(ctx, msg, types.OutcomeProcessed)
	return nil
}

func (h *Handler) record(ctx context.Context, msg types.TriggerMessage, outcome types.DeliveryOutcome) {
	if h.metrics != nil {
		h.metrics.RecordDelivery(ctx, string(msg.EventType), outcome)
	}
}

// queueLag derives the time a message spent in the queue from the SQS
// SentTimestamp attribute (millisecond epoch). Zero when unavailable.
func queueLag(record events.SQSMessage) time.Duration {
	sent, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return 0
	}
	var millis int64
	if _, err := fmt.Sscanf(sent, "%d", &millis); err != nil {
		return 0
	}
	return time.Since(time.UnixMilli(millis))
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("automation worker Lambda initializing (cold start)")

	engineURL := os.Getenv("AUTOMATION_ENGINE_URL")
	if engineURL == "" {
		logger.Error("AUTOMATION_ENGINE_URL is required")
		os.Exit(1)
	}

	metricNamespace := os.Getenv("METRIC_NAMESPACE")
	if metricNamespace == "" {
		metricNamespace = "Steward/Webhooks"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	forwarder := external.NewWorkflowClient(
		&http.Client{Timeout: 10 * time.Second},
		engineURL,
		logger,
	)

	cwClient := cloudwatch.NewFromConfig(awsCfg)
	cw := metrics.NewCloudWatchMetrics(cwClient, metricNamespace, logger)

	handler := &Handler{
		forwarder: forwarder,
		metrics:   cw,
		logger:    logger,
	}

	logger.Info("automation worker Lambda initialized",
		"engine_url", engineURL,
		"metric_namespace", metricNamespace,
	)

	lambda.Start(handler.Handle)
}
