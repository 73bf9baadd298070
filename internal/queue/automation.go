// Package queue provides the SQS-based producer that hands successfully
// handled payment events to the automation worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"steward/internal/config"
	"steward/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AutomationTrigger publishes a TriggerMessage to the automation queue after
// an event's side effects commit. Publishing is fire-and-forget from the
// webhook's perspective: callers log failures and still acknowledge the
// delivery, so a queue outage never causes donation updates to be replayed.
type AutomationTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAutomationTrigger creates an AutomationTrigger reading the queue URL
// from the automation configuration.
func NewAutomationTrigger(client SQSSender, cfg config.AutomationConfig, logger *slog.Logger) *AutomationTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutomationTrigger{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}
}

// Trigger serializes one trigger for the handled event and dispatches it to
// the automation queue. MessageID is freshly generated per publish; the
// workflow engine deduplicates on it downstream.
func (t *AutomationTrigger) Trigger(ctx context.Context, eventType types.EventType, data map[string]any) error {
	msg := types.TriggerMessage{
		MessageID: uuid.New().String(),
		EventType: eventType,
		Data:      data,
		EmittedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal trigger message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(eventType)),
			},
		},
	}

	_, err = t.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send trigger message to %s: %w", t.queueURL, err)
	}

	t.logger.InfoContext(ctx, "automation trigger sent",
		"queue_url", t.queueURL,
		"message_id", msg.MessageID,
		"event_type", string(eventType),
	)

	return nil
}
