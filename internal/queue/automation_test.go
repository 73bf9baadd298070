package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/config"
	"steward/internal/types"
)

// fakeSQSSender captures SendMessage inputs.
type fakeSQSSender struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestAutomationTrigger_Trigger(t *testing.T) {
	sender := &fakeSQSSender{}
	trigger := NewAutomationTrigger(sender, config.AutomationConfig{
		QueueURL: "https://sqs.us-east-1.amazonaws.com/123/automation-triggers",
	}, nil)

	data := map[string]any{"donation_id": "don_1", "amount_cents": float64(2500)}
	err := trigger.Trigger(context.Background(), types.EventPaymentSucceeded, data)
	require.NoError(t, err)

	require.Len(t, sender.inputs, 1)
	input := sender.inputs[0]
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/automation-triggers", *input.QueueUrl)

	attr, ok := input.MessageAttributes["event_type"]
	require.True(t, ok, "event_type message attribute must be set")
	assert.Equal(t, "payment.succeeded", *attr.StringValue)

	var msg types.TriggerMessage
	require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &msg))
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, types.EventPaymentSucceeded, msg.EventType)
	assert.Equal(t, "don_1", msg.Data["donation_id"])
	assert.WithinDuration(t, time.Now().UTC(), msg.EmittedAt, time.Minute)
}

func TestAutomationTrigger_FreshMessageIDPerPublish(t *testing.T) {
	sender := &fakeSQSSender{}
	trigger := NewAutomationTrigger(sender, config.AutomationConfig{QueueURL: "q"}, nil)

	require.NoError(t, trigger.Trigger(context.Background(), types.EventPaymentSucceeded, nil))
	require.NoError(t, trigger.Trigger(context.Background(), types.EventPaymentSucceeded, nil))
	require.Len(t, sender.inputs, 2)

	var first, second types.TriggerMessage
	require.NoError(t, json.Unmarshal([]byte(*sender.inputs[0].MessageBody), &first))
	require.NoError(t, json.Unmarshal([]byte(*sender.inputs[1].MessageBody), &second))
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestAutomationTrigger_SendFailure(t *testing.T) {
	sender := &fakeSQSSender{err: errors.New("queue unreachable")}
	trigger := NewAutomationTrigger(sender, config.AutomationConfig{QueueURL: "q"}, nil)

	err := trigger.Trigger(context.Background(), types.EventPaymentFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unreachable")
}
