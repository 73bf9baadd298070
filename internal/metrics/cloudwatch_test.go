package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/types"
)

// fakeCloudWatchClient captures PutMetricData inputs.
type fakeCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimValue(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	client := &fakeCloudWatchClient{}
	m := NewCloudWatchMetrics(client, "Steward/Webhooks", nil)

	m.RecordDelivery(context.Background(), "payment.succeeded", types.OutcomeProcessed)

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "Steward/Webhooks", *input.Namespace)

	require.Len(t, input.MetricData, 1)
	datum := input.MetricData[0]
	assert.Equal(t, MetricWebhookDelivery, *datum.MetricName)
	assert.Equal(t, float64(1), *datum.Value)
	assert.Equal(t, "payment.succeeded", dimValue(datum.Dimensions, DimEventType))
	assert.Equal(t, "processed", dimValue(datum.Dimensions, DimOutcome))
}

func TestCloudWatchMetrics_RecordDelivery_EmptyTypeBounded(t *testing.T) {
	client := &fakeCloudWatchClient{}
	m := NewCloudWatchMetrics(client, "Steward/Webhooks", nil)

	m.RecordDelivery(context.Background(), "", types.OutcomeInvalidSignature)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, "unknown", dimValue(datum.Dimensions, DimEventType))
}

func TestCloudWatchMetrics_RecordDeliveryLatency(t *testing.T) {
	client := &fakeCloudWatchClient{}
	m := NewCloudWatchMetrics(client, "Steward/Webhooks", nil)

	m.RecordDeliveryLatency(context.Background(), "payment.succeeded", 250*time.Millisecond)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, MetricWebhookLatency, *datum.MetricName)
	assert.Equal(t, float64(250), *datum.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, datum.Unit)
}

func TestCloudWatchMetrics_RecordRequest(t *testing.T) {
	client := &fakeCloudWatchClient{}
	m := NewCloudWatchMetrics(client, "Steward/Webhooks", nil)

	m.RecordRequest("POST", "/webhooks/payments", "200", 42*time.Millisecond)

	require.Len(t, client.inputs, 1)
	data := client.inputs[0].MetricData
	require.Len(t, data, 2)

	assert.Equal(t, MetricAPIRequestCount, *data[0].MetricName)
	assert.Equal(t, MetricAPILatency, *data[1].MetricName)
	for _, datum := range data {
		assert.Equal(t, "POST", dimValue(datum.Dimensions, DimMethod))
		assert.Equal(t, "/webhooks/payments", dimValue(datum.Dimensions, DimEndpoint))
		assert.Equal(t, "200", dimValue(datum.Dimensions, DimStatus))
	}
}

func TestCloudWatchMetrics_PublishFailureSwallowed(t *testing.T) {
	client := &fakeCloudWatchClient{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(client, "Steward/Webhooks", nil)

	// Must not panic or propagate; telemetry never affects delivery handling.
	m.RecordDelivery(context.Background(), "payment.succeeded", types.OutcomeProcessed)
	m.RecordRequest("POST", "/webhooks/payments", "500", time.Millisecond)
}
