// Package metrics emits webhook processing telemetry to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"steward/internal/types"
)

// Metric and dimension names published to CloudWatch.
const (
	MetricWebhookDelivery = "WebhookDelivery"
	MetricWebhookLatency  = "WebhookDeliveryLatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricAPILatency      = "APILatency"

	DimEventType = "EventType"
	DimOutcome   = "Outcome"
	DimMethod    = "Method"
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes webhook delivery outcomes and request
// telemetry to a CloudWatch namespace. Publish failures are logged and
// swallowed; telemetry must never affect delivery handling.
//
// Metrics emitted:
//   - WebhookDelivery: Dims {EventType, Outcome} -- one per delivery attempt
//   - WebhookDeliveryLatency: Dims {EventType} -- verify-to-ack duration
//   - APIRequestCount / APILatency: Dims {Method, Endpoint, Status}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits one WebhookDelivery count with EventType and Outcome
// dimensions. An empty eventType (signature failures, unparsable bodies) is
// reported as "unknown" so the dimension cardinality stays bounded.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, eventType string, outcome types.DeliveryOutcome) {
	if eventType == "" {
		eventType = "unknown"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricWebhookDelivery),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimEventType),
						Value: aws.String(eventType),
					},
					{
						Name:  aws.String(DimOutcome),
						Value: aws.String(string(outcome)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err,
			"event_type", eventType,
			"outcome", string(outcome),
		)
	}
}

// RecordDeliveryLatency emits the verify-to-ack duration for one delivery.
// Duration is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchMetrics) RecordDeliveryLatency(ctx context.Context, eventType string, duration time.Duration) {
	if eventType == "" {
		eventType = "unknown"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricWebhookLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimEventType),
						Value: aws.String(eventType),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery latency metric",
			"error", err,
			"event_type", eventType,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordRequest implements the core.MetricsCollector interface used by the
// HTTP chassis. It emits request count and latency with Method, Endpoint,
// and Status dimensions. The background context bounds the publish so a
// cancelled request context cannot drop telemetry for completed requests.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record request metric",
			"error", err,
			"method", method,
			"endpoint", endpoint,
			"status", status,
		)
	}
}
