// Package telemetry publishes request and webhook metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"storymagic/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// WebhookOutcome classifies how a webhook delivery ended.
type WebhookOutcome string

const (
	WebhookReceived WebhookOutcome = "received"
	WebhookRejected WebhookOutcome = "rejected"
	WebhookFailed   WebhookOutcome = "failed"
)

// publishTimeout bounds each PutMetricData call so metrics never hold a
// request open.
const publishTimeout = 2 * time.Second

// Metrics records API, webhook and reconciliation metrics.
type Metrics interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	RecordWebhook(ctx context.Context, eventType string, outcome WebhookOutcome, reason string)
	RecordSubscriptionSynced(ctx context.Context, status types.SubscriptionStatus, applied bool)
	RecordBillingDrift(ctx context.Context, field string)
}

var (
	_ Metrics = (*CloudWatchMetrics)(nil)
	_ Metrics = NopMetrics{}
)

// CloudWatchMetrics emits every observation as a single PutMetricData call.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordRequest emits APIRequest (count) and APILatency (ms) with Endpoint
// and Status dimensions.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, method+" "+endpoint),
		dim(types.DimStatus, status),
	}
	m.put(context.Background(), "request",
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// RecordWebhook emits one of WebhookReceived, WebhookRejected or
// WebhookFailed. Reason is only attached for non-received outcomes.
func (m *CloudWatchMetrics) RecordWebhook(ctx context.Context, eventType string, outcome WebhookOutcome, reason string) {
	name := types.MetricWebhookReceived
	switch outcome {
	case WebhookRejected:
		name = types.MetricWebhookRejected
	case WebhookFailed:
		name = types.MetricWebhookFailed
	}
	if eventType == "" {
		eventType = "unknown"
	}

	dims := []cwtypes.Dimension{dim(types.DimEventType, eventType)}
	if outcome != WebhookReceived && reason != "" {
		dims = append(dims, dim(types.DimReason, reason))
	}
	m.put(ctx, "webhook", cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	})
}

// RecordSubscriptionSynced emits SubscriptionSynced with the stored status.
// Stale writes discarded by the ordering guard are counted with Applied=false.
func (m *CloudWatchMetrics) RecordSubscriptionSynced(ctx context.Context, status types.SubscriptionStatus, applied bool) {
	m.put(ctx, "subscription sync", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSubscriptionSynced),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimSubStatus, string(status)),
			dim(types.DimApplied, strconv.FormatBool(applied)),
		},
	})
}

// RecordBillingDrift emits BillingStateDrift when the scheduled sweep finds
// local state that differs from the provider. field names what differed.
func (m *CloudWatchMetrics) RecordBillingDrift(ctx context.Context, field string) {
	m.put(ctx, "billing drift", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricBillingDrift),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimReason, field)},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Warn("failed to record "+what+" metric", "error", err.Error())
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NopMetrics discards everything. Used when METRICS_ENABLED is false.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(string, string, string, time.Duration) {}
func (NopMetrics) RecordWebhook(context.Context, string, WebhookOutcome, string) {}
func (NopMetrics) RecordSubscriptionSynced(context.Context, types.SubscriptionStatus, bool) {}
func (NopMetrics) RecordBillingDrift(context.Context, string) {}
