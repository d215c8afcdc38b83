// Package metrics publishes digest run statistics to CloudWatch so that
// operators can alarm on a silent scheduler (zero scanned users) or a send
// failure spike (eligible far above notified).
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"veille/internal/types"
)

// Metric names within the configured namespace.
const (
	MetricUsersScanned  = "UsersScanned"
	MetricUsersEligible = "UsersEligible"
	MetricUsersNotified = "UsersNotified"
	MetricItemsSent     = "ItemsSent"
	MetricRunDuration   = "RunDurationMillis"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// RunMetrics publishes RunStats counters to a CloudWatch namespace.
type RunMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewRunMetrics creates a RunMetrics publisher. An empty namespace disables
// publication (the Job treats a nil publisher the same way; this covers the
// configured-but-empty case).
func NewRunMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *RunMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunMetrics{client: client, namespace: namespace, logger: logger}
}

// PublishRunStats emits one datum per counter in a single PutMetricData
// call. Best effort: a CloudWatch failure is logged, never returned, because
// telemetry must not fail a run that already delivered email.
func (m *RunMetrics) PublishRunStats(ctx context.Context, stats types.RunStats) {
	if m.namespace == "" {
		return
	}

	data := []cwtypes.MetricDatum{
		datum(MetricUsersScanned, stats.UsersScanned),
		datum(MetricUsersEligible, stats.UsersEligible),
		datum(MetricUsersNotified, stats.UsersNotified),
		datum(MetricItemsSent, stats.ItemsSent),
	}
	if d, err := time.ParseDuration(stats.Duration); err == nil {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricRunDuration),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish run metrics",
			"run_id", stats.RunID,
			"error", err,
		)
	}
}

func datum(name string, value int) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(value)),
		Unit:       cwtypes.StandardUnitCount,
	}
}
