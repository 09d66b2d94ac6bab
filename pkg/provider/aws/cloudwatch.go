package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"streamscaler/pkg/interfaces"
)

// telemetryPeriodSeconds is the sample resolution for raw series reads.
const telemetryPeriodSeconds = 60

// WatchService implements interfaces.WatchService against CloudWatch
// alarms and their resource tags.
type WatchService struct {
	client *cloudwatch.Client
}

// NewWatchService creates a CloudWatch-backed watch service.
func NewWatchService(client *cloudwatch.Client) *WatchService {
	return &WatchService{client: client}
}

// PutAlarm creates or fully replaces a composite metric-math alarm.
func (w *WatchService) PutAlarm(ctx context.Context, def *interfaces.AlarmDefinition) error {
	queries := make([]types.MetricDataQuery, 0, len(def.Queries))
	for _, q := range def.Queries {
		queries = append(queries, toMetricDataQuery(q))
	}

	_, err := w.client.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          awssdk.String(def.Name),
		AlarmDescription:   awssdk.String(def.Description),
		Metrics:            queries,
		ComparisonOperator: types.ComparisonOperator(def.ComparisonOperator),
		Threshold:          awssdk.Float64(def.Threshold),
		EvaluationPeriods:  awssdk.Int32(int32(def.EvaluationPeriods)),
		DatapointsToAlarm:  awssdk.Int32(int32(def.DatapointsToAlarm)),
		AlarmActions:       def.Actions,
		TreatMissingData:   awssdk.String("notBreaching"),
	})
	if err != nil {
		return fmt.Errorf("failed to put alarm %s: %w", def.Name, err)
	}
	return nil
}

// SetAlarmState forces an alarm into the given state.
func (w *WatchService) SetAlarmState(ctx context.Context, name string, state interfaces.AlarmState, reason string) error {
	_, err := w.client.SetAlarmState(ctx, &cloudwatch.SetAlarmStateInput{
		AlarmName:   awssdk.String(name),
		StateValue:  types.StateValue(state),
		StateReason: awssdk.String(reason),
	})
	if err != nil {
		return fmt.Errorf("failed to set state of alarm %s: %w", name, err)
	}
	return nil
}

// AlarmARN resolves an alarm name to its ARN.
func (w *WatchService) AlarmARN(ctx context.Context, name string) (string, error) {
	out, err := w.client.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{name},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe alarm %s: %w", name, err)
	}
	if len(out.MetricAlarms) == 0 {
		return "", fmt.Errorf("alarm %s not found", name)
	}
	return awssdk.ToString(out.MetricAlarms[0].AlarmArn), nil
}

// ListTags reads the tags on an alarm.
func (w *WatchService) ListTags(ctx context.Context, arn string) (map[string]string, error) {
	out, err := w.client.ListTagsForResource(ctx, &cloudwatch.ListTagsForResourceInput{
		ResourceARN: awssdk.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags on %s: %w", arn, err)
	}

	tags := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		tags[awssdk.ToString(t.Key)] = awssdk.ToString(t.Value)
	}
	return tags, nil
}

// TagResource writes tags onto an alarm, overwriting existing keys.
func (w *WatchService) TagResource(ctx context.Context, arn string, tags map[string]string) error {
	kv := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		kv = append(kv, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}

	_, err := w.client.TagResource(ctx, &cloudwatch.TagResourceInput{
		ResourceARN: awssdk.String(arn),
		Tags:        kv,
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", arn, err)
	}
	return nil
}

// TelemetryService implements interfaces.TelemetryService against
// CloudWatch GetMetricData.
type TelemetryService struct {
	client *cloudwatch.Client
}

// NewTelemetryService creates a CloudWatch-backed telemetry reader.
func NewTelemetryService(client *cloudwatch.Client) *TelemetryService {
	return &TelemetryService{client: client}
}

// ReadSeries reads raw samples over the window ending now. A metric with
// no datapoints returns an empty slice.
func (t *TelemetryService) ReadSeries(ctx context.Context, metricName string, dimensions map[string]string, window time.Duration, stat string) ([]float64, error) {
	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{Name: awssdk.String(k), Value: awssdk.String(v)})
	}

	end := time.Now()
	start := end.Add(-window)

	out, err := t.client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: awssdk.Time(start),
		EndTime:   awssdk.Time(end),
		MetricDataQueries: []types.MetricDataQuery{
			{
				Id: awssdk.String("m1"),
				MetricStat: &types.MetricStat{
					Metric: &types.Metric{
						Namespace:  awssdk.String("AWS/Kinesis"),
						MetricName: awssdk.String(metricName),
						Dimensions: dims,
					},
					Period: awssdk.Int32(telemetryPeriodSeconds),
					Stat:   awssdk.String(stat),
				},
				ReturnData: awssdk.Bool(true),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read series %s: %w", metricName, err)
	}

	if len(out.MetricDataResults) == 0 {
		return []float64{}, nil
	}
	return out.MetricDataResults[0].Values, nil
}

func toMetricDataQuery(q interfaces.MetricQuery) types.MetricDataQuery {
	out := types.MetricDataQuery{
		Id:         awssdk.String(q.ID),
		ReturnData: awssdk.Bool(q.ReturnData),
	}
	if q.Label != "" {
		out.Label = awssdk.String(q.Label)
	}

	if q.Expression != "" {
		out.Expression = awssdk.String(q.Expression)
		return out
	}

	dims := make([]types.Dimension, 0, len(q.Dimensions))
	for k, v := range q.Dimensions {
		dims = append(dims, types.Dimension{Name: awssdk.String(k), Value: awssdk.String(v)})
	}
	out.MetricStat = &types.MetricStat{
		Metric: &types.Metric{
			Namespace:  awssdk.String(q.Namespace),
			MetricName: awssdk.String(q.MetricName),
			Dimensions: dims,
		},
		Period: awssdk.Int32(int32(q.PeriodSeconds)),
		Stat:   awssdk.String(q.Stat),
	}
	return out
}
