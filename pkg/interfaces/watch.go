package interfaces

import (
	"context"
	"time"
)

// AlarmState alarm states understood by the watch service.
type AlarmState string

const (
	AlarmStateOK               AlarmState = "OK"
	AlarmStateAlarm            AlarmState = "ALARM"
	AlarmStateInsufficientData AlarmState = "INSUFFICIENT_DATA"
)

// MetricQuery is one node of a composite alarm expression graph: either a
// raw metric read (MetricName set) or a math expression over other nodes
// (Expression set).
type MetricQuery struct {
	ID            string
	Expression    string
	Label         string
	MetricName    string
	Namespace     string
	Dimensions    map[string]string
	Stat          string
	PeriodSeconds int
	ReturnData    bool
}

// AlarmDefinition is a full composite alarm: expression graph, comparator,
// threshold and evaluation windows.
type AlarmDefinition struct {
	Name               string
	Description        string
	Queries            []MetricQuery
	ComparisonOperator string
	Threshold          float64
	EvaluationPeriods  int
	DatapointsToAlarm  int
	Actions            []string
}

// WatchService manages the alarm pair that triggers scaling decisions and
// the tags that hold the engine's durable bookkeeping.
type WatchService interface {
	PutAlarm(ctx context.Context, def *AlarmDefinition) error
	SetAlarmState(ctx context.Context, name string, state AlarmState, reason string) error
	AlarmARN(ctx context.Context, name string) (string, error)
	ListTags(ctx context.Context, arn string) (map[string]string, error)
	TagResource(ctx context.Context, arn string, tags map[string]string) error
}

// TelemetryService reads raw time-series samples for the metric aggregator.
// A missing or empty series is returned as an empty slice, never an error.
type TelemetryService interface {
	ReadSeries(ctx context.Context, metricName string, dimensions map[string]string, window time.Duration, stat string) ([]float64, error)
}
