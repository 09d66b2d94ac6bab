package scaler

import (
	"time"

	"streamscaler/internal/event"
)

// Direction is an alias to event.Direction (domain model)
type Direction = event.Direction

const (
	DirectionUp   = event.DirectionUp
	DirectionDown = event.DirectionDown
)

// ScalingEvent is an alias to event.ScalingEvent (domain model)
type ScalingEvent = event.ScalingEvent

// Tag keys holding the engine's durable bookkeeping on the alarm pair.
// All state the engine needs across invocations lives here, which keeps the
// engine itself stateless and restart-safe.
const (
	TagLastChangedAt = "streamscaler:last-changed-at"
	TagLastDirection = "streamscaler:last-direction"
	TagSibling       = "streamscaler:sibling"
)

// WatchPair is the coupled scale-up/scale-down alarm bookkeeping for one
// stream, reconstructed from alarm tags on every invocation.
type WatchPair struct {
	StreamName    string
	UpAlarm       string
	DownAlarm     string
	LastChangedAt time.Time
	LastDirection Direction
}

// UpAlarmName returns the scale-up alarm name for a stream.
func UpAlarmName(stream string) string {
	return stream + event.UpAlarmSuffix
}

// DownAlarmName returns the scale-down alarm name for a stream.
func DownAlarmName(stream string) string {
	return stream + event.DownAlarmSuffix
}

// ScalePlan is the decision produced for one invocation before execution.
type ScalePlan struct {
	StreamName    string    `json:"streamName"`
	Direction     Direction `json:"direction"`
	Signal        float64   `json:"signal"`
	CurrentShards int       `json:"currentShards"`
	TargetShards  int       `json:"targetShards"`
	Policy        string    `json:"policy"`
	DryRun        bool      `json:"dryRun"`
}
