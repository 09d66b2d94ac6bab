package scaler

import (
	"fmt"
	"math"
)

// SignalKind tells the engine which telemetry signal a policy consumes.
type SignalKind string

const (
	// SignalUsage is the normalized capacity-relative usage value.
	SignalUsage SignalKind = "usage"
	// SignalLatency is the consumer read latency in milliseconds.
	SignalLatency SignalKind = "latency"
)

// Policy maps a telemetry signal and the current shard count to a target
// shard count. Implementations are pure: no I/O, no clock, no state.
type Policy interface {
	Name() string
	Signal() SignalKind
	Decide(direction Direction, signal float64, current int) int
}

// Registered policy names.
const (
	PolicyDoubleHalve   = "double-halve"
	PolicyStepBucket    = "step-bucket"
	PolicyRelativeDelta = "relative-delta"
	PolicyRangeBucket   = "range-bucket"
)

// ForName returns the policy registered under name.
func ForName(name string) (Policy, error) {
	switch name {
	case PolicyDoubleHalve:
		return doubleHalvePolicy{}, nil
	case PolicyStepBucket:
		return stepBucketPolicy{}, nil
	case PolicyRelativeDelta:
		return relativeDeltaPolicy{}, nil
	case PolicyRangeBucket:
		return rangeBucketPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown scaling policy %q", name)
	}
}

// doubleHalvePolicy doubles on scale-up and halves on scale-down, floored
// at one shard.
type doubleHalvePolicy struct{}

func (doubleHalvePolicy) Name() string       { return PolicyDoubleHalve }
func (doubleHalvePolicy) Signal() SignalKind { return SignalUsage }

func (doubleHalvePolicy) Decide(direction Direction, signal float64, current int) int {
	if signal == 0 {
		return 1
	}
	if direction == DirectionUp {
		return current * 2
	}
	target := current / 2
	if target < 1 {
		target = 1
	}
	return target
}

// stepBucketPolicy sizes the stream from latency alone: every full 200ms
// of measured latency adds a 2-shard step, capped at 8 shards.
type stepBucketPolicy struct{}

func (stepBucketPolicy) Name() string       { return PolicyStepBucket }
func (stepBucketPolicy) Signal() SignalKind { return SignalLatency }

func (stepBucketPolicy) Decide(_ Direction, latencyMillis float64, _ int) int {
	if latencyMillis <= 0 {
		return 1
	}
	target := 2 * int(math.Floor(latencyMillis/200))
	if target < 1 {
		target = 1
	}
	if target > 8 {
		target = 8
	}
	return target
}

// relativeDeltaPolicy adjusts the current count by a latency-band delta
// instead of jumping to an absolute size.
type relativeDeltaPolicy struct{}

func (relativeDeltaPolicy) Name() string       { return PolicyRelativeDelta }
func (relativeDeltaPolicy) Signal() SignalKind { return SignalLatency }

func (relativeDeltaPolicy) Decide(direction Direction, latencyMillis float64, current int) int {
	if latencyMillis <= 0 {
		return 1
	}

	delta := 0
	switch {
	case latencyMillis >= 800:
		delta = 8
	case latencyMillis >= 600:
		delta = 6
	case latencyMillis >= 400:
		delta = 4
	case latencyMillis >= 200:
		delta = 1
	}

	if direction == DirectionUp {
		return current + delta
	}

	// Below 200ms the consumer is comfortably keeping up, collapse to the
	// minimum; otherwise subtract the symmetric band delta.
	if latencyMillis < 200 {
		return 1
	}
	target := current - delta
	if target < 1 {
		target = 1
	}
	return target
}

// rangeBucketPolicy classifies latency into one of five disjoint ranges,
// each mapped to a fixed shard count. The watch reconciler publishes one
// alarm per range, so at most one range fires at a time.
type rangeBucketPolicy struct{}

func (rangeBucketPolicy) Name() string       { return PolicyRangeBucket }
func (rangeBucketPolicy) Signal() SignalKind { return SignalLatency }

func (rangeBucketPolicy) Decide(_ Direction, latencyMillis float64, _ int) int {
	switch {
	case latencyMillis <= 0:
		return 1
	case latencyMillis < 20:
		return 1
	case latencyMillis < 40:
		return 2
	case latencyMillis < 60:
		return 4
	case latencyMillis < 80:
		return 6
	default:
		return 8
	}
}
