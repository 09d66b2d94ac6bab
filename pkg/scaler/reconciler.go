package scaler

import (
	"context"
	"fmt"
	"time"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
	"streamscaler/pkg/logger"
)

// downDisabledThreshold is the unreachable sentinel applied to the
// scale-down alarm once the stream sits at the minimum shard count. Usage
// never goes negative, so the alarm can never fire until a later scale-up
// rewrites it.
const downDisabledThreshold = -1

// resetReason is the state-reset annotation left on a rewritten alarm so
// the next evaluation starts from fresh datapoints.
const resetReason = "thresholds rewritten after shard count change"

// ErrAnchorConflict is returned when the conditional tag update finds an
// anchor it did not expect: another invocation changed the stream between
// our read and our write.
var ErrAnchorConflict = fmt.Errorf("cooldown anchor changed by a concurrent invocation")

// Reconciler rewrites the alarm pair after a shard count change. The
// alarms' usage expressions embed the shard count as a capacity constant,
// so every change must republish both definitions or the thresholds would
// keep measuring against capacity that no longer exists.
type Reconciler struct {
	cfg   *config.ScalerConfig
	watch interfaces.WatchService
}

// NewReconciler creates a watch reconciler.
func NewReconciler(cfg *config.ScalerConfig, watch interfaces.WatchService) *Reconciler {
	return &Reconciler{cfg: cfg, watch: watch}
}

// Reconcile republishes both alarms for the new shard count, forces them
// into a neutral state, and advances the cooldown anchor tags. The anchor
// write is conditional on prevAnchor: if another invocation already moved
// it, ErrAnchorConflict is returned and no tags are written. Every step is
// idempotent under the same newShards.
func (r *Reconciler) Reconcile(ctx context.Context, stream string, newShards int, direction Direction, changedAt time.Time, prevAnchor string) error {
	up := r.UpAlarm(stream, newShards)
	down := r.DownAlarm(stream, newShards)

	for _, def := range []*interfaces.AlarmDefinition{up, down} {
		if err := r.watch.PutAlarm(ctx, def); err != nil {
			return fmt.Errorf("failed to rewrite alarm %s: %w", def.Name, err)
		}
	}

	// Neutral state first, tags last: if a crash lands between the two,
	// the stale anchor only makes the cooldown stricter, never looser.
	for _, name := range []string{up.Name, down.Name} {
		if err := r.watch.SetAlarmState(ctx, name, interfaces.AlarmStateInsufficientData, resetReason); err != nil {
			return fmt.Errorf("failed to reset alarm %s: %w", name, err)
		}
	}

	tags := map[string]string{
		TagLastChangedAt: changedAt.UTC().Format(time.RFC3339),
		TagLastDirection: string(direction),
	}

	for name, sibling := range map[string]string{up.Name: down.Name, down.Name: up.Name} {
		arn, err := r.watch.AlarmARN(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to resolve alarm %s: %w", name, err)
		}

		existing, err := r.watch.ListTags(ctx, arn)
		if err != nil {
			return fmt.Errorf("failed to read tags on %s: %w", name, err)
		}
		if got := existing[TagLastChangedAt]; got != prevAnchor && got != tags[TagLastChangedAt] {
			logger.WarnCtx(ctx, "anchor on %s moved from %q to %q behind us", name, prevAnchor, got)
			return ErrAnchorConflict
		}

		t := map[string]string{TagSibling: sibling}
		for k, v := range tags {
			t[k] = v
		}
		if err := r.watch.TagResource(ctx, arn, t); err != nil {
			return fmt.Errorf("failed to tag alarm %s: %w", name, err)
		}
	}

	logger.InfoCtx(ctx, "watch pair for %s rewritten at %d shards", stream, newShards)
	return nil
}

// ResetAlarm forces a single alarm to the neutral state so the next
// natural evaluation can retry the decision from scratch.
func (r *Reconciler) ResetAlarm(ctx context.Context, name, reason string) error {
	return r.watch.SetAlarmState(ctx, name, interfaces.AlarmStateInsufficientData, reason)
}

// LoadPair reconstructs the alarm pair bookkeeping for a stream from the
// scale-up alarm's tags.
func (r *Reconciler) LoadPair(ctx context.Context, stream string) (*WatchPair, error) {
	pair := &WatchPair{
		StreamName: stream,
		UpAlarm:    UpAlarmName(stream),
		DownAlarm:  DownAlarmName(stream),
	}

	arn, err := r.watch.AlarmARN(ctx, pair.UpAlarm)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alarm pair for %s: %w", stream, err)
	}
	tags, err := r.watch.ListTags(ctx, arn)
	if err != nil {
		return nil, fmt.Errorf("failed to read alarm pair tags for %s: %w", stream, err)
	}

	if raw := tags[TagLastChangedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			pair.LastChangedAt = t
		}
	}
	pair.LastDirection = Direction(tags[TagLastDirection])

	return pair, nil
}

// UpAlarm builds the scale-up alarm definition for a stream at the given
// shard count.
func (r *Reconciler) UpAlarm(stream string, shards int) *interfaces.AlarmDefinition {
	return &interfaces.AlarmDefinition{
		Name:               UpAlarmName(stream),
		Description:        fmt.Sprintf("usage above %.0f%% of capacity at %d shards", r.cfg.UpThreshold*100, shards),
		Queries:            r.usageGraph(stream, shards, DirectionUp),
		ComparisonOperator: "GreaterThanOrEqualToThreshold",
		Threshold:          r.cfg.UpThreshold,
		EvaluationPeriods:  r.cfg.EvaluationPeriods,
		DatapointsToAlarm:  r.cfg.DatapointsToAlarm,
		Actions:            r.cfg.AlarmActions,
	}
}

// DownAlarm builds the scale-down alarm definition. At one shard the
// threshold is replaced with an unreachable sentinel: no further reduction
// is possible, so the alarm must never fire.
func (r *Reconciler) DownAlarm(stream string, shards int) *interfaces.AlarmDefinition {
	threshold := r.cfg.DownThreshold
	if shards <= 1 {
		threshold = downDisabledThreshold
	}
	return &interfaces.AlarmDefinition{
		Name:               DownAlarmName(stream),
		Description:        fmt.Sprintf("usage below %.0f%% of capacity at %d shards", r.cfg.DownThreshold*100, shards),
		Queries:            r.usageGraph(stream, shards, DirectionDown),
		ComparisonOperator: "LessThanThreshold",
		Threshold:          threshold,
		EvaluationPeriods:  r.cfg.EvaluationPeriods,
		DatapointsToAlarm:  r.cfg.DatapointsToAlarm,
		Actions:            r.cfg.AlarmActions,
	}
}

// usageGraph builds the metric-math expression graph computing the
// normalized usage value at the given shard count. Missing datapoints are
// filled with zero before the ratio so idle periods read as no load.
func (r *Reconciler) usageGraph(stream string, shards int, direction Direction) []interfaces.MetricQuery {
	window := r.cfg.WindowSeconds
	dims := map[string]string{"StreamName": stream}

	queries := []interfaces.MetricQuery{
		{
			ID:            "m1",
			MetricName:    MetricIncomingBytes,
			Namespace:     r.cfg.MetricNamespace,
			Dimensions:    dims,
			Stat:          "Sum",
			PeriodSeconds: window,
		},
		{
			ID:            "m2",
			MetricName:    MetricIncomingRecords,
			Namespace:     r.cfg.MetricNamespace,
			Dimensions:    dims,
			Stat:          "Sum",
			PeriodSeconds: window,
		},
		{
			ID:         "e1",
			Label:      "bytesFactor",
			Expression: fmt.Sprintf("FILL(m1,0)/(%d*%d*%d)", r.cfg.ShardByteCapacity, window, shards),
		},
		{
			ID:         "e2",
			Label:      "recordsFactor",
			Expression: fmt.Sprintf("FILL(m2,0)/(%d*%d*%d)", r.cfg.ShardRecordCapacity, window, shards),
		},
	}

	candidates := "e1,e2"
	if direction == DirectionDown && r.cfg.MinLagMinutesToBlock > 0 {
		queries = append(queries,
			interfaces.MetricQuery{
				ID:            "m3",
				MetricName:    MetricIteratorAge,
				Namespace:     r.cfg.MetricNamespace,
				Dimensions:    dims,
				Stat:          "Maximum",
				PeriodSeconds: window,
			},
			interfaces.MetricQuery{
				ID:         "e3",
				Label:      "lagFactor",
				Expression: fmt.Sprintf("(FILL(m3,0)/1000/60)*(%g/%d)", r.cfg.DownThreshold, r.cfg.MinLagMinutesToBlock),
			},
		)
		candidates = "e1,e2,e3"
	}

	queries = append(queries, interfaces.MetricQuery{
		ID:         "usage",
		Label:      "usage",
		Expression: fmt.Sprintf("MAX([%s])", candidates),
		ReturnData: true,
	})

	return queries
}
