package scaler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
	"streamscaler/pkg/logger"
	"streamscaler/pkg/metrics"
	"streamscaler/pkg/store/mysql"
	"streamscaler/pkg/store/mysql/model"
)

// Decision outcomes recorded on the decisions counter.
const (
	OutcomeApplied       = "applied"
	OutcomeNoop          = "noop"
	OutcomeCooldown      = "cooldown"
	OutcomeContention    = "contention"
	OutcomeTransitioning = "transitioning"
	OutcomeDryRun        = "dry_run"
	OutcomeFailed        = "failed"
)

// Engine runs one full decision per scaling notification: guard, decide,
// execute, reconcile. It is stateless across invocations; everything
// durable lives on the alarm pair's tags.
type Engine struct {
	cfg        *config.ScalerConfig
	policy     Policy
	aggregator *Aggregator
	guard      *Guard
	executor   *Executor
	reconciler *Reconciler
	retrier    *Retrier

	streams interfaces.StreamService
	watch   interfaces.WatchService
	limiter interfaces.ConcurrencyLimiter

	redisClient *redis.Client
	records     *mysql.ScalingRecordRepository
}

// NewEngine wires the engine from its collaborators. The limiter, redis
// client and record repository may each be nil; the engine degrades to
// skipping the downstream limit, single-instance locking and no audit log
// respectively.
func NewEngine(
	cfg *config.ScalerConfig,
	policy Policy,
	telemetry interfaces.TelemetryService,
	streams interfaces.StreamService,
	watch interfaces.WatchService,
	limiter interfaces.ConcurrencyLimiter,
	redisClient *redis.Client,
	records *mysql.ScalingRecordRepository,
) *Engine {
	retrier := NewRetrier(cfg.RetryMaxAttempts, time.Duration(cfg.RetryBaseDelayMillis)*time.Millisecond)
	return &Engine{
		cfg:         cfg,
		policy:      policy,
		aggregator:  NewAggregator(cfg, telemetry),
		guard:       NewGuard(time.Duration(cfg.CooldownSeconds) * time.Second),
		executor:    NewExecutor(cfg, streams, retrier),
		reconciler:  NewReconciler(cfg, watch),
		retrier:     retrier,
		streams:     streams,
		watch:       watch,
		limiter:     limiter,
		redisClient: redisClient,
		records:     records,
	}
}

// Policy returns the active scaling policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// WatchPair loads the alarm pair bookkeeping for a stream.
func (e *Engine) WatchPair(ctx context.Context, stream string) (*WatchPair, error) {
	return e.reconciler.LoadPair(ctx, stream)
}

// HandleEvent processes one scaling notification to completion. A nil
// return means the invocation reached a safe terminal state, including the
// deliberate no-ops (cooldown, contention, stream busy, exact target
// match). A non-nil return is a fault the invoking runtime should surface.
func (e *Engine) HandleEvent(ctx context.Context, evt *ScalingEvent) error {
	if err := validateEvent(evt); err != nil {
		// A payload this broken cannot name an alarm to reset; log and
		// exit without touching anything.
		logger.ErrorCtx(ctx, "dropping malformed scaling event: %v", err)
		metrics.Faults.WithLabelValues("decode").Inc()
		return nil
	}

	lock := NewStreamLock(e.redisClient, evt.StreamName)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "lock acquisition failed for %s, deferring to next evaluation: %v", evt.StreamName, err)
		e.countDecision(evt.Direction, OutcomeContention)
		return nil
	}
	if !acquired {
		logger.InfoCtx(ctx, "another invocation is scaling %s, skipping", evt.StreamName)
		e.countDecision(evt.Direction, OutcomeContention)
		return nil
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.WarnCtx(ctx, "failed to release lock for %s: %v", evt.StreamName, err)
		}
	}()

	anchor, prevAnchor, err := e.readAnchor(ctx, evt)
	if err != nil {
		return e.fail(ctx, evt, "read_anchor", err)
	}

	if !e.guard.Allow(evt.StateChangedAt, anchor) {
		logger.InfoCtx(ctx, "cooldown active for %s (last change %s), rejecting", evt.StreamName, anchor.Format(time.RFC3339))
		e.countDecision(evt.Direction, OutcomeCooldown)
		return e.resetAndExit(ctx, evt, "cooldown active")
	}
	if !e.guard.AllowLocal(time.Now()) {
		logger.InfoCtx(ctx, "local cooldown active for %s, rejecting burst", evt.StreamName)
		e.countDecision(evt.Direction, OutcomeCooldown)
		return nil
	}

	desc, err := e.describeStream(ctx, evt.StreamName)
	if err != nil {
		return e.handleFailure(ctx, evt, "describe_stream", err)
	}
	if desc.Status != interfaces.StreamStatusActive {
		logger.InfoCtx(ctx, "stream %s is %s, resetting alarm and waiting", evt.StreamName, desc.Status)
		e.countDecision(evt.Direction, OutcomeTransitioning)
		return e.resetAndExit(ctx, evt, "stream not active")
	}

	signal, err := e.readSignal(ctx, evt, desc.OpenShards)
	if err != nil {
		logger.ErrorCtx(ctx, "telemetry unavailable for %s, exiting without mutation: %v", evt.StreamName, err)
		metrics.Faults.WithLabelValues("telemetry").Inc()
		return nil
	}

	target := e.clamp(e.policy.Decide(evt.Direction, signal, desc.OpenShards))
	plan := &ScalePlan{
		StreamName:    evt.StreamName,
		Direction:     evt.Direction,
		Signal:        signal,
		CurrentShards: desc.OpenShards,
		TargetShards:  target,
		Policy:        e.policy.Name(),
		DryRun:        e.cfg.DryRun,
	}

	if target == desc.OpenShards {
		logger.InfoCtx(ctx, "stream %s already at target %d shards, nothing to do", evt.StreamName, target)
		e.countDecision(evt.Direction, OutcomeNoop)
		return nil
	}

	if e.cfg.DryRun {
		logger.InfoCtx(ctx, "dry run: would scale %s %s from %d to %d shards (signal=%.4f, policy=%s)",
			plan.StreamName, plan.Direction, plan.CurrentShards, plan.TargetShards, plan.Signal, plan.Policy)
		e.countDecision(evt.Direction, OutcomeDryRun)
		return nil
	}

	final, walkErr := e.executor.Walk(ctx, evt.StreamName, desc.OpenShards, target)

	if final != desc.OpenShards {
		// Applied steps are durable even when the walk stopped short, so
		// the alarms must be rewritten for the count that really exists.
		changedAt := time.Now()
		e.guard.MarkStep(changedAt)

		if err := e.reconciler.Reconcile(ctx, evt.StreamName, final, evt.Direction, changedAt, prevAnchor); err != nil {
			if errors.Is(err, ErrAnchorConflict) {
				logger.WarnCtx(ctx, "concurrent invocation advanced the anchor for %s, leaving its bookkeeping in place", evt.StreamName)
			} else if walkErr == nil {
				return e.fail(ctx, evt, "reconcile", err)
			} else {
				logger.ErrorCtx(ctx, "failed to reconcile watch pair for %s: %v", evt.StreamName, err)
			}
		}

		e.applyDownstreamLimit(ctx, final)
		e.audit(ctx, plan, final, walkErr)
	}

	if walkErr != nil {
		return e.handleFailure(ctx, evt, "execute", walkErr)
	}

	logger.InfoCtx(ctx, "scaled %s %s from %d to %d shards (signal=%.4f, policy=%s)",
		plan.StreamName, plan.Direction, plan.CurrentShards, final, plan.Signal, plan.Policy)
	e.countDecision(evt.Direction, OutcomeApplied)
	return nil
}

func validateEvent(evt *ScalingEvent) error {
	if evt == nil {
		return fmt.Errorf("nil event")
	}
	if evt.StreamName == "" {
		return fmt.Errorf("event is missing the stream identifier")
	}
	if evt.Direction != DirectionUp && evt.Direction != DirectionDown {
		return fmt.Errorf("event has unknown direction %q", evt.Direction)
	}
	if evt.StateChangedAt.IsZero() {
		return fmt.Errorf("event is missing the state-change time")
	}
	return nil
}

// readAnchor loads the durable cooldown anchor from the firing alarm's
// tags. The raw tag value is kept for the conditional update during
// reconciliation. Events that arrive without an ARN, such as manual
// triggers, resolve it from the alarm name so they face the same anchor
// the alarm channel does.
func (e *Engine) readAnchor(ctx context.Context, evt *ScalingEvent) (time.Time, string, error) {
	alarmARN := evt.AlarmARN
	if alarmARN == "" && evt.AlarmName != "" {
		err := e.retrier.Do(ctx, "resolve_alarm", func() error {
			var rerr error
			alarmARN, rerr = e.watch.AlarmARN(ctx, evt.AlarmName)
			return rerr
		})
		if err != nil {
			// No alarm pair yet means no anchor to honor; the first
			// reconcile will create both.
			logger.WarnCtx(ctx, "could not resolve alarm %s, treating anchor as unset: %v", evt.AlarmName, err)
			alarmARN = ""
		}
	}
	if alarmARN == "" {
		return time.Time{}, "", nil
	}

	var tags map[string]string
	err := e.retrier.Do(ctx, "list_tags", func() error {
		var terr error
		tags, terr = e.watch.ListTags(ctx, alarmARN)
		return terr
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("failed to read alarm tags: %w", err)
	}

	raw, ok := tags[TagLastChangedAt]
	if !ok || raw == "" {
		return time.Time{}, "", nil
	}
	anchor, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.WarnCtx(ctx, "unparseable cooldown anchor %q, treating as unset", raw)
		return time.Time{}, raw, nil
	}
	return anchor, raw, nil
}

func (e *Engine) describeStream(ctx context.Context, stream string) (*interfaces.StreamDescription, error) {
	var desc *interfaces.StreamDescription
	err := e.retrier.Do(ctx, "describe_stream", func() error {
		var derr error
		desc, derr = e.streams.DescribeStream(ctx, stream)
		return derr
	})
	return desc, err
}

// readSignal reads whichever telemetry signal the active policy consumes.
func (e *Engine) readSignal(ctx context.Context, evt *ScalingEvent, shards int) (float64, error) {
	if e.policy.Signal() == SignalLatency {
		return e.aggregator.ReadLatencyMillis(ctx, evt.StreamName)
	}
	return e.aggregator.Usage(ctx, evt.StreamName, shards, evt.Direction)
}

func (e *Engine) clamp(target int) int {
	if target < 1 {
		target = 1
	}
	if e.cfg.MaxShards > 0 && target > e.cfg.MaxShards {
		target = e.cfg.MaxShards
	}
	return target
}

// resetAndExit pushes the firing alarm back to the neutral state so the
// next natural evaluation retries the decision, then exits cleanly.
func (e *Engine) resetAndExit(ctx context.Context, evt *ScalingEvent, reason string) error {
	if evt.AlarmName == "" {
		return nil
	}
	if err := e.reconciler.ResetAlarm(ctx, evt.AlarmName, reason); err != nil {
		logger.WarnCtx(ctx, "failed to reset alarm %s: %v", evt.AlarmName, err)
	}
	return nil
}

// handleFailure routes a classified error: transitioning degrades to
// reset-and-wait, everything else escalates.
func (e *Engine) handleFailure(ctx context.Context, evt *ScalingEvent, stage string, err error) error {
	if Classify(err) == KindTransitioning {
		logger.WarnCtx(ctx, "%s: resource busy for %s, resetting alarm: %v", stage, evt.StreamName, err)
		e.countDecision(evt.Direction, OutcomeTransitioning)
		return e.resetAndExit(ctx, evt, "resource transitioning, will retry on next evaluation")
	}
	return e.fail(ctx, evt, stage, err)
}

// fail emits the fault signal and propagates the error to the invoking
// runtime, which must not retry at the process level.
func (e *Engine) fail(ctx context.Context, evt *ScalingEvent, stage string, err error) error {
	logger.ErrorCtx(ctx, "%s failed for %s: %v", stage, evt.StreamName, err)
	metrics.Faults.WithLabelValues(stage).Inc()
	e.countDecision(evt.Direction, OutcomeFailed)
	return fmt.Errorf("%s for %s: %w", stage, evt.StreamName, err)
}

// applyDownstreamLimit keeps the consumer's concurrency limit proportional
// to the shard count. Failures fail open: the limit is cleared rather than
// left at a stale value that would throttle the consumer below capacity.
func (e *Engine) applyDownstreamLimit(ctx context.Context, shards int) {
	if e.limiter == nil || e.cfg.DownstreamFunction == "" {
		return
	}
	limit := shards * e.cfg.ConcurrencyPerShard
	if err := e.limiter.SetLimit(ctx, e.cfg.DownstreamFunction, limit); err != nil {
		logger.WarnCtx(ctx, "failed to set downstream concurrency to %d: %v", limit, err)
		if err := e.limiter.ClearLimit(ctx, e.cfg.DownstreamFunction); err != nil {
			logger.WarnCtx(ctx, "failed to clear downstream concurrency: %v", err)
		}
	}
}

// audit appends one best-effort row to the change log.
func (e *Engine) audit(ctx context.Context, plan *ScalePlan, final int, walkErr error) {
	if e.records == nil {
		return
	}

	record := &model.ScalingRecord{
		RecordID:   uuid.NewString(),
		StreamName: plan.StreamName,
		Timestamp:  time.Now(),
		Direction:  string(plan.Direction),
		FromShards: plan.CurrentShards,
		ToShards:   final,
		Signal:     plan.Signal,
		Policy:     plan.Policy,
		Outcome:    OutcomeApplied,
	}
	if walkErr != nil {
		record.Outcome = OutcomeFailed
		record.FailureNote = walkErr.Error()
	}

	if err := e.records.Create(ctx, record); err != nil {
		logger.WarnCtx(ctx, "failed to record scaling change for %s: %v", plan.StreamName, err)
	}
}

func (e *Engine) countDecision(direction Direction, outcome string) {
	metrics.Decisions.WithLabelValues(string(direction), outcome).Inc()
}
