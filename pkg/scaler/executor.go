package scaler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
	"streamscaler/pkg/logger"
	"streamscaler/pkg/metrics"
)

// ErrNoProgress is returned when the next legal step equals the current
// shard count before the target is reached. The walk stops and reports
// rather than looping forever.
var ErrNoProgress = errors.New("no legal resharding step makes progress toward target")

// Executor walks the shard count from current to target in provider-legal
// increments: at most a doubling per up-step, at most a halving per
// down-step, waiting for the stream to return to an active state between
// steps.
type Executor struct {
	cfg     *config.ScalerConfig
	streams interfaces.StreamService
	retrier *Retrier
}

// NewExecutor creates a stepwise executor.
func NewExecutor(cfg *config.ScalerConfig, streams interfaces.StreamService, retrier *Retrier) *Executor {
	return &Executor{cfg: cfg, streams: streams, retrier: retrier}
}

// NextStep computes the next legal shard count on the way from current to
// target. Returns current when no legal step makes progress.
func NextStep(current, target int) int {
	if target == current {
		return current
	}
	if target > current {
		next := current * 2
		if next > target {
			next = target
		}
		return next
	}
	next := (current + 1) / 2
	if next < target {
		next = target
	}
	return next
}

// Walk takes the stream from current to target shards and returns the
// final count reached. Every mutating call goes through the retrier.
func (e *Executor) Walk(ctx context.Context, stream string, current, target int) (int, error) {
	if target < 1 {
		return current, fmt.Errorf("target shard count %d below minimum of 1", target)
	}

	for current != target {
		if err := e.waitStable(ctx, stream); err != nil {
			return current, err
		}

		next := NextStep(current, target)
		if next == current {
			return current, ErrNoProgress
		}

		logger.InfoCtx(ctx, "resharding %s: %d -> %d (target %d)", stream, current, next, target)
		err := e.retrier.Do(ctx, "update_shard_count", func() error {
			return e.streams.UpdateShardCount(ctx, stream, next)
		})
		if err != nil {
			return current, fmt.Errorf("failed to reshard %s from %d to %d: %w", stream, current, next, err)
		}

		metrics.Steps.Inc()
		current = next

		if current != target {
			// Let the provider's internal resharding settle before the
			// next stability poll.
			if err := sleepCtx(ctx, time.Duration(e.cfg.StepSettleSeconds)*time.Second); err != nil {
				return current, err
			}
		}
	}

	return current, nil
}

// waitStable polls the stream until it reports an active status. A stream
// mid-reshard reports updating; anything else gets the same bounded
// wait-and-repoll.
func (e *Executor) waitStable(ctx context.Context, stream string) error {
	for {
		var desc *interfaces.StreamDescription
		err := e.retrier.Do(ctx, "describe_stream", func() error {
			var derr error
			desc, derr = e.streams.DescribeStream(ctx, stream)
			return derr
		})
		if err != nil {
			return fmt.Errorf("failed to poll %s for stability: %w", stream, err)
		}

		if desc.Status == interfaces.StreamStatusActive {
			return nil
		}

		logger.DebugCtx(ctx, "stream %s is %s, waiting for active", stream, desc.Status)
		if err := sleepCtx(ctx, time.Duration(e.cfg.StablePollSeconds)*time.Second); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
