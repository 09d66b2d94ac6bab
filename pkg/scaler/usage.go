package scaler

import (
	"context"
	"fmt"
	"time"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
	"streamscaler/pkg/logger"
)

// Raw metric names the aggregator reads from the telemetry service.
const (
	MetricIncomingBytes   = "IncomingBytes"
	MetricIncomingRecords = "IncomingRecords"
	MetricIteratorAge     = "GetRecords.IteratorAgeMilliseconds"
	MetricReadLatency     = "GetRecords.Latency"
)

// Aggregator turns raw throughput counters into one dimensionless usage
// value: the observed load as a fraction of the stream's theoretical
// capacity at the current shard count. Thresholds stay capacity-relative,
// so the same alarm fires at 25% busy whether the stream has 1 shard or 100.
type Aggregator struct {
	cfg       *config.ScalerConfig
	telemetry interfaces.TelemetryService
}

// NewAggregator creates a metric aggregator.
func NewAggregator(cfg *config.ScalerConfig, telemetry interfaces.TelemetryService) *Aggregator {
	return &Aggregator{cfg: cfg, telemetry: telemetry}
}

// Usage computes the normalized usage value for a stream over the rolling
// window. The consumer iterator lag term is only included for scale-down
// evaluation, and only while the lag gate is enabled.
func (a *Aggregator) Usage(ctx context.Context, stream string, shards int, direction Direction) (float64, error) {
	if shards < 1 {
		return 0, fmt.Errorf("stream %s reports %d shards, expected at least 1", stream, shards)
	}

	window := time.Duration(a.cfg.WindowSeconds) * time.Second
	dims := map[string]string{"StreamName": stream}

	bytesIn, err := a.sum(ctx, MetricIncomingBytes, dims, window)
	if err != nil {
		return 0, err
	}
	recordsIn, err := a.sum(ctx, MetricIncomingRecords, dims, window)
	if err != nil {
		return 0, err
	}

	windowSeconds := float64(a.cfg.WindowSeconds)
	bytesFactor := bytesIn / (float64(a.cfg.ShardByteCapacity) * windowSeconds * float64(shards))
	recordsFactor := recordsIn / (float64(a.cfg.ShardRecordCapacity) * windowSeconds * float64(shards))

	usage := bytesFactor
	if recordsFactor > usage {
		usage = recordsFactor
	}

	if direction == DirectionDown && a.cfg.MinLagMinutesToBlock > 0 {
		lagFactor, err := a.lagFactor(ctx, dims, window)
		if err != nil {
			return 0, err
		}
		if lagFactor > usage {
			usage = lagFactor
		}
	}

	logger.DebugCtx(ctx, "stream %s usage: bytes=%.4f records=%.4f combined=%.4f (shards=%d)",
		stream, bytesFactor, recordsFactor, usage, shards)

	return usage, nil
}

// ReadLatencyMillis returns the average consumer read latency over the
// window, the signal for the latency-bucket policies.
func (a *Aggregator) ReadLatencyMillis(ctx context.Context, stream string) (float64, error) {
	window := time.Duration(a.cfg.WindowSeconds) * time.Second
	dims := map[string]string{"StreamName": stream}

	samples, err := a.telemetry.ReadSeries(ctx, MetricReadLatency, dims, window, "Average")
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		// No consumer traffic in the window reads as zero latency.
		return 0, nil
	}

	var total float64
	for _, s := range samples {
		total += s
	}
	return total / float64(len(samples)), nil
}

// lagFactor scales the consumer's iterator age so that lag of exactly
// MinLagMinutesToBlock lands on the scale-down threshold, blocking the
// shard reduction that would starve a lagging consumer.
func (a *Aggregator) lagFactor(ctx context.Context, dims map[string]string, window time.Duration) (float64, error) {
	samples, err := a.telemetry.ReadSeries(ctx, MetricIteratorAge, dims, window, "Maximum")
	if err != nil {
		return 0, err
	}

	var maxAgeMillis float64
	for _, s := range samples {
		if s > maxAgeMillis {
			maxAgeMillis = s
		}
	}

	laggedMinutes := maxAgeMillis / 1000 / 60
	return laggedMinutes * (a.cfg.DownThreshold / float64(a.cfg.MinLagMinutesToBlock)), nil
}

// sum totals a series over the window. Missing samples count as zero: the
// aggregator fails open toward "no load", never toward "infinite load".
func (a *Aggregator) sum(ctx context.Context, metric string, dims map[string]string, window time.Duration) (float64, error) {
	samples, err := a.telemetry.ReadSeries(ctx, metric, dims, window, "Sum")
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", metric, err)
	}

	var total float64
	for _, s := range samples {
		total += s
	}
	return total, nil
}
