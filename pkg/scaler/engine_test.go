package scaler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
)

type fakeLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	clears int
	setErr error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{limits: make(map[string]int)}
}

func (f *fakeLimiter) SetLimit(_ context.Context, function string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.limits[function] = limit
	return nil
}

func (f *fakeLimiter) ClearLimit(_ context.Context, function string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.limits, function)
	f.clears++
	return nil
}

type engineFixture struct {
	cfg       *config.ScalerConfig
	streams   *fakeStreamService
	watch     *fakeWatchService
	telemetry *fakeTelemetry
	limiter   *fakeLimiter
	engine    *Engine
}

func newEngineFixture(t *testing.T, policyName string, shards int) *engineFixture {
	t.Helper()

	cfg := config.DefaultScalerConfig()
	cfg.Policy = policyName
	cfg.CooldownSeconds = 0
	cfg.StepSettleSeconds = 0
	cfg.StablePollSeconds = 0
	cfg.RetryMaxAttempts = 2
	cfg.RetryBaseDelayMillis = 1

	policy, err := ForName(policyName)
	require.NoError(t, err)

	f := &engineFixture{
		cfg:       &cfg,
		streams:   newFakeStreamService(shards),
		watch:     newFakeWatchService(),
		telemetry: &fakeTelemetry{series: map[string][]float64{}},
		limiter:   newFakeLimiter(),
	}
	f.engine = NewEngine(&cfg, policy, f.telemetry, f.streams, f.watch, f.limiter, nil, nil)
	return f
}

func upEvent(stream string, at time.Time) *ScalingEvent {
	return &ScalingEvent{
		StreamName:     stream,
		Direction:      DirectionUp,
		AlarmName:      UpAlarmName(stream),
		AlarmARN:       "arn:fake:alarm:" + UpAlarmName(stream),
		StateChangedAt: at,
	}
}

func TestHandleEvent_AppliesScaleUp(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.cfg.DownstreamFunction = "consumer"
	f.cfg.ConcurrencyPerShard = 5
	f.telemetry.series[MetricReadLatency] = []float64{45}

	err := f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, []int{4}, f.streams.updates)
	assert.Equal(t, 2, f.watch.putCalls, "both alarms rewritten")
	assert.Equal(t, interfaces.AlarmStateInsufficientData, f.watch.states[UpAlarmName("orders")])
	assert.Equal(t, 20, f.limiter.limits["consumer"], "downstream limit tracks shard count")

	upARN := "arn:fake:alarm:" + UpAlarmName("orders")
	assert.NotEmpty(t, f.watch.tags[upARN][TagLastChangedAt])
}

func TestHandleEvent_SecondInvocationAtTargetIsPure(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.telemetry.series[MetricReadLatency] = []float64{45}

	require.NoError(t, f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now())))
	require.Equal(t, []int{4}, f.streams.updates)

	putCalls := f.watch.putCalls
	tagCalls := f.watch.tagCalls

	// Same telemetry, stream already at the policy's target: the second
	// invocation must make zero mutating calls.
	require.NoError(t, f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now())))

	assert.Equal(t, []int{4}, f.streams.updates, "no further shard updates")
	assert.Equal(t, putCalls, f.watch.putCalls, "no further alarm rewrites")
	assert.Equal(t, tagCalls, f.watch.tagCalls, "no further tag writes")
}

func TestHandleEvent_CooldownRejects(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.cfg.CooldownSeconds = 300
	f.telemetry.series[MetricReadLatency] = []float64{45}

	anchor := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	upARN := "arn:fake:alarm:" + UpAlarmName("orders")
	f.watch.tags[upARN] = map[string]string{TagLastChangedAt: anchor.Format(time.RFC3339)}

	// Rebuild the engine so the guard picks up the cooldown.
	policy, _ := ForName(PolicyRangeBucket)
	f.engine = NewEngine(f.cfg, policy, f.telemetry, f.streams, f.watch, f.limiter, nil, nil)

	err := f.engine.HandleEvent(context.Background(), upEvent("orders", anchor.Add(299*time.Second)))
	require.NoError(t, err)

	assert.Empty(t, f.streams.updates, "cooldown leaves the stream untouched")
	assert.Equal(t, 0, f.watch.putCalls)
	assert.Equal(t, interfaces.AlarmStateInsufficientData, f.watch.states[UpAlarmName("orders")],
		"rejected alarm is reset to neutral")
}

func TestHandleEvent_ManualTriggerHonorsDurableAnchor(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.cfg.CooldownSeconds = 300
	f.telemetry.series[MetricReadLatency] = []float64{45}

	anchor := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	upARN := "arn:fake:alarm:" + UpAlarmName("orders")
	downARN := "arn:fake:alarm:" + DownAlarmName("orders")
	f.watch.tags[upARN] = map[string]string{TagLastChangedAt: anchor.Format(time.RFC3339)}
	f.watch.tags[downARN] = map[string]string{TagLastChangedAt: anchor.Format(time.RFC3339)}

	policy, _ := ForName(PolicyRangeBucket)
	f.engine = NewEngine(f.cfg, policy, f.telemetry, f.streams, f.watch, f.limiter, nil, nil)

	// Operator-initiated events carry the alarm name but no ARN; the
	// anchor must still be resolved and enforced.
	manual := &ScalingEvent{
		StreamName:     "orders",
		Direction:      DirectionUp,
		AlarmName:      UpAlarmName("orders"),
		StateChangedAt: anchor.Add(200 * time.Second),
	}
	require.NoError(t, f.engine.HandleEvent(context.Background(), manual))

	assert.Empty(t, f.streams.updates, "manual trigger inside cooldown is rejected")
	assert.Equal(t, 0, f.watch.putCalls)

	// Past the window the same event shape scales and advances the
	// anchor without tripping the conditional tag update.
	manual.StateChangedAt = anchor.Add(301 * time.Second)
	require.NoError(t, f.engine.HandleEvent(context.Background(), manual))

	assert.Equal(t, []int{4}, f.streams.updates)
	moved := f.watch.tags[upARN][TagLastChangedAt]
	assert.NotEqual(t, anchor.Format(time.RFC3339), moved, "anchor advanced by the manual change")
}

func TestHandleEvent_TransitioningStreamResetsAlarm(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.streams.status = interfaces.StreamStatusUpdating

	err := f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now()))
	require.NoError(t, err)

	assert.Empty(t, f.streams.updates)
	assert.Equal(t, interfaces.AlarmStateInsufficientData, f.watch.states[UpAlarmName("orders")])
}

func TestHandleEvent_MalformedEventMutatesNothing(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)

	events := []*ScalingEvent{
		nil,
		{Direction: DirectionUp, StateChangedAt: time.Now()},
		{StreamName: "orders", Direction: "sideways", StateChangedAt: time.Now()},
		{StreamName: "orders", Direction: DirectionUp},
	}

	for _, evt := range events {
		assert.NoError(t, f.engine.HandleEvent(context.Background(), evt))
	}

	assert.Empty(t, f.streams.updates)
	assert.Equal(t, 0, f.watch.putCalls)
	assert.Empty(t, f.watch.states)
}

func TestHandleEvent_DryRunComputesWithoutMutating(t *testing.T) {
	f := newEngineFixture(t, PolicyRangeBucket, 2)
	f.cfg.DryRun = true
	f.telemetry.series[MetricReadLatency] = []float64{45}

	err := f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now()))
	require.NoError(t, err)

	assert.Empty(t, f.streams.updates)
	assert.Equal(t, 0, f.watch.putCalls)
}

func TestHandleEvent_ClampsToMaxShards(t *testing.T) {
	f := newEngineFixture(t, PolicyDoubleHalve, 4)
	f.cfg.MaxShards = 6
	f.telemetry.series[MetricIncomingBytes] = []float64{1e12}

	err := f.engine.HandleEvent(context.Background(), upEvent("orders", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, []int{6}, f.streams.updates, "double of 4 clamped to the bound")
}

func TestHandleEvent_ScaleDownFloorsAtOne(t *testing.T) {
	f := newEngineFixture(t, PolicyDoubleHalve, 2)
	// Idle stream, scale-down alarm fired.
	evt := &ScalingEvent{
		StreamName:     "orders",
		Direction:      DirectionDown,
		AlarmName:      DownAlarmName("orders"),
		AlarmARN:       "arn:fake:alarm:" + DownAlarmName("orders"),
		StateChangedAt: time.Now(),
	}

	err := f.engine.HandleEvent(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, f.streams.updates)
	down := f.watch.alarms[DownAlarmName("orders")]
	require.NotNil(t, down)
	assert.Equal(t, float64(-1), down.Threshold,
		"scale-down alarm disabled once the floor is reached")
}
