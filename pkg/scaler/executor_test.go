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

// fakeStreamService simulates a provider that reports UPDATING for a fixed
// number of polls after each shard count change.
type fakeStreamService struct {
	mu sync.Mutex

	shards       int
	status       interfaces.StreamStatus
	busyPolls    int // polls remaining before the stream turns active again
	busyPerStep  int
	updates      []int
	updateErr    error
	updateErrFor int // return updateErr for this many calls
}

func newFakeStreamService(shards int) *fakeStreamService {
	return &fakeStreamService{shards: shards, status: interfaces.StreamStatusActive}
}

func (f *fakeStreamService) DescribeStream(_ context.Context, name string) (*interfaces.StreamDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status := f.status
	if f.busyPolls > 0 {
		f.busyPolls--
		status = interfaces.StreamStatusUpdating
	}
	return &interfaces.StreamDescription{Name: name, OpenShards: f.shards, Status: status}, nil
}

func (f *fakeStreamService) UpdateShardCount(_ context.Context, _ string, target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErrFor > 0 {
		f.updateErrFor--
		return f.updateErr
	}
	f.updates = append(f.updates, target)
	f.shards = target
	f.busyPolls = f.busyPerStep
	return nil
}

func executorTestConfig() *config.ScalerConfig {
	cfg := config.DefaultScalerConfig()
	cfg.StepSettleSeconds = 0
	cfg.StablePollSeconds = 0
	return &cfg
}

func testRetrier() *Retrier {
	return NewRetrier(3, time.Millisecond)
}

func TestNextStep(t *testing.T) {
	testCases := []struct {
		current  int
		target   int
		expected int
	}{
		{1, 8, 2},
		{2, 8, 4},
		{4, 8, 8},
		{3, 4, 4},
		{10, 3, 5},
		{5, 3, 3},
		{7, 1, 4},
		{4, 4, 4},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, NextStep(tc.current, tc.target),
			"current=%d target=%d", tc.current, tc.target)
	}
}

func TestWalk_ScalesUpInDoublingSteps(t *testing.T) {
	streams := newFakeStreamService(1)
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	final, err := exec.Walk(context.Background(), "orders", 1, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, final)
	assert.Equal(t, []int{2, 4, 8}, streams.updates)
}

func TestWalk_ScalesDownInHalvingSteps(t *testing.T) {
	streams := newFakeStreamService(10)
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	final, err := exec.Walk(context.Background(), "orders", 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, final)
	assert.Equal(t, []int{5, 3}, streams.updates)
}

func TestWalk_WaitsForActiveBetweenSteps(t *testing.T) {
	streams := newFakeStreamService(2)
	streams.busyPerStep = 2
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	final, err := exec.Walk(context.Background(), "orders", 2, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, final)
	assert.Equal(t, []int{4, 8}, streams.updates)
}

func TestWalk_NoopWhenAlreadyAtTarget(t *testing.T) {
	streams := newFakeStreamService(4)
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	final, err := exec.Walk(context.Background(), "orders", 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, final)
	assert.Empty(t, streams.updates, "no mutating call for an exact match")
}

func TestWalk_RejectsTargetBelowMinimum(t *testing.T) {
	streams := newFakeStreamService(4)
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	_, err := exec.Walk(context.Background(), "orders", 4, 0)
	assert.Error(t, err)
	assert.Empty(t, streams.updates)
}

func TestWalk_RetriesRateLimitedSteps(t *testing.T) {
	streams := newFakeStreamService(2)
	streams.updateErr = &ClassifiedError{Kind: KindRateLimited, Err: assert.AnError}
	streams.updateErrFor = 2
	exec := NewExecutor(executorTestConfig(), streams, testRetrier())

	final, err := exec.Walk(context.Background(), "orders", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, final)
	assert.Equal(t, []int{4}, streams.updates)
}

func TestWalk_CancelledContextStopsTheWalk(t *testing.T) {
	streams := newFakeStreamService(1)
	streams.busyPerStep = 1000
	cfg := executorTestConfig()
	cfg.StablePollSeconds = 1
	exec := NewExecutor(cfg, streams, testRetrier())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := exec.Walk(ctx, "orders", 1, 8)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
