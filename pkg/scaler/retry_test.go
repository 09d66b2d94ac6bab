package scaler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil is fatal", nil, KindFatal},
		{"plain error is fatal", errors.New("boom"), KindFatal},
		{"limit exceeded is rate limited", &smithy.GenericAPIError{Code: "LimitExceededException"}, KindRateLimited},
		{"throughput exceeded is rate limited", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}, KindRateLimited},
		{"throttling is rate limited", &smithy.GenericAPIError{Code: "ThrottlingException"}, KindRateLimited},
		{"resource in use is transitioning", &smithy.GenericAPIError{Code: "ResourceInUseException"}, KindTransitioning},
		{"unknown api error is fatal", &smithy.GenericAPIError{Code: "ValidationException"}, KindFatal},
		{"plain text throttle is rate limited", errors.New("Rate exceeded for stream orders"), KindRateLimited},
		{"explicit classification wins", ClassifyAs(KindMalformed, errors.New("bad payload")), KindMalformed},
		{"wrapped classification survives", fmt.Errorf("outer: %w", ClassifyAs(KindTransitioning, errors.New("busy"))), KindTransitioning},
		{"wrapped api error survives", fmt.Errorf("outer: %w", &smithy.GenericAPIError{Code: "ResourceInUseException"}), KindTransitioning},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestRetrier_SucceedsAfterRateLimits(t *testing.T) {
	retrier := NewRetrier(4, time.Millisecond)

	calls := 0
	err := retrier.Do(context.Background(), "update", func() error {
		calls++
		if calls < 3 {
			return &smithy.GenericAPIError{Code: "LimitExceededException"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_GivesUpAfterMaxAttempts(t *testing.T) {
	retrier := NewRetrier(3, time.Millisecond)

	calls := 0
	err := retrier.Do(context.Background(), "update", func() error {
		calls++
		return &smithy.GenericAPIError{Code: "ThrottlingException"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindRateLimited, Classify(err),
		"exhausted retries keep the rate-limited classification")
}

func TestRetrier_DoesNotRetryFatalErrors(t *testing.T) {
	retrier := NewRetrier(5, time.Millisecond)

	calls := 0
	fatal := errors.New("access denied")
	err := retrier.Do(context.Background(), "update", func() error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetrier_DoesNotRetryTransitioning(t *testing.T) {
	retrier := NewRetrier(5, time.Millisecond)

	calls := 0
	err := retrier.Do(context.Background(), "update", func() error {
		calls++
		return &smithy.GenericAPIError{Code: "ResourceInUseException"}
	})

	assert.Equal(t, KindTransitioning, Classify(err))
	assert.Equal(t, 1, calls)
}

func TestRetrier_HonorsContextCancellation(t *testing.T) {
	retrier := NewRetrier(10, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := retrier.Do(ctx, "update", func() error {
		calls++
		return &smithy.GenericAPIError{Code: "ThrottlingException"}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, calls, 10)
}
