package scaler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"streamscaler/pkg/logger"
	"streamscaler/pkg/metrics"

	"github.com/aws/smithy-go"
)

// Kind classifies collaborator errors into the recovery paths the engine
// knows how to take.
type Kind int

const (
	// KindFatal: emit a fault signal and propagate; the caller must not
	// retry at process level.
	KindFatal Kind = iota
	// KindRateLimited: retry locally with bounded, jittered backoff.
	KindRateLimited
	// KindTransitioning: the resource is busy resharding; abandon this
	// invocation and reset the alarm so the next evaluation retries.
	KindTransitioning
	// KindMalformed: unusable input; log and exit without mutation.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransitioning:
		return "transitioning"
	case KindMalformed:
		return "malformed"
	default:
		return "fatal"
	}
}

// ClassifiedError wraps an error with its recovery classification.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// ClassifyAs wraps err with an explicit kind.
func ClassifyAs(kind Kind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify maps an error onto a recovery kind, recognizing the provider's
// rate-limit and resource-busy error codes.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "LimitExceededException",
			"ProvisionedThroughputExceededException",
			"ThrottlingException",
			"Throttling",
			"TooManyRequestsException":
			return KindRateLimited
		case "ResourceInUseException":
			return KindTransitioning
		}
	}

	// Some transports surface throttling as plain text.
	if strings.Contains(err.Error(), "Rate exceeded") {
		return KindRateLimited
	}

	return KindFatal
}

// Retrier wraps collaborator calls with bounded, jittered retry for
// rate-limit errors. All other kinds pass through untouched.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetrier creates a retrier with the given attempt bound and base delay.
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs fn, retrying only rate-limited failures. The waits are timer
// based and honor context cancellation, so the overall invocation timeout
// still applies.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if kind != KindRateLimited {
			return lastErr
		}

		if attempt == r.maxAttempts {
			break
		}

		delay := r.jitteredDelay(attempt)
		logger.WarnCtx(ctx, "%s rate limited (attempt %d/%d), retrying in %v: %v",
			op, attempt, r.maxAttempts, delay, lastErr)
		metrics.Retries.WithLabelValues(op).Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return ClassifyAs(KindRateLimited,
		fmt.Errorf("%s still rate limited after %d attempts: %w", op, r.maxAttempts, lastErr))
}

// jitteredDelay grows linearly with the attempt and adds up to one base
// delay of random jitter.
func (r *Retrier) jitteredDelay(attempt int) time.Duration {
	r.mu.Lock()
	jitter := time.Duration(r.rand.Int63n(int64(r.baseDelay) + 1))
	r.mu.Unlock()
	return time.Duration(attempt)*r.baseDelay + jitter
}
