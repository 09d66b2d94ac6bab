package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// ConcurrencyLimiter implements interfaces.ConcurrencyLimiter with Lambda
// reserved concurrency on the downstream consumer function.
type ConcurrencyLimiter struct {
	client *lambda.Client
}

// NewConcurrencyLimiter creates a Lambda-backed concurrency limiter.
func NewConcurrencyLimiter(client *lambda.Client) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{client: client}
}

// SetLimit reserves concurrency for the function.
func (l *ConcurrencyLimiter) SetLimit(ctx context.Context, function string, limit int) error {
	_, err := l.client.PutFunctionConcurrency(ctx, &lambda.PutFunctionConcurrencyInput{
		FunctionName:                 awssdk.String(function),
		ReservedConcurrentExecutions: awssdk.Int32(int32(limit)),
	})
	if err != nil {
		return fmt.Errorf("failed to set concurrency of %s to %d: %w", function, limit, err)
	}
	return nil
}

// ClearLimit removes the reservation, returning the function to the
// account's unreserved pool.
func (l *ConcurrencyLimiter) ClearLimit(ctx context.Context, function string) error {
	_, err := l.client.DeleteFunctionConcurrency(ctx, &lambda.DeleteFunctionConcurrencyInput{
		FunctionName: awssdk.String(function),
	})
	if err != nil {
		return fmt.Errorf("failed to clear concurrency of %s: %w", function, err)
	}
	return nil
}
