package interfaces

import "context"

// ConcurrencyLimiter is the optional downstream capacity collaborator: a
// consumer-side concurrency limit kept proportional to the shard count.
// Failures to set the limit fail open (the limit is cleared, never left
// stale).
type ConcurrencyLimiter interface {
	SetLimit(ctx context.Context, function string, limit int) error
	ClearLimit(ctx context.Context, function string) error
}
