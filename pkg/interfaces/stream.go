package interfaces

import "context"

// StreamStatus lifecycle status of a partitioned stream.
type StreamStatus string

const (
	StreamStatusCreating StreamStatus = "CREATING"
	StreamStatusActive   StreamStatus = "ACTIVE"
	StreamStatusUpdating StreamStatus = "UPDATING"
	StreamStatusDeleting StreamStatus = "DELETING"
)

// StreamDescription is the engine's view of a stream. The stream itself is
// owned by the external stream service; the engine only reads status and
// mutates the open shard count.
type StreamDescription struct {
	Name       string
	OpenShards int
	Status     StreamStatus
}

// StreamService is the provider API the executor walks shard counts against.
type StreamService interface {
	DescribeStream(ctx context.Context, name string) (*StreamDescription, error)
	UpdateShardCount(ctx context.Context, name string, target int) error
}
