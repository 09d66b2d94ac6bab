package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"streamscaler/pkg/interfaces"
)

// StreamService implements interfaces.StreamService against Kinesis.
type StreamService struct {
	client *kinesis.Client
}

// NewStreamService creates a Kinesis-backed stream service.
func NewStreamService(client *kinesis.Client) *StreamService {
	return &StreamService{client: client}
}

// DescribeStream reads the open shard count and lifecycle status.
func (s *StreamService) DescribeStream(ctx context.Context, name string) (*interfaces.StreamDescription, error) {
	out, err := s.client.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
		StreamName: awssdk.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stream %s: %w", name, err)
	}

	summary := out.StreamDescriptionSummary
	return &interfaces.StreamDescription{
		Name:       awssdk.ToString(summary.StreamName),
		OpenShards: int(awssdk.ToInt32(summary.OpenShardCount)),
		Status:     interfaces.StreamStatus(summary.StreamStatus),
	}, nil
}

// UpdateShardCount applies one resharding step with uniform scaling, the
// only mode that keeps shard sizes even.
func (s *StreamService) UpdateShardCount(ctx context.Context, name string, target int) error {
	_, err := s.client.UpdateShardCount(ctx, &kinesis.UpdateShardCountInput{
		StreamName:       awssdk.String(name),
		TargetShardCount: awssdk.Int32(int32(target)),
		ScalingType:      types.ScalingTypeUniformScaling,
	})
	if err != nil {
		return fmt.Errorf("failed to update shard count of %s to %d: %w", name, target, err)
	}
	return nil
}
