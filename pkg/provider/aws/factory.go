// Package aws binds the engine's collaborator interfaces to the AWS
// services that implement them: Kinesis for the stream, CloudWatch for
// telemetry and alarms, Lambda for the downstream concurrency limit.
package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"streamscaler/pkg/config"
)

// Clients bundles the provider-side implementations of the engine's
// collaborator interfaces.
type Clients struct {
	Streams   *StreamService
	Watch     *WatchService
	Telemetry *TelemetryService
	Limiter   *ConcurrencyLimiter
}

// NewClients loads the default AWS credential chain and constructs all
// service adapters.
func NewClients(ctx context.Context, cfg *config.AWSConfig) (*Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cw := cloudwatch.NewFromConfig(awsCfg)
	return &Clients{
		Streams:   NewStreamService(kinesis.NewFromConfig(awsCfg)),
		Watch:     NewWatchService(cw),
		Telemetry: NewTelemetryService(cw),
		Limiter:   NewConcurrencyLimiter(lambda.NewFromConfig(awsCfg)),
	}, nil
}
