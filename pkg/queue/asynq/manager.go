package asynq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamscaler/internal/event"
	"streamscaler/pkg/config"
	"streamscaler/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeScaleEvent = "scaler:event"
)

// Manager queue manager. Incoming notifications are enqueued here so the
// HTTP handler can acknowledge immediately while the scaling walk, which
// can take minutes of polling, runs on a worker.
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				"default": 10,
			},
		},
	)

	mux := asynq.NewServeMux()

	return &Manager{
		client: client,
		server: server,
		mux:    mux,
	}, nil
}

// EnqueueScalingEvent enqueues one decoded scaling event. MaxRetry is
// zero: a failed invocation must not be retried at the process level, the
// next alarm evaluation is the retry path.
func (m *Manager) EnqueueScalingEvent(ctx context.Context, evt *event.ScalingEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal scaling event: %w", err)
	}

	task := asynq.NewTask(TypeScaleEvent, payload)

	opts := []asynq.Option{
		asynq.Timeout(time.Duration(config.GlobalConfig.Scaler.InvocationTimeoutSeconds) * time.Second),
		asynq.MaxRetry(0),
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue scaling event: %w", err)
	}

	logger.InfoCtx(ctx, "scaling event enqueued for %s (%s), queue: %s", evt.StreamName, evt.Direction, info.Queue)

	return nil
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}

// GetPendingEventCount retrieves pending event count
func (m *Manager) GetPendingEventCount() (int, error) {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     config.GlobalConfig.Redis.Addr,
		Password: config.GlobalConfig.Redis.Password,
		DB:       config.GlobalConfig.Redis.DB,
	})
	defer inspector.Close()

	stats, err := inspector.GetQueueInfo("default")
	if err != nil {
		return 0, err
	}

	return stats.Pending, nil
}
