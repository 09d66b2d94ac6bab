package asynq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"streamscaler/internal/event"
	"streamscaler/pkg/logger"
	"streamscaler/pkg/scaler"
)

// ScaleEventHandler runs the scaling engine for each dequeued event.
type ScaleEventHandler struct {
	engine *scaler.Engine
}

// NewScaleEventHandler creates the handler.
func NewScaleEventHandler(engine *scaler.Engine) *ScaleEventHandler {
	return &ScaleEventHandler{engine: engine}
}

// ProcessTask implements asynq.Handler.
func (h *ScaleEventHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var evt event.ScalingEvent
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		// An unparseable payload cannot be retried into a parseable one.
		logger.Errorf("dropping undecodable scaling task: %v", err)
		return nil
	}

	ctx = logger.WithInvocationID(ctx, uuid.NewString())
	logger.InfoCtx(ctx, "processing scaling event for %s (%s)", evt.StreamName, evt.Direction)

	if err := h.engine.HandleEvent(ctx, &evt); err != nil {
		return fmt.Errorf("scaling invocation failed: %w", err)
	}
	return nil
}
