package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"streamscaler/internal/event"
	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
	"streamscaler/pkg/logger"
	asynqqueue "streamscaler/pkg/queue/asynq"
	"streamscaler/pkg/scaler"
	"streamscaler/pkg/store/mysql"
	"streamscaler/pkg/store/mysql/model"
)

// ScalerHandler exposes the operator API: engine status, change history
// and manual triggering.
type ScalerHandler struct {
	engine  *scaler.Engine
	streams interfaces.StreamService
	queue   *asynqqueue.Manager
	records *mysql.ScalingRecordRepository
}

// NewScalerHandler creates scaler handler
func NewScalerHandler(engine *scaler.Engine, streams interfaces.StreamService, queue *asynqqueue.Manager, records *mysql.ScalingRecordRepository) *ScalerHandler {
	return &ScalerHandler{
		engine:  engine,
		streams: streams,
		queue:   queue,
		records: records,
	}
}

// GetStatus reports the engine configuration and, when a stream is named,
// its current shard count and lifecycle status
// @Summary Get scaler status
// @Tags Scaler
// @Produce json
// @Router /api/v1/scaler/status [get]
func (h *ScalerHandler) GetStatus(c *gin.Context) {
	sc := config.GlobalConfig.Scaler

	status := gin.H{
		"policy":           h.engine.Policy().Name(),
		"cooldown_seconds": sc.CooldownSeconds,
		"window_seconds":   sc.WindowSeconds,
		"up_threshold":     sc.UpThreshold,
		"down_threshold":   sc.DownThreshold,
		"max_shards":       sc.MaxShards,
		"dry_run":          sc.DryRun,
	}

	if pending, err := h.queue.GetPendingEventCount(); err == nil {
		status["pending_events"] = pending
	}

	if stream := c.Query("stream"); stream != "" {
		desc, err := h.streams.DescribeStream(c.Request.Context(), stream)
		if err != nil {
			logger.ErrorCtx(c.Request.Context(), "failed to describe stream %s: %v", stream, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status["stream"] = gin.H{
			"name":        desc.Name,
			"open_shards": desc.OpenShards,
			"status":      desc.Status,
		}

		if pair, err := h.engine.WatchPair(c.Request.Context(), stream); err == nil {
			status["watch_pair"] = gin.H{
				"up_alarm":        pair.UpAlarm,
				"down_alarm":      pair.DownAlarm,
				"last_changed_at": pair.LastChangedAt,
				"last_direction":  pair.LastDirection,
			}
		}
	}

	c.JSON(http.StatusOK, status)
}

// GetHistory lists recent scaling changes from the audit log
// @Summary List scaling change history
// @Tags Scaler
// @Produce json
// @Router /api/v1/scaler/history [get]
func (h *ScalerHandler) GetHistory(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	stream := c.Query("stream")

	var records []*model.ScalingRecord
	var err error
	if stream == "" {
		records, err = h.records.ListRecent(c.Request.Context(), limit)
	} else {
		records, err = h.records.ListByStream(c.Request.Context(), stream, limit)
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list scaling history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

// triggerRequest is the manual trigger payload.
type triggerRequest struct {
	Stream    string `json:"stream" binding:"required"`
	Direction string `json:"direction" binding:"required"`
}

// TriggerScale enqueues a synthetic scaling event, bypassing the alarm
// channel. The event still passes every guard the real path does.
// @Summary Manually trigger a scaling evaluation
// @Tags Scaler
// @Accept json
// @Produce json
// @Router /api/v1/scaler/trigger [post]
func (h *ScalerHandler) TriggerScale(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	direction := event.Direction(req.Direction)
	if direction != event.DirectionUp && direction != event.DirectionDown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
		return
	}

	evt := &event.ScalingEvent{
		StreamName:     req.Stream,
		Direction:      direction,
		AlarmName:      alarmNameFor(req.Stream, direction),
		StateChangedAt: time.Now(),
	}

	if err := h.queue.EnqueueScalingEvent(c.Request.Context(), evt); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to enqueue manual trigger: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "enqueued",
		"stream":    req.Stream,
		"direction": direction,
	})
}

func alarmNameFor(stream string, direction event.Direction) string {
	if direction == event.DirectionUp {
		return scaler.UpAlarmName(stream)
	}
	return scaler.DownAlarmName(stream)
}
