package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamscaler/internal/event"
	"streamscaler/pkg/logger"
	asynqqueue "streamscaler/pkg/queue/asynq"
)

// NotificationHandler receives alarm notifications from the notification
// channel and hands decoded scaling events to the queue. It always
// acknowledges with 200 for payload problems: a malformed notification
// redelivered forever helps nobody.
type NotificationHandler struct {
	queue *asynqqueue.Manager
}

// NewNotificationHandler creates notification handler
func NewNotificationHandler(queue *asynqqueue.Manager) *NotificationHandler {
	return &NotificationHandler{queue: queue}
}

// Receive handles one notification delivery
// @Summary Receive an alarm notification
// @Tags Notifications
// @Accept json
// @Produce json
// @Router /notifications [post]
func (h *NotificationHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to read notification body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	evt, err := event.Decode(body)
	if err != nil {
		var handshake *event.ErrSubscriptionHandshake
		if errors.As(err, &handshake) {
			// Confirming is an operator action, the URL is single-use.
			logger.InfoCtx(c.Request.Context(), "subscription handshake received, confirm at: %s", handshake.SubscribeURL)
			c.JSON(http.StatusOK, gin.H{"status": "handshake logged"})
			return
		}

		logger.WarnCtx(c.Request.Context(), "dropping malformed notification: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "dropped"})
		return
	}

	if err := h.queue.EnqueueScalingEvent(c.Request.Context(), evt); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to enqueue scaling event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
		"stream": evt.StreamName,
	})
}
