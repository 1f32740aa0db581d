package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"notifier/internal/gateway/service"
)

type NotifyRequest struct {
	UserID       string            `json:"user_id" binding:"required"`
	TemplateName string            `json:"template_name" binding:"required"`
	Variables    map[string]string `json:"variables" binding:"required"`
}

type NotificationHandler struct {
	dispatcher *service.Dispatcher
}

func NewNotificationHandler(dispatcher *service.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher}
}

// Notify accepts a notification request, answers 202 immediately, and hands
// the resolve-and-publish work to a background dispatch. Failures past this
// point surface in logs and metrics, never to this caller.
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "user_id, template_name, and variables are required",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Notification request accepted and is being processed.",
	})

	h.dispatcher.DispatchAsync(service.Request{
		UserID:       req.UserID,
		TemplateName: req.TemplateName,
		Variables:    req.Variables,
	})
}
