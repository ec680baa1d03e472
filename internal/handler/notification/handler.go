package notification

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/consentflow/consent-api/internal/handler"
	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/internal/service/notification"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
	"github.com/consentflow/consent-api/pkg/httputil"
)

const defaultHeartbeat = 25 * time.Second

type Handler struct {
	service   *notification.Service
	heartbeat time.Duration
}

// NewHandler serves the notification inbox. heartbeat is the idle interval
// after which the event stream writes a keep-alive event.
func NewHandler(service *notification.Service, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{service: service, heartbeat: heartbeat}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.GET("/stream", h.Stream)
		notifications.GET("/:id", h.Get)
		notifications.POST("/read", h.MarkRead)
		notifications.POST("/read-all", h.MarkAllRead)
		notifications.DELETE("", h.Delete)
		notifications.DELETE("/all", h.ClearAll)
	}
}

type idsRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required,min=1"`
}

func (h *Handler) List(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			httputil.RespondWithListError(c, apperrors.BadRequest("invalid limit", err))
			return
		}
	}

	list, err := h.service.List(c.Request.Context(), p.UserID, model.Direction(c.Query("direction")), limit)
	if err != nil {
		httputil.RespondWithListError(c, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, list)
}

func (h *Handler) Get(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	id, err := handler.UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	n, err := h.service.Get(c.Request.Context(), p.UserID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, n)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	n, err := h.service.UnreadCount(c.Request.Context(), p.UserID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"unread_count": n})
}

func (h *Handler) MarkRead(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindError(err))
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), p.UserID, req.IDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	n, err := h.service.MarkAllRead(c.Request.Context(), p.UserID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) Delete(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindError(err))
		return
	}

	n, err := h.service.Delete(c.Request.Context(), p.UserID, req.IDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) ClearAll(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	n, err := h.service.ClearAll(c.Request.Context(), p.UserID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"deleted": n})
}

// Stream pushes realtime events as server-sent events. The first event
// carries the unread count; a resync event means the client must reload.
func (h *Handler) Stream(c *gin.Context) {
	p, err := handler.Principal(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	sub, err := h.service.Subscribe(ctx, p.UserID)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	defer sub.Close()

	unread, err := h.service.UnreadCount(ctx, p.UserID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// SSEvent sets the event-stream content type.
	c.SSEvent("unread_count", gin.H{"unread_count": unread})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Kind), evt)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
			return true
		}
	})
}
