package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"beatrelay/internal/microservices/http-api/dto"
	"beatrelay/internal/microservices/tcp"

	"github.com/gin-gonic/gin"
)

// Dispatcher is the part of *tcp.Dispatcher the admin API drives
type Dispatcher interface {
	Status() tcp.Status
	Inject(data []byte, source string) error
	Registry() *tcp.Registry
}

type DispatchHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewDispatchHandler(dispatcher Dispatcher, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, logger: logger}
}

func (h *DispatchHandler) Targets(c *gin.Context) {
	keys := h.dispatcher.Registry().Keys()
	c.JSON(http.StatusOK, dto.TargetsResponse{Targets: keys, Count: len(keys)})
}

func (h *DispatchHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

// Dispatch queues a behavior block for the next tick.
// Unknown keys are accepted here and reported by the dispatcher like wire traffic.
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := "admin:" + c.GetString("username")
	data := tcp.Message{Key: req.Key, Payload: req.Payload}.Encode()

	err := h.dispatcher.Inject(data, source)
	switch {
	case errors.Is(err, tcp.ErrInboxFull), errors.Is(err, tcp.ErrDispatcherStopped):
		h.logger.Warn("admin_dispatch_rejected",
			"routing_key", req.Key,
			"error", err,
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("admin_dispatch_queued",
		"routing_key", req.Key,
		"source", source,
	)
	c.JSON(http.StatusAccepted, dto.DispatchResponse{
		Status:  "queued",
		Key:     req.Key,
		Pending: h.dispatcher.Status().Pending,
	})
}
