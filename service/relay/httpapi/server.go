// Package httpapi hosts the relay coordinator over HTTP: the gateway posts
// connection events to /events and the trigger posts delivery batches to
// /trigger.
package httpapi

import (
	"io"
	"net/http"

	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/service/relay"
	"PRelay/tools/errs"
	"PRelay/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	PathEvents  = "/events"
	PathTrigger = "/trigger"
	PathHealth  = "/healthz"
)

// maxBody bounds request bodies; gateway frames are small.
const maxBody = 1 << 20

type Handler struct {
	coord *relay.Coordinator
	auth  *security.Options
}

// NewHandler serves coord. When auth is non-nil both entry points require a
// bearer token signed with it.
func NewHandler(coord *relay.Coordinator, auth *security.Options) *Handler {
	return &Handler{coord: coord, auth: auth}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	opt := middleware.RouteOpt{Auth: h.auth}
	middleware.POST(r, PathEvents, h.HandleEvent, opt)
	middleware.POST(r, PathTrigger, h.HandleTrigger, opt)
	middleware.GET(r, PathHealth, func(c *gin.Context) { c.String(http.StatusOK, "ok") }, middleware.RouteOpt{})
}

// Engine builds a gin engine serving h.
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Defaults("relay").Use())
	h.Register(r)
	return r
}

// HandleEvent decodes a gateway event and replies with the coordinator's
// response as JSON {statusCode, body}.
func (h *Handler) HandleEvent(c *gin.Context) {
	var ev relay.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		logger.Warn("bad event payload", zap.Error(err))
		resp := relay.ErrorReply(errs.ErrInvalidEncoding.WithCause(err, "event"))
		c.JSON(resp.StatusCode, resp)
		return
	}
	resp := h.coord.HandleEvent(c.Request.Context(), ev)
	c.JSON(resp.StatusCode, resp)
}

// HandleTrigger accepts a delivery envelope from the trigger.
func (h *Handler) HandleTrigger(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		resp := relay.ErrorReply(errs.ErrInvalidEnvelope.WithCause(err, "read body"))
		c.JSON(resp.StatusCode, resp)
		return
	}
	resp := h.coord.Redeliver(c.Request.Context(), raw)
	c.JSON(resp.StatusCode, resp)
}
