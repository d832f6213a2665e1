// Package local is a self-hosted websocket gateway for development and
// single-host deployments. It accepts client sockets, turns their lifecycle
// into relay events and exposes the same push API as the managed gateway.
package local

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/module/protocol"
	"PRelay/service/gateway"
	"PRelay/service/relay"
	"PRelay/tools/ids"
	"PRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	PathWS     = "/ws"
	pushSuffix = ":send"
)

type Options struct {
	// Auth protects the push API; nil leaves it open.
	Auth           *security.Options
	AllowedOrigins []string
	NodeID         int64
	SendQueue      int
	PingInterval   time.Duration
	EventTimeout   time.Duration
}

func (o *Options) setDefaults() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 15 * time.Second
	}
}

type Server struct {
	opts     Options
	fwd      Forwarder
	conns    *connTable
	ids      *ids.Generator
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func New(fwd Forwarder, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		opts:  opts,
		fwd:   fwd,
		conns: newConnTable(),
		ids:   ids.NewGenerator(opts.NodeID),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
		},
	}
	return s
}

// Engine builds the gin engine: the websocket endpoint and the push API.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Defaults("gateway").Use())
	middleware.GET(r, PathWS, s.HandleWS, middleware.RouteOpt{})
	middleware.POST(r, "/apigateways/websocket/v1/connections/:action", s.HandlePush,
		middleware.RouteOpt{Auth: s.opts.Auth, Scope: security.ScopePush})
	return r
}

// Wait blocks until every socket handler has returned.
func (s *Server) Wait() { s.wg.Wait() }

// Connections returns the number of open sockets.
func (s *Server) Connections() int { return s.conns.len() }

func (s *Server) forward(ev relay.Event) (relay.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
	defer cancel()
	return s.fwd.Forward(ctx, ev)
}

// HandleWS upgrades the request and runs the socket until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Info("upgrade websocket failed", zap.Error(err))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	query := firstValues(c.Request.URL.Query())
	cn := newConn(s.ids.NextString(), query["user_id"], ws, s.opts.SendQueue)

	// registered before CONNECT so pushes racing the reply are not lost
	s.conns.add(cn)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(cn)
	}()

	ok := s.connect(cn, query, firstValues(c.Request.Header))
	if ok {
		code, reason := s.readPump(cn)
		s.disconnect(cn, code, reason)
	}

	s.conns.remove(cn)
	cn.close()
	<-writerDone
	_ = ws.Close()
}

func (s *Server) connect(cn *conn, query, headers map[string]string) bool {
	resp, err := s.forward(relay.Event{
		RequestContext: relay.RequestContext{
			ConnectionID: cn.id,
			ConnectedAt:  cn.connectedAt.UnixMilli(),
			EventType:    relay.EventConnect,
		},
		QueryStringParameters: query,
		Headers:               headers,
	})
	if err != nil {
		logger.Error("connect event failed", zap.String("connectionId", cn.id), zap.Error(err))
		cn.enqueue(protocol.Encode(protocol.NewError("Relay unavailable")))
		return false
	}
	if resp.Body != "" {
		cn.enqueue([]byte(resp.Body))
	}
	if resp.StatusCode != http.StatusOK {
		logger.Info("connect rejected", zap.String("connectionId", cn.id), zap.Int("status", resp.StatusCode))
		return false
	}
	logger.Info("socket connected", zap.String("connectionId", cn.id), zap.String("userId", cn.userID))
	return true
}

// readPump forwards inbound frames until the socket fails and returns the
// close code and reason.
func (s *Server) readPump(cn *conn) (int, string) {
	pongWait := 2 * s.opts.PingInterval
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := cn.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case asCloseError(err, &ce):
				logger.Info("peer closed", zap.String("connectionId", cn.id), zap.Int("code", ce.Code))
				return ce.Code, ce.Text
			case isTimeout(err):
				logger.Info("read timeout", zap.String("connectionId", cn.id))
				return websocket.CloseAbnormalClosure, "read timeout"
			default:
				logger.Info("read error", zap.String("connectionId", cn.id), zap.Error(err))
				return websocket.CloseAbnormalClosure, err.Error()
			}
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))

		resp, err := s.forward(messageEvent(cn.id, s.ids.NextString(), mt, data))
		if err != nil {
			logger.Error("message event failed", zap.String("connectionId", cn.id), zap.Error(err))
			cn.enqueue(protocol.Encode(protocol.NewError("Relay unavailable")))
			continue
		}
		if resp.Body != "" && !cn.enqueue([]byte(resp.Body)) {
			logger.Warn("send queue full, reply dropped", zap.String("connectionId", cn.id))
		}
	}
}

// messageEvent wraps one inbound frame. Binary frames travel base64 encoded
// so the body survives JSON transport byte for byte.
func messageEvent(connID, messageID string, mt int, data []byte) relay.Event {
	ev := relay.Event{
		RequestContext: relay.RequestContext{
			ConnectionID: connID,
			MessageID:    messageID,
			EventType:    relay.EventMessage,
		},
		Body: string(data),
	}
	if mt == websocket.BinaryMessage {
		ev.Body = base64.StdEncoding.EncodeToString(data)
		ev.IsBase64Encoded = true
	}
	return ev
}

func (s *Server) disconnect(cn *conn, code int, reason string) {
	_, err := s.forward(relay.Event{
		RequestContext: relay.RequestContext{
			ConnectionID:         cn.id,
			EventType:            relay.EventDisconnect,
			DisconnectReason:     reason,
			DisconnectStatusCode: code,
		},
	})
	if err != nil {
		logger.Error("disconnect event failed", zap.String("connectionId", cn.id), zap.Error(err))
	}
}

func (s *Server) writePump(cn *conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	const writeWait = 10 * time.Second

	for {
		select {
		case data := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Info("write failed", zap.String("connectionId", cn.id), zap.Error(err))
				cn.close()
				_ = cn.ws.Close()
				return
			}
		case <-ticker.C:
			if err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cn.close()
				_ = cn.ws.Close()
				return
			}
		case <-cn.done:
			s.drain(cn, writeWait)
			_ = cn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// drain flushes frames queued before the connection was closed.
func (s *Server) drain(cn *conn, writeWait time.Duration) {
	for {
		select {
		case data := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// HandlePush implements POST /apigateways/websocket/v1/connections/{id}:send.
func (s *Server) HandlePush(c *gin.Context) {
	action := c.Param("action")
	connID := strings.TrimSuffix(action, pushSuffix)
	if connID == action || connID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		return
	}

	var req gateway.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data is not base64"})
		return
	}

	cn := s.conns.get(connID)
	if cn == nil {
		c.JSON(http.StatusGone, gin.H{"error": "connection not found"})
		return
	}
	if !cn.enqueue(data) {
		c.JSON(http.StatusGone, gin.H{"error": "connection not writable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func firstValues(m map[string][]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func asCloseError(err error, target **websocket.CloseError) bool {
	ce, ok := err.(*websocket.CloseError)
	if ok {
		*target = ce
	}
	return ok
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
