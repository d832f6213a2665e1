package middleware

import (
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareManager holds a chain of handlers that can change at runtime.
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add appends a middleware to the chain.
func (m *MiddlewareManager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

// Use returns a single gin handler running a snapshot of the chain.
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// Defaults returns a manager with the recovery and access-log middlewares.
func Defaults(name string) *MiddlewareManager {
	m := NewManager()
	m.Add(Recovery(name))
	m.Add(AccessLog(name))
	return m
}

// AccessLog logs every request after it completes.
func AccessLog(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			zap.String("server", name),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Recovery turns a handler panic into a 500 reply.
func Recovery(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Error("http handler panicked", zap.String("server", name), zap.String("path", c.Request.URL.Path), zap.Error(err))
				c.AbortWithStatusJSON(500, gin.H{"error": errs.Message(err)})
			}
		}()
		c.Next()
	}
}
