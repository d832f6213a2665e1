package local

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one accepted websocket.
type conn struct {
	id          string
	userID      string
	ws          *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id, userID string, ws *websocket.Conn, queue int) *conn {
	return &conn{
		id:          id,
		userID:      userID,
		ws:          ws,
		send:        make(chan []byte, queue),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// enqueue hands data to the writer without blocking. It reports false when
// the connection is closing or its queue is full.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// connTable indexes live sockets by connection id.
type connTable struct {
	mu     sync.RWMutex
	byConn map[string]*conn
}

func newConnTable() *connTable {
	return &connTable{byConn: make(map[string]*conn)}
}

func (t *connTable) add(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[c.id] = c
}

func (t *connTable) remove(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byConn[c.id]; ok && cur == c {
		delete(t.byConn, c.id)
	}
}

func (t *connTable) get(id string) *conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byConn[id]
}

func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}
