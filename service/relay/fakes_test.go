package relay

import (
	"context"
	"errors"
	"sync"

	"PRelay/module/protocol"
	"PRelay/service/registry"
)

type pushed struct {
	conn string
	msg  protocol.ServerMessage
}

type fakePusher struct {
	mu     sync.Mutex
	sent   []pushed
	failOn map[string]bool
}

func newFakePusher(fail ...string) *fakePusher {
	p := &fakePusher{failOn: map[string]bool{}}
	for _, f := range fail {
		p.failOn[f] = true
	}
	return p
}

func (p *fakePusher) Push(_ context.Context, connectionID string, data []byte) error {
	if p.failOn[connectionID] {
		return errors.New("410 gone")
	}
	m, err := protocol.DecodeServer(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sent = append(p.sent, pushed{conn: connectionID, msg: m})
	p.mu.Unlock()
	return nil
}

func (p *fakePusher) to(conn string) []protocol.ServerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.ServerMessage
	for _, s := range p.sent {
		if s.conn == conn {
			out = append(out, s.msg)
		}
	}
	return out
}

func (p *fakePusher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeLog struct {
	mu       sync.Mutex
	fail     bool
	producer []string
	entries  []protocol.ServerMessage
}

func (l *fakeLog) Append(_ context.Context, producerID string, data []byte) error {
	if l.fail {
		return errors.New("log unavailable")
	}
	m, err := protocol.DecodeServer(data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.producer = append(l.producer, producerID)
	l.entries = append(l.entries, m)
	l.mu.Unlock()
	return nil
}

// countingBackend tracks session lifetimes and can fail selected store calls.
type countingBackend struct {
	*registry.MemoryBackend

	mu         sync.Mutex
	opens      int
	closes     int
	failList   bool
	failInsert bool
}

func newCountingBackend() *countingBackend {
	return &countingBackend{MemoryBackend: registry.NewMemoryBackend()}
}

func (b *countingBackend) Open(ctx context.Context) (registry.Session, error) {
	s, err := b.MemoryBackend.Open(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.opens++
	b.mu.Unlock()
	return &countingSession{Session: s, b: b}, nil
}

func (b *countingBackend) fail(list, insert bool) {
	b.mu.Lock()
	b.failList, b.failInsert = list, insert
	b.mu.Unlock()
}

func (b *countingBackend) counts() (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type countingSession struct {
	registry.Session
	b *countingBackend
}

func (s *countingSession) Close() error {
	s.b.mu.Lock()
	s.b.closes++
	s.b.mu.Unlock()
	return s.Session.Close()
}

func (s *countingSession) List(ctx context.Context) ([]registry.Connection, error) {
	s.b.mu.Lock()
	fail := s.b.failList
	s.b.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.Session.List(ctx)
}

func (s *countingSession) Insert(ctx context.Context, c registry.Connection) error {
	s.b.mu.Lock()
	fail := s.b.failInsert
	s.b.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.Session.Insert(ctx, c)
}
