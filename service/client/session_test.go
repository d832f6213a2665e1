package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"PRelay/module/protocol"

	"github.com/gorilla/websocket"
)

type frame struct {
	kind int
	data []byte
}

// fakeConn feeds inbound frames from a channel and records writes.
type fakeConn struct {
	in chan []byte

	mu       sync.Mutex
	writes   []frame
	controls []frame
	closed   bool
	once     sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{in: make(chan []byte, 16)} }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.in
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, raw, nil
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.writes = append(c.writes, frame{kind, data})
	return nil
}

func (c *fakeConn) WriteControl(kind int, data []byte, _ time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, frame{kind, data})
	c.mu.Unlock()
	if kind == websocket.CloseMessage {
		c.once.Do(func() { close(c.in) })
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.writes {
		out = append(out, string(f.data))
	}
	return out
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestSendParksPending(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	s := NewSession("alice", ModeDirect, conn, &syncBuffer{})

	if err := s.Send("hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := conn.written(); len(got) != 1 || got[0] != `{"type":"send","message":"hi"}` {
		t.Fatalf("writes = %q", got)
	}
	if p, ok := s.Pending(); !ok || p != "hi" {
		t.Fatalf("Pending() = %q, %v", p, ok)
	}
}

func TestPendingSlot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mode        Mode
		frame       protocol.ServerMessage
		wantCleared bool
	}{
		{"direct ack", ModeDirect, protocol.NewAck("Broadcast sent"), true},
		{"direct self broadcast", ModeDirect, protocol.NewBroadcast("alice", "hi"), false},
		{"log ack", ModeLog, protocol.NewAck("Broadcast sent"), false},
		{"log self echo", ModeLog, protocol.NewBroadcast("alice", "hi"), true},
		{"log other user", ModeLog, protocol.NewBroadcast("bob", "hi"), false},
		{"log stale echo", ModeLog, protocol.NewBroadcast("alice", "older"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSession("alice", tt.mode, newFakeConn(), &syncBuffer{})
			if err := s.Send("hi"); err != nil {
				t.Fatal(err)
			}
			s.HandleFrame(protocol.Encode(tt.frame))
			_, waiting := s.Pending()
			if waiting == tt.wantCleared {
				t.Fatalf("waiting = %v, want cleared %v", waiting, tt.wantCleared)
			}
		})
	}
}

func TestHandleFrameRendersEnvelopeInOrder(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	s := NewSession("alice", ModeLog, newFakeConn(), out)

	env, err := protocol.EncodeEnvelope([]protocol.ServerMessage{
		protocol.NewUserJoined("bob"),
		protocol.NewBroadcast("bob", "hello"),
		protocol.NewUserLeft("bob"),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.HandleFrame(env)

	got := out.String()
	joined := strings.Index(got, "joined")
	said := strings.Index(got, "hello")
	left := strings.Index(got, "left")
	if joined < 0 || said < 0 || left < 0 || !(joined < said && said < left) {
		t.Fatalf("output out of order:\n%s", got)
	}
}

func TestHandleFrameBadInput(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	s := NewSession("alice", ModeDirect, newFakeConn(), out)

	s.HandleFrame([]byte(`{{`))
	s.HandleFrame([]byte(`{"type":"mystery"}`))
	s.HandleFrame([]byte(`{"type":"broadcast","from":"x"}`))

	got := out.String()
	if strings.Count(got, "Bad frame") != 2 {
		t.Errorf("want two bad frame lines:\n%s", got)
	}
	if !strings.Contains(got, "Unknown message") {
		t.Errorf("want unknown line:\n%s", got)
	}
}

func TestRunSendsThenDisconnects(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	out := &syncBuffer{}
	s := NewSession("alice", ModeDirect, conn, out)

	conn.in <- protocol.Encode(protocol.NewConnected("alice"))
	err := s.Run(context.Background(), strings.NewReader("hello\n\n  \nbye\n"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		`{"type":"send","message":"hello"}`,
		`{"type":"send","message":"bye"}`,
		`{"type":"disconnect"}`,
	}
	got := conn.written()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("writes = %q, want %q", got, want)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.controls) == 0 || conn.controls[len(conn.controls)-1].kind != websocket.CloseMessage {
		t.Fatalf("no close frame: %v", conn.controls)
	}
	if !conn.closed {
		t.Fatal("socket not closed")
	}
}

func TestRunStopsOnServerClose(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	s := NewSession("alice", ModeDirect, conn, &syncBuffer{})
	close(conn.in)

	// stdin never ends; the server close must end Run
	pr, pw := io.Pipe()
	defer pw.Close()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), pr) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDialURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"ws://h/ws", "ws://h/ws?user_id=al+ice", false},
		{"https://h/ws?x=1", "wss://h/ws?user_id=al+ice&x=1", false},
		{"ftp://h", "", true},
	}
	for _, tt := range tests {
		got, err := DialURL(tt.in, "al ice")
		if (err != nil) != tt.wantErr {
			t.Fatalf("DialURL(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("DialURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{"": ModeDirect, "LOG": ModeLog, "direct": ModeDirect} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("carrier"); err == nil {
		t.Error("expected error")
	}
}
