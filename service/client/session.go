// Package client is the interactive chat shell: it turns input lines into
// send frames and renders whatever the relay pushes back.
package client

import (
	"bufio"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/module/protocol"
	"PRelay/module/router"
	"PRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Mode string

const (
	// ModeDirect expects an Ack for each send; own broadcasts are not echoed.
	ModeDirect Mode = "direct"
	// ModeLog expects its own broadcast back from the log.
	ModeLog Mode = "log"
)

// ParseMode accepts "direct" and "log", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDirect, ModeLog:
		return m, nil
	case "":
		return ModeDirect, nil
	}
	return "", errs.New("unknown mode", "mode", s)
}

// Conn is the part of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

const (
	writeWait    = 5 * time.Second
	closeWait    = time.Second
	pingInterval = 30 * time.Second
)

type Session struct {
	userID string
	mode   Mode
	conn   Conn
	view   *View
	router *router.Router

	writeMu sync.Mutex

	mu      sync.Mutex
	pending string
	waiting bool
}

func NewSession(userID string, mode Mode, conn Conn, out io.Writer) *Session {
	s := &Session{userID: userID, mode: mode, conn: conn, view: NewView(out)}
	s.router = s.routes()
	return s
}

func (s *Session) routes() *router.Router {
	b := router.NewBuilder()
	router.OnServer(b, func(m protocol.Connected) error {
		s.view.Connected(m.UserID)
		return nil
	})
	router.OnServer(b, func(m protocol.Broadcast) error {
		self := m.From == s.userID
		if self && s.mode == ModeLog {
			s.settle(m.Message)
		}
		s.view.Broadcast(m.From, m.Message, self)
		return nil
	})
	router.OnServer(b, func(m protocol.UserJoined) error {
		s.view.Joined(m.UserID)
		return nil
	})
	router.OnServer(b, func(m protocol.UserLeft) error {
		s.view.Left(m.UserID)
		return nil
	})
	router.OnServer(b, func(m protocol.Error) error {
		s.view.Error(m.Message)
		return nil
	})
	router.OnServer(b, func(m protocol.Ack) error {
		if s.mode == ModeDirect {
			s.settle("")
		}
		s.view.Ack(m.Message)
		return nil
	})
	b.OnUnknown(func(v any) { s.view.Unknown(v) })
	b.OnParseError(func(raw []byte, err error) { s.view.Malformed(raw, err) })
	b.OnHandlerError(func(err error, in router.Incoming) {
		logger.Debug("frame handler failed", zap.String("type", in.Tag()), zap.Error(err))
		s.view.Malformed(in.Raw, err)
	})
	return b.Build()
}

// settle clears the pending slot. In log mode only the echo of the pending
// text clears it.
func (s *Session) settle(echo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		return
	}
	if s.mode == ModeLog && echo != s.pending {
		return
	}
	s.pending, s.waiting = "", false
}

// Pending returns the text awaiting confirmation, if any.
func (s *Session) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.waiting
}

// Send writes a send frame and parks text in the pending slot.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.waiting {
		s.view.Notice("previous message still unconfirmed")
	}
	s.pending, s.waiting = text, true
	s.mu.Unlock()
	return s.write(protocol.Encode(protocol.NewSend(text)))
}

func (s *Session) Disconnect() error {
	return s.write(protocol.Encode(protocol.NewDisconnect()))
}

func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.WrapMsg(err, "write frame")
	}
	return nil
}

// HandleFrame renders one inbound frame, envelopes included.
func (s *Session) HandleFrame(raw []byte) {
	s.router.Handle(raw)
}

// Run pumps frames in and input lines out until in ends, the socket closes
// or ctx is done. It then says goodbye and closes the socket normally.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	readDone := make(chan error, 1)
	go func() {
		for {
			_, raw, err := s.conn.ReadMessage()
			if err != nil {
				readDone <- err
				return
			}
			s.HandleFrame(raw)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Warn("read input", zap.Error(err))
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(readDone)
		case err := <-readDone:
			_ = s.conn.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.view.Notice("connection closed")
				return nil
			}
			return errs.WrapMsg(err, "read frame")
		case line, ok := <-lines:
			if !ok {
				return s.shutdown(readDone)
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := s.Send(text); err != nil {
				s.view.Error(err.Error())
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) shutdown(readDone <-chan error) error {
	if err := s.Disconnect(); err != nil {
		logger.Debug("disconnect frame", zap.Error(err))
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logger.Debug("close frame", zap.Error(err))
	}
	select {
	case <-readDone:
	case <-time.After(closeWait):
	}
	return s.conn.Close()
}

// DialURL sets the user_id query parameter on raw.
func DialURL(raw, userID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.WrapMsg(err, "parse url", "url", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errs.New("unsupported url scheme", "scheme", u.Scheme)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the socket for userID.
func Dial(ctx context.Context, raw, userID string) (*websocket.Conn, error) {
	target, err := DialURL(raw, userID)
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, errs.WrapMsg(err, "dial", "url", target, "status", resp.StatusCode)
		}
		return nil, errs.WrapMsg(err, "dial", "url", target)
	}
	return ws, nil
}
