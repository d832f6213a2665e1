// Package gateway talks to the websocket gateway's management API: it pushes
// frames to individual connections by id.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/security"
)

// PushPath is the management route relative to the gateway endpoint; %s is
// the escaped connection id.
const PushPath = "/apigateways/websocket/v1/connections/%s:send"

const FrameTypeText = "TEXT"

// PushRequest is the JSON body of a push call.
type PushRequest struct {
	Data string `json:"data"` // base64
	Type string `json:"type"`
}

// Pusher delivers one frame to one connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, data []byte) error
}

// TokenSource yields the bearer token for a push call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a pre-issued token.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

// JWTSource mints short-lived tokens signed with a shared secret and reuses
// each one until shortly before it expires.
type JWTSource struct {
	Opts    security.Options
	Subject string

	mu       sync.Mutex
	token    string
	expireAt time.Time
}

func (j *JWTSource) Token() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.token != "" && time.Until(j.expireAt) > time.Minute {
		return j.token, nil
	}
	token, exp, err := security.Generate(j.Opts, j.Subject, []string{security.ScopePush})
	if err != nil {
		return "", err
	}
	j.token, j.expireAt = token, exp
	return token, nil
}

// Client is the HTTP implementation of Pusher.
type Client struct {
	endpoint string
	tokens   TokenSource
	hc       *http.Client
}

// NewClient builds a push client. timeout bounds every push attempt.
func NewClient(endpoint string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		tokens:   tokens,
		hc:       &http.Client{Timeout: timeout},
	}
}

// PushURL returns the management URL for connectionID.
func (c *Client) PushURL(connectionID string) string {
	return c.endpoint + fmt.Sprintf(PushPath, url.PathEscape(connectionID))
}

func (c *Client) Push(ctx context.Context, connectionID string, data []byte) error {
	body, err := json.Marshal(PushRequest{
		Data: base64.StdEncoding.EncodeToString(data),
		Type: FrameTypeText,
	})
	if err != nil {
		return errs.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PushURL(connectionID), bytes.NewReader(body))
	if err != nil {
		return errs.ErrDeliveryFailed.WithCause(err, "build request", "connectionId", connectionID)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return errs.ErrDeliveryFailed.WithCause(err, "token", "connectionId", connectionID)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.ErrDeliveryFailed.WithCause(err, "push", "connectionId", connectionID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.ErrDeliveryFailed.WrapMsg("push rejected",
			"connectionId", connectionID, "status", resp.StatusCode, "body", strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
