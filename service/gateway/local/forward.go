package local

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"PRelay/service/gateway"
	"PRelay/service/relay"
	"PRelay/tools/errs"
)

// Forwarder delivers a connection event to the relay and returns its reply.
type Forwarder interface {
	Forward(ctx context.Context, ev relay.Event) (relay.Response, error)
}

// ForwarderFunc adapts a function, typically Coordinator.HandleEvent in
// single-process mode.
type ForwarderFunc func(ctx context.Context, ev relay.Event) (relay.Response, error)

func (f ForwarderFunc) Forward(ctx context.Context, ev relay.Event) (relay.Response, error) {
	return f(ctx, ev)
}

// InProcess forwards straight into a coordinator.
func InProcess(c *relay.Coordinator) Forwarder {
	return ForwarderFunc(func(ctx context.Context, ev relay.Event) (relay.Response, error) {
		return c.HandleEvent(ctx, ev), nil
	})
}

// HTTPForwarder posts events to the relay's /events endpoint.
type HTTPForwarder struct {
	url    string
	tokens gateway.TokenSource
	hc     *http.Client
}

func NewHTTPForwarder(url string, tokens gateway.TokenSource, timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPForwarder{url: url, tokens: tokens, hc: &http.Client{Timeout: timeout}}
}

func (f *HTTPForwarder) Forward(ctx context.Context, ev relay.Event) (relay.Response, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return relay.Response{}, errs.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return relay.Response{}, errs.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.tokens != nil {
		token, err := f.tokens.Token()
		if err != nil {
			return relay.Response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		return relay.Response{}, errs.WrapMsg(err, "forward event", "url", f.url)
	}
	defer resp.Body.Close()

	var out relay.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return relay.Response{}, errs.WrapMsg(err, "decode relay reply", "status", resp.StatusCode)
	}
	return out, nil
}
