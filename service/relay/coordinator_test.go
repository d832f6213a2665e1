package relay

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"PRelay/module/protocol"
	"PRelay/service/registry"
)

var fixedNow = time.UnixMilli(1_700_000_000_000).UTC()

func connectEvent(connID, userID string) Event {
	ev := Event{RequestContext: RequestContext{ConnectionID: connID, EventType: EventConnect}}
	if userID != "" {
		ev.QueryStringParameters = map[string]string{"user_id": userID}
	}
	return ev
}

func messageEvent(connID string, m protocol.ClientMessage) Event {
	return Event{
		RequestContext: RequestContext{ConnectionID: connID, EventType: EventMessage},
		Body:           protocol.EncodeString(m),
	}
}

func disconnectEvent(connID string) Event {
	return Event{RequestContext: RequestContext{ConnectionID: connID, EventType: EventDisconnect, DisconnectReason: "going away"}}
}

func replyMessage(t *testing.T, resp Response) protocol.ServerMessage {
	t.Helper()
	m, err := protocol.DecodeServer([]byte(resp.Body))
	if err != nil {
		t.Fatalf("reply body %q: %v", resp.Body, err)
	}
	return m
}

func list(t *testing.T, b registry.Backend) []registry.Connection {
	t.Helper()
	reg, err := registry.Open(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	l, err := reg.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func newDirect(t *testing.T, fail ...string) (*Coordinator, *registry.MemoryBackend, *fakePusher) {
	t.Helper()
	b := registry.NewMemoryBackend()
	p := newFakePusher(fail...)
	return NewCoordinator(b, NewDirectPush(p, 4), WithClock(func() time.Time { return fixedNow })), b, p
}

func TestConnectRegistersAndReplies(t *testing.T) {
	c, b, _ := newDirect(t)
	resp := c.HandleEvent(context.Background(), connectEvent("c1", "alice"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, resp.Body)
	}
	if got := replyMessage(t, resp); got != protocol.NewConnected("alice") {
		t.Fatalf("reply = %#v", got)
	}
	l := list(t, b)
	if len(l) != 1 || l[0].UserID != "alice" || l[0].ConnectionID != "c1" || !l[0].ConnectedAt.Equal(fixedNow) {
		t.Fatalf("registry = %+v", l)
	}
}

func TestConnectUsesGatewayTimestamp(t *testing.T) {
	c, b, _ := newDirect(t)
	ev := connectEvent("c1", "alice")
	ev.RequestContext.ConnectedAt = 1_600_000_000_000
	c.HandleEvent(context.Background(), ev)

	if l := list(t, b); !l[0].ConnectedAt.Equal(time.UnixMilli(1_600_000_000_000)) {
		t.Fatalf("connectedAt = %v", l[0].ConnectedAt)
	}
}

func TestConnectMissingUserID(t *testing.T) {
	c, b, _ := newDirect(t)
	for _, ev := range []Event{connectEvent("c1", ""), {
		RequestContext:        RequestContext{ConnectionID: "c1", EventType: EventConnect},
		QueryStringParameters: map[string]string{"user_id": "   "},
	}} {
		resp := c.HandleEvent(context.Background(), ev)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if got := replyMessage(t, resp); got != protocol.NewError("Missing user_id query parameter") {
			t.Fatalf("reply = %#v", got)
		}
	}
	if b.Len() != 0 {
		t.Fatal("registry must stay empty")
	}
}

func TestDirectConnectAnnouncesToExistingPeersOnly(t *testing.T) {
	c, _, p := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))

	if got := p.to("c1"); len(got) != 1 || got[0] != protocol.NewUserJoined("bob") {
		t.Fatalf("alice got %v", got)
	}
	if got := p.to("c2"); len(got) != 0 {
		t.Fatalf("bob must not see his own join, got %v", got)
	}
}

func TestReconnectSupersedes(t *testing.T) {
	c, b, _ := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "alice"))

	l := list(t, b)
	if len(l) != 1 || l[0].ConnectionID != "c2" {
		t.Fatalf("registry = %+v", l)
	}
}

func TestSendBroadcastsExcludingSender(t *testing.T) {
	c, _, p := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))
	c.HandleEvent(ctx, connectEvent("c3", "carol"))
	before := p.total()

	resp := c.HandleEvent(ctx, messageEvent("c1", protocol.NewSend("hi")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, resp.Body)
	}
	if got := replyMessage(t, resp); got != protocol.NewAck("Broadcast sent") {
		t.Fatalf("reply = %#v", got)
	}
	if p.total()-before != 2 {
		t.Fatalf("pushes = %d", p.total()-before)
	}
	want := protocol.NewBroadcast("alice", "hi")
	for _, conn := range []string{"c2", "c3"} {
		got := p.to(conn)
		if got[len(got)-1] != want {
			t.Fatalf("%s got %v", conn, got)
		}
	}
	for _, m := range p.to("c1") {
		if _, ok := m.(protocol.Broadcast); ok {
			t.Fatal("sender received its own broadcast")
		}
	}
}

func TestSendBase64Body(t *testing.T) {
	c, _, p := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))

	ev := messageEvent("c1", protocol.NewSend("hi"))
	ev.Body = base64.StdEncoding.EncodeToString([]byte(ev.Body))
	ev.IsBase64Encoded = true
	if resp := c.HandleEvent(ctx, ev); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, resp.Body)
	}
	if got := p.to("c2"); got[len(got)-1] != protocol.NewBroadcast("alice", "hi") {
		t.Fatalf("bob got %v", got)
	}
}

func TestSendFromUnregisteredConnection(t *testing.T) {
	c, _, p := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	before := p.total()

	resp := c.HandleEvent(ctx, messageEvent("c9", protocol.NewSend("hi")))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := replyMessage(t, resp); got != protocol.NewError("Not registered") {
		t.Fatalf("reply = %#v", got)
	}
	if got := p.to("c1"); len(got) != 0 {
		t.Fatalf("no broadcast expected, alice got %v", got)
	}
	// only the hint to the unregistered sender
	if p.total()-before != 1 {
		t.Fatalf("pushes = %d", p.total()-before)
	}
	if got := p.to("c9"); len(got) != 1 || got[0] != protocol.NewError("Not registered. Send connect message first.") {
		t.Fatalf("c9 got %v", got)
	}
}

func TestMessageDecodeErrors(t *testing.T) {
	c, _, _ := newDirect(t)
	cases := map[string]string{
		"{not json":                   "Invalid message encoding",
		`{"type":"ping"}`:             "Unknown message type",
		`{"message":"no type"}`:       "Invalid message format",
		`{"type":"send","message":1}`: "Invalid message encoding",
	}
	for body, want := range cases {
		ev := Event{RequestContext: RequestContext{ConnectionID: "c1", EventType: EventMessage}, Body: body}
		resp := c.HandleEvent(context.Background(), ev)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, resp.StatusCode)
			continue
		}
		if got := replyMessage(t, resp); got != protocol.NewError(want) {
			t.Errorf("%s: reply = %#v", body, got)
		}
	}
}

func TestGracefulDisconnectMessage(t *testing.T) {
	c, b, _ := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))

	resp := c.HandleEvent(ctx, messageEvent("c1", protocol.NewDisconnect()))
	if got := replyMessage(t, resp); resp.StatusCode != http.StatusOK || got != protocol.NewAck("Disconnected") {
		t.Fatalf("reply = %d %#v", resp.StatusCode, got)
	}
	if b.Len() != 0 {
		t.Fatal("registry not empty")
	}
}

func TestDisconnectEventAnnouncesUserLeft(t *testing.T) {
	c, b, p := newDirect(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))

	resp := c.HandleEvent(ctx, disconnectEvent("c1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	l := list(t, b)
	if len(l) != 1 || l[0].UserID != "bob" {
		t.Fatalf("registry = %+v", l)
	}
	got := p.to("c2")
	if got[len(got)-1] != protocol.NewUserLeft("alice") {
		t.Fatalf("bob got %v", got)
	}
}

func TestDisconnectUnknownConnection(t *testing.T) {
	c, _, p := newDirect(t)
	resp := c.HandleEvent(context.Background(), disconnectEvent("c404"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if p.total() != 0 {
		t.Fatal("nothing to announce")
	}
}

func TestUnknownEventType(t *testing.T) {
	c, _, _ := newDirect(t)
	resp := c.HandleEvent(context.Background(), Event{RequestContext: RequestContext{ConnectionID: "c1", EventType: "PING"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := replyMessage(t, resp).(protocol.Error); !ok {
		t.Fatal("expected error body")
	}
}

func TestFailedPushPrunesStaleUser(t *testing.T) {
	c, b, _ := newDirect(t, "c2")
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))
	c.HandleEvent(ctx, connectEvent("c3", "carol"))

	resp := c.HandleEvent(ctx, messageEvent("c1", protocol.NewSend("hi")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delivery failure must not reach the sender, status = %d", resp.StatusCode)
	}
	for _, conn := range list(t, b) {
		if conn.UserID == "bob" {
			t.Fatal("bob should have been pruned")
		}
	}
}

func newLogMode(t *testing.T) (*Coordinator, *registry.MemoryBackend, *fakeLog) {
	t.Helper()
	b := registry.NewMemoryBackend()
	l := &fakeLog{}
	return NewCoordinator(b, NewLogIndirect(l, "")), b, l
}

func TestLogModeConnectRegistersThenAppends(t *testing.T) {
	c, b, l := newLogMode(t)
	resp := c.HandleEvent(context.Background(), connectEvent("c1", "alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if b.Len() != 1 {
		t.Fatal("not registered")
	}
	if len(l.entries) != 1 || l.entries[0] != protocol.NewUserJoined("alice") || l.producer[0] != "ws-relay" {
		t.Fatalf("log = %v %v", l.entries, l.producer)
	}
}

func TestLogModeSendAppendsBroadcast(t *testing.T) {
	c, _, l := newLogMode(t)
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))

	resp := c.HandleEvent(ctx, messageEvent("c1", protocol.NewSend("hi")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if l.entries[len(l.entries)-1] != protocol.NewBroadcast("alice", "hi") {
		t.Fatalf("log = %v", l.entries)
	}
}

func TestLogModeAppendFailure(t *testing.T) {
	c, b, l := newLogMode(t)
	l.fail = true
	ctx := context.Background()

	// announcements are best effort
	if resp := c.HandleEvent(ctx, connectEvent("c1", "alice")); resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d", resp.StatusCode)
	}
	if b.Len() != 1 {
		t.Fatal("not registered")
	}

	resp := c.HandleEvent(ctx, messageEvent("c1", protocol.NewSend("hi")))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := replyMessage(t, resp); got != protocol.NewError("Failed to broadcast message") {
		t.Fatalf("reply = %#v", got)
	}

	if resp := c.HandleEvent(ctx, disconnectEvent("c1")); resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d", resp.StatusCode)
	}
}

func TestRedeliverPushesToEveryone(t *testing.T) {
	b := registry.NewMemoryBackend()
	p := newFakePusher()
	c := NewCoordinator(b, NewLogIndirect(&fakeLog{}, ""), WithDelivery(NewDirectPush(p, 2)))
	ctx := context.Background()
	c.HandleEvent(ctx, connectEvent("c1", "alice"))
	c.HandleEvent(ctx, connectEvent("c2", "bob"))

	raw, _ := protocol.EncodeEnvelope([]protocol.ServerMessage{
		protocol.NewBroadcast("alice", "hi"),
		protocol.NewUserLeft("carol"),
	})
	resp := c.Redeliver(ctx, raw)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, resp.Body)
	}
	for _, conn := range []string{"c1", "c2"} {
		got := p.to(conn)
		if len(got) != 2 || got[0] != protocol.NewBroadcast("alice", "hi") || got[1] != protocol.NewUserLeft("carol") {
			t.Fatalf("%s got %v", conn, got)
		}
	}
}

func TestRedeliverRejectsBadEnvelope(t *testing.T) {
	c, _, _ := newDirect(t)
	for _, raw := range []string{`{"messages":[]}`, `{"type":"ack","message":"x"}`, `{"messages":[{"type":"nope"}]}`} {
		if resp := c.Redeliver(context.Background(), []byte(raw)); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", raw, resp.StatusCode)
		}
	}
}

func TestRedeliverWithoutDelivery(t *testing.T) {
	c, _, _ := newLogMode(t)
	raw, _ := protocol.EncodeEnvelope([]protocol.ServerMessage{protocol.NewAck("x")})
	if resp := c.Redeliver(context.Background(), raw); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRegistryFailureAbortsWithServerError(t *testing.T) {
	b := newCountingBackend()
	p := newFakePusher()
	c := NewCoordinator(b, NewDirectPush(p, 4), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	for _, ev := range []Event{connectEvent("c1", "alice"), connectEvent("c2", "bob")} {
		if resp := c.HandleEvent(ctx, ev); resp.StatusCode != http.StatusOK {
			t.Fatalf("setup status = %d body=%s", resp.StatusCode, resp.Body)
		}
	}

	tests := []struct {
		name         string
		list, insert bool
		ev           Event
	}{
		{"send with list failing", true, false, messageEvent("c1", protocol.NewSend("hi"))},
		{"connect with list failing", true, false, connectEvent("c4", "dave")},
		// the join notice goes out before the write, so only the record is checked
		{"connect with insert failing", false, true, connectEvent("c3", "carol")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.fail(tt.list, tt.insert)
			defer b.fail(false, false)
			before := p.total()

			resp := c.HandleEvent(ctx, tt.ev)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", resp.StatusCode)
			}
			if got, ok := replyMessage(t, resp).(protocol.Error); !ok || got.Message != "Registry unavailable" {
				t.Fatalf("reply = %#v", got)
			}
			if tt.list && p.total() != before {
				t.Fatalf("pushed %d frames after a registry failure", p.total()-before)
			}
			if b.Len() != 2 {
				t.Fatalf("registry holds %d records, want 2", b.Len())
			}
		})
	}

	opens, closes := b.counts()
	if opens == 0 || opens != closes {
		t.Fatalf("sessions opened %d closed %d", opens, closes)
	}
}
