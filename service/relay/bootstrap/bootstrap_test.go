package bootstrap

import (
	"context"
	"net/http"
	"testing"

	"PRelay/global/config"
	"PRelay/service/gateway"
	"PRelay/service/relay"
	"PRelay/tools/security"
)

func TestBuildDirectMemory(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFrom(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	r, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer r.Close()

	resp := r.Coord.HandleEvent(context.Background(), relay.Event{
		RequestContext: relay.RequestContext{ConnectionID: "c1", EventType: relay.EventMessage},
		Body:           `{"type":"send","message":"hi"}`,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unregistered sender", resp.StatusCode)
	}
}

func TestPushTokens(t *testing.T) {
	t.Parallel()
	if PushTokens(config.GatewayConfig{}) != nil {
		t.Error("want nil source without credentials")
	}
	if _, ok := PushTokens(config.GatewayConfig{Token: "t", Secret: "s"}).(gateway.StaticToken); !ok {
		t.Error("static token should win")
	}

	src := PushTokens(config.GatewayConfig{Secret: "s3cret"})
	token, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	claims, err := security.Verify(*PushAuth(config.GatewayConfig{Secret: "s3cret"}), token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !claims.HasScope(security.ScopePush) {
		t.Error("missing push scope")
	}
}

func TestRelayAuthDisabled(t *testing.T) {
	t.Parallel()
	if RelayAuth(config.RelayConfig{}) != nil || RelayTokens(config.RelayConfig{}, "x") != nil {
		t.Error("want no auth without a secret")
	}
}
