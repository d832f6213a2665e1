package natsx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{Servers: []string{"nats://x"}, Stream: "RELAY", Subject: "relay.broadcast"}
	if err := c.setDefaults(); err != nil {
		t.Fatal(err)
	}
	if c.AckWait != 30*time.Second || c.MaxAckPending != 1024 || c.Name != "prelay" {
		t.Fatalf("defaults = %+v", c)
	}
	if err := (&Config{Stream: "RELAY", Subject: "s"}).setDefaults(); err == nil {
		t.Fatal("missing servers must fail")
	}
	if err := (&Config{Servers: []string{"nats://x"}}).setDefaults(); err == nil {
		t.Fatal("missing stream must fail")
	}
}

// TestAppendAndConsume needs a JetStream server: PRELAY_TEST_NATS_URL=nats://localhost:4222
func TestAppendAndConsume(t *testing.T) {
	url := os.Getenv("PRELAY_TEST_NATS_URL")
	if url == "" {
		t.Skip("PRELAY_TEST_NATS_URL not set")
	}
	suffix := time.Now().Format("150405")
	c, err := Connect(Config{
		Servers: strings.Split(url, ","),
		Stream:  "PRELAYTEST" + suffix,
		Subject: "prelay.test." + suffix,
		Durable: "prelay-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Append(ctx, "ws-relay", []byte("one")); err != nil {
		t.Fatal(err)
	}

	var got [][]byte
	_ = c.Consume(ctx, 10, 200*time.Millisecond, func(_ context.Context, batch [][]byte) error {
		got = append(got, batch...)
		cancel()
		return nil
	})
	if len(got) != 1 || string(got[0]) != "one" {
		t.Fatalf("got %q", got)
	}
}
