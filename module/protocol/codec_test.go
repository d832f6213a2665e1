package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"PRelay/tools/errs"
)

func TestRoundTripServer(t *testing.T) {
	t.Parallel()

	msgs := []ServerMessage{
		NewBroadcast("alice", "hi"),
		NewBroadcast("bob", ""),
		NewConnected("alice"),
		NewUserJoined("bob"),
		NewUserLeft("carol"),
		NewError("Not registered"),
		NewAck("Broadcast sent"),
	}
	for _, m := range msgs {
		m := m
		t.Run(m.Tag(), func(t *testing.T) {
			t.Parallel()
			got, err := DecodeServer(Encode(m))
			if err != nil {
				t.Fatalf("DecodeServer(Encode(%#v)) error = %v", m, err)
			}
			if got != m {
				t.Fatalf("round trip = %#v, want %#v", got, m)
			}
		})
	}
}

func TestRoundTripClient(t *testing.T) {
	t.Parallel()

	for _, m := range []ClientMessage{NewSend("hi"), NewSend(""), NewDisconnect()} {
		got, err := DecodeClient(Encode(m))
		if err != nil {
			t.Fatalf("DecodeClient(Encode(%#v)) error = %v", m, err)
		}
		if got != m {
			t.Fatalf("round trip = %#v, want %#v", got, m)
		}
	}
}

func TestEncodeWireShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  Message
		want string
	}{
		{NewSend("hi"), `{"type":"send","message":"hi"}`},
		{NewDisconnect(), `{"type":"disconnect"}`},
		{NewBroadcast("alice", "hi"), `{"type":"broadcast","from":"alice","message":"hi"}`},
		{NewConnected("alice"), `{"type":"connected","userId":"alice"}`},
		{NewUserJoined("alice"), `{"type":"user_joined","userId":"alice"}`},
		{NewUserLeft("alice"), `{"type":"user_left","userId":"alice"}`},
		{NewError("boom"), `{"type":"error","message":"boom"}`},
		{NewAck("ok"), `{"type":"ack","message":"ok"}`},
	}
	for _, tt := range tests {
		if got := EncodeString(tt.msg); got != tt.want {
			t.Errorf("Encode(%#v) = %s, want %s", tt.msg, got, tt.want)
		}
	}

	// json.Marshal goes through the same encoder
	data, err := json.Marshal(NewAck("ok"))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(data) != `{"type":"ack","message":"ok"}` {
		t.Errorf("json.Marshal = %s", data)
	}
}

func TestDecodeClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{not json`, errs.ErrInvalidEncoding},
		{"empty", ``, errs.ErrInvalidEncoding},
		{"array", `[1,2]`, errs.ErrInvalidEncoding},
		{"string", `"send"`, errs.ErrInvalidEncoding},
		{"no type", `{"message":"hi"}`, errs.ErrMissingDiscriminator},
		{"null", `null`, errs.ErrInvalidEncoding},
		{"numeric type", `{"type":7}`, errs.ErrMissingDiscriminator},
		{"unknown", `{"type":"ping"}`, errs.ErrUnknownVariant},
		{"server tag", `{"type":"ack","message":"x"}`, errs.ErrUnknownVariant},
		{"wrong case", `{"type":"SEND","message":"x"}`, errs.ErrUnknownVariant},
		{"send without message", `{"type":"send"}`, errs.ErrInvalidEncoding},
		{"send numeric message", `{"type":"send","message":1}`, errs.ErrInvalidEncoding},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeClient([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("DecodeClient(%q) error = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}
}

func TestDecodeClientErrorsAreDistinct(t *testing.T) {
	t.Parallel()

	_, err := DecodeClient([]byte(`{"type":"ping"}`))
	if errors.Is(err, errs.ErrInvalidEncoding) {
		t.Fatalf("unknown variant must not match invalid encoding: %v", err)
	}
	if errs.Code(err) != errs.UnknownVariantCode {
		t.Fatalf("code = %d", errs.Code(err))
	}
}

func TestDecodeClientIgnoresExtraFields(t *testing.T) {
	t.Parallel()

	got, err := DecodeClient([]byte(`{"type":"send","message":"hi","timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeClient() error = %v", err)
	}
	if got != NewSend("hi") {
		t.Fatalf("got %#v", got)
	}
}

func TestDecodeServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want error
	}{
		{`{"type":"broadcast","message":"hi"}`, errs.ErrInvalidEncoding},
		{`{"type":"connected"}`, errs.ErrInvalidEncoding},
		{`{"type":"send","message":"hi"}`, errs.ErrUnknownVariant},
		{`{}`, errs.ErrMissingDiscriminator},
		{`null`, errs.ErrInvalidEncoding},
	}
	for _, tt := range tests {
		if _, err := DecodeServer([]byte(tt.raw)); !errors.Is(err, tt.want) {
			t.Errorf("DecodeServer(%s) error = %v, want %v", tt.raw, err, tt.want)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	plain := `{"type":"send","message":"hi"}`
	got, err := DecodeBody(plain, false)
	if err != nil || string(got) != plain {
		t.Fatalf("DecodeBody(plain) = %q, %v", got, err)
	}

	got, err = DecodeBody(base64.StdEncoding.EncodeToString([]byte(plain)), true)
	if err != nil || string(got) != plain {
		t.Fatalf("DecodeBody(base64) = %q, %v", got, err)
	}

	if _, err := DecodeBody("%%%", true); !errors.Is(err, errs.ErrInvalidEncoding) {
		t.Fatalf("DecodeBody(bad base64) error = %v", err)
	}
}

func TestEncodeEveryVariant(t *testing.T) {
	t.Parallel()

	all := []Message{
		NewSend("hi"), NewDisconnect(),
		NewBroadcast("a", "hi"), NewConnected("a"), NewUserJoined("a"),
		NewUserLeft("a"), NewError("boom"), NewAck("ok"),
	}
	for _, m := range all {
		var wire struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(Encode(m), &wire); err != nil {
			t.Fatalf("Encode(%T) is not JSON: %v", m, err)
		}
		if wire.Type != m.Tag() {
			t.Errorf("Encode(%T) type = %q, want %q", m, wire.Type, m.Tag())
		}
	}
}
