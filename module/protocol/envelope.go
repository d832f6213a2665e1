package protocol

import (
	"bytes"
	"encoding/json"

	"PRelay/tools/errs"
)

// Envelope is the batched delivery shape produced by the log trigger:
// {"messages":[...]} with at least one element.
type Envelope struct {
	Messages []ServerMessage
}

type envelopeWire struct {
	Messages []json.RawMessage `json:"messages"`
}

func NewEnvelope(msgs ...ServerMessage) Envelope {
	return Envelope{Messages: msgs}
}

// EncodeEnvelope serialises a non-empty batch.
func EncodeEnvelope(msgs []ServerMessage) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, errs.ErrInvalidEnvelope.WrapMsg("empty batch")
	}
	w := envelopeWire{Messages: make([]json.RawMessage, 0, len(msgs))}
	for _, m := range msgs {
		if m == nil {
			return nil, errs.ErrInvalidEnvelope.WrapMsg("nil message in batch")
		}
		w.Messages = append(w.Messages, Encode(m))
	}
	return json.Marshal(w)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return EncodeEnvelope(e.Messages)
}

// EnvelopeItems returns the raw elements when raw is a delivery envelope.
// The second result is false for anything else, including an envelope with
// an empty batch.
func EnvelopeItems(raw []byte) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	batch, ok := fields[EnvelopeField]
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(batch, &items); err != nil || len(items) == 0 {
		return nil, false
	}
	return items, true
}

// IsEnvelope reports whether raw has the delivery envelope shape.
func IsEnvelope(raw []byte) bool {
	_, ok := EnvelopeItems(raw)
	return ok
}

// DecodeEnvelope decodes every element strictly. The first element that is
// not a valid server message fails the whole envelope; use a Router when
// elements must be dispatched independently.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	items, ok := EnvelopeItems(raw)
	if !ok {
		return Envelope{}, errs.ErrInvalidEnvelope.WrapMsg("expected a non-empty messages array")
	}
	out := Envelope{Messages: make([]ServerMessage, 0, len(items))}
	for i, item := range items {
		m, err := DecodeServer(item)
		if err != nil {
			return Envelope{}, errs.ErrInvalidEnvelope.WithCause(err, "bad element", "index", i)
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}
