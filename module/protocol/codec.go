package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"PRelay/tools/errs"
)

// wire field names
const (
	fieldMessage = "message"
	fieldUserID  = "userId"
	fieldFrom    = "from"
)

type sendWire struct {
	Type    ClientType `json:"type"`
	Message string     `json:"message"`
}

type disconnectWire struct {
	Type ClientType `json:"type"`
}

type broadcastWire struct {
	Type    ServerType `json:"type"`
	From    string     `json:"from"`
	Message string     `json:"message"`
}

type userWire struct {
	Type   ServerType `json:"type"`
	UserID string     `json:"userId"`
}

type textWire struct {
	Type    ServerType `json:"type"`
	Message string     `json:"message"`
}

// Encode serialises any variant. It never fails for the variants of this
// package.
func Encode(m Message) []byte {
	var v any
	switch m := m.(type) {
	case Send:
		v = sendWire{Type: ClientSend, Message: m.Message}
	case Disconnect:
		v = disconnectWire{Type: ClientDisconnect}
	case Broadcast:
		v = broadcastWire{Type: ServerBroadcast, From: m.From, Message: m.Message}
	case Connected:
		v = userWire{Type: ServerConnected, UserID: m.UserID}
	case UserJoined:
		v = userWire{Type: ServerUserJoined, UserID: m.UserID}
	case UserLeft:
		v = userWire{Type: ServerUserLeft, UserID: m.UserID}
	case Error:
		v = textWire{Type: ServerError, Message: m.Message}
	case Ack:
		v = textWire{Type: ServerAck, Message: m.Message}
	default:
		panic(fmt.Sprintf("protocol: unknown message variant %T", m))
	}
	data, err := json.Marshal(v)
	if err != nil {
		// only strings are marshalled, this cannot happen
		panic(fmt.Sprintf("protocol: marshal %T: %v", m, err))
	}
	return data
}

// EncodeString is Encode for text frames and gateway reply bodies.
func EncodeString(m Message) string {
	return string(Encode(m))
}

func (m Send) MarshalJSON() ([]byte, error)       { return Encode(m), nil }
func (m Disconnect) MarshalJSON() ([]byte, error) { return Encode(m), nil }
func (m Broadcast) MarshalJSON() ([]byte, error)  { return Encode(m), nil }
func (m Connected) MarshalJSON() ([]byte, error)  { return Encode(m), nil }
func (m UserJoined) MarshalJSON() ([]byte, error) { return Encode(m), nil }
func (m UserLeft) MarshalJSON() ([]byte, error)   { return Encode(m), nil }
func (m Error) MarshalJSON() ([]byte, error)      { return Encode(m), nil }
func (m Ack) MarshalJSON() ([]byte, error)        { return Encode(m), nil }

// object is a decoded JSON object with its discriminator split out.
type object struct {
	tag    string
	fields map[string]json.RawMessage
}

func decodeObject(raw []byte) (*object, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errs.ErrInvalidEncoding.WrapMsg("empty payload")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errs.ErrInvalidEncoding.WithCause(err, "payload is not a JSON object")
	}
	if fields == nil {
		// literal null
		return nil, errs.ErrInvalidEncoding.WrapMsg("payload is not a JSON object")
	}
	tagRaw, ok := fields[TypeField]
	if !ok {
		return nil, errs.ErrMissingDiscriminator.WrapMsg("missing type field")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, errs.ErrMissingDiscriminator.WrapMsg("type field is not a string")
	}
	return &object{tag: tag, fields: fields}, nil
}

func (o *object) str(name string) (string, error) {
	raw, ok := o.fields[name]
	if !ok {
		return "", errs.ErrInvalidEncoding.WrapMsg("missing field", "type", o.tag, "field", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.ErrInvalidEncoding.WrapMsg("field is not a string", "type", o.tag, "field", name)
	}
	return s, nil
}

// DecodeClient classifies a client frame. Failures are ErrInvalidEncoding,
// ErrMissingDiscriminator or ErrUnknownVariant.
func DecodeClient(raw []byte) (ClientMessage, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	switch ClientType(o.tag) {
	case ClientSend:
		msg, err := o.str(fieldMessage)
		if err != nil {
			return nil, err
		}
		return Send{Message: msg}, nil
	case ClientDisconnect:
		return Disconnect{}, nil
	default:
		return nil, errs.ErrUnknownVariant.WrapMsg("", "type", o.tag)
	}
}

// DecodeServer classifies a server frame with the same failure taxonomy as
// DecodeClient.
func DecodeServer(raw []byte) (ServerMessage, error) {
	o, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	switch ServerType(o.tag) {
	case ServerBroadcast:
		from, err := o.str(fieldFrom)
		if err != nil {
			return nil, err
		}
		msg, err := o.str(fieldMessage)
		if err != nil {
			return nil, err
		}
		return Broadcast{From: from, Message: msg}, nil
	case ServerConnected, ServerUserJoined, ServerUserLeft:
		userID, err := o.str(fieldUserID)
		if err != nil {
			return nil, err
		}
		switch ServerType(o.tag) {
		case ServerConnected:
			return Connected{UserID: userID}, nil
		case ServerUserJoined:
			return UserJoined{UserID: userID}, nil
		default:
			return UserLeft{UserID: userID}, nil
		}
	case ServerError, ServerAck:
		msg, err := o.str(fieldMessage)
		if err != nil {
			return nil, err
		}
		if ServerType(o.tag) == ServerError {
			return Error{Message: msg}, nil
		}
		return Ack{Message: msg}, nil
	default:
		return nil, errs.ErrUnknownVariant.WrapMsg("", "type", o.tag)
	}
}

// DecodeBody returns the raw bytes of a gateway message body, which may be
// base64 encoded.
func DecodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, errs.ErrInvalidEncoding.WithCause(err, "body is not valid base64")
	}
	return decoded, nil
}
