package relay

import (
	"time"

	"PRelay/module/protocol"
	"PRelay/tools/errs"
)

type EventType string

const (
	EventConnect    EventType = "CONNECT"
	EventMessage    EventType = "MESSAGE"
	EventDisconnect EventType = "DISCONNECT"
)

type RequestContext struct {
	ConnectionID         string    `json:"connectionId"`
	ConnectedAt          int64     `json:"connectedAt,omitempty"` // epoch millis
	MessageID            string    `json:"messageId,omitempty"`
	DisconnectReason     string    `json:"disconnectReason,omitempty"`
	DisconnectStatusCode int       `json:"disconnectStatusCode,omitempty"`
	EventType            EventType `json:"eventType"`
}

// Event is one connection lifecycle notification from the gateway.
type Event struct {
	RequestContext        RequestContext    `json:"requestContext"`
	QueryStringParameters map[string]string `json:"queryStringParameters,omitempty"`
	Headers               map[string]string `json:"headers,omitempty"`
	Body                  string            `json:"body,omitempty"`
	IsBase64Encoded       bool              `json:"isBase64Encoded,omitempty"`
}

// ConnectedTime returns the connect timestamp, or now when the gateway did
// not report one.
func (e *Event) ConnectedTime(now func() time.Time) time.Time {
	if e.RequestContext.ConnectedAt == 0 {
		return now().UTC()
	}
	return time.UnixMilli(e.RequestContext.ConnectedAt).UTC()
}

// Response is the synchronous reply returned to the gateway, which forwards
// Body to the originating socket.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body,omitempty"`
}

// Reply builds a response carrying msg.
func Reply(status int, msg protocol.ServerMessage) Response {
	return Response{StatusCode: status, Body: protocol.EncodeString(msg)}
}

// ErrorReply maps err to its status and an Error body.
func ErrorReply(err error) Response {
	return Reply(errs.HTTPStatus(err), protocol.NewError(errs.Message(err)))
}
