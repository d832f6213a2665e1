// Package protocol defines the closed set of messages exchanged between chat
// clients and the relay, and their JSON wire form.
//
// Every message is a flat JSON object whose "type" field selects the variant.
// Decoding switches over that field exhaustively and rejects anything else at
// the boundary; callers receive a concrete variant value.
package protocol

// TypeField is the discriminator present on every inbound and outbound message.
const TypeField = "type"

// EnvelopeField holds the batch of server messages in a delivery envelope.
const EnvelopeField = "messages"

type ClientType string

const (
	ClientSend       ClientType = "send"
	ClientDisconnect ClientType = "disconnect"
)

type ServerType string

const (
	ServerBroadcast  ServerType = "broadcast"
	ServerConnected  ServerType = "connected"
	ServerUserJoined ServerType = "user_joined"
	ServerUserLeft   ServerType = "user_left"
	ServerError      ServerType = "error"
	ServerAck        ServerType = "ack"
)

// Message is implemented by every variant, and only by them, so Encode is
// total.
type Message interface {
	// Tag returns the discriminator value written to the "type" field.
	Tag() string
	message()
}

// ClientMessage is a message produced by a connected client.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is a message produced by the relay.
type ServerMessage interface {
	Message
	serverMessage()
}

// Send asks the relay to broadcast Message to every other connected user.
type Send struct {
	Message string
}

// Disconnect is the graceful leave request.
type Disconnect struct{}

// Broadcast carries a chat line from one user to the others.
type Broadcast struct {
	From    string
	Message string
}

// Connected is the direct reply to a successful connect.
type Connected struct {
	UserID string
}

type UserJoined struct {
	UserID string
}

type UserLeft struct {
	UserID string
}

type Error struct {
	Message string
}

type Ack struct {
	Message string
}

func (Send) Tag() string       { return string(ClientSend) }
func (Disconnect) Tag() string { return string(ClientDisconnect) }
func (Broadcast) Tag() string  { return string(ServerBroadcast) }
func (Connected) Tag() string  { return string(ServerConnected) }
func (UserJoined) Tag() string { return string(ServerUserJoined) }
func (UserLeft) Tag() string   { return string(ServerUserLeft) }
func (Error) Tag() string      { return string(ServerError) }
func (Ack) Tag() string        { return string(ServerAck) }

func (Send) message()       {}
func (Disconnect) message() {}
func (Broadcast) message()  {}
func (Connected) message()  {}
func (UserJoined) message() {}
func (UserLeft) message()   {}
func (Error) message()      {}
func (Ack) message()        {}

func (Send) clientMessage()       {}
func (Disconnect) clientMessage() {}

func (Broadcast) serverMessage()  {}
func (Connected) serverMessage()  {}
func (UserJoined) serverMessage() {}
func (UserLeft) serverMessage()   {}
func (Error) serverMessage()      {}
func (Ack) serverMessage()        {}

// Constructors keep call sites free of ad-hoc literals.

func NewSend(message string) Send { return Send{Message: message} }
func NewDisconnect() Disconnect   { return Disconnect{} }

func NewBroadcast(from, message string) Broadcast { return Broadcast{From: from, Message: message} }
func NewConnected(userID string) Connected        { return Connected{UserID: userID} }
func NewUserJoined(userID string) UserJoined      { return UserJoined{UserID: userID} }
func NewUserLeft(userID string) UserLeft          { return UserLeft{UserID: userID} }
func NewError(message string) Error               { return Error{Message: message} }
func NewAck(message string) Ack                   { return Ack{Message: message} }
