package protocol

import "net/http"

// Event is an input to Engine.Send or an output of Engine.Receive.
type Event interface {
	event()
}

// Request is the client's opening handshake request.
type Request struct {
	// Host is the value of the Host header, including the port when it is
	// not the default for the scheme.
	Host string

	// Target is the request target: path plus optional query.
	Target string

	Subprotocols []string

	// Header holds extra request headers. Names reserved by the protocol are
	// replaced with the values the handshake requires.
	Header http.Header
}

// AcceptConnection reports that the server accepted the upgrade.
type AcceptConnection struct {
	Subprotocol string
	Header      http.Header
}

// RejectConnection reports that the server answered the upgrade request
// with something other than 101 Switching Protocols.
type RejectConnection struct {
	StatusCode int
	Header     http.Header

	// HasBody is true when RejectData events will follow.
	HasBody bool
}

// RejectData carries part of the body of a rejection response.
type RejectData struct {
	Data         []byte
	BodyFinished bool
}

// TextMessage is a chunk of a text message. MessageFinished marks the last
// chunk of the message.
type TextMessage struct {
	Data            []byte
	FrameFinished   bool
	MessageFinished bool
}

// BytesMessage is a chunk of a binary message.
type BytesMessage struct {
	Data            []byte
	FrameFinished   bool
	MessageFinished bool
}

// Ping is a ping control frame.
type Ping struct {
	Payload []byte
}

// Response returns the pong answering p.
func (p Ping) Response() Pong {
	return Pong{Payload: p.Payload}
}

// Pong is a pong control frame.
type Pong struct {
	Payload []byte
}

// CloseConnection is a close control frame.
type CloseConnection struct {
	Code   int
	Reason string
}

// Response returns the close frame acknowledging c.
func (c CloseConnection) Response() CloseConnection {
	return CloseConnection{Code: c.Code}
}

func (Request) event()          {}
func (AcceptConnection) event() {}
func (RejectConnection) event() {}
func (RejectData) event()       {}
func (TextMessage) event()      {}
func (BytesMessage) event()     {}
func (Ping) event()             {}
func (Pong) event()             {}
func (CloseConnection) event()  {}
