// Package protocol implements the client side of the WebSocket protocol
// defined in RFC 6455 as a state machine that performs no I/O.
//
// The Engine turns bytes read from the network into events and turns
// events into bytes to write:
//
//	e := protocol.NewEngine()
//	out, _ := e.Send(protocol.Request{Host: "example.com", Target: "/chat"})
//	conn.Write(out)
//
//	n, _ := conn.Read(buf)
//	events, err := e.Receive(buf[:n])
//	for _, ev := range events {
//	    switch ev := ev.(type) {
//	    case protocol.AcceptConnection:
//	        // handshake complete
//	    case protocol.TextMessage:
//	        // ev.Data, ev.MessageFinished
//	    case protocol.Ping:
//	        out, _ := e.Send(ev.Response())
//	        conn.Write(out)
//	    }
//	}
//
// Message payloads are streamed: a single large frame produces several
// TextMessage or BytesMessage events as its bytes arrive, so callers can
// enforce size limits before the whole message is buffered.
//
// A *ProtocolError from Receive means the server violated the protocol. Its
// Code is the close status to send before closing the transport.
package protocol
