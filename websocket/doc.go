// Package websocket implements a WebSocket client (RFC 6455) that keeps
// reading from the network in the background.
//
// The protocol itself is handled by the protocol package. This package owns
// the connection lifecycle: dialing (optionally through TLS or a proxy), the
// opening handshake, a background reader that queues complete messages, and
// the close handshake.
//
// Scoped Example:
//
//	err := websocket.Open(ctx, "wss://example.com/chat", func(conn *websocket.Conn) error {
//	    if err := conn.SendText(ctx, "hello"); err != nil {
//	        return err
//	    }
//	    _, msg, err := conn.Receive(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(string(msg))
//	    return nil
//	})
//
// Open closes the connection when the callback returns. DialContext returns
// the connection instead and leaves closing to the caller:
//
//	d := &websocket.Dialer{
//	    Subprotocols:   []string{"v1"},
//	    ConnectTimeout: 10 * time.Second,
//	}
//	conn, err := d.DialContext(ctx, "ws://localhost:8080/ws")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close(ctx, websocket.CloseNormalClosure, "")
//
// Receiving:
//
// Messages are queued in arrival order in a queue of MessageQueueSize
// entries. While the queue is full the reader does not read from the
// network, which throttles the server. Pings are answered automatically and
// never appear in the queue.
//
// Receive returns io.EOF after a clean close handshake. An abnormal end is
// reported as a *CloseError (CloseAbnormalClosure when the transport was
// lost, CloseMessageTooBig when a message exceeded MaxMessageSize) or as the
// *ProtocolError the server caused.
//
// Concurrency:
//
// All Conn methods may be called concurrently. Sends are serialized so
// frames never interleave; each queued message is returned by exactly one
// Receive call.
package websocket
