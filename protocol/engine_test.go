package protocol

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptResponse(key, extra string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n" +
		extra + "\r\n")
}

func serverFrame(opcode int, final bool, payload []byte) []byte {
	return AppendFrame(nil, Frame{Opcode: opcode, Final: final, Payload: payload}, nil)
}

func openEngine(t *testing.T) *Engine {
	t.Helper()

	e := NewEngine()
	_, err := e.Send(Request{Host: "example.test", Target: "/chat"})
	require.NoError(t, err)

	events, err := e.Receive(acceptResponse(e.challengeKey, ""))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.IsType(t, AcceptConnection{}, events[0])
	require.Equal(t, StateOpen, e.State())
	return e
}

// clientFrame decodes a frame produced by the engine and checks it is masked.
func clientFrame(t *testing.T, b []byte) Frame {
	t.Helper()

	require.GreaterOrEqual(t, len(b), 2)
	assert.NotZero(t, b[1]&maskBit, "client frames must be masked")
	f, n, err := ParseFrame(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	return f
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "remote-closing", StateRemoteClosing.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestEngineHandshake(t *testing.T) {
	t.Run("Accept with subprotocol", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test", Target: "/", Subprotocols: []string{"v1"}})
		require.NoError(t, err)

		events, err := e.Receive(acceptResponse(e.challengeKey, "Sec-WebSocket-Protocol: v1\r\n"))
		require.NoError(t, err)
		require.Len(t, events, 1)

		accept, ok := events[0].(AcceptConnection)
		require.True(t, ok)
		assert.Equal(t, "v1", accept.Subprotocol)
	})

	t.Run("Response split across reads", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test"})
		require.NoError(t, err)

		resp := acceptResponse(e.challengeKey, "")
		events, err := e.Receive(resp[:10])
		require.NoError(t, err)
		assert.Empty(t, events)

		events, err = e.Receive(resp[10:])
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("Frames in the same read as the response", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test"})
		require.NoError(t, err)

		data := append(acceptResponse(e.challengeKey, ""), serverFrame(OpText, true, []byte("hi"))...)
		events, err := e.Receive(data)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.IsType(t, AcceptConnection{}, events[0])
		assert.Equal(t, TextMessage{Data: []byte("hi"), FrameFinished: true, MessageFinished: true}, events[1])
	})

	t.Run("Request sent twice", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test"})
		require.NoError(t, err)
		_, err = e.Send(Request{Host: "example.test"})
		assert.ErrorIs(t, err, ErrRequestSent)
	})

	t.Run("Data before request", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Receive([]byte("HTTP/1.1 101 Switching Protocols\r\n\r\n"))
		assert.ErrorIs(t, err, ErrBadHandshake)
	})

	t.Run("Bad accept key", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test"})
		require.NoError(t, err)

		_, err = e.Receive(acceptResponse("some-other-key", ""))
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrBadHandshake)

		_, err = e.Receive([]byte("more"))
		assert.Equal(t, perr, err, "engine stays failed")
	})

	t.Run("Send message before accept", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Send(TextMessage{Data: []byte("early"), MessageFinished: true})
		assert.ErrorIs(t, err, ErrNotOpen)
	})
}

func TestEngineReject(t *testing.T) {
	start := func(t *testing.T) *Engine {
		e := NewEngine()
		_, err := e.Send(Request{Host: "example.test"})
		require.NoError(t, err)
		return e
	}

	t.Run("With content length", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 403 Forbidden\r\nContent-Length: 9\r\nX-Reason: nope\r\n\r\nforb"))
		require.NoError(t, err)
		require.Len(t, events, 2)

		reject, ok := events[0].(RejectConnection)
		require.True(t, ok)
		assert.Equal(t, 403, reject.StatusCode)
		assert.Equal(t, "nope", reject.Header.Get("X-Reason"))
		assert.True(t, reject.HasBody)
		assert.Equal(t, RejectData{Data: []byte("forb")}, events[1])
		assert.Equal(t, StateRejecting, e.State())

		events, err = e.Receive([]byte("idden"))
		require.NoError(t, err)
		assert.Equal(t, []Event{RejectData{Data: []byte("idden"), BodyFinished: true}}, events)
		assert.Equal(t, StateClosed, e.State())
	})

	t.Run("Without body", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].(RejectConnection).HasBody)
		assert.Equal(t, StateClosed, e.State())
	})

	t.Run("Chunked body", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 403 Forbidden\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].(RejectConnection).HasBody)
		assert.Equal(t, RejectData{Data: []byte("hello"), BodyFinished: true}, events[1])
		assert.Equal(t, StateClosed, e.State())
	})

	t.Run("Chunked body split across reads", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 429 Too Many Requests\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nab"))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, RejectData{Data: []byte("ab")}, events[1])

		var body []byte
		for _, piece := range []string{"c\r", "\n4;ext=1\r\nd", "efg\r\n0\r\nX-Trailer: v\r\n"} {
			events, err = e.Receive([]byte(piece))
			require.NoError(t, err)
			for _, ev := range events {
				rd := ev.(RejectData)
				assert.False(t, rd.BodyFinished)
				body = append(body, rd.Data...)
			}
		}
		assert.Equal(t, "cdefg", string(body))
		assert.Equal(t, StateRejecting, e.State())

		events, err = e.Receive([]byte("\r\n"))
		require.NoError(t, err)
		assert.Equal(t, []Event{RejectData{BodyFinished: true}}, events)
		assert.Equal(t, StateClosed, e.State())
	})

	t.Run("Chunked body cut by end of stream", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 403 Forbidden\r\nTransfer-Encoding: chunked\r\n\r\na\r\nhel"))
		require.NoError(t, err)
		require.Len(t, events, 2)

		events, err = e.Receive([]byte("\r"))
		require.NoError(t, err)
		require.Len(t, events, 1)

		events, err = e.Receive(nil)
		require.NoError(t, err)
		assert.Equal(t, []Event{RejectData{BodyFinished: true}}, events)
	})

	t.Run("Malformed chunk size", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 403 Forbidden\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n"))
		require.Len(t, events, 1)
		assert.IsType(t, RejectConnection{}, events[0])

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CloseProtocolError, perr.Code)
		assert.ErrorIs(t, err, ErrBadHandshake)
	})

	t.Run("Body until end of stream", func(t *testing.T) {
		e := start(t)

		events, err := e.Receive([]byte("HTTP/1.1 500 Internal Server Error\r\n\r\noops"))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, RejectData{Data: []byte("oops")}, events[1])

		events, err = e.Receive(nil)
		require.NoError(t, err)
		assert.Equal(t, []Event{RejectData{BodyFinished: true}}, events)
		assert.Equal(t, StateClosed, e.State())
	})
}

func TestEngineReceiveMessages(t *testing.T) {
	t.Run("Single frame binary", func(t *testing.T) {
		e := openEngine(t)

		events, err := e.Receive(serverFrame(OpBinary, true, []byte{1, 2, 3}))
		require.NoError(t, err)
		assert.Equal(t, []Event{BytesMessage{Data: []byte{1, 2, 3}, FrameFinished: true, MessageFinished: true}}, events)
	})

	t.Run("Fragmented text with interleaved ping", func(t *testing.T) {
		e := openEngine(t)

		var data []byte
		data = append(data, serverFrame(OpText, false, []byte("hel"))...)
		data = append(data, serverFrame(OpPing, true, []byte("p"))...)
		data = append(data, serverFrame(OpContinuation, true, []byte("lo"))...)

		events, err := e.Receive(data)
		require.NoError(t, err)
		assert.Equal(t, []Event{
			TextMessage{Data: []byte("hel"), FrameFinished: true},
			Ping{Payload: []byte("p")},
			TextMessage{Data: []byte("lo"), FrameFinished: true, MessageFinished: true},
		}, events)
	})

	t.Run("Large frame is streamed", func(t *testing.T) {
		e := openEngine(t)

		frame := serverFrame(OpBinary, true, bytes.Repeat([]byte{'z'}, 1000))
		events, err := e.Receive(frame[:504])
		require.NoError(t, err)
		require.Len(t, events, 1)
		first := events[0].(BytesMessage)
		assert.Len(t, first.Data, 500)
		assert.False(t, first.FrameFinished)
		assert.False(t, first.MessageFinished)

		events, err = e.Receive(frame[504:])
		require.NoError(t, err)
		require.Len(t, events, 1)
		second := events[0].(BytesMessage)
		assert.Len(t, second.Data, 500)
		assert.True(t, second.MessageFinished)
	})

	t.Run("Empty message", func(t *testing.T) {
		e := openEngine(t)

		events, err := e.Receive(serverFrame(OpText, true, nil))
		require.NoError(t, err)
		assert.Equal(t, []Event{TextMessage{FrameFinished: true, MessageFinished: true}}, events)
	})

	t.Run("Text split inside a rune", func(t *testing.T) {
		e := openEngine(t)

		frame := serverFrame(OpText, true, []byte("a€"))
		events, err := e.Receive(frame[:4])
		require.NoError(t, err)
		require.Len(t, events, 1)

		events, err = e.Receive(frame[4:])
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.True(t, events[0].(TextMessage).MessageFinished)
	})

	t.Run("Pong", func(t *testing.T) {
		e := openEngine(t)

		events, err := e.Receive(serverFrame(OpPong, true, []byte("x")))
		require.NoError(t, err)
		assert.Equal(t, []Event{Pong{Payload: []byte("x")}}, events)
	})
}

func TestEngineProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		code  int
		err   error
	}{
		{
			name:  "Masked server frame",
			input: AppendFrame(nil, Frame{Opcode: OpText, Final: true, Payload: []byte("x")}, &[4]byte{1, 2, 3, 4}),
			code:  CloseProtocolError,
			err:   ErrMaskedFrame,
		},
		{
			name:  "Reserved bits",
			input: []byte{finalBit | rsv1Bit | OpText, 0},
			code:  CloseProtocolError,
			err:   ErrReservedBits,
		},
		{
			name:  "Unknown opcode",
			input: []byte{finalBit | 0xb, 0},
			code:  CloseProtocolError,
			err:   ErrInvalidOpcode,
		},
		{
			name:  "Fragmented ping",
			input: serverFrame(OpPing, false, nil),
			code:  CloseProtocolError,
			err:   ErrFragmentedControlFrame,
		},
		{
			name:  "Oversized ping",
			input: serverFrame(OpPing, true, bytes.Repeat([]byte{'p'}, 126)),
			code:  CloseProtocolError,
			err:   ErrControlFramePayloadTooBig,
		},
		{
			name:  "Unexpected continuation",
			input: serverFrame(OpContinuation, true, []byte("x")),
			code:  CloseProtocolError,
			err:   ErrUnexpectedContinuation,
		},
		{
			name:  "Expected continuation",
			input: append(serverFrame(OpText, false, []byte("a")), serverFrame(OpBinary, true, []byte("b"))...),
			code:  CloseProtocolError,
			err:   ErrExpectedContinuation,
		},
		{
			name:  "Invalid UTF-8",
			input: serverFrame(OpText, true, []byte{0xff}),
			code:  CloseInvalidFramePayloadData,
			err:   ErrInvalidUTF8,
		},
		{
			name:  "Truncated UTF-8 at message end",
			input: serverFrame(OpText, true, []byte{0xe2, 0x82}),
			code:  CloseInvalidFramePayloadData,
			err:   ErrInvalidUTF8,
		},
		{
			name:  "Invalid close code",
			input: serverFrame(OpClose, true, []byte{0x03, 0xee}),
			code:  CloseProtocolError,
			err:   ErrInvalidCloseCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := openEngine(t)

			_, err := e.Receive(tt.input)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.ErrorIs(t, err, tt.err)

			// The client can still send its close frame.
			_, err = e.Send(CloseConnection{Code: perr.Code})
			assert.NoError(t, err)
		})
	}
}

func TestEngineSend(t *testing.T) {
	t.Run("Text message", func(t *testing.T) {
		e := openEngine(t)

		out, err := e.Send(TextMessage{Data: []byte("hello"), MessageFinished: true})
		require.NoError(t, err)

		f := clientFrame(t, out)
		assert.Equal(t, Frame{Opcode: OpText, Final: true, Payload: []byte("hello")}, f)
	})

	t.Run("Fragmented binary message", func(t *testing.T) {
		e := openEngine(t)

		out, err := e.Send(BytesMessage{Data: []byte{1}})
		require.NoError(t, err)
		assert.Equal(t, Frame{Opcode: OpBinary, Payload: []byte{1}}, clientFrame(t, out))

		_, err = e.Send(TextMessage{Data: []byte("x"), MessageFinished: true})
		assert.ErrorIs(t, err, ErrExpectedContinuation)

		out, err = e.Send(BytesMessage{Data: []byte{2}, MessageFinished: true})
		require.NoError(t, err)
		assert.Equal(t, Frame{Opcode: OpContinuation, Final: true, Payload: []byte{2}}, clientFrame(t, out))
	})

	t.Run("Invalid UTF-8", func(t *testing.T) {
		e := openEngine(t)

		_, err := e.Send(TextMessage{Data: []byte{0xff}, MessageFinished: true})
		assert.ErrorIs(t, err, ErrInvalidUTF8)
	})

	t.Run("Ping and pong", func(t *testing.T) {
		e := openEngine(t)

		out, err := e.Send(Ping{Payload: []byte("p")})
		require.NoError(t, err)
		assert.Equal(t, OpPing, clientFrame(t, out).Opcode)

		out, err = e.Send(Ping{Payload: []byte("q")}.Response())
		require.NoError(t, err)
		assert.Equal(t, Frame{Opcode: OpPong, Final: true, Payload: []byte("q")}, clientFrame(t, out))

		_, err = e.Send(Ping{Payload: bytes.Repeat([]byte{'p'}, 126)})
		assert.ErrorIs(t, err, ErrControlFramePayloadTooBig)
	})

	t.Run("Unknown event", func(t *testing.T) {
		e := openEngine(t)

		_, err := e.Send(AcceptConnection{})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestEngineCloseHandshake(t *testing.T) {
	t.Run("Client initiated", func(t *testing.T) {
		e := openEngine(t)

		out, err := e.Send(CloseConnection{Code: CloseNormalClosure, Reason: "bye"})
		require.NoError(t, err)
		assert.Equal(t, FormatCloseMessage(CloseNormalClosure, "bye"), clientFrame(t, out).Payload)
		assert.Equal(t, StateLocalClosing, e.State())

		_, err = e.Send(TextMessage{Data: []byte("late"), MessageFinished: true})
		assert.ErrorIs(t, err, ErrNotOpen)
		_, err = e.Send(CloseConnection{Code: CloseNormalClosure})
		assert.ErrorIs(t, err, ErrNotOpen)

		// Data sent by the server before it saw the close is still delivered.
		data := append(serverFrame(OpText, true, []byte("in flight")), serverFrame(OpClose, true, FormatCloseMessage(CloseNormalClosure, ""))...)
		events, err := e.Receive(data)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, CloseConnection{Code: CloseNormalClosure}, events[1])
		assert.Equal(t, StateClosed, e.State())
	})

	t.Run("Server initiated", func(t *testing.T) {
		e := openEngine(t)

		events, err := e.Receive(serverFrame(OpClose, true, FormatCloseMessage(CloseGoingAway, "restart")))
		require.NoError(t, err)
		require.Len(t, events, 1)
		closeEv := events[0].(CloseConnection)
		assert.Equal(t, CloseConnection{Code: CloseGoingAway, Reason: "restart"}, closeEv)
		assert.Equal(t, StateRemoteClosing, e.State())

		_, err = e.Send(TextMessage{Data: []byte("late"), MessageFinished: true})
		assert.ErrorIs(t, err, ErrNotOpen)

		out, err := e.Send(closeEv.Response())
		require.NoError(t, err)
		assert.Equal(t, FormatCloseMessage(CloseGoingAway, ""), clientFrame(t, out).Payload)
		assert.Equal(t, StateClosed, e.State())

		events, err = e.Receive(serverFrame(OpText, true, []byte("ignored")))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("Close without status", func(t *testing.T) {
		e := openEngine(t)

		events, err := e.Receive(serverFrame(OpClose, true, nil))
		require.NoError(t, err)
		require.Len(t, events, 1)
		closeEv := events[0].(CloseConnection)
		assert.Equal(t, CloseNoStatusReceived, closeEv.Code)

		out, err := e.Send(closeEv.Response())
		require.NoError(t, err)
		assert.Empty(t, clientFrame(t, out).Payload)
	})

	t.Run("Invalid close code", func(t *testing.T) {
		e := openEngine(t)

		for _, code := range []int{0, 999, CloseAbnormalClosure, 5000} {
			_, err := e.Send(CloseConnection{Code: code})
			assert.ErrorIs(t, err, ErrInvalidCloseCode, fmt.Sprint(code))
		}
		assert.Equal(t, StateOpen, e.State())
	})
}
