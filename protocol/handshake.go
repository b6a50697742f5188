package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

// WebSocket protocol constants per RFC 6455.
const (
	// websocketGUID is the globally unique identifier for WebSocket handshake
	// per RFC 6455, section 4.2.2, item 5.4.
	websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// websocketVersion is the WebSocket protocol version per RFC 6455, section 4.2.1, item 6.
	websocketVersion = "13"

	maxHandshakeResponseSize = 16 << 10
)

// reservedHeaders are owned by the handshake; caller supplied values are dropped.
var reservedHeaders = []string{
	"Host",
	"Upgrade",
	"Connection",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Protocol",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Accept",
}

var headerTerminator = []byte("\r\n\r\n")

// writeRequest serializes the opening handshake per RFC 6455, section 4.1.
func writeRequest(r Request, challengeKey string) []byte {
	header := make(http.Header, len(r.Header)+5)
	for k, vs := range r.Header {
		if slices.Contains(reservedHeaders, http.CanonicalHeaderKey(k)) {
			continue
		}
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	header.Set("Upgrade", "websocket")
	header.Set("Connection", "Upgrade")
	header.Set("Sec-WebSocket-Key", challengeKey)
	header.Set("Sec-WebSocket-Version", websocketVersion)
	if len(r.Subprotocols) > 0 {
		header.Set("Sec-WebSocket-Protocol", strings.Join(r.Subprotocols, ", "))
	}

	target := r.Target
	if target == "" {
		target = "/"
	}

	var buf bytes.Buffer
	buf.WriteString("GET ")
	buf.WriteString(target)
	buf.WriteString(" HTTP/1.1\r\nHost: ")
	buf.WriteString(r.Host)
	buf.WriteString("\r\n")
	_ = header.Write(&buf)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// readResponseHead parses the status line and headers at the start of b.
// It returns n == 0 until the header block is complete.
func readResponseHead(b []byte) (resp *http.Response, n int, err error) {
	idx := bytes.Index(b, headerTerminator)
	if idx < 0 {
		if len(b) > maxHandshakeResponseSize {
			return nil, 0, ErrHandshakeTooLarge
		}
		return nil, 0, nil
	}

	n = idx + len(headerTerminator)
	resp, err = http.ReadResponse(bufio.NewReader(bytes.NewReader(b[:n])), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBadHandshake, err)
	}
	// The body, if any, is streamed through RejectData events instead.
	resp.Body = http.NoBody
	return resp, n, nil
}

// validateAccept checks a 101 response per RFC 6455, section 4.1, and returns
// the negotiated subprotocol.
func validateAccept(resp *http.Response, challengeKey string, requested []string) (string, error) {
	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return "", fmt.Errorf("%w: missing Upgrade: websocket", ErrBadHandshake)
	}
	if !headerContainsToken(resp.Header, "Connection", "upgrade") {
		return "", fmt.Errorf("%w: missing Connection: upgrade", ErrBadHandshake)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(challengeKey) {
		return "", fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", ErrBadHandshake)
	}

	// The server must select one of the requested subprotocols, if any.
	subprotocol := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if subprotocol != "" && !slices.Contains(requested, subprotocol) {
		return "", fmt.Errorf("%w: unrequested subprotocol %q", ErrBadHandshake, subprotocol)
	}

	// No extensions are offered, so none may be accepted.
	if ext := resp.Header.Get("Sec-WebSocket-Extensions"); ext != "" {
		return "", fmt.Errorf("%w: unrequested extension %q", ErrBadHandshake, ext)
	}

	return subprotocol, nil
}

// computeAcceptKey computes the Sec-WebSocket-Accept value per RFC 6455, section 4.2.2, item 5.4.
// The accept key is the base64-encoded SHA-1 hash of the challenge key concatenated with the GUID.
func computeAcceptKey(challengeKey string) string {
	h := sha1.New()
	h.Write([]byte(challengeKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// generateChallengeKey generates a 16-byte random key encoded in base64
// per RFC 6455, section 4.1.
func generateChallengeKey() string {
	key := make([]byte, 16)
	if _, err := io.ReadFull(randReader, key); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

// headerContainsToken checks if a header contains a specific token (case-insensitive).
// Tokens may be comma-separated (e.g., "Connection: keep-alive, Upgrade").
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
