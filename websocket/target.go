package websocket

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// target is a parsed ws:// or wss:// URL.
type target struct {
	secure   bool
	host     string // ASCII host name or IP literal, without brackets
	port     int
	resource string // path and query sent in the request line
}

func parseTarget(rawURL string) (*target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	t := &target{}
	switch u.Scheme {
	case "ws":
	case "wss":
		t.secure = true
	default:
		return nil, ErrBadScheme
	}

	t.host = u.Hostname()
	if t.host == "" {
		return nil, ErrEmptyHost
	}
	if !isASCII(t.host) {
		t.host, err = idna.Lookup.ToASCII(t.host)
		if err != nil {
			return nil, fmt.Errorf("websocket: invalid host: %w", err)
		}
	}

	t.port = defaultPort(t.secure)
	if p := u.Port(); p != "" {
		t.port, err = strconv.Atoi(p)
		if err != nil || t.port < 1 || t.port > 65535 {
			return nil, ErrBadPort
		}
	}

	t.resource = u.EscapedPath()
	if t.resource == "" {
		t.resource = "/"
	}
	if u.RawQuery != "" {
		t.resource += "?" + u.RawQuery
	}

	return t, nil
}

func defaultPort(secure bool) int {
	if secure {
		return 443
	}
	return 80
}

// addr returns the host:port pair to dial.
func (t *target) addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// hostHeader returns the Host header value. The port is omitted when it is
// the default for the scheme.
func (t *target) hostHeader() string {
	if t.port != defaultPort(t.secure) {
		return t.addr()
	}
	if strings.Contains(t.host, ":") {
		return "[" + t.host + "]"
	}
	return t.host
}

// httpURL is the equivalent http(s) URL, used for proxy selection.
func (t *target) httpURL() *url.URL {
	scheme := "http"
	if t.secure {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: t.hostHeader(), Path: "/"}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
