package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		secure   bool
		addr     string
		host     string
		resource string
	}{
		{
			name:     "Default ws port",
			url:      "ws://example.com/chat",
			addr:     "example.com:80",
			host:     "example.com",
			resource: "/chat",
		},
		{
			name:     "Default wss port",
			url:      "wss://example.com",
			secure:   true,
			addr:     "example.com:443",
			host:     "example.com",
			resource: "/",
		},
		{
			name:     "Explicit default port",
			url:      "ws://example.com:80/",
			addr:     "example.com:80",
			host:     "example.com",
			resource: "/",
		},
		{
			name:     "Custom port",
			url:      "wss://example.com:8443/a/b",
			secure:   true,
			addr:     "example.com:8443",
			host:     "example.com:8443",
			resource: "/a/b",
		},
		{
			name:     "wss on port 80",
			url:      "wss://example.com:80/",
			secure:   true,
			addr:     "example.com:80",
			host:     "example.com:80",
			resource: "/",
		},
		{
			name:     "Query string",
			url:      "ws://example.com/feed?topic=a%20b&x=1",
			addr:     "example.com:80",
			host:     "example.com",
			resource: "/feed?topic=a%20b&x=1",
		},
		{
			name:     "Escaped path",
			url:      "ws://example.com/a%2Fb",
			addr:     "example.com:80",
			host:     "example.com",
			resource: "/a%2Fb",
		},
		{
			name:     "IPv6 literal",
			url:      "ws://[::1]/",
			addr:     "[::1]:80",
			host:     "[::1]",
			resource: "/",
		},
		{
			name:     "IPv6 literal with port",
			url:      "ws://[::1]:9000/",
			addr:     "[::1]:9000",
			host:     "[::1]:9000",
			resource: "/",
		},
		{
			name:     "Internationalized host",
			url:      "ws://bücher.example/",
			addr:     "xn--bcher-kva.example:80",
			host:     "xn--bcher-kva.example",
			resource: "/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := parseTarget(tt.url)
			require.NoError(t, err)

			assert.Equal(t, tt.secure, target.secure)
			assert.Equal(t, tt.addr, target.addr())
			assert.Equal(t, tt.host, target.hostHeader())
			assert.Equal(t, tt.resource, target.resource)
		})
	}
}

func TestParseTargetErrors(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		err     error
		wantErr string
	}{
		{
			name:    "Invalid URL",
			url:     "://invalid",
			wantErr: "missing protocol scheme",
		},
		{
			name: "Bad scheme",
			url:  "http://example.com",
			err:  ErrBadScheme,
		},
		{
			name: "Empty host",
			url:  "ws:///path",
			err:  ErrEmptyHost,
		},
		{
			name: "Port out of range",
			url:  "ws://example.com:70000/",
			err:  ErrBadPort,
		},
		{
			name: "Port zero",
			url:  "ws://example.com:0/",
			err:  ErrBadPort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTarget(tt.url)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTargetHTTPURL(t *testing.T) {
	target, err := parseTarget("wss://example.com:8443/x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443/", target.httpURL().String())

	target, err = parseTarget("ws://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/", target.httpURL().String())
}
