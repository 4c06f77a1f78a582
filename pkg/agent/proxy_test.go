package agent

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures requests instead of sending them.
type recordingTransport struct {
	requests []*http.Request
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

// mutableProxyResolver lets a test change the gateway's answer between
// requests.
type mutableProxyResolver struct {
	cfg     *ProxyConfig
	enabled bool
}

func (r *mutableProxyResolver) Resolve(ctx context.Context, agentID string) (*ProxyConfig, bool, error) {
	return r.cfg, r.enabled, nil
}

func gatewayRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://gateway.internal/v1/messages", strings.NewReader("{}"))
	require.NoError(t, err)
	return req
}

func TestHeaderInjectingTransport(t *testing.T) {
	t.Run("should inject gateway headers and strip caller credentials", func(t *testing.T) {
		resolver := &mutableProxyResolver{
			cfg:     &ProxyConfig{Headers: map[string]string{"X-Gateway-Token": "secret"}},
			enabled: true,
		}
		backend := &recordingTransport{}
		transport := &headerInjectingTransport{base: backend, resolver: resolver, agentID: "main"}

		req := gatewayRequest(t)
		req.Header.Set("Authorization", "Bearer real-key")
		req.Header.Set("X-Api-Key", "real-key")

		_, err := transport.RoundTrip(req)
		require.NoError(t, err)

		require.Len(t, backend.requests, 1)
		sent := backend.requests[0]
		assert.Equal(t, "secret", sent.Header.Get("X-Gateway-Token"))
		assert.Empty(t, sent.Header.Get("Authorization"))
		assert.Empty(t, sent.Header.Get("X-Api-Key"))

		// The caller's request is never mutated.
		assert.Equal(t, "Bearer real-key", req.Header.Get("Authorization"))
	})

	t.Run("should fail closed when the gateway is disabled mid-run", func(t *testing.T) {
		resolver := &mutableProxyResolver{
			cfg:     &ProxyConfig{Headers: map[string]string{"X-Gateway-Token": "secret"}},
			enabled: true,
		}
		backend := &recordingTransport{}
		transport := &headerInjectingTransport{base: backend, resolver: resolver, agentID: "main"}

		_, err := transport.RoundTrip(gatewayRequest(t))
		require.NoError(t, err)

		resolver.enabled = false
		_, err = transport.RoundTrip(gatewayRequest(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no longer enabled")
		assert.Len(t, backend.requests, 1)
	})

	t.Run("should pick up rotated gateway headers", func(t *testing.T) {
		resolver := &mutableProxyResolver{
			cfg:     &ProxyConfig{Headers: map[string]string{"X-Gateway-Token": "first"}},
			enabled: true,
		}
		backend := &recordingTransport{}
		transport := &headerInjectingTransport{base: backend, resolver: resolver, agentID: "main"}

		_, err := transport.RoundTrip(gatewayRequest(t))
		require.NoError(t, err)

		resolver.cfg = &ProxyConfig{Headers: map[string]string{"X-Gateway-Token": "rotated"}}
		_, err = transport.RoundTrip(gatewayRequest(t))
		require.NoError(t, err)

		require.Len(t, backend.requests, 2)
		assert.Equal(t, "first", backend.requests[0].Header.Get("X-Gateway-Token"))
		assert.Equal(t, "rotated", backend.requests[1].Header.Get("X-Gateway-Token"))
	})

	t.Run("should fail closed when the gateway loses its headers", func(t *testing.T) {
		resolver := &mutableProxyResolver{cfg: &ProxyConfig{}, enabled: true}
		backend := &recordingTransport{}
		transport := &headerInjectingTransport{base: backend, resolver: resolver, agentID: "main"}

		_, err := transport.RoundTrip(gatewayRequest(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth headers")
		assert.Empty(t, backend.requests)
	})
}
