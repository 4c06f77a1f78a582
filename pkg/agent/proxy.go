package agent

import (
	"fmt"
	"net/http"
)

// headerInjectingTransport rewrites outbound requests for the proxy
// path. The gateway config is re-resolved on every request, so a
// gateway that reports itself disabled mid-run stops receiving traffic
// immediately and header rotations take effect without rebuilding the
// client. Credential headers the SDK set are stripped unconditionally
// so a misconfigured client cannot leak a real key to the gateway.
type headerInjectingTransport struct {
	base     http.RoundTripper
	resolver ProxyResolver
	agentID  string
}

func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cfg, enabled, err := t.resolver.Resolve(req.Context(), t.agentID)
	if err != nil {
		return nil, fmt.Errorf("proxy resolution failed: %w", err)
	}
	if !enabled {
		return nil, fmt.Errorf("proxy no longer enabled")
	}
	if len(cfg.Headers) == 0 {
		return nil, fmt.Errorf("proxy config missing auth headers")
	}

	clone := req.Clone(req.Context())

	clone.Header.Del("Authorization")
	clone.Header.Del("X-Api-Key")

	for name, value := range cfg.Headers {
		clone.Header.Set(name, value)
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// newProxyHTTPClient builds the http.Client for the gateway path. It
// fails closed twice: at construction when the config is incomplete,
// and per request when the resolver stops reporting the proxy enabled.
func newProxyHTTPClient(resolver ProxyResolver, cfg *ProxyConfig, agentID string) (*http.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("proxy config missing base URL")
	}
	if len(cfg.Headers) == 0 {
		return nil, fmt.Errorf("proxy config missing auth headers")
	}
	return &http.Client{
		Transport: &headerInjectingTransport{resolver: resolver, agentID: agentID},
	}, nil
}
