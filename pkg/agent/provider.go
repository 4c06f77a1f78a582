package agent

import (
	"context"
	"net/http"
)

// ModelClient is a provider adapter: one completion call against one
// concrete backend.
type ModelClient interface {
	ProviderID() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// TransportOptions carries everything a transport factory needs to
// build a client. HTTPClient overrides the SDK default when set, which
// is how the proxy path injects its headers.
type TransportOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// TransportFactory builds a ModelClient for one provider.
type TransportFactory func(opts TransportOptions) (ModelClient, error)

// ModelInfo describes one model a provider serves.
type ModelInfo struct {
	ID            string
	ContextWindow int
}

// ProviderInfo is the registry entry for one provider.
type ProviderInfo struct {
	ID           string
	DefaultModel string
	Models       []ModelInfo

	// SelectModel picks a model from Models. Nil means no provider
	// preference; the credential or registry default wins.
	SelectModel func(models []ModelInfo) string

	NewClient TransportFactory
}

// ContextWindowFor returns the context window of the model, or zero
// when the registry does not know the model.
func (p ProviderInfo) ContextWindowFor(modelID string) int {
	for _, m := range p.Models {
		if m.ID == modelID {
			return m.ContextWindow
		}
	}
	return 0
}

// ProviderRegistry resolves provider ids to their registry entries.
type ProviderRegistry interface {
	Lookup(providerID string) (ProviderInfo, bool)
}

// StaticRegistry is a fixed in-memory ProviderRegistry.
type StaticRegistry map[string]ProviderInfo

// Lookup implements ProviderRegistry.
func (r StaticRegistry) Lookup(providerID string) (ProviderInfo, bool) {
	info, ok := r[providerID]
	return info, ok
}

// Credential is one auth profile the router can hand out.
type Credential struct {
	ProfileID    string
	ProviderID   string
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AuthRouter hands out credentials in priority order. Implementations
// must not return a credential whose ProfileID is in exclude.
type AuthRouter interface {
	NextCredential(ctx context.Context, exclude []string) (*Credential, error)
}

// FailureReporter lets routers deprioritize broken profiles. Routers
// may implement it in addition to AuthRouter; reports are advisory and
// best-effort.
type FailureReporter interface {
	// ReportFailure marks one profile as having failed.
	ReportFailure(profileID string)
	// ReportRateLimit marks every profile of a provider as rate
	// limited.
	ReportRateLimit(providerID string)
}

// ProxyConfig routes completions through a gateway that holds the real
// provider credentials. Headers carry the gateway auth; the caller's
// own credentials never reach the wire.
type ProxyConfig struct {
	ProviderID string
	Model      string
	BaseURL    string
	Headers    map[string]string
}

// ProxyResolver decides whether an agent's completions go through a
// gateway. A false second return means the direct path applies.
type ProxyResolver interface {
	Resolve(ctx context.Context, agentID string) (*ProxyConfig, bool, error)
}
