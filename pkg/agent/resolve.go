package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/daneel/olivaw/internal/tracing"
)

// maxRouterAttempts bounds how many credentials one resolution pulls
// from the router.
const maxRouterAttempts = 3

// Resolver turns a run's auth situation into an ordered candidate
// list. The proxy path wins when configured; otherwise credentials are
// drawn from the router.
type Resolver struct {
	registry ProviderRegistry
	router   AuthRouter
	proxy    ProxyResolver
}

// NewResolver creates a Resolver. proxy may be nil when no gateway is
// deployed.
func NewResolver(registry ProviderRegistry, router AuthRouter, proxy ProxyResolver) *Resolver {
	return &Resolver{registry: registry, router: router, proxy: proxy}
}

// Resolve produces the candidate list for a run, highest priority
// first. It returns an error only when no candidate can be built.
func (r *Resolver) Resolve(ctx context.Context, in RunInput) ([]CompletionExecution, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if r.proxy != nil {
		cfg, proxied, err := r.proxy.Resolve(ctx, in.AgentID)
		if err != nil {
			return nil, fmt.Errorf("proxy resolution failed: %w", err)
		}
		if proxied {
			exec, err := r.buildProxied(cfg, in)
			if err != nil {
				return nil, err
			}
			logger.Debug().
				Str("provider", exec.ProviderID).
				Str("model", exec.ModelID).
				Msg("Resolved proxied execution")
			return []CompletionExecution{exec}, nil
		}
	}

	return r.resolveDirect(ctx, in)
}

// buildProxied creates the single synthetic execution for the gateway
// path. There is no failover beyond the gateway; it is the gateway's
// job to fail over internally.
func (r *Resolver) buildProxied(cfg *ProxyConfig, in RunInput) (CompletionExecution, error) {
	info, ok := r.registry.Lookup(cfg.ProviderID)
	if !ok {
		return CompletionExecution{}, fmt.Errorf("unknown proxy provider: %s", cfg.ProviderID)
	}

	httpClient, err := newProxyHTTPClient(r.proxy, cfg, in.AgentID)
	if err != nil {
		return CompletionExecution{}, err
	}

	model := in.ModelPin
	if model == "" {
		model = cfg.Model
	}
	if model == "" {
		model = info.DefaultModel
	}

	client, err := info.NewClient(TransportOptions{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		return CompletionExecution{}, fmt.Errorf("building proxy client: %w", err)
	}

	return CompletionExecution{
		ProviderID:    cfg.ProviderID,
		ModelID:       model,
		ProfileID:     "proxy",
		Proxied:       true,
		ContextWindow: info.ContextWindowFor(model),
		Client:        client,
	}, nil
}

// resolveDirect pulls up to maxRouterAttempts credentials from the
// router and builds one execution per usable credential. A router
// error on the first attempt propagates; a later error just stops
// collection with what was gathered so far.
func (r *Resolver) resolveDirect(ctx context.Context, in RunInput) ([]CompletionExecution, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	var (
		execs   []CompletionExecution
		exclude []string
		seen    = make(map[string]bool)
	)

	for attempt := 0; attempt < maxRouterAttempts; attempt++ {
		cred, err := r.router.NextCredential(ctx, exclude)
		if err != nil {
			if attempt == 0 {
				return nil, fmt.Errorf("auth routing failed: %w", err)
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Auth router error, keeping earlier candidates")
			break
		}
		if cred == nil {
			break
		}
		exclude = append(exclude, cred.ProfileID)

		info, ok := r.registry.Lookup(cred.ProviderID)
		if !ok {
			logger.Warn().Str("provider", cred.ProviderID).Msg("Credential names unknown provider, skipping")
			r.reportFailure(cred.ProfileID)
			continue
		}

		if cred.APIKey == "" {
			logger.Warn().Str("profile", cred.ProfileID).Msg("Credential has no API key, skipping")
			r.reportFailure(cred.ProfileID)
			continue
		}

		model := pickModel(in.ModelPin, info, cred)
		if model == "" {
			logger.Warn().Str("provider", cred.ProviderID).Msg("No model resolvable for credential, skipping")
			r.reportFailure(cred.ProfileID)
			continue
		}

		exec := CompletionExecution{
			ProviderID:    cred.ProviderID,
			ModelID:       model,
			ProfileID:     cred.ProfileID,
			ContextWindow: info.ContextWindowFor(model),
		}
		if seen[exec.key()] {
			continue
		}

		client, err := info.NewClient(TransportOptions{
			APIKey:  cred.APIKey,
			BaseURL: cred.BaseURL,
		})
		if err != nil {
			logger.Warn().Err(err).Str("provider", cred.ProviderID).Msg("Client construction failed, skipping credential")
			continue
		}
		exec.Client = client

		seen[exec.key()] = true
		execs = append(execs, exec)
	}

	if len(execs) == 0 {
		return nil, fmt.Errorf("no completion candidates available")
	}

	logger.Debug().Int("candidates", len(execs)).Msg("Resolved direct executions")
	return execs, nil
}

// reportFailure forwards a profile failure to the router when it
// implements FailureReporter.
func (r *Resolver) reportFailure(profileID string) {
	if profileID == "" || profileID == "proxy" {
		return
	}
	if reporter, ok := r.router.(FailureReporter); ok {
		reporter.ReportFailure(profileID)
	}
}

// reportRateLimit forwards a provider rate limit to the router when it
// implements FailureReporter.
func (r *Resolver) reportRateLimit(providerID string) {
	if reporter, ok := r.router.(FailureReporter); ok {
		reporter.ReportRateLimit(providerID)
	}
}

// pickModel resolves the model id for a credential. Priority: explicit
// pin, then the provider's selector, then the credential's default,
// then the registry default.
func pickModel(pin string, info ProviderInfo, cred *Credential) string {
	if pin != "" {
		return pin
	}
	if info.SelectModel != nil {
		if model := info.SelectModel(info.Models); model != "" {
			return model
		}
	}
	if cred.DefaultModel != "" {
		return cred.DefaultModel
	}
	return info.DefaultModel
}
