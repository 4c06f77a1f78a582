package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// profileCooldown is how long a profile sits out after a reported
// failure before the router offers it again.
const profileCooldown = 5 * time.Minute

// Profile is one credential with routing metadata. Lower Priority is
// tried first.
type Profile struct {
	Credential
	Priority int
}

// ProfileRouter is an AuthRouter over a fixed profile list. It hands
// out profiles in priority order, skipping excluded ids and profiles
// cooling down after reported failures.
type ProfileRouter struct {
	mu        sync.Mutex
	profiles  []Profile
	cooldowns map[string]time.Time
}

// NewProfileRouter creates a router; the input slice is copied and
// sorted by priority.
func NewProfileRouter(profiles []Profile) *ProfileRouter {
	sorted := make([]Profile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &ProfileRouter{
		profiles:  sorted,
		cooldowns: make(map[string]time.Time),
	}
}

// NextCredential implements AuthRouter.
func (r *ProfileRouter) NextCredential(ctx context.Context, exclude []string) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, profile := range r.profiles {
		if excluded[profile.ProfileID] {
			continue
		}
		if until, ok := r.cooldowns[profile.ProfileID]; ok && now.Before(until) {
			continue
		}
		cred := profile.Credential
		return &cred, nil
	}
	return nil, nil
}

// ReportFailure puts a profile on cooldown.
func (r *ProfileRouter) ReportFailure(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[profileID] = time.Now().Add(profileCooldown)
}

// ReportRateLimit puts every profile of a provider on cooldown.
func (r *ProfileRouter) ReportRateLimit(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := time.Now().Add(profileCooldown)
	for _, profile := range r.profiles {
		if profile.ProviderID == providerID {
			r.cooldowns[profile.ProfileID] = until
		}
	}
}

// ReportSuccess clears a profile's cooldown.
func (r *ProfileRouter) ReportSuccess(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldowns, profileID)
}

// StaticProxyResolver answers every agent with the same gateway
// config, or none at all.
type StaticProxyResolver struct {
	cfg *ProxyConfig
}

// NewStaticProxyResolver creates a resolver. A nil cfg means the
// direct path applies to everyone.
func NewStaticProxyResolver(cfg *ProxyConfig) *StaticProxyResolver {
	return &StaticProxyResolver{cfg: cfg}
}

// Resolve implements ProxyResolver.
func (r *StaticProxyResolver) Resolve(ctx context.Context, agentID string) (*ProxyConfig, bool, error) {
	if r.cfg == nil {
		return nil, false, nil
	}
	return r.cfg, true, nil
}
