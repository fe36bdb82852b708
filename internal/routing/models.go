// Package routing implements the fallback router: the per-request object
// that walks a logical model's route chain, builds a KeyCycleTracker per
// route, and drives upstream attempts until one succeeds or the chain is
// exhausted. See internal/keys for the tracker and rotation state it
// consumes, and internal/providerconfig for the error-action table.
package routing

// RouteConfig is one (provider, provider-model) entry in a route chain.
type RouteConfig struct {
	Provider string
	Model    string

	// CooldownSeconds overrides the resolved route cooldown when non-nil,
	// including an explicit 0 (no cooldown). nil means "no override at
	// this level", falling through to the provider-config model override,
	// then the logical model's default.
	CooldownSeconds *int
}

// ModelRoutingConfig is one logical model's full routing configuration:
// its ordered primary routes followed by its ordered fallback routes.
type ModelRoutingConfig struct {
	LogicalName             string
	DefaultCooldownSeconds  int
	ModelRoutings           []RouteConfig
	FallbackModelRoutings   []RouteConfig
}

// Routes returns the combined route chain: primary routes followed by
// fallback routes, in order.
func (m ModelRoutingConfig) Routes() []RouteConfig {
	out := make([]RouteConfig, 0, len(m.ModelRoutings)+len(m.FallbackModelRoutings))
	out = append(out, m.ModelRoutings...)
	out = append(out, m.FallbackModelRoutings...)
	return out
}
