// Package core wires the provider-config registry, rotation state store,
// and fallback router into the single process-level handle the proxy's
// request path consumes. It deliberately owns no HTTP transport and no
// configuration loading (both are external collaborators); it only
// assembles what § 9 of the routing design calls "a store abstraction
// tests can replace" into something a caller can construct once and
// reuse across requests.
package core

import (
	"context"

	. "github.com/BenItBuhner/Model-Proxy/internal/logging"
	"github.com/BenItBuhner/Model-Proxy/internal/janitor"
	"github.com/BenItBuhner/Model-Proxy/internal/keys"
	"github.com/BenItBuhner/Model-Proxy/internal/providerconfig"
	"github.com/BenItBuhner/Model-Proxy/internal/routing"
)

// Proxy is the process-wide handle: one rotation Store, one provider
// registry, one router, and an optional janitor. Construct one per
// process with New and reuse it across every request's Route call.
type Proxy struct {
	Store    *keys.Store
	Registry *providerconfig.Registry
	Router   *routing.FallbackRouter

	janitor *janitor.Janitor
}

// Options configures New. Upstream is required; the rest have sensible
// defaults for production use.
type Options struct {
	Providers map[string]providerconfig.ProviderConfig
	Upstream  routing.Upstream

	// Clock is injected for deterministic tests; nil uses the system clock.
	Clock keys.Clock

	// JanitorSchedule is a five-field cron expression for the background
	// cooldown sweep. Empty disables the janitor.
	JanitorSchedule string
}

// New assembles a Proxy from Options. It does not start the janitor; call
// Start for that once the caller is ready to accept background work.
func New(opts Options) (*Proxy, error) {
	store := keys.NewStore()
	registry := providerconfig.NewRegistry(opts.Providers)
	router := routing.New(store, registry, opts.Upstream, opts.Clock)

	p := &Proxy{Store: store, Registry: registry, Router: router}

	if opts.JanitorSchedule != "" {
		j, err := janitor.New(store, opts.Clock, opts.JanitorSchedule)
		if err != nil {
			return nil, err
		}
		p.janitor = j
	}

	L_info("core: proxy assembled", "providers", len(opts.Providers), "janitor", p.janitor != nil)
	return p, nil
}

// Start begins the janitor's background sweep, if configured.
func (p *Proxy) Start() {
	if p.janitor != nil {
		p.janitor.Start()
	}
}

// Stop halts the janitor's background sweep, if configured.
func (p *Proxy) Stop() {
	if p.janitor != nil {
		p.janitor.Stop()
	}
}

// Route executes one logical-model request through the fallback router.
func (p *Proxy) Route(ctx context.Context, model routing.ModelRoutingConfig, request any) (any, error) {
	return p.Router.Execute(ctx, model, request)
}

// ResetFailed clears failure tracking for provider (or every provider, if
// empty) without touching round-robin position. Exposed for test harnesses
// and operator tooling; the core itself never calls it.
func (p *Proxy) ResetFailed(provider string) {
	p.Store.ResetFailed(provider)
}

// ResetAll clears all rotation state for provider (or every provider, if
// empty), including round-robin position.
func (p *Proxy) ResetAll(provider string) {
	p.Store.ResetAll(provider)
}

// defaultJanitorSchedule is a reasonable default for callers that want a
// janitor but don't care about the exact cadence.
const defaultJanitorSchedule = "*/5 * * * *"

// DefaultJanitorSchedule returns a five-minute sweep cadence, the default
// used when an operator enables the janitor without naming a schedule.
func DefaultJanitorSchedule() string { return defaultJanitorSchedule }
