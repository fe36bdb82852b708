package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	. "github.com/BenItBuhner/Model-Proxy/internal/logging"
	"github.com/BenItBuhner/Model-Proxy/internal/keys"
	"github.com/BenItBuhner/Model-Proxy/internal/providerconfig"
)

// UpstreamError is what Upstream.Invoke returns on a non-success response.
// Status carries the HTTP status code the provider returned; it is the
// only thing resolve_error_action consults.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status=%d: %s", e.Status, e.Message)
}

// Upstream is the external collaborator that actually speaks to a
// provider's HTTP API. The router treats it as opaque: any non-nil error
// that is not an *UpstreamError is propagated to the caller immediately
// (it is not a retryable provider failure, e.g. a local marshal bug).
type Upstream interface {
	Invoke(ctx context.Context, provider, model, apiKey string, request any) (response any, err error)
}

// AttemptRecord is one (provider, model, status) entry in the ordered
// attempt history the router reports on exhaustion.
type AttemptRecord struct {
	Provider   string
	Model      string
	LastStatus int
}

// ExhaustionError is returned when every route in the chain has been
// tried and none succeeded. It is the only error shape the router
// manufactures itself; everything else is either *UpstreamError-derived
// (consumed internally) or propagated verbatim (cancellation,
// programmer error).
type ExhaustionError struct {
	LogicalModel string
	Attempts     []AttemptRecord
	FinalStatus  int
}

func (e *ExhaustionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s=%d", a.Provider, a.Model, a.LastStatus))
	}
	return fmt.Sprintf("routing: %q exhausted after [%s]", e.LogicalModel, strings.Join(parts, ", "))
}

// FallbackRouter holds no per-request state: each Execute call builds its
// own trackers and attempt history, so one router may serve one request or
// be shared across many. Cross-request state lives in the rotation Store
// it wraps.
type FallbackRouter struct {
	store     *keys.Store
	providers *providerconfig.Registry
	upstream  Upstream
	clock     keys.Clock
}

// New builds a FallbackRouter sharing the given process-wide rotation
// store and provider-config registry. clock may be nil to use the system
// clock; tests should inject a keys.ManualClock.
func New(store *keys.Store, providers *providerconfig.Registry, upstream Upstream, clock keys.Clock) *FallbackRouter {
	if clock == nil {
		clock = keys.SystemClock{}
	}
	return &FallbackRouter{store: store, providers: providers, upstream: upstream, clock: clock}
}

// createTrackerForRoute builds a tracker for route, resolving its
// route_cooldown with strict priority: the route's own override, then the
// provider-config model override, then the logical model's default. See
// spec §4.4's route construction rule.
func (r *FallbackRouter) createTrackerForRoute(route RouteConfig, model ModelRoutingConfig) *keys.KeyCycleTracker {
	routeCooldown := model.DefaultCooldownSeconds
	if sec, ok := r.providers.ModelCooldownSeconds(route.Provider, route.Model); ok {
		routeCooldown = sec
	}
	if route.CooldownSeconds != nil {
		routeCooldown = *route.CooldownSeconds
	}

	providerCooldown := r.providers.ProviderCooldownSeconds(route.Provider)

	return keys.NewKeyCycleTracker(r.store, keys.TrackerConfig{
		Provider:          route.Provider,
		Model:             route.Model,
		ProviderCooldown:  time.Duration(providerCooldown) * time.Second,
		RouteCooldown:     time.Duration(routeCooldown) * time.Second,
		CooldownDisabled:  keys.KeyCooldownSeconds() <= 0,
		Config:            r.providers,
		Clock:             r.clock,
	})
}

// Execute walks the logical model's route chain, attempting upstream
// calls until one succeeds or the chain is exhausted. See spec §4.4.
func (r *FallbackRouter) Execute(ctx context.Context, model ModelRoutingConfig, request any) (any, error) {
	requestID := uuid.NewString()
	var attempts []AttemptRecord
	finalStatus := 0

	for _, route := range model.Routes() {
		if err := ctx.Err(); err != nil {
			L_warn("routing: request cancelled", "requestID", requestID, "logicalModel", model.LogicalName)
			return nil, err
		}

		tracker := r.createTrackerForRoute(route, model)
		if tracker.AllKeysInCooldown() {
			L_debug("routing: route skipped, all keys in cooldown", "requestID", requestID, "provider", route.Provider, "model", route.Model)
			continue
		}

		for !tracker.Exhausted() {
			if err := ctx.Err(); err != nil {
				L_warn("routing: request cancelled mid-route", "requestID", requestID, "provider", route.Provider)
				return nil, err
			}

			key, ok := tracker.GetNextKey()
			if !ok {
				break
			}

			resp, err := r.upstream.Invoke(ctx, route.Provider, route.Model, key, request)
			if err == nil {
				L_info("routing: attempt succeeded", "requestID", requestID, "provider", route.Provider, "model", route.Model)
				return resp, nil
			}

			upErr, ok := err.(*UpstreamError)
			if !ok {
				return nil, err
			}

			finalStatus = upErr.Status
			attempts = append(attempts, AttemptRecord{Provider: route.Provider, Model: route.Model, LastStatus: upErr.Status})

			policy := r.providers.ResolveErrorAction(route.Provider, upErr.Status)
			tracker.MarkFailed(key, policy.Action, time.Duration(policy.CooldownSeconds)*time.Second)
			L_warn("routing: attempt failed", "requestID", requestID, "provider", route.Provider, "model", route.Model, "status", upErr.Status, "action", policy.Action)

			if policy.Action == providerconfig.ActionProviderCooldown {
				break
			}
		}
	}

	L_warn("routing: route chain exhausted", "requestID", requestID, "logicalModel", model.LogicalName, "attempts", len(attempts))
	return nil, &ExhaustionError{LogicalModel: model.LogicalName, Attempts: attempts, FinalStatus: finalStatus}
}
