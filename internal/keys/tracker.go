package keys

import (
	"os"
	"strconv"
	"time"

	. "github.com/BenItBuhner/Model-Proxy/internal/logging"
	"github.com/BenItBuhner/Model-Proxy/internal/providerconfig"
)

// KeyCooldownSeconds returns the legacy global cooldown window, read fresh
// from KEY_COOLDOWN_SECONDS each call (default 60) so tests can override it
// with t.Setenv without caching surprises. A value <= 0 disables
// time-based cooldown universally: every failure entry is treated as
// already expired, though within-cycle deduplication still applies.
func KeyCooldownSeconds() int {
	return envInt("KEY_COOLDOWN_SECONDS", 60)
}

// MaxKeyRetryCycles returns the default per-tracker cycle bound, read from
// MAX_KEY_RETRY_CYCLES (default 1).
func MaxKeyRetryCycles() int {
	return envInt("MAX_KEY_RETRY_CYCLES", 1)
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// TrackerConfig configures a KeyCycleTracker. Provider is required; the
// rest have spec-mandated defaults when left zero.
type TrackerConfig struct {
	Provider string
	Model    string // optional; empty means "no per-model cooldown scope"

	// MaxCycles bounds how many sweeps through the key list this tracker
	// will perform. Zero means "use MaxKeyRetryCycles()".
	MaxCycles int

	// ProviderCooldown seeds both the provider-wide cooldown duration and
	// the default duration for global_key_failure when no explicit
	// cooldown_seconds is given to MarkFailed.
	ProviderCooldown time.Duration

	// RouteCooldown is the default duration for model_key_failure when no
	// explicit cooldown_seconds is given to MarkFailed.
	RouteCooldown time.Duration

	// CooldownDisabled mirrors KeyCooldownSeconds() <= 0: when true, every
	// cross-request failure entry (global, model, and provider-wide) is
	// treated as already expired.
	CooldownDisabled bool

	// Config supplies env-var patterns for key parsing. Nil falls back to
	// the default "{PROVIDER}_API_KEY" pattern pair.
	Config *providerconfig.Registry

	// Clock is injected for deterministic tests; nil uses SystemClock.
	Clock Clock
}

// KeyCycleTracker owns one provider's (optionally one provider/model
// pair's) view of the rotation state for the lifetime of a single
// attempt sequence within one request. See spec §4.3.
type KeyCycleTracker struct {
	provider string
	model    string
	routeKey string // "{provider}/{model}", empty if model == ""

	maxCycles        int
	providerCooldown time.Duration
	routeCooldown    time.Duration
	cooldownDisabled bool

	clock Clock
	state *ProviderState

	keys     []string
	keyIndex int

	currentCycle   int
	triedThisCycle map[string]bool
	attemptedEver  map[string]bool
}

// NewKeyCycleTracker constructs a tracker for one attempt sequence,
// snapshotting the provider's parsed key list and the rotation state's
// current last_used_index.
func NewKeyCycleTracker(store *Store, cfg TrackerConfig) *KeyCycleTracker {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	maxCycles := cfg.MaxCycles
	if maxCycles <= 0 {
		maxCycles = MaxKeyRetryCycles()
	}

	state := store.get(cfg.Provider)
	state.mu.Lock()
	startIndex := state.lastUsedIndex
	state.mu.Unlock()

	var routeKey string
	if cfg.Model != "" {
		routeKey = cfg.Provider + "/" + cfg.Model
	}

	return &KeyCycleTracker{
		provider:         cfg.Provider,
		model:            cfg.Model,
		routeKey:         routeKey,
		maxCycles:        maxCycles,
		providerCooldown: cfg.ProviderCooldown,
		routeCooldown:    cfg.RouteCooldown,
		cooldownDisabled: cfg.CooldownDisabled,
		clock:            clock,
		state:            state,
		keys:             ParseProviderKeys(cfg.Config, cfg.Provider),
		keyIndex:         startIndex,
		triedThisCycle:   make(map[string]bool),
		attemptedEver:    make(map[string]bool),
	}
}

// RouteCooldown returns the duration this tracker applies to
// model_key_failure when no explicit duration is given.
func (t *KeyCycleTracker) RouteCooldown() time.Duration { return t.routeCooldown }

// ProviderCooldownDefault returns the duration this tracker applies to
// provider_cooldown / global_key_failure when no explicit duration is given.
func (t *KeyCycleTracker) ProviderCooldownDefault() time.Duration { return t.providerCooldown }

// TotalKeys returns the number of keys parsed for this provider.
func (t *KeyCycleTracker) TotalKeys() int { return len(t.keys) }

// CyclesRemaining returns how many more cycles this tracker may perform.
func (t *KeyCycleTracker) CyclesRemaining() int {
	if t.maxCycles <= t.currentCycle {
		return 0
	}
	return t.maxCycles - t.currentCycle
}

// GetNextKey returns the next key to try in round-robin order, or ("",
// false) if the tracker is exhausted (no keys, cycles used up, or the
// provider is in a cross-request cooldown). See spec §4.3.1.
func (t *KeyCycleTracker) GetNextKey() (string, bool) {
	n := len(t.keys)
	if n == 0 {
		return "", false
	}
	if t.currentCycle >= t.maxCycles {
		return "", false
	}

	now := t.clock.Now()
	if t.providerInCooldown(now) {
		return "", false
	}

	for i := 0; i < n; i++ {
		t.keyIndex = (t.keyIndex + 1) % n
		candidate := t.keys[t.keyIndex]

		if t.triedThisCycle[candidate] {
			continue
		}

		if !t.attemptedEver[candidate] && t.keyBlocked(candidate, now) {
			continue
		}

		t.triedThisCycle[candidate] = true
		t.attemptedEver[candidate] = true

		t.state.mu.Lock()
		t.state.lastUsedIndex = t.keyIndex
		t.state.mu.Unlock()

		L_debug("keys: selected key", "provider", t.provider, "model", t.model, "cycle", t.currentCycle, "hint", keyHint(candidate))
		return candidate, true
	}

	if len(t.triedThisCycle) >= n {
		t.currentCycle++
		t.triedThisCycle = make(map[string]bool)
		L_debug("keys: cycle reset", "provider", t.provider, "cycle", t.currentCycle, "maxCycles", t.maxCycles)
		return t.GetNextKey()
	}

	return "", false
}

// providerInCooldown reports whether the provider-wide cooldown is active.
func (t *KeyCycleTracker) providerInCooldown(now time.Time) bool {
	if t.cooldownDisabled {
		return false
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	return now.Before(t.state.providerFailedUntil)
}

// keyBlocked applies the cross-request cooldown gates of §4.3.1 step 4,
// clearing expired model-scoped entries it observes along the way.
func (t *KeyCycleTracker) keyBlocked(key string, now time.Time) bool {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()

	if e, ok := t.state.failedKeys[key]; ok && !e.expired(now, t.cooldownDisabled) {
		return true
	}

	if t.routeKey == "" {
		return false
	}
	m, ok := t.state.modelFailedKeys[t.routeKey]
	if !ok {
		return false
	}
	e, ok := m[key]
	if !ok {
		return false
	}
	if e.expired(now, t.cooldownDisabled) {
		delete(m, key)
		if len(m) == 0 {
			delete(t.state.modelFailedKeys, t.routeKey)
		}
		return false
	}
	return true
}

// keyBlockedFresh is keyBlocked without the per-request attempted-ever
// bypass; used by AllKeysInCooldown, which asks "could a brand new
// tracker get this key right now."
func (t *KeyCycleTracker) keyBlockedFresh(key string, now time.Time) bool {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()

	if e, ok := t.state.failedKeys[key]; ok && !e.expired(now, t.cooldownDisabled) {
		return true
	}
	if t.routeKey == "" {
		return false
	}
	m, ok := t.state.modelFailedKeys[t.routeKey]
	if !ok {
		return false
	}
	e, ok := m[key]
	return ok && !e.expired(now, t.cooldownDisabled)
}

// AllKeysInCooldown reports whether every key for this provider is
// currently unavailable to a fresh tracker (ignoring this tracker's own
// per-request attempted set). The router uses this to skip a route
// without making an upstream call. See spec §4.3.3.
func (t *KeyCycleTracker) AllKeysInCooldown() bool {
	if len(t.keys) == 0 {
		return true
	}

	now := t.clock.Now()
	if t.providerInCooldown(now) {
		return true
	}
	if t.cooldownDisabled {
		return false
	}

	for _, k := range t.keys {
		if !t.keyBlockedFresh(k, now) {
			return false
		}
	}
	return true
}

// Exhausted reports whether no further GetNextKey call can succeed: no
// keys configured, cycles used up, or the current cycle is fully swept
// and one more would exceed MaxCycles. See spec §4.3.4.
func (t *KeyCycleTracker) Exhausted() bool {
	if len(t.keys) == 0 {
		return true
	}
	if t.currentCycle >= t.maxCycles {
		return true
	}
	if len(t.triedThisCycle) >= len(t.keys) && t.currentCycle+1 >= t.maxCycles {
		return true
	}
	return false
}

// MarkFailed resolves action against this tracker's provider/model scope
// and mutates the shared rotation state accordingly. retry and skip never
// mutate state. See spec §4.3.2.
func (t *KeyCycleTracker) MarkFailed(key string, action providerconfig.ErrorAction, cooldownDuration time.Duration) {
	now := t.clock.Now()

	switch action {
	case providerconfig.ActionModelKeyFailure:
		if t.routeKey == "" {
			L_warn("keys: model_key_failure with no model on tracker, demoting to global_key_failure", "provider", t.provider)
			t.markGlobalFailure(key, now, cooldownDuration)
			return
		}
		dur := cooldownDuration
		if dur <= 0 {
			dur = t.routeCooldown
		}
		t.state.mu.Lock()
		m, ok := t.state.modelFailedKeys[t.routeKey]
		if !ok {
			m = make(map[string]failureEntry)
			t.state.modelFailedKeys[t.routeKey] = m
		}
		m[key] = failureEntry{failedAt: now, cooldown: dur}
		t.state.mu.Unlock()
		L_warn("keys: model key failure recorded", "provider", t.provider, "model", t.model, "hint", keyHint(key), "cooldown", dur)

	case providerconfig.ActionGlobalKeyFailure:
		t.markGlobalFailure(key, now, cooldownDuration)

	case providerconfig.ActionProviderCooldown:
		dur := cooldownDuration
		if dur <= 0 {
			dur = t.providerCooldown
		}
		t.state.mu.Lock()
		t.state.providerFailedUntil = now.Add(dur)
		t.state.mu.Unlock()
		L_warn("keys: provider cooldown triggered", "provider", t.provider, "cooldown", dur)

	case providerconfig.ActionRetry, providerconfig.ActionSkip:
		// No state mutation.

	default:
		L_warn("keys: unknown error action, treating as model_key_failure", "provider", t.provider, "action", action)
		t.MarkFailed(key, providerconfig.ActionModelKeyFailure, cooldownDuration)
	}
}

func (t *KeyCycleTracker) markGlobalFailure(key string, now time.Time, cooldownDuration time.Duration) {
	dur := cooldownDuration
	if dur <= 0 {
		dur = t.providerCooldown
	}
	t.state.mu.Lock()
	t.state.failedKeys[key] = failureEntry{failedAt: now, cooldown: dur}
	t.state.mu.Unlock()
	L_warn("keys: global key failure recorded", "provider", t.provider, "hint", keyHint(key), "cooldown", dur)
}

func keyHint(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}
