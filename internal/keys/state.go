package keys

import (
	"sync"
	"time"
)

// failureEntry records when a key failed (provider-wide, or within one
// provider/model scope) and how long the resulting cooldown lasts. An
// entry is expired once now - failedAt >= cooldown; expired entries are
// purged lazily on read.
type failureEntry struct {
	failedAt time.Time
	cooldown time.Duration
}

func (e failureEntry) expired(now time.Time, cooldownDisabled bool) bool {
	if cooldownDisabled {
		return true
	}
	return now.Sub(e.failedAt) >= e.cooldown
}

// ProviderState is the process-wide, mutable rotation record for one
// provider. It survives across requests; it is mutated only by
// KeyCycleTracker (GetNextKey records lastUsedIndex and drops expired
// model-scoped entries, MarkFailed records failures) and by the Store's
// reset and purge helpers. Every read and write holds the record's own
// mutex (§5 of the routing/key-rotation design).
type ProviderState struct {
	mu sync.Mutex

	lastUsedIndex int

	failedKeys map[string]failureEntry

	// modelFailedKeys is keyed by "{provider}/{model}".
	modelFailedKeys map[string]map[string]failureEntry

	providerFailedUntil time.Time
}

func newProviderState() *ProviderState {
	return &ProviderState{
		lastUsedIndex:   -1,
		failedKeys:      make(map[string]failureEntry),
		modelFailedKeys: make(map[string]map[string]failureEntry),
	}
}

// Store is the process-wide collection of per-provider rotation state.
// One Store instance should be shared by every FallbackRouter/tracker in
// a process; the zero value is not usable, use NewStore.
type Store struct {
	mu        sync.Mutex // guards the providers map itself, not its entries
	providers map[string]*ProviderState
}

// NewStore creates an empty rotation state store.
func NewStore() *Store {
	return &Store{providers: make(map[string]*ProviderState)}
}

// get returns the (lazily created) state record for provider.
func (s *Store) get(provider string) *ProviderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.providers[provider]
	if !ok {
		st = newProviderState()
		s.providers[provider] = st
	}
	return st
}

// ResetFailed clears failure tracking for provider (failed_keys,
// model_failed_keys, and the provider-wide cooldown — see §9: whether
// provider_failed_until survives a partial reset is unspecified upstream,
// so this implementation takes the safe choice and clears it too) without
// touching last_used_index. If provider is empty, every known provider is
// reset.
func (s *Store) ResetFailed(provider string) {
	if provider != "" {
		s.resetFailedOne(provider)
		return
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.resetFailedOne(name)
	}
}

func (s *Store) resetFailedOne(provider string) {
	st := s.get(provider)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failedKeys = make(map[string]failureEntry)
	st.modelFailedKeys = make(map[string]map[string]failureEntry)
	st.providerFailedUntil = time.Time{}
}

// ResetAll clears all rotation state for provider, including
// last_used_index. If provider is empty, every known provider is dropped
// entirely, restoring behavior identical to process start.
func (s *Store) ResetAll(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if provider != "" {
		delete(s.providers, provider)
		return
	}
	s.providers = make(map[string]*ProviderState)
}

// PurgeExpired proactively drops expired failure entries across every
// known provider. Reads never depend on this running — expiry is always
// checked lazily — it only bounds memory growth for long-lived processes
// with many distinct keys. See internal/janitor for the scheduled caller.
func (s *Store) PurgeExpired(now time.Time, cooldownDisabled bool) {
	s.mu.Lock()
	states := make([]*ProviderState, 0, len(s.providers))
	for _, st := range s.providers {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		for k, e := range st.failedKeys {
			if e.expired(now, cooldownDisabled) {
				delete(st.failedKeys, k)
			}
		}
		for routeKey, m := range st.modelFailedKeys {
			for k, e := range m {
				if e.expired(now, cooldownDisabled) {
					delete(m, k)
				}
			}
			if len(m) == 0 {
				delete(st.modelFailedKeys, routeKey)
			}
		}
		st.mu.Unlock()
	}
}
