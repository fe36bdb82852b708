package keys

import (
	"testing"
	"time"
)

func TestStoreGetIsLazyAndStable(t *testing.T) {
	s := NewStore()
	a := s.get("openai")
	b := s.get("openai")
	if a != b {
		t.Fatal("expected the same ProviderState instance across calls")
	}
	if a.lastUsedIndex != -1 {
		t.Errorf("got lastUsedIndex=%d, want -1", a.lastUsedIndex)
	}
}

func TestResetFailedClearsFailuresAndProviderCooldown(t *testing.T) {
	s := NewStore()
	st := s.get("openai")

	now := time.Now()
	st.mu.Lock()
	st.failedKeys["A"] = failureEntry{failedAt: now, cooldown: time.Minute}
	st.modelFailedKeys["openai/gpt4"] = map[string]failureEntry{"B": {failedAt: now, cooldown: time.Minute}}
	st.providerFailedUntil = now.Add(time.Hour)
	st.lastUsedIndex = 3
	st.mu.Unlock()

	s.ResetFailed("openai")

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.failedKeys) != 0 {
		t.Error("expected failedKeys cleared")
	}
	if len(st.modelFailedKeys) != 0 {
		t.Error("expected modelFailedKeys cleared")
	}
	if !st.providerFailedUntil.IsZero() {
		t.Error("expected providerFailedUntil cleared")
	}
	if st.lastUsedIndex != 3 {
		t.Errorf("expected lastUsedIndex preserved, got %d", st.lastUsedIndex)
	}
}

func TestResetAllDropsProviderEntirely(t *testing.T) {
	s := NewStore()
	st := s.get("openai")
	st.mu.Lock()
	st.lastUsedIndex = 3
	st.mu.Unlock()

	s.ResetAll("openai")

	fresh := s.get("openai")
	if fresh == st {
		t.Fatal("expected a brand new ProviderState after ResetAll")
	}
	if fresh.lastUsedIndex != -1 {
		t.Errorf("got lastUsedIndex=%d, want -1", fresh.lastUsedIndex)
	}
}

func TestResetFailedAllProviders(t *testing.T) {
	s := NewStore()
	a := s.get("openai")
	b := s.get("anthropic")
	now := time.Now()
	for _, st := range []*ProviderState{a, b} {
		st.mu.Lock()
		st.failedKeys["K"] = failureEntry{failedAt: now, cooldown: time.Minute}
		st.mu.Unlock()
	}

	s.ResetFailed("")

	for name, st := range map[string]*ProviderState{"openai": a, "anthropic": b} {
		st.mu.Lock()
		n := len(st.failedKeys)
		st.mu.Unlock()
		if n != 0 {
			t.Errorf("provider %s: expected failedKeys cleared", name)
		}
	}
}

func TestPurgeExpiredRemovesOnlyExpiredEntries(t *testing.T) {
	s := NewStore()
	st := s.get("openai")
	now := time.Now()

	st.mu.Lock()
	st.failedKeys["expired"] = failureEntry{failedAt: now.Add(-2 * time.Minute), cooldown: time.Minute}
	st.failedKeys["fresh"] = failureEntry{failedAt: now, cooldown: time.Minute}
	st.modelFailedKeys["openai/gpt4"] = map[string]failureEntry{
		"expired": {failedAt: now.Add(-2 * time.Minute), cooldown: time.Minute},
	}
	st.mu.Unlock()

	s.PurgeExpired(now, false)

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.failedKeys["expired"]; ok {
		t.Error("expected expired global entry purged")
	}
	if _, ok := st.failedKeys["fresh"]; !ok {
		t.Error("expected fresh global entry retained")
	}
	if _, ok := st.modelFailedKeys["openai/gpt4"]; ok {
		t.Error("expected empty model map dropped entirely after purge")
	}
}

func TestFailureEntryExpired(t *testing.T) {
	now := time.Now()
	e := failureEntry{failedAt: now, cooldown: time.Minute}

	if e.expired(now, false) {
		t.Error("should not be expired immediately")
	}
	if !e.expired(now.Add(time.Minute), false) {
		t.Error("should be expired once cooldown has elapsed")
	}
	if !e.expired(now, true) {
		t.Error("cooldownDisabled should force expired regardless of elapsed time")
	}
}
