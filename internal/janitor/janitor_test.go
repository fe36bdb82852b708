package janitor

import (
	"testing"
	"time"

	"github.com/BenItBuhner/Model-Proxy/internal/keys"
)

func TestNewRejectsInvalidSchedule(t *testing.T) {
	store := keys.NewStore()
	if _, err := New(store, nil, "not a cron expression"); err == nil {
		t.Fatal("expected an error for an invalid cron schedule")
	}
}

func TestSweepPurgesExpiredEntries(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "some-key")

	store := keys.NewStore()
	clock := keys.NewManualClock(time.Unix(0, 0))

	j, err := New(store, clock, "@every 1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := keys.NewKeyCycleTracker(store, keys.TrackerConfig{
		Provider:         "openai",
		ProviderCooldown: time.Minute,
		Clock:            clock,
	})
	tr.MarkFailed("some-key", "global_key_failure", time.Minute)

	clock.Advance(time.Hour)
	j.sweep()

	fresh := keys.NewKeyCycleTracker(store, keys.TrackerConfig{
		Provider:         "openai",
		ProviderCooldown: time.Minute,
		Clock:            clock,
	})
	if fresh.AllKeysInCooldown() {
		t.Error("expected sweep to have purged the expired entry")
	}
}
