package providerconfig

import "testing"

func TestEnvVarPatternsDefault(t *testing.T) {
	r := NewRegistry(nil)
	patterns := r.EnvVarPatterns("open-ai")
	want := []string{"OPEN_AI_API_KEY", "OPEN_AI_API_KEY_{INDEX}"}
	if len(patterns) != len(want) {
		t.Fatalf("got %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Errorf("pattern %d: got %q, want %q", i, patterns[i], want[i])
		}
	}
}

func TestEnvVarPatternsConfigured(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"openai": {EnvVarPatterns: []string{"MY_KEY"}},
	})
	patterns := r.EnvVarPatterns("openai")
	if len(patterns) != 1 || patterns[0] != "MY_KEY" {
		t.Fatalf("got %v, want [MY_KEY]", patterns)
	}
}

func TestProviderCooldownSeconds(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"openai": {RateLimiting: RateLimiting{CooldownSeconds: 100}},
	})
	if got := r.ProviderCooldownSeconds("openai"); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	if got := r.ProviderCooldownSeconds("unknown"); got != 0 {
		t.Errorf("got %d, want 0 for unconfigured provider", got)
	}
}

func TestModelCooldownSeconds(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"openai": {Models: map[string]ModelSettings{"gpt4": {CooldownSeconds: 200}}},
	})
	got, ok := r.ModelCooldownSeconds("openai", "gpt4")
	if !ok || got != 200 {
		t.Fatalf("got (%d, %v), want (200, true)", got, ok)
	}
	if _, ok := r.ModelCooldownSeconds("openai", "gpt5"); ok {
		t.Error("expected no override for gpt5")
	}
}

func TestResolveErrorActionConfigured(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"openai": {
			ErrorHandling: map[string]ErrorPolicy{
				"429": {Action: ActionProviderCooldown, CooldownSeconds: 600},
			},
		},
	})
	policy := r.ResolveErrorAction("openai", 429)
	if policy.Action != ActionProviderCooldown || policy.CooldownSeconds != 600 {
		t.Fatalf("got %+v, want provider_cooldown/600", policy)
	}
}

func TestResolveErrorActionDefaults(t *testing.T) {
	r := NewRegistry(nil)

	cases := []struct {
		status int
		want   ErrorAction
	}{
		{401, ActionGlobalKeyFailure},
		{403, ActionGlobalKeyFailure},
		{429, ActionModelKeyFailure},
		{500, ActionModelKeyFailure},
		{503, ActionModelKeyFailure},
	}
	for _, c := range cases {
		got := r.ResolveErrorAction("openai", c.status)
		if got.Action != c.want {
			t.Errorf("status %d: got %s, want %s", c.status, got.Action, c.want)
		}
	}
}

// TestResolveErrorActionReturnsConfiguredActionVerbatim guards against
// this layer laundering a misconfigured action into a status-class
// default. Validating and falling back on an unknown action is
// keys.KeyCycleTracker.MarkFailed's job, not this one (§9).
func TestResolveErrorActionReturnsConfiguredActionVerbatim(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"openai": {
			ErrorHandling: map[string]ErrorPolicy{
				"401": {Action: "not_a_real_action"},
			},
		},
	})
	got := r.ResolveErrorAction("openai", 401)
	if got.Action != "not_a_real_action" {
		t.Errorf("got %s, want the configured action returned verbatim", got.Action)
	}
}

func TestNewRegistryCopiesInput(t *testing.T) {
	input := map[string]ProviderConfig{
		"openai": {RateLimiting: RateLimiting{CooldownSeconds: 10}},
	}
	r := NewRegistry(input)
	input["openai"] = ProviderConfig{RateLimiting: RateLimiting{CooldownSeconds: 999}}

	if got := r.ProviderCooldownSeconds("openai"); got != 10 {
		t.Errorf("registry observed mutation of caller's map: got %d, want 10", got)
	}
}
