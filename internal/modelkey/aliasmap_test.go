package modelkey

import "testing"

func TestBuildAliasMapsGroupsByFamily(t *testing.T) {
	maps := BuildAliasMaps([]string{"gpt-4o", "gpt-4o-2024-05-13", "gpt-4o-mini", "claude-3-opus"})

	if len(maps.CanonicalToVariants) != 2 {
		t.Fatalf("len(CanonicalToVariants) = %d, want 2", len(maps.CanonicalToVariants))
	}
	variants, ok := maps.CanonicalToVariants["gpt-4o"]
	if !ok {
		t.Fatal("expected a gpt-4o canonical family")
	}
	for _, raw := range []string{"gpt-4o", "gpt-4o-2024-05-13", "gpt-4o-mini"} {
		if _, ok := variants[raw]; !ok {
			t.Errorf("expected %q among gpt-4o variants", raw)
		}
	}
}

func TestResolveCanonicalFallsBackToOwnNormalization(t *testing.T) {
	maps := BuildAliasMaps([]string{"gpt-4o"})

	if got := maps.ResolveCanonical("gpt-4o-2024-05-13"); got != "gpt-4o" {
		t.Fatalf("ResolveCanonical(unseen variant) = %q, want %q", got, "gpt-4o")
	}
	if got := maps.ResolveCanonical("totally-unknown-model"); got != "totally-unknown-model" {
		t.Fatalf("ResolveCanonical(unknown) = %q, want the normalized input itself", got)
	}
}

func TestResolveCanonicalPrefersHigherVersion(t *testing.T) {
	maps := BuildAliasMaps([]string{"claude-3-opus", "claude-3.5-opus"})

	got := maps.ResolveCanonical("claude-3-opus")
	if got != "claude-3.5-opus" {
		t.Fatalf("ResolveCanonical = %q, want preferred highest-version canonical %q", got, "claude-3.5-opus")
	}
}
