package agent

import "testing"

func TestRegistryGetAndForRole(t *testing.T) {
	r := NewRegistry(DefaultRoster())

	a, ok := r.Get("backend")
	if !ok {
		t.Fatalf("expected backend agent to be registered")
	}
	if a.Role != "backend" {
		t.Fatalf("role = %q, want backend", a.Role)
	}

	if _, ok := r.Get("does-not-exist"); ok {
		t.Fatalf("expected unknown agent to be absent")
	}

	researchers := r.ForRole("researcher")
	if len(researchers) != 1 || researchers[0].Name != "researcher" {
		t.Fatalf("unexpected researcher role lookup: %+v", researchers)
	}
}

func TestAgentMatches(t *testing.T) {
	a := Agent{Name: "backend", Role: "backend", Specializations: []string{"api", "donation"}}

	if !a.Matches("backend") {
		t.Fatalf("expected role match")
	}
	if !a.Matches("donation") {
		t.Fatalf("expected specialization match")
	}
	if a.Matches("frontend") {
		t.Fatalf("unexpected match on unrelated tag")
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(DefaultRoster())
	names := r.Names()
	if len(names) != len(DefaultRoster()) {
		t.Fatalf("names = %d, want %d", len(names), len(DefaultRoster()))
	}
}

func TestErrUnknownAgentMessage(t *testing.T) {
	err := ErrUnknownAgent{Name: "ghost"}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}
