package ruleset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	rs := Default()
	if err := Validate(rs); err != nil {
		t.Fatalf("default ruleset failed validation: %v", err)
	}
}

func TestDurationForKnownRoleAndScope(t *testing.T) {
	rs := Default()
	got := rs.DurationFor("backend", "Production-ready")
	want := int(float64(rs.BaseDurationMinutes["backend"])*rs.ScopeModifiers["production"] + 0.5)
	if got != want {
		t.Fatalf("duration = %d, want %d", got, want)
	}
}

func TestDurationForUnknownRoleFallsBackTo30(t *testing.T) {
	rs := Default()
	got := rs.DurationFor("unknown-role", "")
	if got != 30 {
		t.Fatalf("duration = %d, want 30", got)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("base_duration_minutes:\n  backend: 120\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs.BaseDurationMinutes["backend"] != 120 {
		t.Fatalf("backend duration = %d, want 120", rs.BaseDurationMinutes["backend"])
	}
	if rs.BaseDurationMinutes["frontend"] != Default().BaseDurationMinutes["frontend"] {
		t.Fatalf("expected untouched keys to retain their default value")
	}
}

func TestValidateRejectsEmptyBaseDurations(t *testing.T) {
	rs := &RuleSet{}
	if err := Validate(rs); err == nil {
		t.Fatalf("expected validation error for empty base_duration_minutes")
	}
}

func TestValidateRejectsNonPositiveDuration(t *testing.T) {
	rs := &RuleSet{BaseDurationMinutes: map[string]int{"backend": 0}}
	if err := Validate(rs); err == nil {
		t.Fatalf("expected validation error for non-positive duration")
	}
}
