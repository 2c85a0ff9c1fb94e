package skill

import (
	"errors"
	"fmt"
	"testing"
)

func TestSkillError(t *testing.T) {
	inner := errors.New("bad json")
	err := NewSkillError("gap_recursion", "malformed output", inner)

	if !errors.Is(err, inner) {
		t.Error("SkillError should unwrap to inner error")
	}
	if !IsSkillError(err) {
		t.Error("IsSkillError should match a direct SkillError")
	}
	if !IsSkillError(fmt.Errorf("phase: %w", err)) {
		t.Error("IsSkillError should match a wrapped SkillError")
	}
	if IsSkillError(errors.New("plain")) {
		t.Error("IsSkillError should not match a plain error")
	}

	want := "skill gap_recursion: malformed output: bad json"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewSkillError("offer", "empty offer", nil)
	if bare.Error() != "skill offer: empty offer" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
