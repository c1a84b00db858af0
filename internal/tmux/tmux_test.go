package tmux

import "testing"

func TestValidateSessionName(t *testing.T) {
	valid := []string{"syd-alpha-1a2b3c4d", "guest_1", "work"}
	for _, name := range valid {
		if err := ValidateSessionName(name); err != nil {
			t.Errorf("ValidateSessionName(%q) = %v", name, err)
		}
	}

	invalid := []string{"", "has:colon", "has.dot"}
	for _, name := range invalid {
		if err := ValidateSessionName(name); err == nil {
			t.Errorf("ValidateSessionName(%q) accepted", name)
		}
	}
}
