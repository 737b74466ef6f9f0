package models

import "testing"

func TestNameKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme", "acme"},
		{"  ACME Corp ", "acme corp"},
		{"wf_test2", "wf_test2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.in); got != tt.want {
			t.Errorf("NameKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameName(t *testing.T) {
	if !SameName("Acme", "aCME") {
		t.Error("SameName(Acme, aCME) = false, want true")
	}
	if SameName("Acme", "Acme2") {
		t.Error("SameName(Acme, Acme2) = true, want false")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  W@T.Com "); got != "w@t.com" {
		t.Errorf("NormalizeEmail() = %q, want w@t.com", got)
	}
}
