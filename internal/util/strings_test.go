package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "short", 10, "short"},
		{"equal to max", "exact", 5, "exact"},
		{"longer than max", "very-long-ticket-abc123", 8, "very-lon"},
		{"empty string", "", 5, ""},
		{"zero max", "anything", 0, ""},
		{"negative max", "anything", -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestContainsString(t *testing.T) {
	scopes := []string{"profile:read", "profile:write"}

	if !ContainsString(scopes, "profile:read") {
		t.Error("ContainsString() = false for present element")
	}
	if ContainsString(scopes, "admin") {
		t.Error("ContainsString() = true for absent element")
	}
	if ContainsString(nil, "anything") {
		t.Error("ContainsString() = true for nil slice")
	}
}
