package wire

import "testing"

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234", "1234"},
		{" 1234 ", "1234"},
		{"12 34", "1234"},
		{"\t0071\n", "0071"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		code string
		ok   bool
	}{
		{"0000", true},
		{"9999", true},
		{"0420", true},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{"12 4", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateCode(tt.code)
		if tt.ok && err != nil {
			t.Errorf("ValidateCode(%q) = %v, want nil", tt.code, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidateCode(%q) = nil, want error", tt.code)
		}
	}
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := RandomCode()
		if err := ValidateCode(code); err != nil {
			t.Fatalf("RandomCode() = %q, failed validation: %v", code, err)
		}
	}
}
