package utils

import "testing"

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc-1234", "ABC1234"},
		{" ABC 1D23 ", "ABC1D23"},
		{"", ""},
		{"--", ""},
	}
	for _, tt := range tests {
		if got := NormalizePlate(tt.in); got != tt.want {
			t.Errorf("NormalizePlate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidPlate(t *testing.T) {
	tests := []struct {
		plate string
		want  bool
	}{
		{"ABC1234", true},
		{"ABC1D23", true},
		{"ABC12345", false},
		{"AB1234C", false},
		{"abc1234", false},
		{"ABCD123", false},
	}
	for _, tt := range tests {
		if got := IsValidPlate(tt.plate); got != tt.want {
			t.Errorf("IsValidPlate(%q) = %v, want %v", tt.plate, got, tt.want)
		}
	}
}

func TestExtractPlate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{"clean", "ABC1234", "ABC1234", true},
		{"noise around", "BRASIL\nabc-1d23\n", "ABC1D23", true},
		{"leading letter", "XABC1234", "ABC1234", true},
		{"nothing", "HELLO WORLD", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPlate(tt.text)
			if ok != tt.found || got != tt.want {
				t.Errorf("ExtractPlate(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.found)
			}
		})
	}
}
