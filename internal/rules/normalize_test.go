package rules

import (
	"testing"

	"golang.org/x/text/unicode/norm"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Trẻ Bị BẦM TÍM  ", "trẻ bị bầm tím"},
		{"\tVẾT XƯỚC NHẸ\n", "vết xước nhẹ"},
		{"", ""},
		{"already lower", "already lower"},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := Normalize(got); again != got {
			t.Errorf("Normalize is not idempotent: %q -> %q", got, again)
		}
	}
}

func TestNormalizeComposesDiacritics(t *testing.T) {
	decomposed := norm.NFD.String("Bầm Tím")
	if decomposed == "Bầm Tím" {
		t.Fatal("test input should be decomposed")
	}
	if got := Normalize(decomposed); got != "bầm tím" {
		t.Errorf("expected NFC form, got %q", got)
	}
}

func TestExtractPercent(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"bầm tím 60%", 60, true},
		{"bầm tím 60 %", 60, true},
		{"khoảng 5% rồi 80%", 5, true},
		{"x60%", 60, true},
		{"100%", 100, true},
		{"không có số", 0, false},
		{"60 phần trăm", 0, false},
		{"% 60", 0, false},
		{"99999999999999999999999%", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractPercent(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractPercent(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
