package helpers

import (
	"bytes"
	"testing"
)

func TestReverseBytes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"single", []byte{7}, []byte{7}},
		{"even", []byte{1, 2, 3, 4}, []byte{4, 3, 2, 1}},
		{"odd", []byte{1, 2, 3}, []byte{3, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReverseBytes(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReverseBytes = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestReverseBytesCopies(t *testing.T) {
	in := []byte{1, 2, 3}
	_ = ReverseBytes(in)
	if !bytes.Equal(in, []byte{1, 2, 3}) {
		t.Errorf("input mutated: %x", in)
	}
}

func TestReverseHex(t *testing.T) {
	got, err := ReverseHex("01020304")
	if err != nil {
		t.Fatalf("ReverseHex: %v", err)
	}
	if got != "04030201" {
		t.Errorf("ReverseHex = %s, want 04030201", got)
	}

	if _, err := ReverseHex("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestIsZeroBytes(t *testing.T) {
	if !IsZeroBytes([]byte{0, 0, 0}) {
		t.Error("all-zero slice reported nonzero")
	}
	if !IsZeroBytes(nil) {
		t.Error("nil slice reported nonzero")
	}
	if IsZeroBytes([]byte{0, 1, 0}) {
		t.Error("nonzero slice reported zero")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("got %d bytes, want 32", len(a))
	}
	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two draws produced identical bytes")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		decimals uint8
		want     string
	}{
		{"whole coin", 100000000, 8, "1"},
		{"fraction", 10000, 8, "0.0001"},
		{"mixed", 150000000, 8, "1.5"},
		{"zero", 0, 8, "0"},
		{"no decimals", 42, 0, "42"},
		{"trailing zeros trimmed", 120000000, 8, "1.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"whole coin", "1", 8, 100000000, false},
		{"fraction", "0.0001", 8, 10000, false},
		{"mixed", "1.5", 8, 150000000, false},
		{"zero", "0", 8, 0, false},
		{"extra precision truncated", "0.000000001", 8, 0, false},
		{"empty", "", 8, 0, true},
		{"letters", "abc", 8, 0, true},
		{"negative", "-1", 8, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSatsRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		sats int64
	}{
		{"0.0001", 10000},
		{"0.25", 25000000},
		{"1", 100000000},
		{"500", 50000000000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sats, err := ParseSats(tt.in)
			if err != nil {
				t.Fatalf("ParseSats(%q): %v", tt.in, err)
			}
			if sats != tt.sats {
				t.Errorf("ParseSats(%q) = %d, want %d", tt.in, sats, tt.sats)
			}
			if got := FormatSats(sats); got != tt.in {
				t.Errorf("FormatSats(%d) = %s, want %s", sats, got, tt.in)
			}
		})
	}
}
