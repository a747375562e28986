package idgen

import (
	"strings"
	"testing"
	"time"
)

var stamp = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestNumberLayouts(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"order", OrderNumber(stamp, 42), "LO20250314000042"},
		{"specimen", SpecimenNumber(stamp, 17), "SP2025031400017"},
		{"result", ResultNumber(stamp, 105), "LR20250314000105"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s number: expected %s, got %s", tt.name, tt.want, tt.got)
		}
	}
}

func TestNumberSequenceOverflow(t *testing.T) {
	// A sequence wider than the padding must not be truncated.
	got := OrderNumber(stamp, 12345678)
	if got != "LO2025031412345678" {
		t.Errorf("expected LO2025031412345678, got %s", got)
	}
}

func TestBarcodeLayoutAndCheckDigit(t *testing.T) {
	code, err := Barcode(stamp)
	if err != nil {
		t.Fatalf("Barcode: %v", err)
	}
	if len(code) != 17 {
		t.Fatalf("expected 17 chars, got %d (%s)", len(code), code)
	}
	if !strings.HasPrefix(code, "BC20250314") {
		t.Errorf("expected date-stamped prefix BC20250314, got %s", code)
	}
	if !VerifyBarcode(code) {
		t.Errorf("generated barcode %s failed verification", code)
	}
}

func TestVerifyBarcodeRejectsTampering(t *testing.T) {
	code, err := Barcode(stamp)
	if err != nil {
		t.Fatalf("Barcode: %v", err)
	}
	// Flip one payload digit; the check digit must catch it.
	b := []byte(code)
	if b[10] == '9' {
		b[10] = '0'
	} else {
		b[10]++
	}
	if VerifyBarcode(string(b)) {
		t.Errorf("tampered barcode %s passed verification", string(b))
	}

	if VerifyBarcode("XX202503141234567") {
		t.Error("wrong prefix passed verification")
	}
	if VerifyBarcode("BC123") {
		t.Error("short code passed verification")
	}
}

func TestLuhnDigitKnownVector(t *testing.T) {
	// 7992739871 has Luhn check digit 3.
	if d := luhnDigit("7992739871"); d != 3 {
		t.Errorf("expected check digit 3, got %d", d)
	}
}

func TestBarcodesDiffer(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		code, err := Barcode(stamp)
		if err != nil {
			t.Fatalf("Barcode: %v", err)
		}
		seen[code] = true
	}
	// 32 draws over a million-value space colliding down to one value
	// would indicate a broken generator.
	if len(seen) < 2 {
		t.Error("barcode generator produced a single value repeatedly")
	}
}
