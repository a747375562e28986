package laberr

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundWrapsSentinel(t *testing.T) {
	err := NotFound("lab order", "LO20250101000001")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected errors.Is(err, ErrNotFound), got %v", err)
	}
	if !strings.Contains(err.Error(), "LO20250101000001") {
		t.Errorf("expected identifier in message, got %q", err.Error())
	}
}

func TestInvalidTransitionCarriesStates(t *testing.T) {
	err := InvalidTransition("lab order", "COMPLETED", "CANCELLED")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected errors.Is(err, ErrInvalidTransition), got %v", err)
	}
	for _, want := range []string{"COMPLETED", "CANCELLED"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in message, got %q", want, err.Error())
		}
	}
}

func TestPreconditionFormats(t *testing.T) {
	err := Precondition("specimen %s quality is %s", "SP2025010100001", "REJECTED")
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected errors.Is(err, ErrPreconditionFailed), got %v", err)
	}
	if !strings.Contains(err.Error(), "SP2025010100001") {
		t.Errorf("expected specimen number in message, got %q", err.Error())
	}
}

func TestKindsAreDistinct(t *testing.T) {
	if errors.Is(Duplicate("barcode", "x"), ErrNotFound) {
		t.Error("duplicate must not match ErrNotFound")
	}
	if errors.Is(Conflict("lab result", "y"), ErrInvalidTransition) {
		t.Error("conflict must not match ErrInvalidTransition")
	}
}
