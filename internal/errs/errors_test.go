package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(GapInRaw, "missing height 42")
	if !Is(err, GapInRaw) {
		t.Fatalf("expected Is(GapInRaw) true")
	}
	if Is(err, WriteTimeout) {
		t.Fatalf("expected Is(WriteTimeout) false")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(WriteTimeout, "flush batch", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestFatalKinds(t *testing.T) {
	cases := map[Kind]bool{
		GapInRaw:           true,
		WriteRejected:      true,
		InvariantViolation: true,
		WriteTimeout:       false,
		Cancelled:          false,
		LockHeld:           false,
	}
	for k, want := range cases {
		if got := Fatal(k); got != want {
			t.Errorf("Fatal(%s) = %v, want %v", k, got, want)
		}
	}
}
