package mcperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindValidation, "bad input")
	wrapped := fmt.Errorf("handler: %w", base)

	if KindOf(base) != KindValidation {
		t.Error("KindOf on direct error")
	}
	if KindOf(wrapped) != KindValidation {
		t.Error("KindOf must unwrap")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("foreign errors are unknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("nil is unknown")
	}
}

func TestMessageHidesCause(t *testing.T) {
	cause := errors.New("login failed for user 'sa' at 10.0.0.5:1433")
	err := Wrap(KindConnection, "connecting to database", cause)

	msg := Message(err)
	if msg != "connection error: connecting to database" {
		t.Errorf("Message = %q", msg)
	}
	// The full text keeps the cause for logs.
	full := err.Error()
	if full == msg {
		t.Error("Error() must include the cause")
	}
	if !errors.Is(err, cause) {
		t.Error("cause must stay reachable through Unwrap")
	}
}

func TestMessageForeignError(t *testing.T) {
	if got := Message(errors.New("raw driver detail")); got != "internal error" {
		t.Errorf("Message = %q, want generic text", got)
	}
}
