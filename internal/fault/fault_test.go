package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unavailable, http.StatusServiceUnavailable},
		{Timeout, http.StatusGatewayTimeout},
		{Unreachable, http.StatusBadGateway},
		{Validation, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Internal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Fatalf("%v.HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(Timeout, "no port after %s", "15s")
	wrapped := fmt.Errorf("ensure running: %w", base)

	if got := KindOf(wrapped); got != Timeout {
		t.Fatalf("KindOf(wrapped) = %v, want Timeout", got)
	}
	if got := StatusOf(wrapped); got != http.StatusGatewayTimeout {
		t.Fatalf("StatusOf(wrapped) = %d, want 504", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("KindOf(plain) = %v, want Internal", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unreachable, cause, "probe %s", "/health")

	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error should match cause via errors.Is")
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("errors.As failed for *Error")
	}
	if fe.Kind != Unreachable {
		t.Fatalf("kind = %v, want Unreachable", fe.Kind)
	}
}
