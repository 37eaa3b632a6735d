package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{NotFound("missing"), http.StatusNotFound},
		{Validation("bad"), http.StatusBadRequest},
		{Conflict("locked"), http.StatusConflict},
		{TooManyRequests("slow down"), http.StatusTooManyRequests},
		{Unavailable("upstream"), http.StatusBadGateway},
		{New(KindInternal, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.err.Message, tt.want, got)
		}
	}
}

func TestIsFollowsWrappedChain(t *testing.T) {
	cause := errors.New("duplicate key")
	err := fmt.Errorf("create lead: %w", Wrap(KindConflict, "lead exists", cause))

	if !Is(err, KindConflict) {
		t.Fatalf("expected conflict kind, got %v", GetKind(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if GetKind(cause) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
}
