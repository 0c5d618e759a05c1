package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrCapacityExceeded, "active set is full").
		WithCause(root).
		WithSkill("code-review")

	if GetErrorCode(err) != ErrCapacityExceeded {
		t.Fatalf("expected code %s, got %s", ErrCapacityExceeded, GetErrorCode(err))
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got != "[CAPACITY_EXCEEDED] active set is full (skill=code-review): root" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	t.Parallel()

	base := Errorf(ErrNotFound, "skill %q not found", "missing")
	wrapped := fmt.Errorf("activate: %w", base)

	if !IsCode(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to carry NOT_FOUND")
	}
	if IsCode(errors.New("plain"), ErrNotFound) {
		t.Fatalf("plain error must not carry a code")
	}
}

func TestHTTPStatusOf(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrNotFound:           http.StatusNotFound,
		ErrCapacityExceeded:   http.StatusConflict,
		ErrCircularDependency: http.StatusUnprocessableEntity,
		ErrInvalidArgument:    http.StatusBadRequest,
		ErrInternalError:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatusOf(NewError(code, "x")); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}

	if got := HTTPStatusOf(NewError(ErrNotFound, "x").WithHTTPStatus(http.StatusGone)); got != http.StatusGone {
		t.Errorf("explicit status should win, got %d", got)
	}
	if got := HTTPStatusOf(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("unstructured error should map to 500, got %d", got)
	}
}
