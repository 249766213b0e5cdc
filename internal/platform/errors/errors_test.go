package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindConfig, "load", "failed to load config",
				errors.New("file not found")),
			contains: []string{"[config:load]", "failed to load config", "file not found"},
		},
		{
			name:     "error without cause",
			err:      New(KindAdmission, "arm", "cooldown active"),
			contains: []string{"[admission:arm]", "cooldown active"},
		},
		{
			name: "upstream error keeps cause text",
			err: Wrap(KindUpstream, "edit", "image edit failed",
				errors.New("429 rate limited")),
			contains: []string{"[upstream:edit]", "429 rate limited"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindUpstream, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(KindConfig, "load", "ignored", nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrap_AlreadyTyped(t *testing.T) {
	inner := New(KindAdmission, "arm", "cooldown active")
	wrapped := Wrap(KindUnknown, "outer", "outer message", inner)

	if wrapped != inner {
		t.Error("wrapping a typed error should keep the original")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct kind match",
			err:      New(KindUpstream, "edit", "boom"),
			kind:     KindUpstream,
			expected: true,
		},
		{
			name:     "kind mismatch",
			err:      New(KindUpstream, "edit", "boom"),
			kind:     KindAdmission,
			expected: false,
		},
		{
			name:     "wrapped with fmt",
			err:      errors.Join(errors.New("outer"), New(KindStorage, "save", "boom")),
			kind:     KindStorage,
			expected: true,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			kind:     KindUnknown,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.expected {
				t.Errorf("IsKind() = %v, want %v", got, tt.expected)
			}
		})
	}
}
