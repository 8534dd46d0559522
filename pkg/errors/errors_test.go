package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := ConfigOptionError("serial", "device")
	want := "[CONFIG_OPTION:serial] option 'device' not found in section 'serial'"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	plain := RuntimeError("boom")
	if plain.Error() != "[RUNTIME] boom" {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	inner := errors.New("read: connection reset")
	err := LinkError(ErrLinkRead, "read", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is failed to find wrapped error")
	}
	if err.Unwrap() != inner {
		t.Error("Unwrap did not return the inner error")
	}
}

func TestIsCode(t *testing.T) {
	err := LinkError(ErrLinkWrite, "write", errors.New("EPIPE"))
	if !Is(err, ErrLinkWrite) {
		t.Error("Is(ErrLinkWrite) = false")
	}
	if Is(err, ErrLinkRead) {
		t.Error("Is(ErrLinkRead) = true")
	}
	if Is(errors.New("plain"), ErrLinkWrite) {
		t.Error("Is matched a non-RigError")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := ConfigTypeError("gate", "duration", "abc", "float", errors.New("bad syntax"))
	outer := fmt.Errorf("loading config: %w", inner)

	if !Is(outer, ErrConfigType) {
		t.Error("Is failed through fmt.Errorf wrapping")
	}
	if !IsConfig(outer) {
		t.Error("IsConfig = false")
	}
	if IsLink(outer) {
		t.Error("IsLink = true for config error")
	}
}

func TestCategoryHelpers(t *testing.T) {
	tests := []struct {
		err    error
		config bool
		link   bool
	}{
		{ConfigSectionError("rig"), true, false},
		{ConfigValidationError("gate", "duration", "must be positive"), true, false},
		{LinkError(ErrLinkOpen, "open", errors.New("ENOENT")), false, true},
		{New(ErrLinkDown, "disconnected"), false, true},
		{RuntimeInitError("status", "bind failed"), false, false},
	}
	for _, tt := range tests {
		if IsConfig(tt.err) != tt.config {
			t.Errorf("IsConfig(%v) = %v, want %v", tt.err, IsConfig(tt.err), tt.config)
		}
		if IsLink(tt.err) != tt.link {
			t.Errorf("IsLink(%v) = %v, want %v", tt.err, IsLink(tt.err), tt.link)
		}
	}
}
