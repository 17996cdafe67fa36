package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(KindCompile, "Build", "hlsl build failed", errors.New("exit status 1"))

	assert.True(t, errors.Is(err, ErrCompile))
	assert.False(t, errors.Is(err, ErrResource))
	assert.Equal(t, KindCompile, KindOf(err))

	wrapped := fmt.Errorf("setup: %w", err)
	assert.True(t, errors.Is(wrapped, ErrCompile))
	assert.Equal(t, KindCompile, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	err := New(KindBackendMismatch, "Open", "expected vulkan, got metal", nil)
	assert.Equal(t, "BackendMismatch error in Open: expected vulkan, got metal", err.Error())

	cause := errors.New("out of memory")
	err = New(KindResource, "CreateBuffer", "staging", cause)
	assert.Contains(t, err.Error(), "caused by: out of memory")
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(errors.New("x")))
}

func TestNormalizeDiagnostics(t *testing.T) {
	raw := "shader.hlsl(3,5): error X3004: undeclared identifier\x1b[0m\r\n\tnote: here\n\n"
	got := NormalizeDiagnostics(raw)
	assert.Equal(t, "shader.hlsl(3,5): error X3004: undeclared identifier[0m\n\tnote: here", got)

	// Decomposed e + combining acute becomes a single precomposed rune.
	assert.Equal(t, "caf\u00e9", NormalizeDiagnostics("cafe\u0301"))
}
