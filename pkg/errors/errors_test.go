package errors

import (
	stderrors "errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_ErrorIncludesContextAndCause(t *testing.T) {
	err := NewIOError("failed to read counter", os.ErrPermission).
		WithContext("path", "/tmp/counter.yaml").
		WithContext("attempt", 2)

	msg := err.Error()
	assert.Contains(t, msg, "io: failed to read counter")
	assert.Contains(t, msg, "attempt=2, path=/tmp/counter.yaml")
	assert.Contains(t, msg, os.ErrPermission.Error())
}

func TestDomainError_UnwrapKeepsStdlibChecks(t *testing.T) {
	err := NewProcessError("failed to relaunch", os.ErrNotExist)

	assert.True(t, stderrors.Is(err, os.ErrNotExist))
	assert.True(t, IsProcessError(err))
	assert.False(t, IsValidationError(err))
}

func TestIsType_WalksNestedDomainErrors(t *testing.T) {
	inner := NewTimeoutError("delivery timed out", nil)
	outer := NewNetworkError("handoff failed", inner)

	assert.True(t, IsNetworkError(outer))
	assert.True(t, IsTimeoutError(outer))
	assert.False(t, IsCancelledError(outer))
	assert.False(t, IsIOError(stderrors.New("plain")))
	assert.False(t, IsIOError(nil))
}
