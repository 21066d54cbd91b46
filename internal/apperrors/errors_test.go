package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	base := New(ErrCodeAlreadyTerminal, "order is closed")
	assert.Equal(t, ErrCodeAlreadyTerminal, CodeOf(base))

	wrapped := fmt.Errorf("approve failed: %w", base)
	assert.Equal(t, ErrCodeAlreadyTerminal, CodeOf(wrapped))

	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrCodeInternal, CodeOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to apply transition")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHelpers(t *testing.T) {
	nf := NotFound("order", "ord-1")
	assert.Equal(t, ErrCodeNotFound, nf.Code)
	assert.Contains(t, nf.Error(), "ord-1")

	ii := InvalidInput("reason", "is required")
	assert.Equal(t, ErrCodeInvalidInput, ii.Code)
	assert.True(t, HasCode(ii, ErrCodeInvalidInput))
	assert.False(t, HasCode(ii, ErrCodeConflict))
}
