package channel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelErrorClassification(t *testing.T) {
	permanent := NewChannelError("telegram", ClassPermanent, 403, "blocked", nil)
	transient := NewChannelError("telegram", ClassTransient, 502, "bad gateway", nil)
	rejected := NewChannelError("telegram", ClassRejected, 400, "bad markup", nil)

	assert.True(t, IsPermanentError(permanent))
	assert.False(t, IsTemporaryError(permanent))
	assert.True(t, IsTemporaryError(transient))
	assert.False(t, IsTemporaryError(rejected))
	assert.False(t, IsPermanentError(rejected))

	wrapped := fmt.Errorf("deliver: %w", permanent)
	assert.True(t, errors.Is(wrapped, ErrPermanent))
	assert.False(t, errors.Is(wrapped, ErrTransient))
}

func TestClassOfUnknownErrors(t *testing.T) {
	assert.Equal(t, ClassTransient, ClassOf(errors.New("connection reset")))
	assert.Equal(t, ClassTransient, ClassOf(context.DeadlineExceeded))
	assert.False(t, IsTemporaryError(nil))
	assert.False(t, IsPermanentError(nil))
}

func TestChannelErrorMessage(t *testing.T) {
	err := NewChannelError("telegram", ClassTransient, 0, "request failed", errors.New("eof"))
	assert.Equal(t, "[telegram] transient 0: request failed (eof)", err.Error())
	assert.Equal(t, "eof", errors.Unwrap(err).Error())
}
