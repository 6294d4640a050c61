package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code", func(t *testing.T) {
		err := New(CodeStaleStage, "version mismatch")
		assert.True(t, HasCode(err, CodeStaleStage))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("advance: %w", New(CodeAlreadyTerminated, "terminated"))
		assert.True(t, HasCode(err, CodeAlreadyTerminated))
	})

	t.Run("inner code under an outer domain error", func(t *testing.T) {
		inner := New(CodeNotFound, "missing")
		err := Wrap(inner, CodeInternal, "load failed")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(cause, CodeInternal, "failed to load workflow")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db down")
}
