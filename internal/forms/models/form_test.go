package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dErrors "onboarding/pkg/domain-errors"
)

func TestLifecycle(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	open := func() *Instance {
		return &Instance{Status: StatusSent, ExpiresAt: now.Add(time.Hour)}
	}

	t.Run("view then submit", func(t *testing.T) {
		f := open()
		assert.NoError(t, f.CanView(now))
		f.ApplyView(now)
		assert.Equal(t, StatusViewed, f.Status)
		f.ApplyView(now.Add(time.Minute))
		assert.Equal(t, now, f.UpdatedAt)
		assert.NoError(t, f.CanSubmit(now))
		f.ApplySubmit(now)
		assert.Equal(t, StatusSubmitted, f.Status)
		assert.True(t, dErrors.HasCode(f.CanSubmit(now), dErrors.CodeConflict))
		assert.Error(t, f.CanRevoke())
	})

	t.Run("expired forms refuse actions", func(t *testing.T) {
		f := open()
		late := now.Add(2 * time.Hour)
		assert.Error(t, f.CanView(late))
		assert.Error(t, f.CanSubmit(late))
		assert.True(t, f.CanExpire(late))
		f.ApplyExpire(late)
		assert.Equal(t, StatusExpired, f.Status)
		assert.False(t, f.CanExpire(late))
	})

	t.Run("revoked forms refuse actions", func(t *testing.T) {
		f := open()
		assert.NoError(t, f.CanRevoke())
		f.ApplyRevoke(now)
		assert.Error(t, f.CanView(now))
		assert.Error(t, f.CanRevoke())
	})
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("abc"))
	assert.NotEqual(t, h, HashToken("abd"))
}
