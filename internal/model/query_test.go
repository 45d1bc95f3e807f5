package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewContentDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewContent("austin-tx", "u1", now)
	assert.True(t, c.IsActive)
	assert.False(t, c.IsGlobal)
	assert.Equal(t, "austin-tx", c.BranchID)
	assert.Equal(t, "u1", c.CreatedBy)
	assert.Equal(t, now, c.CreatedAt)
	assert.Empty(t, c.ID)
}

func TestEventNormalize(t *testing.T) {
	now := time.Now()
	e := Event{AttendeeCount: -2}
	e.Normalize(now)
	assert.Zero(t, e.AttendeeCount)
	assert.NotNil(t, e.Attendees)
	assert.Equal(t, now, e.CreatedAt)
}
