package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAllowWithinCapacity(t *testing.T) {
	l := New(3, time.Minute)
	principal := uuid.New()
	now := time.Now()

	for i := 0; i < 3; i++ {
		res := l.Allow(principal, now)
		assert.True(t, res.Allowed)
	}
	res := l.Allow(principal, now)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfterSeconds, 0)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l := New(1, time.Minute)
	principal := uuid.New()
	now := time.Now()

	assert.True(t, l.Allow(principal, now).Allowed)
	assert.False(t, l.Allow(principal, now).Allowed)
	assert.True(t, l.Allow(principal, now.Add(time.Minute+time.Second)).Allowed)
}

func TestDistinctPrincipalsDoNotShareBudget(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()
	a, b := uuid.New(), uuid.New()

	assert.True(t, l.Allow(a, now).Allowed)
	assert.True(t, l.Allow(b, now).Allowed)
	assert.False(t, l.Allow(a, now).Allowed)
}

func TestSweepRemovesStaleBuckets(t *testing.T) {
	l := New(1, time.Minute)
	principal := uuid.New()
	now := time.Now()

	l.Allow(principal, now)
	l.Sweep(now.Add(time.Hour))
	assert.Empty(t, l.buckets)
}
