package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCooldown(gap time.Duration, perMin int) (*cooldown, *time.Time) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newCooldown(gap, perMin)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCooldownGap(t *testing.T) {
	c, clock := testCooldown(time.Second, 0)

	_, err := c.reserve()
	assert.NoError(t, err)
	*clock = clock.Add(999 * time.Millisecond)
	_, err = c.reserve()
	assert.ErrorIs(t, err, ErrRateLimited)
	*clock = clock.Add(500 * time.Millisecond)
	_, err = c.reserve()
	assert.NoError(t, err, "a refused command does not push the gap out")
}

func TestCooldownPerMinute(t *testing.T) {
	c, clock := testCooldown(0, 3)

	for i := 0; i < 3; i++ {
		_, err := c.reserve()
		assert.NoError(t, err)
	}
	_, err := c.reserve()
	assert.ErrorIs(t, err, ErrRateLimited)

	*clock = clock.Add(10 * time.Second)
	_, err = c.reserve()
	assert.ErrorIs(t, err, ErrRateLimited)

	*clock = clock.Add(11 * time.Second)
	_, err = c.reserve()
	assert.NoError(t, err, "one slot refills every 20s")
}

func TestCooldownReleaseReturnsSlot(t *testing.T) {
	c, clock := testCooldown(time.Second, 60)

	release, err := c.reserve()
	require.NoError(t, err)
	release()

	*clock = clock.Add(10 * time.Millisecond)
	release, err = c.reserve()
	require.NoError(t, err, "released slot is free again")

	*clock = clock.Add(10 * time.Millisecond)
	_, err = c.reserve()
	assert.ErrorIs(t, err, ErrRateLimited, "kept slot still counts")
	_ = release
}

func TestCooldownDisabled(t *testing.T) {
	c, _ := testCooldown(0, 0)
	for i := 0; i < 100; i++ {
		_, err := c.reserve()
		require.NoError(t, err)
	}
}
