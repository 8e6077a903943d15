package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextChunkSizeNeverExceedsRemaining(t *testing.T) {
	got := NextChunkSize(100, 1<<20, time.Second, 1<<16, 1<<16, 0, 0, 0)
	assert.Equal(t, int64(100), got)
}

func TestNextChunkSizeMultipleOfMul(t *testing.T) {
	const mul = int64(1 << 20)
	got := NextChunkSize(1<<40, 5*mul+12345, 10*time.Second, mul, mul, 0, 0, 0)
	assert.Zero(t, got%mul)
	assert.LessOrEqual(t, got, int64(1<<40))
}

func TestNextChunkSizeRespectsMaxParts(t *testing.T) {
	const (
		remaining = int64(1000 * 1 << 20)
		mul       = int64(1 << 20)
		maxParts  = int64(10)
	)
	got := NextChunkSize(remaining, mul, time.Second, mul, mul, 0, maxParts, 0)
	parts := (remaining + got - 1) / got
	assert.LessOrEqual(t, parts, maxParts)
	assert.Zero(t, got%mul)
}

func TestNextChunkSizeMaxPartsAccountsForIssuedParts(t *testing.T) {
	const (
		remaining = int64(100 * 1 << 20)
		mul       = int64(1 << 20)
	)
	got := NextChunkSize(remaining, mul, 0, mul, mul, 8, 10, 0)
	parts := (remaining + got - 1) / got
	assert.LessOrEqual(t, 8+parts, int64(10))
}

func TestNextChunkSizeGrowsWhenLastChunkWasFast(t *testing.T) {
	last := int64(1 << 20)
	got := NextChunkSize(1<<40, last, time.Second, 1, 0, 0, 0, 0)
	assert.Greater(t, got, last)
}

func TestNextChunkSizeShrinksTowardTargetWhenSlow(t *testing.T) {
	last := int64(64 << 20)
	got := NextChunkSize(1<<40, last, 10*time.Minute, 1, 0, 0, 0, 0)
	assert.Less(t, got, last)
}

func TestNextChunkSizeClampedToMaxSize(t *testing.T) {
	got := NextChunkSize(1<<40, 1<<20, time.Millisecond, 1, 0, 0, 0, 8<<20)
	assert.LessOrEqual(t, got, int64(8<<20))
}

func TestNextChunkSizeZeroRemaining(t *testing.T) {
	assert.Zero(t, NextChunkSize(0, 1<<20, time.Second, 1, 1, 0, 0, 0))
}
