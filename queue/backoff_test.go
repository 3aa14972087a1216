package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atlaspms/finance-core/queue"
)

func TestBackoff_DelayDoublesFromBase(t *testing.T) {
	b := queue.DefaultBackoff()

	assert.Equal(t, 30*time.Second, b.Delay(1))
	assert.Equal(t, 60*time.Second, b.Delay(2))
	assert.Equal(t, 120*time.Second, b.Delay(3))
	assert.Equal(t, 240*time.Second, b.Delay(4))
}

func TestBackoff_DelayCapsAtMax(t *testing.T) {
	b := queue.Backoff{Base: 30 * time.Second, Max: 2 * time.Minute, MaxAttempts: 10}

	assert.Equal(t, 2*time.Minute, b.Delay(3))
	assert.Equal(t, 2*time.Minute, b.Delay(50), "delay never grows past the cap")
}

func TestBackoff_DelayClampsLowAttempts(t *testing.T) {
	b := queue.DefaultBackoff()

	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-3))
}

func TestBackoff_ExhaustedAtCeiling(t *testing.T) {
	b := queue.DefaultBackoff()

	assert.False(t, b.Exhausted(4))
	assert.True(t, b.Exhausted(5), "the fifth attempt is the last")
	assert.True(t, b.Exhausted(6))
}
