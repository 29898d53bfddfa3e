package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowth(t *testing.T) {
	t.Parallel()

	b := &Backoff{Min: 10 * time.Millisecond, Max: 80 * time.Millisecond, K: 2}
	assert.Equal(t, 10*time.Millisecond, b.Next())
	b.Failure()
	assert.Equal(t, 20*time.Millisecond, b.Next())
	b.Failure()
	assert.Equal(t, 40*time.Millisecond, b.Next())
	b.Failure()
	b.Failure()
	assert.Equal(t, 80*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestBackoffDelayBefore(t *testing.T) {
	t.Parallel()

	b := &Backoff{Min: 50 * time.Millisecond, Max: time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Failure()
	d := b.DelayBefore()
	assert.True(t, d > 0 && d <= 100*time.Millisecond, "delay=%s", d)
	time.Sleep(110 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}
