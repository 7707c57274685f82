package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesToCap(t *testing.T) {
	b := newBackoff(time.Second, 60*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.attempts())
}

func TestBackoffNonDecreasing(t *testing.T) {
	b := newBackoff(250*time.Millisecond, 10*time.Second)

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := b.next()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.next()
	b.next()
	b.next()

	b.reset()
	assert.Equal(t, 0, b.attempts())
	assert.Equal(t, time.Second, b.next())
}

func TestBackoffDefaults(t *testing.T) {
	b := newBackoff(0, 0)
	assert.Equal(t, defaultBackoffBase, b.base)
	assert.Equal(t, defaultBackoffCap, b.cap)

	// Cap below base collapses to the base.
	b = newBackoff(time.Minute, time.Second)
	assert.Equal(t, time.Minute, b.next())
}
