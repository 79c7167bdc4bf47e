package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, New())
}

func TestNowAndSince(t *testing.T) {
	c := New()
	start := c.Now()
	c.Sleep(1 * time.Millisecond)
	assert.Positive(t, c.Since(start))
}

func TestSleep(t *testing.T) {
	assert.NotPanics(t, func() {
		New().Sleep(1 * time.Microsecond)
	})
}
