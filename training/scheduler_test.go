package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantLRScheduler(t *testing.T) {
	s := NewConstantLRScheduler()
	for epoch := 0; epoch < 40; epoch++ {
		assert.Equal(t, 1e-4, s.GetLR(epoch, 1e-4))
	}
	assert.Equal(t, "ConstantLR", s.GetName())
}

func TestBoundaryLRSchedulerDecaysOnce(t *testing.T) {
	s := NewBoundaryLRScheduler(25, 10)

	assert.Equal(t, 1e-4, s.GetLR(0, 1e-4))
	assert.Equal(t, 1e-4, s.GetLR(24, 1e-4))
	assert.InDelta(t, 1e-5, s.GetLR(25, 1e-4), 1e-12)
	assert.InDelta(t, 1e-5, s.GetLR(39, 1e-4), 1e-12)
	assert.Equal(t, "BoundaryLR", s.GetName())
}

func TestBoundaryLRSchedulerDefaultFactor(t *testing.T) {
	s := NewBoundaryLRScheduler(5, 0)
	assert.InDelta(t, 0.01, s.GetLR(5, 0.1), 1e-12)
}
