package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaledDimensionsPreservesAspectRatio(t *testing.T) {
	w, h := scaledDimensions(4000, 2000, 1000, 1000)
	assert.Equal(t, 1000, w)
	assert.Equal(t, 500, h)
}

func TestScaledDimensionsNoopWhenAlreadySmaller(t *testing.T) {
	w, h := scaledDimensions(100, 50, 1000, 1000)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestScaledDimensionsUnconstrainedAxis(t *testing.T) {
	w, h := scaledDimensions(2000, 1000, 0, 400)
	assert.Equal(t, 800, w)
	assert.Equal(t, 400, h)
}
