package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithBlankDSNIsNoop(t *testing.T) {
	err := Init("", "")
	require.NoError(t, err)
	assert.False(t, enabled.Load())
}

func TestFlushWithoutInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Flush()
	})
}
