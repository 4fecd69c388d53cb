package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesBits(t *testing.T) {
	_, err := New(16, "linux", "x86")
	assert.Error(t, err)

	tgt, err := New(32, "linux", "arm")
	require.NoError(t, err)
	assert.Equal(t, 32, tgt.Bits)
}

func TestFeatures(t *testing.T) {
	tgt := Host().With(NoAsserts).With(CUDA)
	assert.True(t, tgt.Has(NoAsserts))
	assert.True(t, tgt.Has(CUDA))
	assert.False(t, tgt.Has(TSAN))
	assert.True(t, tgt.HasGPUFeature())
	assert.False(t, Host().HasGPUFeature())
}

func TestMaxBufferSize(t *testing.T) {
	assert.Equal(t, int64(1<<31-1), Host().MaxBufferSize())
	assert.Equal(t, int64(1<<63-1), Host().With(LargeBuffers).MaxBufferSize())

	tgt32, err := New(32, "linux", "arm", LargeBuffers)
	require.NoError(t, err)
	// LargeBuffers has no effect on 32-bit targets.
	assert.Equal(t, int64(1<<31-1), tgt32.MaxBufferSize())
}

func TestStringIncludesFeatures(t *testing.T) {
	tgt := Host().With(MSAN)
	assert.Contains(t, tgt.String(), "x86-64-linux")
	assert.Contains(t, tgt.String(), "msan")
}
