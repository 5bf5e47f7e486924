package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsResources(t *testing.T) {
	res := Limits{CPU: 0.5, MemoryMB: 64}.Resources()

	require.NotNil(t, res.CPU)
	assert.Equal(t, uint64(100000), *res.CPU.Period)
	assert.Equal(t, int64(50000), *res.CPU.Quota)
	require.NotNil(t, res.Memory)
	assert.Equal(t, int64(64<<20), *res.Memory.Limit)
}

func TestLimitsZero(t *testing.T) {
	assert.True(t, Limits{}.IsZero())
	assert.False(t, Limits{MemoryMB: 1}.IsZero())

	res := Limits{}.Resources()
	assert.Nil(t, res.CPU)
	assert.Nil(t, res.Memory)
}
