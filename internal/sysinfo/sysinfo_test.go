package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisk(t *testing.T) {
	d, err := Disk(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, d.TotalBytes, uint64(0))
	assert.LessOrEqual(t, d.FreeBytes, d.TotalBytes)
	assert.GreaterOrEqual(t, d.UsedPct, 0.0)
	assert.LessOrEqual(t, d.UsedPct, 100.0)
}

func TestDisk_MissingPath(t *testing.T) {
	_, err := Disk("/definitely/not/here")
	assert.Error(t, err)
}

func TestRuntime(t *testing.T) {
	r := Runtime()
	assert.NotEmpty(t, r.GoVersion)
	assert.Greater(t, r.NumCPU, 0)
	assert.Greater(t, r.Goroutines, 0)
	assert.Greater(t, r.HeapAllocBytes, uint64(0))
	assert.NotEmpty(t, Hostname())
}
