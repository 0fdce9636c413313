package scratch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ceiling int64) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), ceiling, 1) // margin of 1 byte never trips on a test volume
	require.NoError(t, err)
	return m
}

func TestAdmitUnderCeiling(t *testing.T) {
	m := newTestManager(t, 1<<20)
	assert.True(t, m.Admit())
}

func TestAdmitDeniedUnderDiskPressure(t *testing.T) {
	m := newTestManager(t, 1024)

	dir, err := m.CreateJobScratch("job-a")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob"), make([]byte, 4096), 0644))

	assert.False(t, m.Admit(), "usage above ceiling must deny admission")

	// pressure drops, admission recovers
	m.Cleanup("job-a")
	assert.True(t, m.Admit())
}

func TestUsageAggregatesAllJobs(t *testing.T) {
	m := newTestManager(t, 1<<20)

	for _, job := range []string{"a", "b"} {
		dir, err := m.CreateJobScratch(job)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), make([]byte, 100), 0644))
	}

	usage, err := m.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(200), usage)
}

func TestScratchPathIsInsideJobDir(t *testing.T) {
	m := newTestManager(t, 1<<20)
	dir, err := m.CreateJobScratch("job-x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source"), m.ScratchPath("job-x", "source"))
}

func TestCleanupIsIdempotent(t *testing.T) {
	m := newTestManager(t, 1<<20)
	dir, err := m.CreateJobScratch("job-y")
	require.NoError(t, err)

	m.Cleanup("job-y")
	assert.NoDirExists(t, dir)

	// second cleanup of a gone directory must not panic or error
	m.Cleanup("job-y")
	assert.NoDirExists(t, dir)
}

func TestCleanupOrphansRespectsMaxAge(t *testing.T) {
	m := newTestManager(t, 1<<20)

	oldDir, err := m.CreateJobScratch("stale")
	require.NoError(t, err)
	freshDir, err := m.CreateJobScratch("fresh")
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, past, past))

	removed := m.CleanupOrphans(time.Hour)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, freshDir)
}
