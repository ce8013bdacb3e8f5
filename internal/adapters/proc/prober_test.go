package proc

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipUnlessLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("prober reads /proc")
	}
}

func TestAliveOwnProcess(t *testing.T) {
	t.Parallel()
	skipUnlessLinux(t)

	prober := Prober{}
	assert.True(t, prober.Alive(os.Getpid()))
	assert.False(t, prober.Alive(0))
	assert.False(t, prober.Alive(-1))
}

func TestStartTimeOwnProcess(t *testing.T) {
	t.Parallel()
	skipUnlessLinux(t)

	start, err := Prober{}.StartTime(os.Getpid())
	require.NoError(t, err)

	assert.True(t, start.Before(time.Now().Add(time.Second)))
	assert.True(t, start.After(time.Now().Add(-24*time.Hour)))
}

func TestSameProcessMatchesRecordedStart(t *testing.T) {
	t.Parallel()
	skipUnlessLinux(t)

	prober := Prober{}
	start, err := prober.StartTime(os.Getpid())
	require.NoError(t, err)

	assert.True(t, prober.SameProcess(os.Getpid(), start))
	assert.True(t, prober.SameProcess(os.Getpid(), start.Add(time.Second)))

	// A recorded start far from the live process's start means the pid was
	// reused by an unrelated process.
	assert.False(t, prober.SameProcess(os.Getpid(), start.Add(-time.Hour)))
}

func TestSameProcessZeroRecordedFallsBackToExistence(t *testing.T) {
	t.Parallel()
	skipUnlessLinux(t)

	assert.True(t, Prober{}.SameProcess(os.Getpid(), time.Time{}))
}
