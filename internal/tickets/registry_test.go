package tickets

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobRegistry_Lifecycle(t *testing.T) {
	r := newJobRegistry()

	r.setWaiting("j1")
	status, found := r.get("j1")
	require.True(t, found)
	require.Equal(t, JobWaiting, status.State)

	r.setActive("j1")
	status, _ = r.get("j1")
	require.Equal(t, JobActive, status.State)

	r.setProgress("j1", 50)
	status, _ = r.get("j1")
	require.Equal(t, 50, status.ProgressPercent)

	r.setDelayed("j1")
	status, _ = r.get("j1")
	require.Equal(t, JobDelayed, status.State)

	r.setCompleted("j1")
	status, _ = r.get("j1")
	require.Equal(t, JobCompleted, status.State)
	require.Equal(t, 100, status.ProgressPercent)
}

func TestJobRegistry_FailureKeepsError(t *testing.T) {
	r := newJobRegistry()

	r.setWaiting("j1")
	r.setFailed("j1", errors.New("smtp: connection refused"))

	status, found := r.get("j1")
	require.True(t, found)
	require.Equal(t, JobFailed, status.State)
	require.Contains(t, status.Result, "connection refused")
}

func TestJobRegistry_UnknownJob(t *testing.T) {
	r := newJobRegistry()

	_, found := r.get("nope")
	require.False(t, found)
}

func TestJobRegistry_ActiveWithoutWaitingStillTracked(t *testing.T) {
	r := newJobRegistry()

	// A consumer may see a job dispatched by another process instance.
	r.setActive("remote")
	status, found := r.get("remote")
	require.True(t, found)
	require.Equal(t, JobActive, status.State)
}

func TestJobRegistry_EvictsOldestCompletedBeyondCap(t *testing.T) {
	r := newJobRegistry()
	r.maxCompleted = 3

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("j%d", i)
		r.setWaiting(id)
		r.setCompleted(id)
	}

	_, found := r.get("j0")
	require.False(t, found, "oldest completed jobs are evicted")
	_, found = r.get("j4")
	require.True(t, found, "recent jobs survive eviction")
}
