package progress_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow-io/docuflow/internal/progress"
)

func TestRegistry_UpdateAndGet(t *testing.T) {
	r := progress.NewRegistry(0)

	snap, ok := r.Update("job_1", progress.Snapshot{
		Stage:   progress.StageUploading,
		Percent: 10,
		Message: "Uploading document",
	})
	require.True(t, ok)
	assert.Equal(t, progress.StageUploading, snap.Stage)

	got, found := r.Get("job_1")
	require.True(t, found)
	assert.Equal(t, 10, got.Percent)
	assert.Equal(t, "Uploading document", got.Message)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := progress.NewRegistry(0)

	_, found := r.Get("job_missing")
	assert.False(t, found)
}

func TestRegistry_PercentNeverDecreases(t *testing.T) {
	r := progress.NewRegistry(0)

	_, ok := r.Update("job_1", progress.Snapshot{Stage: progress.StageProcessing, Percent: 50})
	require.True(t, ok)

	// A stale lower observation is clamped to the current value.
	snap, ok := r.Update("job_1", progress.Snapshot{Stage: progress.StageProcessing, Percent: 30})
	require.True(t, ok)
	assert.Equal(t, 50, snap.Percent)

	snap, ok = r.Update("job_1", progress.Snapshot{Stage: progress.StageProcessing, Percent: 75})
	require.True(t, ok)
	assert.Equal(t, 75, snap.Percent)
}

func TestRegistry_TerminalRejectsFurtherUpdates(t *testing.T) {
	r := progress.NewRegistry(time.Minute)

	_, ok := r.Update("job_1", progress.Snapshot{
		Stage:     progress.StageCompleted,
		Percent:   100,
		Completed: true,
	})
	require.True(t, ok)

	snap, ok := r.Update("job_1", progress.Snapshot{Stage: progress.StageProcessing, Percent: 50})
	assert.False(t, ok)
	assert.True(t, snap.Terminal(), "rejected update returns the stored terminal snapshot")
	assert.Equal(t, 100, snap.Percent)
}

func TestRegistry_ErrorIsTerminal(t *testing.T) {
	r := progress.NewRegistry(time.Minute)

	_, ok := r.Update("job_1", progress.Snapshot{
		Stage:   progress.StageError,
		Percent: 100,
		Error:   "Processing failed",
	})
	require.True(t, ok)

	_, ok = r.Update("job_1", progress.Snapshot{Stage: progress.StageCompleted, Completed: true})
	assert.False(t, ok)
}

func TestRegistry_TerminalEvictedAfterGracePeriod(t *testing.T) {
	r := progress.NewRegistry(50 * time.Millisecond)

	_, ok := r.Update("job_1", progress.Snapshot{
		Stage:     progress.StageCompleted,
		Percent:   100,
		Completed: true,
	})
	require.True(t, ok)

	// Still visible inside the grace period for reconnecting clients.
	_, found := r.Get("job_1")
	assert.True(t, found)

	assert.Eventually(t, func() bool {
		_, found := r.Get("job_1")
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_Evict_Immediate(t *testing.T) {
	r := progress.NewRegistry(time.Minute)

	_, ok := r.Update("job_1", progress.Snapshot{Stage: progress.StageProcessing, Percent: 40})
	require.True(t, ok)

	r.Evict("job_1")

	_, found := r.Get("job_1")
	assert.False(t, found)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := progress.NewRegistry(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jobID := fmt.Sprintf("job_%d", n%5)
			r.Update(jobID, progress.Snapshot{Stage: progress.StageProcessing, Percent: n * 2})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		snap, found := r.Get(fmt.Sprintf("job_%d", i))
		require.True(t, found)
		assert.LessOrEqual(t, snap.Percent, 100)
	}
}
