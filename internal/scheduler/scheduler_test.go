package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/aristath/augur/internal/testing"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	if j.panic {
		panic("job exploded")
	}
	return j.err
}

func TestScheduler_RunsJobsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_AddJobErrors(t *testing.T) {
	s := New(zerolog.Nop())

	err := s.AddJob("not a schedule", &countingJob{name: "bad"})
	assert.Error(t, err)

	require.NoError(t, s.AddJob("0 */5 * * * *", &countingJob{name: "dup"}))
	err = s.AddJob("0 */5 * * * *", &countingJob{name: "dup"})
	assert.ErrorContains(t, err, "already registered")
}

func TestScheduler_NextRun(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("0 */5 * * * *", &countingJob{name: "cleanup"}))

	_, ok := s.NextRun("missing")
	assert.False(t, ok)

	// entries get their next time once the scheduler runs
	s.Start()
	defer s.Stop()
	next, ok := s.NextRun("cleanup")
	require.True(t, ok)
	assert.True(t, next.After(time.Now().Add(-time.Second)))
	assert.Equal(t, 0, next.Minute()%5)
	assert.Equal(t, 0, next.Second())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())

	ok := &countingJob{name: "ok"}
	assert.NoError(t, s.RunNow(ok))
	assert.Equal(t, int32(1), ok.runs.Load())

	failing := &countingJob{name: "failing", err: errors.New("nope")}
	assert.EqualError(t, s.RunNow(failing), "nope")

	panicking := &countingJob{name: "panicking", panic: true}
	var err error
	assert.NotPanics(t, func() { err = s.RunNow(panicking) })
	assert.ErrorContains(t, err, "panicked")
}

func TestCheckDatabaseJob(t *testing.T) {
	db := testutil.NewTestDB(t, "forecast")

	job := NewCheckDatabaseJob(db, zerolog.Nop())
	assert.Equal(t, "check_database", job.Name())
	assert.NoError(t, job.Run())

	assert.NoError(t, NewCheckDatabaseJob(nil, zerolog.Nop()).Run())

	require.NoError(t, db.Close())
	assert.Error(t, job.Run())
}
