package scheduler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-field-cache/internal/field"
)

type fakeRunner struct {
	calls chan field.JobKind
	out   field.Outcome
}

func (r *fakeRunner) Attempt(ctx context.Context, net field.Network, kind field.JobKind) field.Outcome {
	r.calls <- kind
	return r.out
}

func TestBackoffDelay(t *testing.T) {
	base := 15 * time.Minute
	assert.Equal(t, base, backoffDelay(base, 0, 3*time.Hour))
	assert.Equal(t, 30*time.Minute, backoffDelay(base, 1, 3*time.Hour))
	assert.Equal(t, 2*time.Hour, backoffDelay(base, 3, 3*time.Hour))
	assert.Equal(t, 3*time.Hour, backoffDelay(base, 4, 3*time.Hour))
	assert.Equal(t, 3*time.Hour, backoffDelay(base, 60, 3*time.Hour))
	assert.Equal(t, time.Minute, backoffDelay(0, 0, 0))
}

func TestHandleOutcomeFailureSchedulesRetry(t *testing.T) {
	s := New(&fakeRunner{calls: make(chan field.JobKind, 1)}, http.DefaultClient, time.Second, 3*time.Hour)
	defer s.Stop()
	c := Constraints{BackoffBase: 15 * time.Minute}
	failed := field.Outcome{Status: field.OutcomeFailed, Err: errors.New("boom")}

	assert.Equal(t, 15*time.Minute, s.handleOutcome(field.JobPeriodic, c, failed))
	assert.Equal(t, 1, s.Record(field.JobPeriodic).Failures)

	assert.Equal(t, 30*time.Minute, s.handleOutcome(field.JobPeriodic, c, failed))
	assert.Equal(t, 2, s.Record(field.JobPeriodic).Failures)

	jobs, err := s.scheduler.FindJobsByTag(retryTag(field.JobPeriodic))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestHandleOutcomeSuccessResetsFailures(t *testing.T) {
	s := New(&fakeRunner{calls: make(chan field.JobKind, 1)}, http.DefaultClient, time.Second, 3*time.Hour)
	defer s.Stop()
	c := Constraints{BackoffBase: 15 * time.Minute}

	s.handleOutcome(field.JobStartup, c, field.Outcome{Status: field.OutcomeFailed, Err: errors.New("boom")})
	require.Equal(t, 1, s.Record(field.JobStartup).Failures)

	assert.Zero(t, s.handleOutcome(field.JobStartup, c, field.Outcome{Status: field.OutcomeUnchanged}))
	rec := s.Record(field.JobStartup)
	assert.Equal(t, 0, rec.Failures)
	assert.False(t, rec.LastTriggered.IsZero())

	_, err := s.scheduler.FindJobsByTag(retryTag(field.JobStartup))
	assert.Error(t, err)
}

func TestHandleOutcomeAfterStopDoesNotRetry(t *testing.T) {
	s := New(&fakeRunner{calls: make(chan field.JobKind, 1)}, http.DefaultClient, time.Second, 3*time.Hour)
	s.Stop()

	d := s.handleOutcome(field.JobPeriodic, Constraints{BackoffBase: time.Minute}, field.Outcome{Status: field.OutcomeFailed})
	assert.Zero(t, d)
	assert.Equal(t, 1, s.Record(field.JobPeriodic).Failures)
}

func TestScheduleExpeditedOnceRuns(t *testing.T) {
	r := &fakeRunner{calls: make(chan field.JobKind, 4), out: field.Outcome{Status: field.OutcomeUpdated, Version: 1}}
	s := New(r, http.DefaultClient, time.Second, 3*time.Hour)
	s.Start()
	defer s.Stop()

	require.NoError(t, s.ScheduleExpeditedOnce(field.JobStartup, Constraints{Expedited: true, BackoffBase: time.Minute}))

	select {
	case kind := <-r.calls:
		assert.Equal(t, field.JobStartup, kind)
	case <-time.After(5 * time.Second):
		t.Fatal("expedited job did not run")
	}
}

func TestScheduleRecurringReplacesJob(t *testing.T) {
	s := New(&fakeRunner{calls: make(chan field.JobKind, 1)}, http.DefaultClient, time.Second, 3*time.Hour)
	defer s.Stop()

	require.NoError(t, s.ScheduleRecurring(field.JobPeriodic, 3*time.Hour, 45*time.Minute, Constraints{}))
	require.NoError(t, s.ScheduleRecurring(field.JobPeriodic, 3*time.Hour, 45*time.Minute, Constraints{}))

	jobs, err := s.scheduler.FindJobsByTag(string(field.JobPeriodic))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
