package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/wind-field-cache/internal/field"
)

// Runner executes one fetch attempt.
type Runner interface {
	Attempt(ctx context.Context, net field.Network, kind field.JobKind) field.Outcome
}

// Scheduler is an in-process JobScheduler backed by gocron. Each trigger runs
// one attempt on a gocron worker goroutine; failed attempts are rescheduled
// with exponential backoff.
//
// Constraints that only make sense on a device (unmetered network, battery
// not low) are assumed satisfied: the configured network is always handed to
// the attempt.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	network   field.Network

	timeout    time.Duration // per-attempt limit, after which the attempt is abandoned
	maxBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	records map[field.JobKind]*field.JobRecord
}

// New creates a Scheduler. It does not run anything until Start.
func New(runner Runner, network field.Network, timeout, maxBackoff time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		runner:     runner,
		network:    network,
		timeout:    timeout,
		maxBackoff: maxBackoff,
		ctx:        ctx,
		cancel:     cancel,
		records:    make(map[field.JobKind]*field.JobRecord),
	}
}

// Start starts the underlying scheduler.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop abandons in-flight attempts and cancels any future jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// ScheduleExpeditedOnce runs kind once, as soon as possible. It replaces a
// pending job of the same kind.
func (s *Scheduler) ScheduleExpeditedOnce(kind field.JobKind, c Constraints) error {
	s.remove(string(kind))
	_, err := s.scheduler.Every(time.Hour).LimitRunsTo(1).Tag(string(kind)).Do(func() {
		s.run(kind, c)
	})
	return err
}

// ScheduleRecurring runs kind every interval. The first run happens once
// interval-slack has elapsed, i.e. at the start of the slack window.
func (s *Scheduler) ScheduleRecurring(kind field.JobKind, interval, slack time.Duration, c Constraints) error {
	s.remove(string(kind))
	first := time.Now().Add(interval - slack)
	_, err := s.scheduler.Every(interval).StartAt(first).SingletonMode().Tag(string(kind)).Do(func() {
		s.run(kind, c)
	})
	return err
}

// Record returns a copy of the scheduling state for kind.
func (s *Scheduler) Record(kind field.JobKind) field.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[kind]; ok {
		return *rec
	}
	return field.JobRecord{Kind: kind}
}

func (s *Scheduler) run(kind field.JobKind, c Constraints) {
	log.Printf("scheduler: doing wind field update (%s, network: %s, estimated %d bytes)", kind, c.NetworkType, c.EstimatedBytes)

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	out := s.runner.Attempt(ctx, s.network, kind)
	s.handleOutcome(kind, c, out)
}

// handleOutcome updates the job record and, on failure, schedules a retry. It
// returns the retry delay, or zero when no retry was scheduled.
func (s *Scheduler) handleOutcome(kind field.JobKind, c Constraints, out field.Outcome) time.Duration {
	s.mu.Lock()
	rec, ok := s.records[kind]
	if !ok {
		rec = &field.JobRecord{Kind: kind}
		s.records[kind] = rec
	}
	rec.LastTriggered = time.Now()
	if !out.Failed() {
		rec.Failures = 0
		s.mu.Unlock()
		s.remove(retryTag(kind))
		log.Printf("scheduler: %s job finished (%s)", kind, out.Status)
		return 0
	}
	rec.Failures++
	delay := backoffDelay(c.BackoffBase, rec.Failures-1, s.maxBackoff)
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return 0
	}

	log.Printf("scheduler: %s job failed, requesting job reschedule in %s: %v", kind, delay, out.Err)
	s.remove(retryTag(kind))
	if _, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Tag(retryTag(kind)).Do(func() {
		s.run(kind, c)
	}); err != nil {
		log.Printf("scheduler: failed to reschedule %s job: %v", kind, err)
		return 0
	}
	return delay
}

func (s *Scheduler) remove(tag string) {
	// Not found is the common case.
	_ = s.scheduler.RemoveByTag(tag)
}

func retryTag(kind field.JobKind) string {
	return string(kind) + "-retry"
}

// backoffDelay returns base * 2^attempt, capped at limit when limit > 0.
func backoffDelay(base time.Duration, attempt int, limit time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if limit > 0 && delay >= limit {
			break
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}
