package scheduler

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/i474232898/wind-field-cache/internal/common"
	"github.com/i474232898/wind-field-cache/internal/field"
)

// Job ids identify each kind to the scheduler. Ids that don't map to a kind
// belong to older releases and should be cancelled.
const (
	JobIDStartup  = 72351003
	JobIDPeriodic = 72351004
)

// LastExpeditedKey is the state key holding the last expedited trigger time
// in unix milliseconds.
const LastExpeditedKey = "last_expedited_update"

// NetworkType is the kind of network a job requires.
type NetworkType string

const NetworkUnmetered NetworkType = "unmetered"

// Constraints are attached to every schedule request.
type Constraints struct {
	NetworkType    NetworkType
	EstimatedBytes int64
	BatteryNotLow  bool
	Expedited      bool
	BackoffBase    time.Duration // exponential backoff base for failed attempts
}

// JobScheduler is the contract of the component that actually runs fetch jobs.
type JobScheduler interface {
	ScheduleExpeditedOnce(kind field.JobKind, c Constraints) error
	ScheduleRecurring(kind field.JobKind, interval, slack time.Duration, c Constraints) error
}

// PolicyConfig holds the scheduling intervals.
type PolicyConfig struct {
	Interval       time.Duration // periodic update interval
	MinInterval    time.Duration // expedited debounce window and backoff base
	EstimatedBytes int64
}

// Policy decides when fetch jobs get scheduled. It never touches the network.
type Policy struct {
	cfg       PolicyConfig
	state     field.StateStore
	scheduler JobScheduler

	mu          sync.Mutex
	suppressLog *common.RateLimitedLogger
}

// NewPolicy creates a Policy persisting its debounce state in state.
func NewPolicy(cfg PolicyConfig, state field.StateStore, scheduler JobScheduler) *Policy {
	return &Policy{
		cfg:         cfg,
		state:       state,
		scheduler:   scheduler,
		suppressLog: common.NewRateLimitedLogger(time.Minute),
	}
}

// KindForID maps a job id to its kind.
func KindForID(id int) (field.JobKind, bool) {
	switch id {
	case JobIDStartup:
		return field.JobStartup, true
	case JobIDPeriodic:
		return field.JobPeriodic, true
	default:
		return "", false
	}
}

// IDForKind maps a kind to its job id.
func IDForKind(kind field.JobKind) (int, bool) {
	switch kind {
	case field.JobStartup:
		return JobIDStartup, true
	case field.JobPeriodic:
		return JobIDPeriodic, true
	default:
		return 0, false
	}
}

// Constraints returns the scheduling constraints for kind.
func (p *Policy) Constraints(kind field.JobKind) (Constraints, error) {
	c := Constraints{
		NetworkType:    NetworkUnmetered,
		EstimatedBytes: p.cfg.EstimatedBytes,
		BackoffBase:    p.cfg.MinInterval,
	}
	switch kind {
	case field.JobStartup:
		c.Expedited = true
	case field.JobPeriodic:
		c.BatteryNotLow = true
	default:
		return Constraints{}, fmt.Errorf("unknown job kind %q", kind)
	}
	return c, nil
}

// PeriodicWindow returns the periodic interval and the slack window the
// scheduler may run the job within.
func (p *Policy) PeriodicWindow() (interval, slack time.Duration) {
	return p.cfg.Interval, p.cfg.Interval / 4
}

// ShouldTriggerExpedited reports whether the last expedited trigger is at
// least MinInterval away from now. The distance is absolute, so a clock that
// jumped backwards does not block triggers indefinitely.
func (p *Policy) ShouldTriggerExpedited(now time.Time) bool {
	last, ok := p.lastTriggered()
	if !ok {
		return true
	}
	d := now.Sub(last)
	if d < 0 {
		d = -d
	}
	return d >= p.cfg.MinInterval
}

// RecordTriggered persists now as the last expedited trigger.
func (p *Policy) RecordTriggered(now time.Time) error {
	if err := p.state.Put(LastExpeditedKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("record expedited trigger: %w", err)
	}
	return nil
}

// RequestExpedited schedules a one-shot startup job unless one was triggered
// within the minimum interval. It reports whether a job was scheduled.
func (p *Policy) RequestExpedited(now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ShouldTriggerExpedited(now) {
		p.suppressLog.Printf("scheduler: not scheduling requested expedited wind field update since last one was scheduled very recently")
		return false, nil
	}
	if err := p.RecordTriggered(now); err != nil {
		return false, err
	}

	c, err := p.Constraints(field.JobStartup)
	if err != nil {
		return false, err
	}
	log.Printf("scheduler: scheduling wind field update job (type: %s)", field.JobStartup)
	if err := p.scheduler.ScheduleExpeditedOnce(field.JobStartup, c); err != nil {
		return false, fmt.Errorf("schedule %s job: %w", field.JobStartup, err)
	}
	return true, nil
}

// SchedulePeriodic (re)registers the recurring job.
func (p *Policy) SchedulePeriodic() error {
	c, err := p.Constraints(field.JobPeriodic)
	if err != nil {
		return err
	}
	interval, slack := p.PeriodicWindow()
	log.Printf("scheduler: scheduling wind field update job (type: %s, every %s, slack %s)", field.JobPeriodic, interval, slack)
	if err := p.scheduler.ScheduleRecurring(field.JobPeriodic, interval, slack, c); err != nil {
		return fmt.Errorf("schedule %s job: %w", field.JobPeriodic, err)
	}
	return nil
}

func (p *Policy) lastTriggered() (time.Time, bool) {
	v, ok, err := p.state.Get(LastExpeditedKey)
	if err != nil {
		log.Printf("scheduler: failed to read last expedited trigger: %v", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("scheduler: ignoring invalid last expedited trigger %q: %v", v, err)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
