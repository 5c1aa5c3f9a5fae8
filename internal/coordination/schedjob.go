package coordination

import (
	"context"
	"strconv"
	"time"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/store"
)

// ScheduledJob guards a periodic job so exactly one process instance runs
// it per interval, even across restarts. Next-run state is persisted in the
// store next to the job's mutex.
type ScheduledJob struct {
	store    store.Store
	mutex    *Mutex
	name     string
	interval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduledJob creates a job named name with the given run interval.
// The guarding mutex's TTL matches the interval so a crashed holder frees
// the job within one period.
func NewScheduledJob(st store.Store, name string, interval time.Duration) *ScheduledJob {
	return &ScheduledJob{
		store:    st,
		mutex:    NewMutex(st, "job-"+name, interval),
		name:     name,
		interval: interval,
		now:      time.Now,
	}
}

// Mutex exposes the guarding mutex so callers can register it with the
// renewal keeper for long-running jobs.
func (j *ScheduledJob) Mutex() *Mutex { return j.mutex }

func (j *ScheduledJob) stateKey() string { return "job-" + j.name + "-state" }

// TryAcquire succeeds only when the mutex is free and the persisted
// next-run time has been reached. A job with no persisted state runs
// immediately.
func (j *ScheduledJob) TryAcquire(ctx context.Context) (bool, error) {
	nextRun, err := j.nextRun(ctx)
	if err != nil {
		return false, err
	}
	if !nextRun.IsZero() && j.now().Before(nextRun) {
		return false, nil
	}

	ok, err := j.mutex.TryAcquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	// Re-read after winning the mutex; a racing process may have run the
	// job and advanced the schedule between our check and the acquire.
	nextRun, err = j.nextRun(ctx)
	if err != nil {
		_ = j.mutex.Release(ctx)
		return false, err
	}
	if !nextRun.IsZero() && j.now().Before(nextRun) {
		_ = j.mutex.Release(ctx)
		return false, nil
	}
	return true, nil
}

// Release advances the next-run timestamp and frees the mutex. Missed
// ticks are skipped rather than burst: the next run is the first future
// multiple of the interval from the previous anchor.
func (j *ScheduledJob) Release(ctx context.Context) error {
	anchor, err := j.nextRun(ctx)
	if err != nil {
		return err
	}
	now := j.now()
	if anchor.IsZero() {
		anchor = now
	}

	next := anchor
	if !next.After(now) {
		elapsed := now.Sub(anchor)
		steps := elapsed/j.interval + 1
		next = anchor.Add(steps * j.interval)
	}

	if err := j.store.Set(ctx, j.stateKey(), strconv.FormatInt(next.UnixMilli(), 10), 0); err != nil {
		return errors.Transient("persist job schedule", err).WithDetails("job", j.name)
	}
	return j.mutex.Release(ctx)
}

// SetData persists job-specific payload alongside the schedule.
func (j *ScheduledJob) SetData(ctx context.Context, data string) error {
	return j.store.Set(ctx, "job-"+j.name+"-data", data, 0)
}

// Data returns the persisted job payload, empty when unset.
func (j *ScheduledJob) Data(ctx context.Context) (string, error) {
	data, err := j.store.Get(ctx, "job-"+j.name+"-data")
	if errors.IsNotFound(err) {
		return "", nil
	}
	return data, err
}

func (j *ScheduledJob) nextRun(ctx context.Context) (time.Time, error) {
	raw, err := j.store.Get(ctx, j.stateKey())
	if errors.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.Internal("malformed job schedule", err).WithDetails("job", j.name)
	}
	return time.UnixMilli(millis), nil
}
