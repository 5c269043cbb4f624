package background

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licensehub/internal/caching"
	"licensehub/internal/logs"
	"licensehub/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	ExportArchiveJob = "export-archive"

	exportArchiveTimeout = 10 * time.Minute
	jobLockWait          = 2 * time.Second
)

// Config selects which background jobs run
type Config struct {
	ExportArchiveEnabled bool
	ExportArchiveCron    string
}

// JobScheduler runs periodic maintenance jobs. With a locker, a job runs
// on at most one replica at a time.
type JobScheduler struct {
	scheduler gocron.Scheduler
	archives  services.ArchiveService
	locker    services.DeviceLocker
	jobs      map[string]gocron.Job
	log       *logrus.Entry
}

// NewJobScheduler creates a scheduler and registers the configured jobs.
// archives may be nil when object storage is disabled.
func NewJobScheduler(cfg Config, archives services.ArchiveService, locker services.DeviceLocker, clock clockwork.Clock, logger logrus.FieldLogger) (*JobScheduler, error) {
	opts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	scheduler, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	js := &JobScheduler{
		scheduler: scheduler,
		archives:  archives,
		locker:    locker,
		jobs:      make(map[string]gocron.Job),
		log:       logs.Component(logger, "jobs"),
	}

	if err := js.registerJobs(cfg); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

func (js *JobScheduler) registerJobs(cfg Config) error {
	if cfg.ExportArchiveEnabled {
		if js.archives == nil {
			return errors.New("export archive job requires object storage")
		}
		job, err := js.scheduler.NewJob(
			gocron.CronJob(cfg.ExportArchiveCron, false),
			gocron.NewTask(js.exportArchive, context.Background()),
			gocron.WithName(ExportArchiveJob),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create export archive job: %w", err)
		}
		js.jobs[ExportArchiveJob] = job
	}

	js.log.WithField("jobs", len(js.jobs)).Info("Registered background jobs")
	return nil
}

// Start starts the job scheduler
func (js *JobScheduler) Start() {
	js.log.Info("Starting background job scheduler")
	js.scheduler.Start()
}

// Stop waits for running jobs and stops the scheduler
func (js *JobScheduler) Stop() error {
	js.log.Info("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// RunNow triggers a registered job outside its schedule
func (js *JobScheduler) RunNow(name string) error {
	job, ok := js.jobs[name]
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	return job.RunNow()
}

// Registered reports whether the named job is scheduled
func (js *JobScheduler) Registered(name string) bool {
	_, ok := js.jobs[name]
	return ok
}

func (js *JobScheduler) exportArchive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, exportArchiveTimeout)
	defer cancel()

	if js.locker != nil {
		lockCtx, cancelLock := context.WithTimeout(ctx, jobLockWait)
		unlock, err := js.locker.Lock(lockCtx, "job:"+ExportArchiveJob, exportArchiveTimeout)
		cancelLock()
		if errors.Is(err, caching.ErrLockHeld) || errors.Is(err, context.DeadlineExceeded) {
			js.log.Info("Export archive already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			js.log.WithError(err).Warn("Failed to acquire export archive lock, running anyway")
		} else {
			defer unlock()
		}
	}

	started := time.Now()
	name, err := js.archives.ArchiveExport(ctx)
	if err != nil {
		js.log.WithError(err).Error("Export archive failed")
		return err
	}
	js.log.WithFields(logrus.Fields{
		"object":   name,
		"duration": time.Since(started).String(),
	}).Info("Export archive uploaded")
	return nil
}
