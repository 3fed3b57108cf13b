package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobSchedule holds the cron specs of the background jobs. An empty spec
// disables that job.
type JobSchedule struct {
	Reminder           string
	NoShow             string
	Archive            string
	AuditRetentionDays int
	Location           *time.Location
}

// ScheduleManager runs the session jobs and the audit archive on cron.
type ScheduleManager struct {
	jobs     *SessionJobs
	archiver *AuditArchiveService
	cron     *cron.Cron
}

func NewScheduleManager(jobs *SessionJobs, archiver *AuditArchiveService) *ScheduleManager {
	return &ScheduleManager{jobs: jobs, archiver: archiver}
}

type cronLogger struct{ log logrus.FieldLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithField("cron", fmt.Sprint(keysAndValues...)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithField("cron", fmt.Sprint(keysAndValues...)).Error(msg)
}

// Start registers every configured job and starts the cron runner.
func (sm *ScheduleManager) Start(schedule JobSchedule) error {
	loc := schedule.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{log: logrus.StandardLogger()}
	sm.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	add := func(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
		if spec == "" {
			logrus.WithField("job", name).Info("Job disabled")
			return nil
		}
		_, err := sm.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := fn(ctx); err != nil {
				logrus.WithError(err).WithField("job", name).Error("Job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
		}
		logrus.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("Job scheduled")
		return nil
	}

	if sm.jobs != nil {
		if err := add("session_reminders", schedule.Reminder, 10*time.Minute, func(ctx context.Context) error {
			_, err := sm.jobs.SendReminders(ctx)
			return err
		}); err != nil {
			return err
		}
		if err := add("no_show_sweep", schedule.NoShow, 10*time.Minute, func(ctx context.Context) error {
			_, err := sm.jobs.SweepNoShows(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if sm.archiver != nil {
		if err := add("audit_archive", schedule.Archive, 30*time.Minute, func(ctx context.Context) error {
			_, err := sm.archiver.ArchiveOlderThan(ctx, schedule.AuditRetentionDays)
			return err
		}); err != nil {
			return err
		}
	}

	sm.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (sm *ScheduleManager) Stop() {
	if sm.cron == nil {
		return
	}
	<-sm.cron.Stop().Done()
}
