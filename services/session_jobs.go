package services

import (
	"context"
	"fmt"

	"drivingschool_go/services/messaging"
	notifsvc "drivingschool_go/services/notifications"
	"drivingschool_go/services/scheduling"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// systemActor signs changes made by background jobs.
var systemActor = scheduling.Actor{Role: "system"}

// SessionJobs holds the recurring session maintenance tasks.
type SessionJobs struct {
	db         *gorm.DB
	engine     *scheduling.Engine
	notifier   Notifier
	dispatcher MessageDispatcher
}

func NewSessionJobs(db *gorm.DB, engine *scheduling.Engine) *SessionJobs {
	return &SessionJobs{db: db, engine: engine}
}

func (j *SessionJobs) SetNotifier(n Notifier) { j.notifier = n }

func (j *SessionJobs) SetDispatcher(d MessageDispatcher) { j.dispatcher = d }

var openStatuses = []scheduling.Status{scheduling.StatusScheduled, scheduling.StatusRescheduled}

// SendReminders notifies branch staff about tomorrow's lessons and reminds
// each client. It returns the number of sessions found.
func (j *SessionJobs) SendReminders(ctx context.Context) (int, error) {
	tomorrow := j.engine.Today().AddDays(1)
	sessions, err := j.engine.ListSessions(ctx, scheduling.SessionFilter{
		FromDate: tomorrow,
		ToDate:   tomorrow,
		Statuses: openStatuses,
	})
	if err != nil {
		return 0, fmt.Errorf("list tomorrow's sessions: %w", err)
	}

	perBranch := make(map[uint]int)
	for _, s := range sessions {
		perBranch[s.BranchID]++
	}
	if j.notifier != nil {
		for branchID, n := range perBranch {
			notice := notifsvc.Notice{
				BranchID: branchID,
				Title:    "Tomorrow's sessions",
				Message:  fmt.Sprintf("%d %s booked for %s", n, pluralize(n, "session", "sessions"), tomorrow),
				Type:     "info",
			}
			if err := j.notifier.EnqueueOrCreate(ctx, notice); err != nil {
				logrus.WithError(err).WithField("branch_id", branchID).Warn("Failed to create reminder notice")
			}
		}
	}

	if j.dispatcher != nil {
		for _, s := range sessions {
			base := messaging.Message{
				Kind:      messaging.KindReminder,
				Reference: fmt.Sprintf("session:%d:%s", s.ID, s.SessionDate),
				Body:      fmt.Sprintf("Reminder: driving session #%d tomorrow (%s) at %s.", s.SessionNumber, s.SessionDate, s.StartTime),
			}
			for _, msg := range addressClient(ctx, j.db, j.dispatcher, s.ClientID, base) {
				if _, err := j.dispatcher.Dispatch(ctx, msg); err != nil {
					logrus.WithError(err).WithField("session_id", s.ID).Warn("Reminder not delivered")
				}
			}
		}
	}

	logrus.WithFields(logrus.Fields{"date": tomorrow.String(), "sessions": len(sessions)}).Info("Session reminders sent")
	return len(sessions), nil
}

// SweepNoShows marks open sessions dated before today as NO_SHOW.
func (j *SessionJobs) SweepNoShows(ctx context.Context) (int, error) {
	yesterday := j.engine.Today().AddDays(-1)
	sessions, err := j.engine.ListSessions(ctx, scheduling.SessionFilter{
		ToDate:   yesterday,
		Statuses: openStatuses,
	})
	if err != nil {
		return 0, fmt.Errorf("list missed sessions: %w", err)
	}

	marked := 0
	for _, s := range sessions {
		if _, err := j.engine.UpdateStatus(ctx, systemActor, s.ID, scheduling.StatusNoShow); err != nil {
			logrus.WithError(err).WithField("session_id", s.ID).Warn("Failed to mark session as no-show")
			continue
		}
		marked++
	}
	if marked > 0 {
		logrus.WithField("count", marked).Info("Missed sessions marked NO_SHOW")
	}
	return marked, nil
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
