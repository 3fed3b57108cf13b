package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"drivingschool_go/models"
	"drivingschool_go/services/messaging"
	notifsvc "drivingschool_go/services/notifications"
	"drivingschool_go/services/scheduling"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BranchBroadcaster pushes live updates to the staff of a branch.
type BranchBroadcaster interface {
	BroadcastToBranch(branchID uint, message interface{})
}

// Notifier creates in-app notifications.
type Notifier interface {
	EnqueueOrCreate(ctx context.Context, n notifsvc.Notice) error
}

// MessageDispatcher sends client-facing WhatsApp and LINE messages.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg messaging.Message) (messaging.Result, error)
	HasChannel(ch messaging.Channel) bool
}

// SessionEventSink fans committed scheduling changes out to the audit table,
// the branch WebSocket feed, in-app notifications and client messaging.
type SessionEventSink struct {
	db         *gorm.DB
	hub        BranchBroadcaster
	notifier   Notifier
	dispatcher MessageDispatcher
	log        logrus.FieldLogger
	wg         sync.WaitGroup
}

func NewSessionEventSink(db *gorm.DB) *SessionEventSink {
	return &SessionEventSink{db: db, log: logrus.StandardLogger()}
}

func (s *SessionEventSink) SetHub(h BranchBroadcaster) { s.hub = h }
func (s *SessionEventSink) SetNotifier(n Notifier) { s.notifier = n }
func (s *SessionEventSink) SetDispatcher(d MessageDispatcher) { s.dispatcher = d }
func (s *SessionEventSink) SetLogger(l logrus.FieldLogger) { s.log = l }

type auditDetails struct {
	SessionIDs []uint `json:"session_ids,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Publish implements scheduling.EventSink.
func (s *SessionEventSink) Publish(ctx context.Context, ev scheduling.SessionEvent) {
	logger := s.log.WithFields(logrus.Fields{"event": ev.Kind, "branch_id": ev.BranchID, "client_id": ev.ClientID})

	if err := s.writeAudit(ctx, ev); err != nil {
		logger.WithError(err).Error("Failed to write session audit")
	}

	if s.hub != nil {
		s.hub.BroadcastToBranch(ev.BranchID, map[string]interface{}{
			"type": string(ev.Kind),
			"data": ev,
		})
	}

	if ev.Kind == scheduling.EventBulkRescheduled && s.notifier != nil {
		notice := notifsvc.Notice{
			BranchID: ev.BranchID,
			Title:    "Sessions rescheduled",
			Message:  ev.Summary,
			Type:     "warning",
			Data:     map[string]interface{}{"session_count": len(ev.Sessions)},
		}
		if err := s.notifier.EnqueueOrCreate(ctx, notice); err != nil {
			logger.WithError(err).Warn("Failed to notify branch staff")
		}
	}

	if s.dispatcher == nil {
		return
	}
	msgs := s.clientMessages(ctx, ev)
	if len(msgs) == 0 {
		return
	}
	// delivery retries outlive the request that triggered them
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for _, m := range msgs {
			if _, err := s.dispatcher.Dispatch(bg, m); err != nil {
				logger.WithError(err).WithField("kind", m.Kind).Warn("Client message not delivered")
			}
		}
	}()
}

// Wait blocks until queued client messages are finished.
func (s *SessionEventSink) Wait() { s.wg.Wait() }

func (s *SessionEventSink) writeAudit(ctx context.Context, ev scheduling.SessionEvent) error {
	details := auditDetails{Role: ev.Actor.Role}
	for _, sess := range ev.Sessions {
		details.SessionIDs = append(details.SessionIDs, sess.ID)
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	row := models.SessionAudit{
		BranchID:    ev.BranchID,
		ClientID:    ev.ClientID,
		ActorUserID: ev.Actor.UserID,
		Action:      string(ev.Kind),
		Summary:     truncate(ev.Summary, 500),
		Details:     datatypes.JSON(raw),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// clientMessages builds the messages a client should receive for ev.
func (s *SessionEventSink) clientMessages(ctx context.Context, ev scheduling.SessionEvent) []messaging.Message {
	var kind, body, ref string
	switch ev.Kind {
	case scheduling.EventEnrolled:
		if len(ev.Sessions) == 0 {
			return nil
		}
		first := ev.Sessions[0]
		kind = messaging.KindOnboarding
		ref = fmt.Sprintf("client:%d", ev.ClientID)
		body = fmt.Sprintf("Welcome! Your %d driving sessions start on %s at %s.",
			len(ev.Sessions), first.SessionDate, first.StartTime)
	case scheduling.EventRescheduled, scheduling.EventSlotAssigned:
		if len(ev.Sessions) != 1 {
			return nil
		}
		sess := ev.Sessions[0]
		kind = messaging.KindSessionRescheduled
		ref = fmt.Sprintf("session:%d:%s:%s", sess.ID, sess.SessionDate, sess.StartTime)
		body = fmt.Sprintf("Your driving session #%d is now on %s at %s.",
			sess.SessionNumber, sess.SessionDate, sess.StartTime)
	default:
		return nil
	}
	return addressClient(ctx, s.db, s.dispatcher, ev.ClientID, messaging.Message{Kind: kind, Reference: ref, Body: body})
}

// addressClient copies base once per channel the client can be reached on.
func addressClient(ctx context.Context, db *gorm.DB, d MessageDispatcher, clientID uint, base messaging.Message) []messaging.Message {
	if clientID == 0 {
		return nil
	}
	var client models.Client
	if err := db.WithContext(ctx).First(&client, clientID).Error; err != nil {
		logrus.WithError(err).WithField("client_id", clientID).Debug("No client row for messaging")
		return nil
	}

	var out []messaging.Message
	if client.WhatsAppOptIn && client.Phone != "" && d.HasChannel(messaging.ChannelWhatsApp) {
		m := base
		m.Channel = messaging.ChannelWhatsApp
		m.Recipient = client.Phone
		out = append(out, m)
	}

	if d.HasChannel(messaging.ChannelLine) {
		var contact models.MessagingContact
		err := db.WithContext(ctx).Where("client_id = ? AND opted_in = ?", clientID, true).First(&contact).Error
		if err == nil {
			m := base
			m.Channel = messaging.ChannelLine
			m.Recipient = contact.LineUserID
			out = append(out, m)
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
