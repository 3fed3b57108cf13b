package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelLine     Channel = "line"
)

// Message kinds
const (
	KindOnboarding         = "onboarding"
	KindPaymentReceipt     = "payment_receipt"
	KindSessionRescheduled = "session_rescheduled"
	KindBulkReschedule     = "bulk_reschedule"
	KindReminder           = "session_reminder"
)

// Dispatch outcomes
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

const defaultKeyTTL = 30 * 24 * time.Hour

// Message is one outbound text. Reference identifies the business object the
// message is about (a client, a payment receipt, a session) and together with
// Kind decides whether the message was already delivered.
type Message struct {
	Channel   Channel `json:"channel"`
	Kind      string  `json:"kind"`
	Reference string  `json:"reference"`
	Recipient string  `json:"recipient"`
	Body      string  `json:"body"`
}

func (m Message) IdempotencyKey() string {
	return strings.Join([]string{m.Kind, m.Reference, string(m.Channel), m.Recipient}, ":")
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// IdempotencyStore remembers which keys were already claimed.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Recorder persists the outcome of a dispatch.
type Recorder interface {
	Record(ctx context.Context, msg Message, res Result)
}

// PermanentError stops the retry loop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type Result struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher delivers messages through the registered channel senders.
type Dispatcher struct {
	senders     map[Channel]Sender
	keys        IdempotencyStore
	recorder    Recorder
	maxAttempts int
	backoff     time.Duration
	keyTTL      time.Duration
	log         logrus.FieldLogger
}

func NewDispatcher(keys IdempotencyStore) *Dispatcher {
	if keys == nil {
		keys = NewMemoryKeys()
	}
	return &Dispatcher{
		senders:     make(map[Channel]Sender),
		keys:        keys,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		keyTTL:      defaultKeyTTL,
		log:         logrus.StandardLogger(),
	}
}

func (d *Dispatcher) Register(ch Channel, s Sender) { d.senders[ch] = s }

func (d *Dispatcher) SetRetry(maxAttempts int, backoff time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	d.maxAttempts = maxAttempts
	d.backoff = backoff
}

func (d *Dispatcher) SetRecorder(r Recorder) { d.recorder = r }

func (d *Dispatcher) SetLogger(l logrus.FieldLogger) { d.log = l }

func (d *Dispatcher) HasChannel(ch Channel) bool {
	_, ok := d.senders[ch]
	return ok
}

// Dispatch sends msg at most once per idempotency key. A message whose key
// was already claimed returns StatusDuplicate without contacting the channel.
// A failed delivery releases the key so a later dispatch can try again.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (Result, error) {
	res := Result{Key: msg.IdempotencyKey()}
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return res, fmt.Errorf("messaging channel %q is not configured", msg.Channel)
	}
	if msg.Recipient == "" {
		return res, fmt.Errorf("message %s has no recipient", res.Key)
	}

	claimed, err := d.keys.Claim(ctx, res.Key, d.keyTTL)
	if err != nil {
		return res, fmt.Errorf("claim idempotency key: %w", err)
	}
	logger := d.log.WithFields(logrus.Fields{"channel": msg.Channel, "kind": msg.Kind, "reference": msg.Reference})
	if !claimed {
		res.Status = StatusDuplicate
		logger.Debug("Message already dispatched, skipping")
		d.record(ctx, msg, res)
		return res, nil
	}

	var sendErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res.Attempts = attempt
		sendErr = sender.Send(ctx, msg)
		if sendErr == nil {
			break
		}
		var perm *PermanentError
		if errors.As(sendErr, &perm) || attempt == d.maxAttempts {
			break
		}
		wait := d.backoff * time.Duration(1<<(attempt-1))
		logger.WithError(sendErr).WithField("attempt", attempt).Warnf("Send failed, retrying in %s", wait)
		if err := sleep(ctx, wait); err != nil {
			sendErr = err
			break
		}
	}

	if sendErr != nil {
		res.Status = StatusFailed
		res.Error = sendErr.Error()
		if err := d.keys.Release(context.Background(), res.Key); err != nil {
			logger.WithError(err).Warn("Failed to release idempotency key")
		}
		logger.WithError(sendErr).WithField("attempts", res.Attempts).Error("Message dispatch failed")
		d.record(ctx, msg, res)
		return res, sendErr
	}

	res.Status = StatusSent
	logger.WithField("attempts", res.Attempts).Info("Message dispatched")
	d.record(ctx, msg, res)
	return res, nil
}

func (d *Dispatcher) record(ctx context.Context, msg Message, res Result) {
	if d.recorder != nil {
		d.recorder.Record(ctx, msg, res)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MemoryKeys is the in-process IdempotencyStore used when Redis is unavailable.
type MemoryKeys struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{keys: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryKeys) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryKeys) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}
