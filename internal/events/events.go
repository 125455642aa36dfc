package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/tokenguard/internal/logger"
	"github.com/avasiliev/tokenguard/internal/models"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// Structured security fact emitted by the engine and the revocation controller
// Downstream alerting decides how to store or display it
type Event struct {
	At            time.Time
	Severity      Severity
	UserID        uuid.UUID
	Family        uuid.UUID
	Reason        models.RevokeReason
	TokensRevoked int64
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink drops every event
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to the application log
type LogSink struct {
	l logger.Logger
}

func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{l: l}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	log := s.l.Info
	if e.Severity == SeverityCritical {
		log = s.l.Warn
	}

	log("security event",
		"severity", string(e.Severity),
		"user_id", e.UserID.String(),
		"family", e.Family.String(),
		"reason", string(e.Reason),
		"tokens_revoked", e.TokensRevoked,
	)
}

// Recorder keeps emitted events in memory, for tests
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
