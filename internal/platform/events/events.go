// Package events publishes domain events after the state change they
// describe has been committed.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/platform/db"
)

const (
	ServiceCreated     = "service.created"
	ServiceCancelled   = "service.cancelled"
	ServiceCompleted   = "service.completed"
	ServiceReminder    = "service.reminder"
	AttendanceRecorded = "service.attendance_recorded"
	RequestCreated     = "request.created"
	RequestApproved    = "request.approved"
	RequestRejected    = "request.rejected"
	RequestScheduled   = "request.scheduled"
	TestAssigned       = "test.assigned"
	TestSubmitted      = "test.submitted"
	AssessmentScored   = "assessment.scored"
	NoticeIssued       = "notice.issued"
)

type Event struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Payload     interface{} `json:"payload,omitempty"`
}

func New(typ, aggregateID string, payload interface{}, at time.Time) Event {
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		AggregateID: aggregateID,
		OccurredAt:  at.UTC(),
		Payload:     payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emitter queues events on the current unit of work. They are handed to the
// publisher once the outermost transaction commits and dropped if it rolls
// back. Delivery failures are logged; the committed change stands.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.pub == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	db.AfterCommit(ctx, func() {
		pctx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		if err := e.pub.Publish(pctx, ev); err != nil {
			e.logger.Error().Err(err).
				Str("event_type", ev.Type).
				Str("aggregate_id", ev.AggregateID).
				Msg("publish event")
		}
	})
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.Type).
		Str("aggregate_id", ev.AggregateID).
		Interface("payload", ev.Payload).
		Msg("domain event")
	return nil
}

// Topic is the part of the event type before the first dot, e.g. "service".
func (ev Event) Topic() string {
	topic, _, _ := strings.Cut(ev.Type, ".")
	return topic
}

// Fanout delivers every event to each publisher in turn. All publishers are
// tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
