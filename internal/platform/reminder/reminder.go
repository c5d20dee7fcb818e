// Package reminder periodically publishes service.reminder events for
// upcoming services.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/events"
)

// Reminder is one participant to remind about one upcoming service.
type Reminder struct {
	ServiceID     uuid.UUID `json:"service_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	StartTime     time.Time `json:"start_time"`
}

// Source lists the reminders due for services starting in [from, to).
type Source interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]Reminder, error)
}

// DefaultLookahead is how far ahead a run looks for services.
const DefaultLookahead = 24 * time.Hour

type Job struct {
	source    Source
	publisher events.Publisher
	clock     clock.Clock
	logger    zerolog.Logger
	lookahead time.Duration

	mu   sync.Mutex
	cron *cron.Cron
	// sent remembers delivered reminders so overlapping windows do not
	// remind twice. Entries are dropped once their service has started.
	sent map[uuid.UUID]time.Time
}

func NewJob(src Source, pub events.Publisher, clk clock.Clock, logger zerolog.Logger, lookahead time.Duration) *Job {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Job{
		source:    src,
		publisher: pub,
		clock:     clk,
		logger:    logger.With().Str("component", "reminder").Logger(),
		lookahead: lookahead,
		sent:      make(map[uuid.UUID]time.Time),
	}
}

// RunOnce publishes a reminder for every due participant not reminded yet and
// returns how many were published.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	now := j.clock.Now()
	due, err := j.source.DueReminders(ctx, now, now.Add(j.lookahead))
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for id, start := range j.sent {
		if !start.After(now) {
			delete(j.sent, id)
		}
	}

	published := 0
	for _, r := range due {
		if _, ok := j.sent[r.ParticipantID]; ok {
			continue
		}
		ev := events.New(events.ServiceReminder, r.ServiceID.String(), r, now)
		if err := j.publisher.Publish(ctx, ev); err != nil {
			j.logger.Error().Err(err).Str("service_id", r.ServiceID.String()).
				Str("participant_id", r.ParticipantID.String()).Msg("publish reminder")
			continue
		}
		j.sent[r.ParticipantID] = r.StartTime
		published++
	}
	return published, nil
}

// Start schedules RunOnce on the given cron spec (five-field standard syntax).
func (j *Job) Start(spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("reminder job already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := j.RunOnce(ctx)
		if err != nil {
			j.logger.Error().Err(err).Msg("reminder run failed")
			return
		}
		j.logger.Info().Int("published", n).Msg("reminder run finished")
	})
	if err != nil {
		return fmt.Errorf("schedule reminders %q: %w", spec, err)
	}
	c.Start()
	j.cron = c
	j.logger.Info().Str("schedule", spec).Msg("reminder job started")
	return nil
}

// Stop halts scheduling and waits for a running job to finish or ctx to end.
func (j *Job) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
