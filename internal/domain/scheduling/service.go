package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
	"github.com/clinicsuite/clinic/internal/platform/reminder"
)

// Directory is the part of the doctor/patient directory scheduling needs.
type Directory interface {
	ActiveDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	CurrentDoctor(ctx context.Context) (*directory.Doctor, error)
	CurrentPatient(ctx context.Context) (*directory.Patient, error)
}

const maxCalendarWindow = 93 * 24 * time.Hour

type Scheduler struct {
	repo   ServiceRepository
	dir    Directory
	tx     db.Transactor
	events *events.Emitter
	clock  clock.Clock
	logger zerolog.Logger
}

func NewScheduler(repo ServiceRepository, dir Directory, tx db.Transactor, em *events.Emitter, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{repo: repo, dir: dir, tx: tx, events: em, clock: clk, logger: logger.With().Str("component", "scheduling").Logger()}
}

type CreateInput struct {
	ServiceType   ServiceType `json:"service_type"`
	ServiceTypeID *uuid.UUID  `json:"service_type_id,omitempty"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	PatientID     *uuid.UUID  `json:"patient_id,omitempty"`
	PatientIDs    []uuid.UUID `json:"patient_ids,omitempty"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       time.Time   `json:"end_time"`
	Notes         *string     `json:"notes,omitempty"`
}

// patients merges patient_id and patient_ids into one de-duplicated set.
func (in CreateInput) patients() []uuid.UUID {
	ids := append([]uuid.UUID{}, in.PatientIDs...)
	if in.PatientID != nil {
		ids = append(ids, *in.PatientID)
	}
	return lo.Uniq(lo.Without(ids, uuid.Nil))
}

// Create validates the input and stores the service with its participants in
// one transaction.
func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*Service, error) {
	svc, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, svc); err != nil {
			return err
		}
		s.events.Emit(ctx, events.New(events.ServiceCreated, svc.ID.String(), map[string]interface{}{
			"type":        svc.Type,
			"doctor_id":   svc.DoctorID,
			"patient_ids": lo.Map(svc.Participants, func(p *Participant, _ int) uuid.UUID { return p.PatientID }),
			"start_time":  svc.StartTime,
			"end_time":    svc.EndTime,
		}, s.clock.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("service_id", svc.ID.String()).Str("type", string(svc.Type)).
		Str("doctor_id", svc.DoctorID.String()).Int("participants", len(svc.Participants)).
		Msg("service created")
	return svc, nil
}

func (s *Scheduler) prepare(ctx context.Context, in CreateInput) (*Service, error) {
	if in.ServiceTypeID != nil {
		def, err := s.repo.GetServiceType(ctx, *in.ServiceTypeID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.Validation("service_type_id %s does not exist", *in.ServiceTypeID)
			}
			return nil, err
		}
		if in.ServiceType == "" {
			in.ServiceType = def.Kind
		} else if in.ServiceType != def.Kind {
			return nil, apperr.Validation("service_type %s does not match service type %q (%s)", in.ServiceType, def.Code, def.Kind)
		}
		if in.EndTime.IsZero() && !in.StartTime.IsZero() && def.DefaultDurationMinutes > 0 {
			in.EndTime = in.StartTime.Add(time.Duration(def.DefaultDurationMinutes) * time.Minute)
		}
	}

	if !in.ServiceType.Valid() {
		return nil, apperr.Validation("service_type must be %s or %s", TypeConsultation, TypeGroupConsultation)
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return nil, apperr.Validation("start_time and end_time are required")
	}
	if !in.StartTime.Before(in.EndTime) {
		return nil, apperr.Validation("start_time must be before end_time")
	}

	patients := in.patients()
	minPatients, maxPatients := in.ServiceType.participantBounds()
	switch {
	case in.ServiceType == TypeConsultation && len(patients) != 1:
		return nil, apperr.Validation("a consultation must have exactly one patient, got %d", len(patients))
	case len(patients) < minPatients:
		return nil, apperr.Validation("a group consultation needs at least %d patient", minPatients)
	case maxPatients > 0 && len(patients) > maxPatients:
		return nil, apperr.Validation("at most %d patients allowed", maxPatients)
	}

	doctor, err := s.dir.ActiveDoctor(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		ID:            uuid.New(),
		ServiceTypeID: in.ServiceTypeID,
		Type:          in.ServiceType,
		DoctorID:      doctor.ID,
		StartTime:     in.StartTime.UTC(),
		EndTime:       in.EndTime.UTC(),
		Status:        StatusScheduled,
		Notes:         in.Notes,
		Doctor: &DoctorSummary{
			ID:             doctor.ID,
			FirstName:      doctor.FirstName,
			LastName:       doctor.LastName,
			Specialization: doctor.Specialization,
		},
	}
	svc.Participants = lo.Map(patients, func(id uuid.UUID, _ int) *Participant {
		return &Participant{PatientID: id, AttendanceStatus: AttendanceExpected}
	})
	return svc, nil
}

func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*Service, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Service, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status %q", *f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Cancel moves a Scheduled service to Cancelled. Any other current status is
// an invalid state, including a concurrent cancel or complete that won.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Service, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("cancel_reason is required")
	}
	return s.transition(ctx, id, StatusCancelled, &reason)
}

// Complete moves a Scheduled service to Completed.
func (s *Scheduler) Complete(ctx context.Context, id uuid.UUID) (*Service, error) {
	return s.transition(ctx, id, StatusCompleted, nil)
}

func (s *Scheduler) transition(ctx context.Context, id uuid.UUID, to Status, reason *string) (*Service, error) {
	var out *Service
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		updated, err := s.repo.Transition(ctx, id, StatusScheduled, to, reason)
		if err != nil {
			return err
		}
		if updated == nil {
			current, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				return apperr.InvalidState("service is already %s", current.Status)
			}
			return apperr.InvalidState("service is %s and cannot become %s", current.Status, to)
		}
		out = updated

		typ := events.ServiceCompleted
		payload := map[string]interface{}{"doctor_id": updated.DoctorID}
		if to == StatusCancelled {
			typ = events.ServiceCancelled
			payload["cancel_reason"] = *reason
		}
		s.events.Emit(ctx, events.New(typ, id.String(), payload, s.clock.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("service_id", id.String()).Str("status", string(to)).Msg("service status changed")
	return out, nil
}

func (s *Scheduler) GetParticipant(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return s.repo.GetParticipant(ctx, id)
}

// RecordAttendance sets a participant's attendance. The participant must
// belong to the service and the service must not be cancelled.
func (s *Scheduler) RecordAttendance(ctx context.Context, serviceID, participantID uuid.UUID, status AttendanceStatus) (*Participant, error) {
	if !status.Recordable() {
		return nil, apperr.Validation("attendance_status must be %s, %s or %s", AttendanceAttended, AttendanceNoShow, AttendanceExcused)
	}

	var out *Participant
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.SetAttendance(ctx, serviceID, participantID, status)
		if err != nil {
			return err
		}
		if p == nil {
			svc, err := s.repo.GetByID(ctx, serviceID)
			if err != nil {
				return err
			}
			if !lo.ContainsBy(svc.Participants, func(p *Participant) bool { return p.ID == participantID }) {
				return apperr.NotFound("participant not found in service")
			}
			return apperr.InvalidState("attendance cannot be recorded for a %s service", svc.Status)
		}
		out = p
		s.events.Emit(ctx, events.New(events.AttendanceRecorded, serviceID.String(), map[string]interface{}{
			"participant_id":    participantID,
			"patient_id":        p.PatientID,
			"attendance_status": status,
		}, s.clock.Now()))
		return nil
	})
	return out, err
}

type CalendarQuery struct {
	From        time.Time
	To          time.Time
	DoctorID    *uuid.UUID
	Status      *Status
	PatientName string
}

// Calendar returns the services overlapping the window as calendar events.
// An empty window defaults to the seven days starting today.
func (s *Scheduler) Calendar(ctx context.Context, q CalendarQuery) ([]CalendarEvent, error) {
	if q.From.IsZero() {
		now := s.clock.Now()
		q.From = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	if q.To.IsZero() {
		q.To = q.From.Add(7 * 24 * time.Hour)
	}
	if !q.From.Before(q.To) {
		return nil, apperr.Validation("from must be before to")
	}
	if q.To.Sub(q.From) > maxCalendarWindow {
		return nil, apperr.Validation("calendar window may span at most %d days", int(maxCalendarWindow.Hours()/24))
	}
	if q.Status != nil && !q.Status.Valid() {
		return nil, apperr.Validation("invalid status %q", *q.Status)
	}

	services, err := s.repo.ListWindow(ctx, q.From, q.To)
	if err != nil {
		return nil, err
	}

	var preds []func(*Service) bool
	if q.DoctorID != nil {
		preds = append(preds, ByDoctor(*q.DoctorID))
	}
	if q.Status != nil {
		preds = append(preds, ByStatus(*q.Status))
	}
	if name := strings.TrimSpace(q.PatientName); name != "" {
		preds = append(preds, ByPatientName(name))
	}

	matched := lo.Filter(services, func(svc *Service, _ int) bool {
		return lo.EveryBy(preds, func(p func(*Service) bool) bool { return p(svc) })
	})
	return lo.Map(matched, func(svc *Service, _ int) CalendarEvent { return toEvent(svc) }), nil
}

func ByDoctor(id uuid.UUID) func(*Service) bool {
	return func(s *Service) bool { return s.DoctorID == id }
}

func ByStatus(st Status) func(*Service) bool {
	return func(s *Service) bool { return s.Status == st }
}

// ByPatientName matches services with a participant whose full name contains
// name, ignoring case.
func ByPatientName(name string) func(*Service) bool {
	needle := strings.ToLower(name)
	return func(s *Service) bool {
		return lo.ContainsBy(s.Participants, func(p *Participant) bool {
			return p.Patient != nil && strings.Contains(strings.ToLower(p.Patient.FullName()), needle)
		})
	}
}

func toEvent(s *Service) CalendarEvent {
	names := lo.FilterMap(s.Participants, func(p *Participant, _ int) (string, bool) {
		if p.Patient == nil {
			return "", false
		}
		return p.Patient.FullName(), true
	})

	title := fmt.Sprintf("Group consultation (%d participants)", len(s.Participants))
	if s.Type == TypeConsultation {
		title = "Consultation"
		if len(names) > 0 {
			title += " with " + names[0]
		}
	}
	if s.Status == StatusCancelled {
		title += " [cancelled]"
	}

	return CalendarEvent{
		ID:           s.ID,
		Start:        s.StartTime,
		End:          s.EndTime,
		Title:        title,
		Type:         s.Type,
		Status:       s.Status,
		DoctorID:     s.DoctorID,
		Participants: names,
	}
}

func (s *Scheduler) ListServiceTypes(ctx context.Context, activeOnly bool) ([]*ServiceTypeDef, error) {
	return s.repo.ListServiceTypes(ctx, activeOnly)
}

func (s *Scheduler) GetServiceType(ctx context.Context, id uuid.UUID) (*ServiceTypeDef, error) {
	return s.repo.GetServiceType(ctx, id)
}

// DueReminders lists one reminder per expected participant of every
// Scheduled service starting in [from, to).
func (s *Scheduler) DueReminders(ctx context.Context, from, to time.Time) ([]reminder.Reminder, error) {
	services, err := s.repo.ListWindow(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var out []reminder.Reminder
	for _, svc := range services {
		if svc.Status != StatusScheduled || svc.StartTime.Before(from) {
			continue
		}
		for _, p := range svc.Participants {
			if p.AttendanceStatus != AttendanceExpected {
				continue
			}
			out = append(out, reminder.Reminder{
				ServiceID:     svc.ID,
				ParticipantID: p.ID,
				PatientID:     p.PatientID,
				DoctorID:      svc.DoctorID,
				StartTime:     svc.StartTime,
			})
		}
	}
	return out, nil
}
