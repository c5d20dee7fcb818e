package servicerequest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
)

// Scheduler creates the service an approved request turns into.
type Scheduler interface {
	GetServiceType(ctx context.Context, id uuid.UUID) (*scheduling.ServiceTypeDef, error)
	Create(ctx context.Context, in scheduling.CreateInput) (*scheduling.Service, error)
}

type Directory interface {
	ActiveDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	CurrentPatient(ctx context.Context) (*directory.Patient, error)
}

type Service struct {
	repo      Repository
	scheduler Scheduler
	dir       Directory
	tx        db.Transactor
	events    *events.Emitter
	clock     clock.Clock
	logger    zerolog.Logger
}

func NewService(repo Repository, scheduler Scheduler, dir Directory, tx db.Transactor, em *events.Emitter, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		dir:       dir,
		tx:        tx,
		events:    em,
		clock:     clk,
		logger:    logger.With().Str("component", "servicerequest").Logger(),
	}
}

type CreateInput struct {
	// PatientID is only honoured for staff; patients always request for
	// themselves.
	PatientID         *uuid.UUID    `json:"patient_id,omitempty"`
	ServiceTypeID     uuid.UUID     `json:"service_type_id"`
	PreferredDoctorID *uuid.UUID    `json:"preferred_doctor_id,omitempty"`
	PreferredDate1    Date          `json:"preferred_date_1"`
	PreferredDate2    *Date         `json:"preferred_date_2,omitempty"`
	PreferredDate3    *Date         `json:"preferred_date_3,omitempty"`
	PreferredTime     PreferredTime `json:"preferred_time"`
	Reason            string        `json:"reason"`
	Urgent            bool          `json:"urgent"`
	AdditionalNotes   *string       `json:"additional_notes,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Request, error) {
	patientID, err := s.requester(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if !in.PreferredTime.Valid() {
		return nil, apperr.Validation("preferred_time must be %s, %s or %s", TimeMorning, TimeAfternoon, TimeEvening)
	}
	if in.PreferredDate1.IsZero() {
		return nil, apperr.Validation("preferred_date_1 is required")
	}
	today := NewDate(s.clock.Now())
	for i, d := range []*Date{&in.PreferredDate1, in.PreferredDate2, in.PreferredDate3} {
		if d != nil && !d.IsZero() && d.Before(today.Time) {
			return nil, apperr.Validation("preferred_date_%d must not be in the past", i+1)
		}
	}

	if in.ServiceTypeID == uuid.Nil {
		return nil, apperr.Validation("service_type_id is required")
	}
	def, err := s.scheduler.GetServiceType(ctx, in.ServiceTypeID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("service type %s does not exist", in.ServiceTypeID)
		}
		return nil, err
	}
	if !def.Active {
		return nil, apperr.Validation("service type %q is not offered", def.Name)
	}
	if in.PreferredDoctorID != nil {
		if _, err := s.dir.ActiveDoctor(ctx, *in.PreferredDoctorID); err != nil {
			return nil, err
		}
	}

	req := &Request{
		ID:                uuid.New(),
		PatientID:         patientID,
		ServiceTypeID:     def.ID,
		PreferredDoctorID: in.PreferredDoctorID,
		PreferredDate1:    in.PreferredDate1,
		PreferredDate2:    in.PreferredDate2,
		PreferredDate3:    in.PreferredDate3,
		PreferredTime:     in.PreferredTime,
		Reason:            in.Reason,
		Urgent:            in.Urgent,
		AdditionalNotes:   in.AdditionalNotes,
		Status:            StatusPending,
		ServiceTypeName:   def.Name,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, req); err != nil {
			return err
		}
		s.events.Emit(ctx, events.New(events.RequestCreated, req.ID.String(), map[string]interface{}{
			"patient_id":      req.PatientID,
			"service_type_id": req.ServiceTypeID,
			"urgent":          req.Urgent,
			"preferred_dates": req.PreferredDates(),
		}, s.clock.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", req.ID.String()).Str("patient_id", patientID.String()).
		Bool("urgent", req.Urgent).Msg("service request created")
	return req, nil
}

// requester resolves whose request is being filed.
func (s *Service) requester(ctx context.Context, requested *uuid.UUID) (uuid.UUID, error) {
	if auth.IsStaff(ctx) {
		if requested == nil || *requested == uuid.Nil {
			return uuid.Nil, apperr.Validation("patient_id is required")
		}
		p, err := s.dir.GetPatient(ctx, *requested)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return uuid.Nil, apperr.Validation("patient %s does not exist", *requested)
			}
			return uuid.Nil, err
		}
		return p.ID, nil
	}

	me, err := s.dir.CurrentPatient(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if requested != nil && *requested != me.ID {
		return uuid.Nil, apperr.Forbidden("patients may only request services for themselves")
	}
	return me.ID, nil
}

// Get returns a request; patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsStaff(ctx) {
		me, err := s.dir.CurrentPatient(ctx)
		if err != nil {
			return nil, err
		}
		if req.PatientID != me.ID {
			return nil, apperr.NotFound("service request not found")
		}
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Request, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status %q", *f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) ListMine(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	me, err := s.dir.CurrentPatient(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, ListFilter{PatientID: &me.ID}, limit, offset)
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.transition(ctx, id, StatusPending, StatusApproved, nil, nil)
}

// Reject requires a non-empty reason, checked before the request state.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection_reason is required")
	}
	return s.transition(ctx, id, StatusPending, StatusRejected, &reason, nil)
}

var transitionEvents = map[Status]string{
	StatusApproved:  events.RequestApproved,
	StatusRejected:  events.RequestRejected,
	StatusScheduled: events.RequestScheduled,
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, reason *string, serviceID *uuid.UUID) (*Request, error) {
	var out *Request
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		updated, err := s.repo.Transition(ctx, id, from, to, reason, serviceID)
		if err != nil {
			return err
		}
		if updated == nil {
			current, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			return apperr.InvalidState("service request is %s and cannot become %s", current.Status, to)
		}
		out = updated

		payload := map[string]interface{}{"patient_id": updated.PatientID}
		if reason != nil {
			payload["rejection_reason"] = *reason
		}
		if serviceID != nil {
			payload["service_id"] = *serviceID
		}
		s.events.Emit(ctx, events.New(transitionEvents[to], id.String(), payload, s.clock.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", id.String()).Str("status", string(to)).Msg("service request status changed")
	return out, nil
}

type ScheduleInput struct {
	// DoctorID defaults to the request's preferred doctor.
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	// PatientIDs adds further participants to a group consultation.
	PatientIDs []uuid.UUID `json:"patient_ids,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
}

// Schedule turns an approved request into a service and marks the request
// scheduled. Both writes commit together or not at all.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, in ScheduleInput) (*Request, *scheduling.Service, error) {
	var req *Request
	var svc *scheduling.Service
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(StatusScheduled) {
			return apperr.InvalidState("service request is %s; only approved requests can be scheduled", current.Status)
		}

		doctorID := in.DoctorID
		if doctorID == nil {
			doctorID = current.PreferredDoctorID
		}
		if doctorID == nil {
			return apperr.Validation("doctor_id is required when the request has no preferred doctor")
		}
		def, err := s.scheduler.GetServiceType(ctx, current.ServiceTypeID)
		if err != nil {
			return err
		}
		if def.Kind == scheduling.TypeConsultation && len(in.PatientIDs) > 0 {
			return apperr.Validation("patient_ids can only be given for a group consultation")
		}

		svc, err = s.scheduler.Create(ctx, scheduling.CreateInput{
			ServiceType:   def.Kind,
			ServiceTypeID: &def.ID,
			DoctorID:      *doctorID,
			PatientID:     &current.PatientID,
			PatientIDs:    in.PatientIDs,
			StartTime:     in.StartTime,
			EndTime:       in.EndTime,
			Notes:         in.Notes,
		})
		if err != nil {
			return err
		}

		req, err = s.transition(ctx, id, StatusApproved, StatusScheduled, nil, &svc.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return req, svc, nil
}
