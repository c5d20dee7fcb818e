package notice

import (
	"context"
	"fmt"
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

// Participants resolves service participants for the membership check.
type Participants interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*scheduling.Participant, error)
}

type Directory interface {
	CurrentDoctor(ctx context.Context) (*directory.Doctor, error)
	CurrentPatient(ctx context.Context) (*directory.Patient, error)
}

// maxNumberAttempts bounds how many sequence values GenerateNumber skips
// over when they collide with manually entered numbers.
const maxNumberAttempts = 10

type Service struct {
	repo         Repository
	participants Participants
	dir          Directory
	tx           db.Transactor
	events       *events.Emitter
	clock        clock.Clock
	logger       zerolog.Logger
	prefix       string
}

func NewService(repo Repository, participants Participants, dir Directory, tx db.Transactor,
	em *events.Emitter, clk clock.Clock, logger zerolog.Logger, prefix string) *Service {
	return &Service{
		repo:         repo,
		participants: participants,
		dir:          dir,
		tx:           tx,
		events:       em,
		clock:        clk,
		logger:       logger.With().Str("component", "notice").Logger(),
		prefix:       prefix,
	}
}

type CreateInput struct {
	ServiceID          uuid.UUID  `json:"service_id"`
	ParticipantID      uuid.UUID  `json:"participant_id"`
	IssueDate          *time.Time `json:"issue_date,omitempty"`
	UniqueNoticeNumber *string    `json:"unique_notice_number,omitempty"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
	ReasonForIssuance  *string    `json:"reason_for_issuance,omitempty"`
	FitnessStatus      *string    `json:"fitness_status,omitempty"`
	Recommendations    *string    `json:"recommendations,omitempty"`
	AttachmentPath     *string    `json:"attachment_path,omitempty"`
}

// Create issues a notice for a participant of a service. Without an explicit
// number one is drawn from the sequence in the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Notice, error) {
	if in.ServiceID == uuid.Nil || in.ParticipantID == uuid.Nil {
		return nil, apperr.Validation("service_id and participant_id are required")
	}
	p, err := s.participants.GetParticipant(ctx, in.ParticipantID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("participant %s does not exist", in.ParticipantID)
		}
		return nil, err
	}
	if p.ServiceID != in.ServiceID {
		return nil, apperr.Validation("participant %s does not belong to service %s", in.ParticipantID, in.ServiceID)
	}

	now := s.clock.Now()
	issue := now
	if in.IssueDate != nil {
		issue = *in.IssueDate
	}
	if in.ExpiryDate != nil && in.ExpiryDate.Before(issue) {
		return nil, apperr.Validation("expiry_date must not be before issue_date")
	}
	if in.UniqueNoticeNumber != nil {
		num := strings.TrimSpace(*in.UniqueNoticeNumber)
		if num == "" {
			in.UniqueNoticeNumber = nil
		} else {
			in.UniqueNoticeNumber = &num
		}
	}

	var issuedBy *uuid.UUID
	if d, err := s.dir.CurrentDoctor(ctx); err == nil {
		issuedBy = &d.ID
	} else if !auth.HasAnyRole(ctx, auth.RoleAdmin) {
		return nil, err
	}

	n := &Notice{
		ID:                 uuid.New(),
		ServiceID:          in.ServiceID,
		ParticipantID:      in.ParticipantID,
		PatientID:          p.PatientID,
		IssueDate:          issue,
		UniqueNoticeNumber: in.UniqueNoticeNumber,
		ExpiryDate:         in.ExpiryDate,
		ReasonForIssuance:  in.ReasonForIssuance,
		FitnessStatus:      in.FitnessStatus,
		Recommendations:    in.Recommendations,
		AttachmentPath:     in.AttachmentPath,
		IssuedBy:           issuedBy,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if n.UniqueNoticeNumber == nil {
			num, err := s.GenerateNumber(ctx)
			if err != nil {
				return err
			}
			n.UniqueNoticeNumber = &num
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return err
		}
		s.events.Emit(ctx, events.New(events.NoticeIssued, n.ID.String(), map[string]interface{}{
			"service_id":           n.ServiceID,
			"participant_id":       n.ParticipantID,
			"unique_notice_number": *n.UniqueNoticeNumber,
		}, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.Valid = n.ValidAt(now)
	s.logger.Info().Str("notice_id", n.ID.String()).Str("number", *n.UniqueNoticeNumber).Msg("notice issued")
	return n, nil
}

// GenerateNumber reserves a notice number of the form PREFIX-YEAR-NNNNNN.
// Sequence values are never reused, so two callers cannot receive the same
// number; values that collide with manually entered numbers are skipped.
func (s *Service) GenerateNumber(ctx context.Context) (string, error) {
	year := s.clock.Now().Year()
	for i := 0; i < maxNumberAttempts; i++ {
		seq, err := s.repo.NextSequence(ctx)
		if err != nil {
			return "", err
		}
		num := fmt.Sprintf("%s-%d-%06d", s.prefix, year, seq)
		taken, err := s.repo.NumberTaken(ctx, num)
		if err != nil {
			return "", err
		}
		if !taken {
			return num, nil
		}
	}
	return "", apperr.Conflict("could not reserve a free notice number")
}

// Get returns a notice with its validity. Patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notice, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsStaff(ctx) {
		me, err := s.dir.CurrentPatient(ctx)
		if err != nil {
			return nil, err
		}
		if me.ID != n.PatientID {
			return nil, apperr.NotFound("notice not found")
		}
	}
	n.Valid = n.ValidAt(s.clock.Now())
	return n, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notice, int, error) {
	if !auth.IsStaff(ctx) {
		me, err := s.dir.CurrentPatient(ctx)
		if err != nil {
			return nil, 0, err
		}
		f.PatientID = &me.ID
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.clock.Now()
	for _, n := range items {
		n.Valid = n.ValidAt(now)
	}
	return items, total, nil
}
