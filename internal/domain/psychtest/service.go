package psychtest

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
)

type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	CurrentPatient(ctx context.Context) (*directory.Patient, error)
	CurrentDoctor(ctx context.Context) (*directory.Doctor, error)
}

type Service struct {
	templates   TemplateRepository
	instances   InstanceRepository
	assessments AssessmentRepository
	dir         Directory
	tx          db.Transactor
	events      *events.Emitter
	clock       clock.Clock
	logger      zerolog.Logger
}

func NewService(templates TemplateRepository, instances InstanceRepository, assessments AssessmentRepository,
	dir Directory, tx db.Transactor, em *events.Emitter, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		templates:   templates,
		instances:   instances,
		assessments: assessments,
		dir:         dir,
		tx:          tx,
		events:      em,
		clock:       clk,
		logger:      logger.With().Str("component", "psychtest").Logger(),
	}
}

// -- Templates --

type CreateTemplateInput struct {
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Questions   []Question `json:"questionsJson"`
}

// CreateTemplate stores a template together with its first version.
func (s *Service) CreateTemplate(ctx context.Context, in CreateTemplateInput) (*Template, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if err := ValidateQuestions(in.Questions); err != nil {
		return nil, err
	}

	t := &Template{ID: uuid.New(), Name: in.Name, Description: in.Description}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.templates.CreateTemplate(ctx, t); err != nil {
			return err
		}
		v, err := s.templates.CreateVersion(ctx, t.ID, in.Questions)
		if err != nil {
			return err
		}
		t.LatestVersion = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// AddVersion stores a new question set under the next version number.
// Earlier versions stay untouched.
func (s *Service) AddVersion(ctx context.Context, templateID uuid.UUID, questions []Question) (*Version, error) {
	if err := ValidateQuestions(questions); err != nil {
		return nil, err
	}
	v, err := s.templates.CreateVersion(ctx, templateID, questions)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("template_id", templateID.String()).Int("version", v.Version).Msg("test template versioned")
	return v, nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.templates.GetTemplate(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.templates.ListTemplates(ctx, limit, offset)
}

// -- Instances --

type AssignInput struct {
	PatientID             uuid.UUID `json:"patient_id"`
	TestTemplateVersionID uuid.UUID `json:"test_template_version_id"`
}

// Assign gives a patient a test version to fill in. The test starts now.
func (s *Service) Assign(ctx context.Context, in AssignInput) (*Instance, error) {
	if in.PatientID == uuid.Nil || in.TestTemplateVersionID == uuid.Nil {
		return nil, apperr.Validation("patient_id and test_template_version_id are required")
	}
	if _, err := s.dir.GetPatient(ctx, in.PatientID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("patient %s does not exist", in.PatientID)
		}
		return nil, err
	}
	v, err := s.templates.GetVersion(ctx, in.TestTemplateVersionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("test template version %s does not exist", in.TestTemplateVersionID)
		}
		return nil, err
	}

	// Admins without a doctor profile may assign too.
	var assignedBy *uuid.UUID
	if d, err := s.dir.CurrentDoctor(ctx); err == nil {
		assignedBy = &d.ID
	} else if !auth.HasAnyRole(ctx, auth.RoleAdmin) {
		return nil, err
	}

	now := s.clock.Now()
	inst := &Instance{
		ID:                uuid.New(),
		PatientID:         in.PatientID,
		TemplateVersionID: v.ID,
		AssignedBy:        assignedBy,
		TestStartDate:     &now,
		Version:           v.Version,
		Questions:         v.Questions,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.instances.Create(ctx, inst); err != nil {
			return err
		}
		s.events.Emit(ctx, events.New(events.TestAssigned, inst.ID.String(), map[string]interface{}{
			"patient_id":               inst.PatientID,
			"test_template_version_id": inst.TemplateVersionID,
		}, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("instance_id", inst.ID.String()).Str("patient_id", inst.PatientID.String()).Msg("test assigned")
	return inst, nil
}

// Get returns an instance; patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Instance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, inst.PatientID); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) authorizeOwner(ctx context.Context, patientID uuid.UUID) error {
	if auth.IsStaff(ctx) {
		return nil
	}
	me, err := s.dir.CurrentPatient(ctx)
	if err != nil {
		return err
	}
	if me.ID != patientID {
		return apperr.NotFound("test instance not found")
	}
	return nil
}

// Submit records the patient's answers once. A completed instance rejects
// any further submission before its payload is looked at.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, responses Responses) (*Instance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.HasAnyRole(ctx, auth.RoleAdmin) {
		me, err := s.dir.CurrentPatient(ctx)
		if err != nil {
			return nil, err
		}
		if me.ID != inst.PatientID {
			return nil, apperr.Forbidden("only the assigned patient can submit this test")
		}
	}
	if inst.TestStopDate != nil {
		return nil, apperr.InvalidState("test was already submitted")
	}
	if err := ValidateResponses(inst.Questions, responses); err != nil {
		return nil, err
	}

	var out *Instance
	now := s.clock.Now()
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		updated, err := s.instances.Submit(ctx, id, responses, now)
		if err != nil {
			return err
		}
		if updated == nil {
			return apperr.InvalidState("test was already submitted")
		}
		out = updated
		s.events.Emit(ctx, events.New(events.TestSubmitted, id.String(), map[string]interface{}{
			"patient_id": updated.PatientID,
		}, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("instance_id", id.String()).Msg("test submitted")
	return out, nil
}

func (s *Service) ListMine(ctx context.Context, status *InstanceStatus) ([]*Instance, error) {
	me, err := s.dir.CurrentPatient(ctx)
	if err != nil {
		return nil, err
	}
	return s.instances.ListByPatient(ctx, me.ID, status)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, status *InstanceStatus) ([]*Instance, error) {
	if err := s.authorizeOwner(ctx, patientID); err != nil {
		return nil, err
	}
	return s.instances.ListByPatient(ctx, patientID, status)
}

// -- Initial assessment --

func (s *Service) InitialForm() Form {
	return InitialForm()
}

// SubmitAssessment scores the current patient's initial assessment and keeps
// the result.
func (s *Service) SubmitAssessment(ctx context.Context, responses map[string]string) (*Assessment, error) {
	me, err := s.dir.CurrentPatient(ctx)
	if err != nil {
		return nil, err
	}
	subscales, total, maxScore, err := Score(InitialForm(), responses)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		ID:             uuid.New(),
		PatientID:      me.ID,
		Responses:      responses,
		Subscales:      subscales,
		TotalScore:     total,
		MaxScore:       maxScore,
		Interpretation: Interpret(total, maxScore),
		SubmittedAt:    s.clock.Now(),
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.assessments.Create(ctx, a); err != nil {
			return err
		}
		s.events.Emit(ctx, events.New(events.AssessmentScored, a.ID.String(), map[string]interface{}{
			"patient_id":     a.PatientID,
			"total_score":    a.TotalScore,
			"interpretation": a.Interpretation,
		}, a.SubmittedAt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", me.ID.String()).Int("total", total).
		Str("interpretation", string(a.Interpretation)).Msg("initial assessment scored")
	return a, nil
}

// Results lists assessments newest first. A nil patientID means the caller's
// own results.
func (s *Service) Results(ctx context.Context, patientID *uuid.UUID) ([]*Assessment, error) {
	if patientID == nil {
		me, err := s.dir.CurrentPatient(ctx)
		if err != nil {
			return nil, err
		}
		return s.assessments.ListByPatient(ctx, me.ID)
	}
	if err := s.authorizeOwner(ctx, *patientID); err != nil {
		return nil, err
	}
	return s.assessments.ListByPatient(ctx, *patientID)
}
