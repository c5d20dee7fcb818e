package directory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
)

type Service struct {
	doctors  DoctorRepository
	patients PatientRepository
}

func NewService(doctors DoctorRepository, patients PatientRepository) *Service {
	return &Service{doctors: doctors, patients: patients}
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, activeOnly, limit, offset)
}

// ActiveDoctor returns the doctor with the given id, or a validation error if
// there is none or the doctor is no longer active.
func (s *Service) ActiveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if id == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("doctor %s does not exist", id)
		}
		return nil, err
	}
	if !d.Active {
		return nil, apperr.Validation("doctor %s is not active", id)
	}
	return d, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, strings.TrimSpace(name), limit, offset)
}

// CurrentDoctor resolves the doctor profile of the authenticated user.
func (s *Service) CurrentDoctor(ctx context.Context) (*Doctor, error) {
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.doctors.GetByUserID(ctx, p.UserID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Forbidden("current user has no doctor profile")
	}
	return d, err
}

// CurrentPatient resolves the patient record of the authenticated user.
func (s *Service) CurrentPatient(ctx context.Context) (*Patient, error) {
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return nil, err
	}
	pt, err := s.patients.GetByUserID(ctx, p.UserID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Forbidden("current user has no patient record")
	}
	return pt, err
}

// AuthorizePatient lets staff through and restricts patients to their own
// record.
func (s *Service) AuthorizePatient(ctx context.Context, patientID uuid.UUID) error {
	if auth.IsStaff(ctx) {
		return nil
	}
	me, err := s.CurrentPatient(ctx)
	if err != nil {
		return err
	}
	if me.ID != patientID {
		return apperr.Forbidden("patients may only access their own records")
	}
	return nil
}
