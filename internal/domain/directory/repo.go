package directory

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error)
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	// Search matches name as a case-insensitive substring of first or last name.
	Search(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error)
}
