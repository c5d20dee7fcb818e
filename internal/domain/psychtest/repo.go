package psychtest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error)
	// CreateVersion stores questions as the template's next version. The
	// number is allocated while the template row is locked.
	CreateVersion(ctx context.Context, templateID uuid.UUID, questions []Question) (*Version, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*Version, error)
}

type InstanceRepository interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status *InstanceStatus) ([]*Instance, error)
	// Submit stores the responses and stop date unless the instance already
	// has one. It returns nil, nil in that case.
	Submit(ctx context.Context, id uuid.UUID, responses Responses, stoppedAt time.Time) (*Instance, error)
}

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error)
}
