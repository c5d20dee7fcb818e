package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ServiceRepository interface {
	// Create inserts the service and one participant row per entry in
	// s.Participants. Callers run it inside a unit of work.
	Create(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Service, int, error)
	// ListWindow returns services overlapping [from, to) ordered by start.
	ListWindow(ctx context.Context, from, to time.Time) ([]*Service, error)
	// Transition moves the service from one status to another in a single
	// conditional write. It returns nil, nil when the service was not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, cancelReason *string) (*Service, error)

	GetParticipant(ctx context.Context, id uuid.UUID) (*Participant, error)
	// SetAttendance updates the participant unless its service is cancelled.
	// It returns nil, nil when no row qualified.
	SetAttendance(ctx context.Context, serviceID, participantID uuid.UUID, status AttendanceStatus) (*Participant, error)

	ListServiceTypes(ctx context.Context, activeOnly bool) ([]*ServiceTypeDef, error)
	GetServiceType(ctx context.Context, id uuid.UUID) (*ServiceTypeDef, error)
}
