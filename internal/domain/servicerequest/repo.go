package servicerequest

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Request, int, error)
	// Transition changes the status only if the request is currently in from,
	// storing rejectionReason and serviceID when given. It returns nil, nil
	// when the request was not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, rejectionReason *string, serviceID *uuid.UUID) (*Request, error)
}
