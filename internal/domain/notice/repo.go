package notice

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create fails with a conflict when the notice number is already taken.
	Create(ctx context.Context, n *Notice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notice, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notice, int, error)
	// NextSequence draws the next value of the notice number sequence. Values
	// are never handed out twice.
	NextSequence(ctx context.Context) (int64, error)
	NumberTaken(ctx context.Context, number string) (bool, error)
}
