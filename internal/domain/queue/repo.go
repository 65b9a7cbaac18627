package queue

import (
	"context"

	"github.com/google/uuid"
)

type VisitRepository interface {
	// Create inserts the visit together with its first status change.
	Create(ctx context.Context, v *Visit, first *StatusChange) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// UpdateStatus moves a visit from change.FromStatus to change.ToStatus and
	// records the change. It fails with pgx.ErrNoRows when the visit is gone
	// or no longer in FromStatus.
	UpdateStatus(ctx context.Context, change *StatusChange) error
	AssignRoom(ctx context.Context, id uuid.UUID, room string) error
	// UpdatePriorityByTriage re-ranks the active visit admitted from the
	// given triage record. It fails with pgx.ErrNoRows when there is none.
	UpdatePriorityByTriage(ctx context.Context, triageRecordID uuid.UUID, priority int) (*Visit, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context) ([]*Visit, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error)
	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusChange, error)
}
