package triage

import (
	"context"

	"github.com/google/uuid"
)

type TriageRepository interface {
	Create(ctx context.Context, t *TriageRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*TriageRecord, error)
	UpdateFinalPriority(ctx context.Context, id uuid.UUID, p Priority, reason *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*TriageRecord, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*TriageRecord, int, error)
}
