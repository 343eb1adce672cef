package eligibility

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Result) error
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*Result, error)
	RawResponse(ctx context.Context, id uuid.UUID) (map[string]any, error)
	Metrics(ctx context.Context, since time.Time) (*Metrics, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
