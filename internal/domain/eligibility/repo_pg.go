package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/db"
	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

type repoPG struct {
	q   db.Querier
	enc *hipaa.PHIEncryptor
}

// NewRepoPG stores checks in eligibility_check. With a nil encryptor the
// raw payer response is not stored at all.
func NewRepoPG(q db.Querier, enc *hipaa.PHIEncryptor) Repository {
	return &repoPG{q: q, enc: enc}
}

const checkCols = `id, patient_id, provider_npi, control_number, coverage_status,
	plan_name, copay, deductible, out_of_pocket_max, check_date`

func (r *repoPG) scanRow(row pgx.Row) (*Result, error) {
	var e Result
	err := row.Scan(&e.ID, &e.PatientID, &e.ProviderNPI, &e.ControlNumber, &e.Status,
		&e.PlanName, &e.Copay, &e.Deductible, &e.OOPMax, &e.CheckDate)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Result) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var sealed []byte
	if r.enc != nil && e.RawResponse != nil {
		var err error
		if sealed, err = r.enc.SealJSON(e.RawResponse, e.ID.String()); err != nil {
			return fmt.Errorf("eligibility: seal response: %w", err)
		}
	}
	_, err := db.QuerierFromContext(ctx, r.q).Exec(ctx, `
		INSERT INTO eligibility_check (id, patient_id, provider_npi, control_number, coverage_status,
			plan_name, copay, deductible, out_of_pocket_max, response_sealed, check_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.PatientID, e.ProviderNPI, e.ControlNumber, e.Status,
		e.PlanName, e.Copay, e.Deductible, e.OOPMax, sealed, e.CheckDate)
	if err != nil {
		return fmt.Errorf("eligibility: insert: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Result, error) {
	rows, err := db.QuerierFromContext(ctx, r.q).Query(ctx,
		`SELECT `+checkCols+` FROM eligibility_check WHERE patient_id = $1 ORDER BY check_date DESC LIMIT $2`,
		patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("eligibility: history: %w", err)
	}
	defer rows.Close()
	items := []*Result{}
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("eligibility: history scan: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) RawResponse(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	var sealed []byte
	err := db.QuerierFromContext(ctx, r.q).QueryRow(ctx,
		`SELECT response_sealed FROM eligibility_check WHERE id = $1`, id).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCheckNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eligibility: raw response: %w", err)
	}
	if sealed == nil || r.enc == nil {
		return nil, ErrCheckNotFound
	}
	out := map[string]any{}
	if err := r.enc.OpenJSON(sealed, id.String(), &out); err != nil {
		return nil, fmt.Errorf("eligibility: open response: %w", err)
	}
	return out, nil
}

func (r *repoPG) Metrics(ctx context.Context, since time.Time) (*Metrics, error) {
	var m Metrics
	err := db.QuerierFromContext(ctx, r.q).QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT patient_id),
			COUNT(*) FILTER (WHERE coverage_status = 'active'),
			COUNT(*) FILTER (WHERE coverage_status = 'inactive'),
			COUNT(*) FILTER (WHERE coverage_status = 'unknown')
		FROM eligibility_check
		WHERE check_date > $1`, since).
		Scan(&m.TotalChecks, &m.UniquePatients, &m.ActiveCoverage, &m.InactiveCoverage, &m.UnknownCoverage)
	if err != nil {
		return nil, fmt.Errorf("eligibility: metrics: %w", err)
	}
	return &m, nil
}

func (r *repoPG) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.QuerierFromContext(ctx, r.q).Exec(ctx,
		`DELETE FROM eligibility_check WHERE check_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eligibility: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
