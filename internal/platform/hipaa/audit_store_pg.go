package hipaa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/db"
)

// PGAuditStore stores audit events in the audit_event table.
type PGAuditStore struct {
	q db.Querier
}

func NewPGAuditStore(q db.Querier) *PGAuditStore {
	return &PGAuditStore{q: q}
}

const auditColumns = `id, event_type, actor_id, patient_ref, action, outcome, details, checksum, recorded`

func (s *PGAuditStore) Insert(ctx context.Context, e *AuditEvent) error {
	q := db.QuerierFromContext(ctx, s.q)
	_, err := q.Exec(ctx, `
		INSERT INTO audit_event (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.EventType, e.ActorID, nullable(e.PatientRef), e.Action, e.Outcome,
		e.Details, e.Checksum, e.Recorded,
	)
	return err
}

func (s *PGAuditStore) Get(ctx context.Context, id uuid.UUID) (*AuditEvent, error) {
	q := db.QuerierFromContext(ctx, s.q)
	row := q.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_event WHERE id = $1`, id)
	e, err := scanAuditEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuditEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hipaa audit: get: %w", err)
	}
	return e, nil
}

func (s *PGAuditStore) Search(ctx context.Context, f AuditFilter) ([]*AuditEvent, int, error) {
	q := db.QuerierFromContext(ctx, s.q)

	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.PatientRef != "" {
		add("patient_ref = $%d", f.PatientRef)
	}
	if f.Since != nil {
		add("recorded >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("recorded <= $%d", *f.Until)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_event`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("hipaa audit: count: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM audit_event%s ORDER BY recorded DESC LIMIT $%d OFFSET $%d`,
		auditColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("hipaa audit: search: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("hipaa audit: scan: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (s *PGAuditStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := db.QuerierFromContext(ctx, s.q)
	tag, err := q.Exec(ctx, `DELETE FROM audit_event WHERE recorded < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("hipaa audit: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAuditEvent(row pgx.Row) (*AuditEvent, error) {
	var e AuditEvent
	var patientRef *string
	if err := row.Scan(&e.ID, &e.EventType, &e.ActorID, &patientRef, &e.Action, &e.Outcome,
		&e.Details, &e.Checksum, &e.Recorded); err != nil {
		return nil, err
	}
	if patientRef != nil {
		e.PatientRef = *patientRef
	}
	e.Recorded = e.Recorded.UTC()
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
