package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID serializes migrators across replicas starting together.
const migrationLockID = 0x766f696365 // "voice"

var ErrDuplicateVersion = errors.New("db: duplicate migration version")

// Migration is one numbered SQL file, e.g. 002_eligibility_check.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Modified is set when an applied file no longer matches the checksum
	// recorded at apply time.
	Modified bool
}

type appliedRow struct {
	checksum  string
	appliedAt time.Time
}

// Migrator applies the numbered SQL files in fsys. The service passes the
// embedded migrations.FS; `migrate --dir` swaps in os.DirFS.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// Load reads every NNN_name.sql file at the root of the filesystem, in
// version order. Other files are ignored; two files with one version are an
// error.
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("db: read migrations: %w", err)
	}
	var out []Migration
	seen := map[int]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicateVersion, version, prev, name)
		}
		seen[version] = name

		body, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("db: read %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func ensureTable(ctx context.Context, q Querier, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("db: invalid schema name %q", schema)
	}
	_, err := q.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   CHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema))
	if err != nil {
		return fmt.Errorf("db: create schema_migrations in %s: %w", schema, err)
	}
	return nil
}

func applied(ctx context.Context, q Querier, schema string) (map[int]appliedRow, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("db: read schema_migrations: %w", err)
	}
	defer rows.Close()
	out := map[int]appliedRow{}
	for rows.Next() {
		var (
			v int
			r appliedRow
		)
		if err := rows.Scan(&v, &r.checksum, &r.appliedAt); err != nil {
			return nil, fmt.Errorf("db: scan schema_migrations: %w", err)
		}
		out[v] = r
	}
	return out, rows.Err()
}

// Up applies every pending migration in one transaction under an advisory
// lock and returns how many ran. A failure leaves the schema untouched.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migs, err := m.Load()
	if err != nil {
		return 0, err
	}
	count := 0
	err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("db: migration lock: %w", err)
		}
		if err := ensureTable(ctx, tx, schema); err != nil {
			return err
		}
		done, err := applied(ctx, tx, schema)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
			return fmt.Errorf("db: set search_path: %w", err)
		}
		for _, mig := range pending(migs, done) {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return fmt.Errorf("db: apply %s: %w", mig.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				mig.Version, mig.Name, mig.Checksum,
			); err != nil {
				return fmt.Errorf("db: record %s: %w", mig.Name, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Status reports every known migration, flagging applied files that were
// edited afterwards.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migs, err := m.Load()
	if err != nil {
		return nil, err
	}
	if err := ensureTable(ctx, m.pool, schema); err != nil {
		return nil, err
	}
	done, err := applied(ctx, m.pool, schema)
	if err != nil {
		return nil, err
	}
	return statusOf(migs, done), nil
}

func pending(migs []Migration, done map[int]appliedRow) []Migration {
	var out []Migration
	for _, mig := range migs {
		if _, ok := done[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

func statusOf(migs []Migration, done map[int]appliedRow) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migs))
	for _, mig := range migs {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if r, ok := done[mig.Version]; ok {
			at := r.appliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.Modified = r.checksum != mig.Checksum
		}
		out = append(out, st)
	}
	return out
}
