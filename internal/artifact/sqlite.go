package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/domain"
)

// SQLiteStore is a Store backed by a SQLite database file, so artifacts
// survive a server restart until they are swept.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put replaces the artifact of a.JobID
func (s *SQLiteStore) Put(ctx context.Context, a *Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, a.JobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (job_id, name, created_at) VALUES (?, ?, ?)`,
		a.JobID, a.Name, a.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("inserting artifact %s: %w", a.JobID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (job_id, seq, status, result, file, grp, label, hostname, address, device_type, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range a.Records {
		if _, err := stmt.ExecContext(ctx,
			a.JobID, i, string(r.Status), r.Result, r.File, r.Group, r.Label,
			r.Hostname, r.Address, r.DeviceType, r.Log,
		); err != nil {
			return fmt.Errorf("inserting record %d of %s: %w", i, a.JobID, err)
		}
	}
	return tx.Commit()
}

// Get loads an artifact with its records in completion order
func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*Artifact, error) {
	a := &Artifact{JobID: jobID}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM artifacts WHERE job_id = ?`, jobID,
	).Scan(&a.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("artifact", jobID)
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, result, file, grp, label, hostname, address, device_type, log
		FROM records WHERE job_id = ? ORDER BY seq
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		a.Records = append(a.Records, rec)
	}
	return a, rows.Err()
}

// Find loads the newest artifact named name
func (s *SQLiteStore) Find(ctx context.Context, name string) (*Artifact, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM artifacts WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("artifact", name)
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}

// Delete removes an artifact; deleting an unknown id is not an error
func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, jobID)
	return err
}

// Sweep removes artifacts created before cutoff
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var rec domain.Record
	var status string
	var file, group, label, hostname, deviceType, log sql.NullString

	err := rows.Scan(&status, &rec.Result, &file, &group, &label, &hostname, &rec.Address, &deviceType, &log)
	if err != nil {
		return rec, err
	}
	rec.Status = domain.Status(status)
	rec.File = file.String
	rec.Group = group.String
	rec.Label = label.String
	rec.Hostname = hostname.String
	rec.DeviceType = deviceType.String
	rec.Log = log.String
	return rec, nil
}
