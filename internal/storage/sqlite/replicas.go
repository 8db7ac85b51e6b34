package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ttngu207/stackrun/internal/storage"
)

const replicaColumns = `id, project, service, ordinal, container_id, runtime, image,
	status, exit_code, restarts, one_off, created_at, started_at, finished_at, updated_at`

// UpsertReplica inserts a replica record or updates the existing record
// with the same ID. CreatedAt is preserved on update.
func (s *Store) UpsertReplica(ctx context.Context, r *storage.Replica) error {
	if r.ID == "" {
		return fmt.Errorf("replica ID is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid replica status: %s", r.Status)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replicas (`+replicaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			container_id = excluded.container_id,
			runtime = excluded.runtime,
			image = excluded.image,
			status = excluded.status,
			exit_code = excluded.exit_code,
			restarts = excluded.restarts,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Project, r.Service, r.Ordinal, r.ContainerID, r.Runtime, r.Image,
		string(r.Status), nullableInt(r.ExitCode), r.Restarts, boolToInt(r.OneOff),
		formatTime(r.CreatedAt), nullableTime(r.StartedAt), nullableTime(r.FinishedAt),
		formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert replica %s: %w", r.ID, err)
	}
	return nil
}

// GetReplica fetches the scaled replica occupying a slot.
func (s *Store) GetReplica(ctx context.Context, project, service string, ordinal int) (*storage.Replica, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+replicaColumns+` FROM replicas
		WHERE project = ? AND service = ? AND ordinal = ? AND one_off = 0`,
		project, service, ordinal)
	return scanReplica(row)
}

// GetReplicaByID fetches a replica record by its ID.
func (s *Store) GetReplicaByID(ctx context.Context, id string) (*storage.Replica, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+replicaColumns+` FROM replicas WHERE id = ?`, id)
	return scanReplica(row)
}

// ListReplicas returns replica records matching the filter, ordered by
// service then ordinal.
func (s *Store) ListReplicas(ctx context.Context, filter storage.ReplicaFilter) ([]*storage.Replica, error) {
	query := `SELECT ` + replicaColumns + ` FROM replicas WHERE 1=1`
	var args []interface{}
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Service != "" {
		query += " AND service = ?"
		args = append(args, filter.Service)
	}
	if !filter.IncludeStopped {
		query += " AND status IN ('created', 'running')"
	}
	if !filter.IncludeOneOff {
		query += " AND one_off = 0"
	}
	query += " ORDER BY service, ordinal"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}
	defer rows.Close()

	var replicas []*storage.Replica
	for rows.Next() {
		r, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		replicas = append(replicas, r)
	}
	return replicas, rows.Err()
}

// SetReplicaStatus transitions a replica's status, maintaining the
// started/finished timestamps.
func (s *Store) SetReplicaStatus(ctx context.Context, id string, status storage.ReplicaStatus, exitCode *int) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid replica status: %s", status)
	}
	now := formatTime(time.Now().UTC())

	query := `UPDATE replicas SET status = ?, exit_code = ?, updated_at = ?`
	args := []interface{}{string(status), nullableInt(exitCode), now}
	switch status {
	case storage.StatusRunning:
		query += `, started_at = ?, finished_at = NULL`
		args = append(args, now)
	case storage.StatusExited, storage.StatusStopped, storage.StatusFailed:
		query += `, finished_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update replica %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementRestarts bumps the restart counter and returns the new
// value.
func (s *Store) IncrementRestarts(ctx context.Context, id string) (int, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE replicas SET restarts = restarts + 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment restarts for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, storage.ErrNotFound
	}
	var restarts int
	if err := s.db.QueryRowContext(ctx, `SELECT restarts FROM replicas WHERE id = ?`, id).Scan(&restarts); err != nil {
		return 0, err
	}
	return restarts, nil
}

// DeleteReplicas removes replica records for a project, optionally
// narrowed to one service. Returns the number of rows removed.
func (s *Store) DeleteReplicas(ctx context.Context, project, service string) (int, error) {
	query := `DELETE FROM replicas WHERE project = ?`
	args := []interface{}{project}
	if service != "" {
		query += ` AND service = ?`
		args = append(args, service)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete replicas: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteReplicaSlots removes scaled replica records for a service with
// ordinals above keepMax. Returns the number of rows removed.
func (s *Store) DeleteReplicaSlots(ctx context.Context, project, service string, keepMax int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM replicas WHERE project = ? AND service = ? AND ordinal > ? AND one_off = 0`,
		project, service, keepMax)
	if err != nil {
		return 0, fmt.Errorf("failed to delete replica slots: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteReplicaByID removes one replica record. Returns whether a row
// was removed.
func (s *Store) DeleteReplicaByID(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM replicas WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete replica %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReplica(row scanner) (*storage.Replica, error) {
	var r storage.Replica
	var status string
	var exitCode sql.NullInt64
	var oneOff int
	var createdAt, updatedAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&r.ID, &r.Project, &r.Service, &r.Ordinal, &r.ContainerID,
		&r.Runtime, &r.Image, &status, &exitCode, &r.Restarts, &oneOff,
		&createdAt, &startedAt, &finishedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan replica: %w", err)
	}

	r.Status = storage.ReplicaStatus(status)
	r.OneOff = oneOff != 0
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if r.StartedAt, err = scanTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = scanTime(finishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
