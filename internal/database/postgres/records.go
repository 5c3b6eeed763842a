package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rollcall-io/rollcall/internal/database"
)

// RecordRepository provides PostgreSQL-backed attendance record storage.
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a new PostgreSQL record repository.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Create inserts a not-signed record for a (task, member) pair under a
// freshly allocated short ID. An existing pair returns ErrDuplicateRecord.
func (r *RecordRepository) Create(ctx context.Context, taskID, memberID string) (*database.AttendanceRecord, error) {
	id, err := allocateID(ctx, func(ctx context.Context, id string) error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO sign_records (id, task_id, member_id)
			VALUES ($1, $2, $3)
		`, id, taskID, memberID)
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "sign_records_task_member_key") {
			return nil, database.ErrDuplicateRecord
		}
		return nil, fmt.Errorf("create attendance record: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, task_id, member_id, status, score, created_at, updated_at
		FROM sign_records
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row, false)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PendingMembers returns the members whose record for the task has not
// been signed, whatever other status it carries, including their enrolled
// embedding bytes. An empty groupID covers all groups of the task.
func (r *RecordRepository) PendingMembers(ctx context.Context, taskID, groupID string) ([]database.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT m.id, m.name, m.phone, m.student_no, m.role, m.face_feature, m.face_path,
		       m.created_at, m.updated_at
		FROM sign_records r
		JOIN members m ON m.id = r.member_id
		WHERE r.task_id = $1
		  AND r.status <> $2
		  AND ($3 = '' OR m.id IN (
		      SELECT member_id FROM group_members WHERE group_id = $3
		  ))
		ORDER BY m.id
	`, taskID, database.StatusSigned, groupID)
	if err != nil {
		return nil, fmt.Errorf("query pending members: %w", err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

// Transition moves a record from not-signed to the given status and stores
// the match score. Returns false without error when the record has already
// left the not-signed state, which makes retried reconciliations no-ops.
func (r *RecordRepository) Transition(
	ctx context.Context, taskID, memberID string, status database.RecordStatus, score *float64,
) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sign_records SET
			status = $1,
			score = $2,
			updated_at = NOW()
		WHERE task_id = $3 AND member_id = $4 AND status = $5
	`, status, nullFloat(score), taskID, memberID, database.StatusNotSigned)
	if err != nil {
		return false, fmt.Errorf("transition attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected > 0, nil
}

// Override sets a record's status unconditionally and clears any automatic
// match score. Used for manual corrections by the task initiator.
func (r *RecordRepository) Override(
	ctx context.Context, taskID, memberID string, status database.RecordStatus,
) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sign_records SET
			status = $1,
			score = NULL,
			updated_at = NOW()
		WHERE task_id = $2 AND member_id = $3
	`, status, taskID, memberID)
	if err != nil {
		return false, fmt.Errorf("override attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("override rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByTask returns the records of a task joined with member names. An
// empty groupID covers all groups of the task.
func (r *RecordRepository) ListByTask(ctx context.Context, taskID, groupID string) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.task_id, r.member_id, m.name, r.status, r.score, r.created_at, r.updated_at
		FROM sign_records r
		JOIN members m ON m.id = r.member_id
		WHERE r.task_id = $1
		  AND ($2 = '' OR m.id IN (
		      SELECT member_id FROM group_members WHERE group_id = $2
		  ))
		ORDER BY m.name, r.member_id
	`, taskID, groupID)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows, true)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

// scanRecord scans one record row; withName controls whether a member_name
// column sits between member_id and status.
func scanRecord(scanner interface{ Scan(...any) error }, withName bool) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var score sql.NullFloat64

	dest := []any{&rec.ID, &rec.TaskID, &rec.MemberID}
	if withName {
		dest = append(dest, &rec.MemberName)
	}
	dest = append(dest, &rec.Status, &score, &rec.CreatedAt, &rec.UpdatedAt)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan attendance record: %w", err)
	}

	if score.Valid {
		rec.Score = &score.Float64
	}
	return &rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Verify interface compliance.
var _ database.RecordStore = (*RecordRepository)(nil)
