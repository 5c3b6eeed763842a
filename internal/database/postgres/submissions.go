package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/rollcall-io/rollcall/internal/database"
)

// SubmissionRepository provides PostgreSQL-backed submission storage with
// pgvector appearance search.
type SubmissionRepository struct {
	pool *Pool
}

// NewSubmissionRepository creates a new PostgreSQL submission repository.
func NewSubmissionRepository(pool *Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Save persists a submission and its detected faces in one transaction and
// fills the allocated IDs back into sub and faces. A caller-provided sub.ID
// is used as-is so artifact paths minted before the insert stay consistent.
func (r *SubmissionRepository) Save(ctx context.Context, sub *database.Submission, faces []database.SubmissionFace) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := func(ctx context.Context, id string) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (id, task_id, group_id, submitted_by, photo_path, faces_total, matched_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, sub.TaskID, sub.GroupID, sub.SubmittedBy,
			nullString(sub.PhotoPath), sub.FacesTotal, sub.MatchedTotal)
		return err
	}

	id := sub.ID
	if id == "" {
		id, err = allocateID(ctx, insert)
	} else {
		err = insert(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	sub.ID = id

	for i := range faces {
		face := &faces[i]
		err := tx.QueryRowContext(ctx, `
			INSERT INTO submission_faces (submission_id, face_index, embedding, bbox,
			                              matched_member_id, distance, crop_path)
			VALUES ($1, $2, $3::vector, $4, $5, $6, $7)
			RETURNING id
		`, id, face.FaceIndex, pgvector.NewVector(face.Embedding), pq.Array(face.BBox),
			nullString(face.MatchedMemberID), nullFloat(face.Distance),
			nullString(face.CropPath),
		).Scan(&face.ID)
		if err != nil {
			return fmt.Errorf("insert submission face %d: %w", face.FaceIndex, err)
		}
		face.SubmissionID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListByTask returns all submissions processed against a task.
func (r *SubmissionRepository) ListByTask(ctx context.Context, taskID string) ([]database.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, group_id, submitted_by, photo_path, faces_total, matched_total, created_at
		FROM submissions
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []database.Submission
	for rows.Next() {
		var s database.Submission
		var photoPath sql.NullString
		err := rows.Scan(&s.ID, &s.TaskID, &s.GroupID, &s.SubmittedBy,
			&photoPath, &s.FacesTotal, &s.MatchedTotal, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if photoPath.Valid {
			s.PhotoPath = photoPath.String
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// Faces returns the detected faces of a submission in detection order.
func (r *SubmissionRepository) Faces(ctx context.Context, submissionID string) ([]database.SubmissionFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, submission_id, face_index, embedding, bbox, matched_member_id, distance, crop_path, created_at
		FROM submission_faces
		WHERE submission_id = $1
		ORDER BY face_index
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query submission faces: %w", err)
	}
	defer rows.Close()

	var faces []database.SubmissionFace
	for rows.Next() {
		face, err := scanSubmissionFace(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, *face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission faces: %w", err)
	}
	return faces, nil
}

// AppearancesFor finds the submission faces nearest to an embedding by L2
// distance, joined with the task each submission belonged to.
func (r *SubmissionRepository) AppearancesFor(
	ctx context.Context, emb []float32, limit int,
) ([]database.MemberAppearance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.id, f.submission_id, f.face_index, f.embedding, f.bbox,
		       f.matched_member_id, f.distance, f.crop_path, f.created_at,
		       s.task_id,
		       f.embedding <-> $1::vector AS l2
		FROM submission_faces f
		JOIN submissions s ON s.id = f.submission_id
		WHERE f.embedding IS NOT NULL
		ORDER BY l2
		LIMIT $2
	`, pgvector.NewVector(emb), limit)
	if err != nil {
		return nil, fmt.Errorf("query appearances: %w", err)
	}
	defer rows.Close()

	var appearances []database.MemberAppearance
	for rows.Next() {
		var a database.MemberAppearance
		face, err := scanSubmissionFace(rows, &a.TaskID, &a.Distance)
		if err != nil {
			return nil, err
		}
		a.Face = *face
		appearances = append(appearances, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appearances: %w", err)
	}
	return appearances, nil
}

// scanSubmissionFace scans one face row, with optional extra scan
// destinations appended after the standard columns.
func scanSubmissionFace(scanner interface{ Scan(...any) error }, extraDest ...any) (*database.SubmissionFace, error) {
	var face database.SubmissionFace
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var matchedMemberID, cropPath sql.NullString
	var distance sql.NullFloat64

	dest := make([]any, 0, 9+len(extraDest))
	dest = append(dest,
		&face.ID,
		&face.SubmissionID,
		&face.FaceIndex,
		&vec,
		&bbox,
		&matchedMemberID,
		&distance,
		&cropPath,
		&face.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan submission face: %w", err)
	}

	face.Embedding = vec.Slice()
	face.BBox = []float64(bbox)
	if matchedMemberID.Valid {
		face.MatchedMemberID = matchedMemberID.String
	}
	if distance.Valid {
		face.Distance = &distance.Float64
	}
	if cropPath.Valid {
		face.CropPath = cropPath.String
	}
	return &face, nil
}

// Verify interface compliance.
var _ database.SubmissionStore = (*SubmissionRepository)(nil)
