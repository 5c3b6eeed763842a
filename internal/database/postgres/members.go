package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/embedding"
	"github.com/rollcall-io/rollcall/internal/facematch"
)

// MemberRepository provides PostgreSQL-backed member storage.
type MemberRepository struct {
	pool *Pool
}

// NewMemberRepository creates a new PostgreSQL member repository.
func NewMemberRepository(pool *Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// Create inserts a new member under a freshly allocated short ID and fills
// the assigned ID and timestamps back into m.
func (r *MemberRepository) Create(ctx context.Context, m *database.Member) error {
	role := m.Role
	if role == "" {
		role = "student"
	}

	id, err := allocateID(ctx, func(ctx context.Context, id string) error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO members (id, name, phone, student_no, role)
			VALUES ($1, $2, $3, $4, $5)
		`, id, m.Name, nullString(m.Phone), nullString(m.StudentNo), role)
		return err
	})
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}

	created, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	*m = *created
	return nil
}

// Get retrieves a member by ID, including the enrolled embedding bytes.
func (r *MemberRepository) Get(ctx context.Context, id string) (*database.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, student_no, role, face_feature, face_path, created_at, updated_at
		FROM members
		WHERE id = $1
	`, id)

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Update applies a sparse patch; nil fields keep their current value.
func (r *MemberRepository) Update(ctx context.Context, id string, patch database.MemberPatch) error {
	if patch.Empty() {
		return nil
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE members SET
			name = COALESCE($1, name),
			phone = COALESCE($2, phone),
			student_no = COALESCE($3, student_no),
			role = COALESCE($4, role),
			updated_at = NOW()
		WHERE id = $5
	`, nullStringPtr(patch.Name), nullStringPtr(patch.Phone),
		nullStringPtr(patch.StudentNo), nullStringPtr(patch.Role), id)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update member rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// SetEmbedding stores a member's enrolled face embedding and the path of
// the enrollment image. Re-enrolling replaces the previous embedding.
func (r *MemberRepository) SetEmbedding(ctx context.Context, id string, feature []byte, facePath string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE members SET
			face_feature = $1,
			face_path = $2,
			updated_at = NOW()
		WHERE id = $3
	`, feature, nullString(facePath), id)
	if err != nil {
		return fmt.Errorf("set member embedding: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set member embedding rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// EmbeddingsByIDs returns decoded embeddings for the enrolled members among
// the given IDs. Members without a stored embedding are skipped; a corrupt
// stored blob is an error.
func (r *MemberRepository) EmbeddingsByIDs(ctx context.Context, ids []string) ([]database.MemberEmbedding, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, face_feature
		FROM members
		WHERE id = ANY($1) AND face_feature IS NOT NULL
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query member embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// AllEmbeddings returns decoded embeddings for every enrolled member.
func (r *MemberRepository) AllEmbeddings(ctx context.Context) ([]database.MemberEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, face_feature
		FROM members
		WHERE face_feature IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query all member embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// SearchByName finds members whose name matches after normalization
// (lowercase, no diacritics, collapsed whitespace). The SQL side mirrors
// facematch.NormalizeMemberName so "jana novakova" matches "Jana Nováková".
func (r *MemberRepository) SearchByName(ctx context.Context, name string) ([]database.Member, error) {
	normalized := facematch.NormalizeMemberName(name)

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, phone, student_no, role, face_feature, face_path, created_at, updated_at
		FROM members
		WHERE LOWER(regexp_replace(unaccent(name), '\s+', ' ', 'g')) = $1
		ORDER BY id
	`, normalized)
	if err != nil {
		return nil, fmt.Errorf("search members by name: %w", err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

// scanMember scans a single member row from any row scanner.
func scanMember(scanner interface{ Scan(...any) error }) (*database.Member, error) {
	var m database.Member
	var phone, studentNo, facePath sql.NullString

	err := scanner.Scan(
		&m.ID, &m.Name, &phone, &studentNo, &m.Role,
		&m.FaceFeature, &facePath, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}

	if phone.Valid {
		m.Phone = phone.String
	}
	if studentNo.Valid {
		m.StudentNo = studentNo.String
	}
	if facePath.Valid {
		m.FacePath = facePath.String
	}
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]database.Member, error) {
	var members []database.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.MemberEmbedding, error) {
	var embeddings []database.MemberEmbedding
	for rows.Next() {
		var id, name string
		var feature []byte
		if err := rows.Scan(&id, &name, &feature); err != nil {
			return nil, fmt.Errorf("scan member embedding: %w", err)
		}

		vec, err := embedding.Unmarshal(feature)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for member %s: %w", id, err)
		}
		embeddings = append(embeddings, database.MemberEmbedding{
			MemberID:  id,
			Name:      name,
			Embedding: vec,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member embeddings: %w", err)
	}
	return embeddings, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Verify interface compliance.
var _ database.MemberStore = (*MemberRepository)(nil)
