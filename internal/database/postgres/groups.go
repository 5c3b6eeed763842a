package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rollcall-io/rollcall/internal/database"
)

// GroupRepository provides PostgreSQL-backed group storage.
type GroupRepository struct {
	pool *Pool
}

// NewGroupRepository creates a new PostgreSQL group repository.
func NewGroupRepository(pool *Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts a new group under a freshly allocated short ID.
func (r *GroupRepository) Create(ctx context.Context, name, owner string) (*database.Group, error) {
	id, err := allocateID(ctx, func(ctx context.Context, id string) error {
		_, err := r.pool.Exec(ctx,
			"INSERT INTO groups (id, name, owner) VALUES ($1, $2, $3)",
			id, name, owner,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	return r.Get(ctx, id)
}

// Get retrieves a group by ID.
func (r *GroupRepository) Get(ctx context.Context, id string) (*database.Group, error) {
	var g database.Group
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, owner, created_at FROM groups WHERE id = $1", id,
	).Scan(&g.ID, &g.Name, &g.Owner, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// List returns all groups ordered by creation time.
func (r *GroupRepository) List(ctx context.Context) ([]database.Group, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, name, owner, created_at FROM groups ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []database.Group
	for rows.Next() {
		var g database.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Owner, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// Exists checks whether a group with the given ID exists.
func (r *GroupRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group exists: %w", err)
	}
	return exists, nil
}

// AddMember enrolls a member into a group. Adding an existing membership
// is a no-op.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, memberID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (member_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT (member_id, group_id) DO NOTHING
	`, memberID, groupID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// MemberIDs returns the IDs of all members of a group.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT member_id FROM group_members WHERE group_id = $1 ORDER BY joined_at, member_id",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("query group member IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member IDs: %w", err)
	}
	return ids, nil
}

// Members returns the full member rows of a group.
func (r *GroupRepository) Members(ctx context.Context, groupID string) ([]database.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.name, m.phone, m.student_no, m.role, m.face_feature, m.face_path,
		       m.created_at, m.updated_at
		FROM members m
		JOIN group_members gm ON gm.member_id = m.id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at, m.id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

// Verify interface compliance.
var _ database.GroupStore = (*GroupRepository)(nil)
