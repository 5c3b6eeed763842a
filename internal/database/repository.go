package database

import "context"

// GroupStore manages groups and their membership.
type GroupStore interface {
	Create(ctx context.Context, name, owner string) (*Group, error)
	Get(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context) ([]Group, error)
	Exists(ctx context.Context, id string) (bool, error)
	AddMember(ctx context.Context, groupID, memberID string) error
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
	Members(ctx context.Context, groupID string) ([]Member, error)
}

// MemberStore manages members and their enrolled embeddings.
type MemberStore interface {
	Create(ctx context.Context, m *Member) error
	Get(ctx context.Context, id string) (*Member, error)
	Update(ctx context.Context, id string, patch MemberPatch) error
	SetEmbedding(ctx context.Context, id string, feature []byte, facePath string) error
	EmbeddingsByIDs(ctx context.Context, ids []string) ([]MemberEmbedding, error)
	AllEmbeddings(ctx context.Context) ([]MemberEmbedding, error)
	SearchByName(ctx context.Context, name string) ([]Member, error)
}

// TaskStore manages sign-in task rows. One published task has one row per
// target group, all sharing a task ID.
type TaskStore interface {
	CreateRow(ctx context.Context, taskID, groupID, initiator string) (*SignTask, error)
	RowForGroup(ctx context.Context, taskID, groupID string) (*SignTask, error)
	TaskExists(ctx context.Context, taskID string) (bool, error)
	RowsByTask(ctx context.Context, taskID string) ([]SignTask, error)
	Close(ctx context.Context, taskID string) (int64, error)
	OpenForMember(ctx context.Context, memberID string) ([]SignTask, error)
}

// RecordStore manages per-member attendance records.
type RecordStore interface {
	Create(ctx context.Context, taskID, memberID string) (*AttendanceRecord, error)
	// PendingMembers returns members whose record for the task has not
	// been signed; excused and late records still count as pending so
	// their members stay in the candidate pool. An empty groupID means
	// all groups of the task.
	PendingMembers(ctx context.Context, taskID, groupID string) ([]Member, error)
	// Transition moves a record from not-signed to the given status and
	// reports whether a row actually changed. Records that already left
	// the not-signed state are untouched.
	Transition(ctx context.Context, taskID, memberID string, status RecordStatus, score *float64) (bool, error)
	// Override sets a record's status unconditionally (manual correction).
	Override(ctx context.Context, taskID, memberID string, status RecordStatus) (bool, error)
	ListByTask(ctx context.Context, taskID, groupID string) ([]AttendanceRecord, error)
}

// SubmissionStore persists processed class photos and their detected faces.
type SubmissionStore interface {
	Save(ctx context.Context, sub *Submission, faces []SubmissionFace) error
	ListByTask(ctx context.Context, taskID string) ([]Submission, error)
	Faces(ctx context.Context, submissionID string) ([]SubmissionFace, error)
	AppearancesFor(ctx context.Context, embedding []float32, limit int) ([]MemberAppearance, error)
}
