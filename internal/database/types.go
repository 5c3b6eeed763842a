// Package database defines the storage types and consumer interfaces for the
// attendance service. Concrete implementations live in the postgres
// subpackage; tests use the mock subpackage.
package database

import "time"

// TaskStatus is the lifecycle state of a sign-in task row.
type TaskStatus int16

const (
	TaskOpen   TaskStatus = 1
	TaskClosed TaskStatus = 2
)

// String returns a human-readable task status.
func (s TaskStatus) String() string {
	switch s {
	case TaskOpen:
		return "open"
	case TaskClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RecordStatus is the attendance outcome recorded for one member in one task.
type RecordStatus int16

const (
	StatusNotSigned RecordStatus = 0
	StatusSigned    RecordStatus = 1
	StatusExcused   RecordStatus = 2
	StatusLate      RecordStatus = 3
)

// String returns a human-readable record status.
func (s RecordStatus) String() string {
	switch s {
	case StatusNotSigned:
		return "not_signed"
	case StatusSigned:
		return "signed"
	case StatusExcused:
		return "excused"
	case StatusLate:
		return "late"
	default:
		return "unknown"
	}
}

// ValidRecordStatus reports whether v is one of the defined record statuses.
func ValidRecordStatus(v int16) bool {
	return v >= int16(StatusNotSigned) && v <= int16(StatusLate)
}

// Group is a class whose members sign in together.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a person who can be enrolled in groups and matched by face.
// FaceFeature holds the canonical enrolled embedding as packed little-endian
// float32 bytes; it is nil until the member enrolls a face.
type Member struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	StudentNo   string    `json:"student_no,omitempty"`
	Role        string    `json:"role,omitempty"`
	FaceFeature []byte    `json:"-"`
	FacePath    string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Enrolled reports whether the member has a stored face embedding.
func (m *Member) Enrolled() bool {
	return len(m.FaceFeature) > 0
}

// MemberPatch carries a sparse member update; nil fields are left unchanged.
type MemberPatch struct {
	Name      *string
	Phone     *string
	StudentNo *string
	Role      *string
}

// Empty reports whether the patch changes nothing.
func (p MemberPatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.StudentNo == nil && p.Role == nil
}

// MemberEmbedding is a decoded enrolled embedding, ready for matching.
type MemberEmbedding struct {
	MemberID  string
	Name      string
	Embedding []float32
}

// SignTask is one group's row of a sign-in task. A task published to several
// groups shares one TaskID across rows; ID is unique per row.
type SignTask struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	GroupID   string     `json:"group_id"`
	Initiator string     `json:"initiator"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AttendanceRecord is one member's outcome within one task. Score is the
// match distance that produced an automatic transition; nil for manual or
// pending records. MemberName is populated by list queries that join members.
type AttendanceRecord struct {
	ID         string       `json:"id"`
	TaskID     string       `json:"task_id"`
	MemberID   string       `json:"member_id"`
	MemberName string       `json:"member_name,omitempty"`
	Status     RecordStatus `json:"status"`
	Score      *float64     `json:"score,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Submission is one uploaded class photo processed against a task.
type Submission struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	GroupID      string    `json:"group_id"`
	SubmittedBy  string    `json:"submitted_by"`
	PhotoPath    string    `json:"photo_path,omitempty"`
	FacesTotal   int       `json:"faces_total"`
	MatchedTotal int       `json:"matched_total"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubmissionFace is one detected face within a submission, kept for audit
// and appearance search. MatchedMemberID is empty for unmatched faces.
type SubmissionFace struct {
	ID              int64     `json:"id"`
	SubmissionID    string    `json:"submission_id"`
	FaceIndex       int       `json:"face_index"`
	Embedding       []float32 `json:"-"`
	BBox            []float64 `json:"bbox"`
	MatchedMemberID string    `json:"matched_member_id,omitempty"`
	Distance        *float64  `json:"distance,omitempty"`
	CropPath        string    `json:"crop_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MemberAppearance is a submission face found near a member's enrolled
// embedding, with its L2 distance.
type MemberAppearance struct {
	Face     SubmissionFace `json:"face"`
	TaskID   string         `json:"task_id"`
	Distance float64        `json:"distance"`
}
