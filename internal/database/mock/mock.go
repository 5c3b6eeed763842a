// Package mock provides in-memory implementations of the database store
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/embedding"
	"github.com/rollcall-io/rollcall/internal/facematch"
)

func mockID(n int) string {
	return fmt.Sprintf("%012x", n)
}

// MockGroupStore is an in-memory implementation of database.GroupStore.
type MockGroupStore struct {
	mu      sync.RWMutex
	groups  map[string]*database.Group
	members map[string][]string // groupID -> member IDs in join order
	nextID  int

	// Error injection
	CreateError    error
	GetError       error
	ListError      error
	ExistsError    error
	AddMemberError error
	MembersError   error

	// Members lookups resolve member rows through this store when set.
	MemberSource *MockMemberStore
}

// NewMockGroupStore creates an empty mock group store.
func NewMockGroupStore() *MockGroupStore {
	return &MockGroupStore{
		groups:  make(map[string]*database.Group),
		members: make(map[string][]string),
	}
}

// AddGroup seeds a group directly.
func (m *MockGroupStore) AddGroup(g database.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = &g
}

// Create inserts a new group with a sequential mock ID.
func (m *MockGroupStore) Create(ctx context.Context, name, owner string) (*database.Group, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g := &database.Group{ID: mockID(m.nextID), Name: name, Owner: owner}
	m.groups[g.ID] = g
	out := *g
	return &out, nil
}

// Get retrieves a group by ID.
func (m *MockGroupStore) Get(ctx context.Context, id string) (*database.Group, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *g
	return &out, nil
}

// List returns all groups sorted by ID.
func (m *MockGroupStore) List(ctx context.Context) ([]database.Group, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	groups := make([]database.Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// Exists checks whether a group exists.
func (m *MockGroupStore) Exists(ctx context.Context, id string) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[id]
	return ok, nil
}

// AddMember enrolls a member into a group.
func (m *MockGroupStore) AddMember(ctx context.Context, groupID, memberID string) error {
	if m.AddMemberError != nil {
		return m.AddMemberError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.members[groupID] {
		if id == memberID {
			return nil
		}
	}
	m.members[groupID] = append(m.members[groupID], memberID)
	return nil
}

// MemberIDs returns the member IDs of a group in join order.
func (m *MockGroupStore) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	if m.MembersError != nil {
		return nil, m.MembersError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.members[groupID]))
	copy(ids, m.members[groupID])
	return ids, nil
}

// Members resolves full member rows through the configured member source.
func (m *MockGroupStore) Members(ctx context.Context, groupID string) ([]database.Member, error) {
	ids, err := m.MemberIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if m.MemberSource == nil {
		return nil, nil
	}
	var members []database.Member
	for _, id := range ids {
		member, err := m.MemberSource.Get(ctx, id)
		if err != nil {
			continue
		}
		members = append(members, *member)
	}
	return members, nil
}

// MockMemberStore is an in-memory implementation of database.MemberStore.
type MockMemberStore struct {
	mu      sync.RWMutex
	members map[string]*database.Member
	nextID  int

	// Error injection
	CreateError       error
	GetError          error
	UpdateError       error
	SetEmbeddingError error
	EmbeddingsError   error
	SearchError       error
}

// NewMockMemberStore creates an empty mock member store.
func NewMockMemberStore() *MockMemberStore {
	return &MockMemberStore{members: make(map[string]*database.Member)}
}

// AddMember seeds a member directly.
func (m *MockMemberStore) AddMember(member database.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = &member
}

// Create inserts a new member with a sequential mock ID.
func (m *MockMemberStore) Create(ctx context.Context, member *database.Member) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	member.ID = mockID(m.nextID)
	if member.Role == "" {
		member.Role = "student"
	}
	stored := *member
	m.members[member.ID] = &stored
	return nil
}

// Get retrieves a member by ID.
func (m *MockMemberStore) Get(ctx context.Context, id string) (*database.Member, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *member
	return &out, nil
}

// Update applies a sparse patch.
func (m *MockMemberStore) Update(ctx context.Context, id string, patch database.MemberPatch) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return database.ErrNotFound
	}
	if patch.Name != nil {
		member.Name = *patch.Name
	}
	if patch.Phone != nil {
		member.Phone = *patch.Phone
	}
	if patch.StudentNo != nil {
		member.StudentNo = *patch.StudentNo
	}
	if patch.Role != nil {
		member.Role = *patch.Role
	}
	return nil
}

// SetEmbedding stores a member's enrolled embedding bytes.
func (m *MockMemberStore) SetEmbedding(ctx context.Context, id string, feature []byte, facePath string) error {
	if m.SetEmbeddingError != nil {
		return m.SetEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return database.ErrNotFound
	}
	member.FaceFeature = feature
	member.FacePath = facePath
	return nil
}

// EmbeddingsByIDs returns decoded embeddings for enrolled members among ids.
func (m *MockMemberStore) EmbeddingsByIDs(ctx context.Context, ids []string) ([]database.MemberEmbedding, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.MemberEmbedding
	for _, id := range ids {
		member, ok := m.members[id]
		if !ok || !member.Enrolled() {
			continue
		}
		vec, err := embedding.Unmarshal(member.FaceFeature)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for member %s: %w", id, err)
		}
		out = append(out, database.MemberEmbedding{MemberID: id, Name: member.Name, Embedding: vec})
	}
	return out, nil
}

// AllEmbeddings returns decoded embeddings for every enrolled member.
func (m *MockMemberStore) AllEmbeddings(ctx context.Context) ([]database.MemberEmbedding, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return m.EmbeddingsByIDs(ctx, ids)
}

// SearchByName finds members by normalized name.
func (m *MockMemberStore) SearchByName(ctx context.Context, name string) ([]database.Member, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	normalized := facematch.NormalizeMemberName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Member
	for _, member := range m.members {
		if facematch.NormalizeMemberName(member.Name) == normalized {
			out = append(out, *member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MockTaskStore is an in-memory implementation of database.TaskStore.
type MockTaskStore struct {
	mu     sync.RWMutex
	rows   []*database.SignTask
	nextID int

	// Error injection
	CreateRowError error
	RowError       error
	ExistsError    error
	RowsError      error
	CloseError     error
	OpenError      error

	// Group membership for OpenForMember lookups.
	GroupSource *MockGroupStore
}

// NewMockTaskStore creates an empty mock task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{}
}

// CreateRow inserts the task row for one group.
func (m *MockTaskStore) CreateRow(ctx context.Context, taskID, groupID, initiator string) (*database.SignTask, error) {
	if m.CreateRowError != nil {
		return nil, m.CreateRowError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.TaskID == taskID && row.GroupID == groupID {
			return nil, database.ErrDuplicateRecord
		}
	}
	m.nextID++
	row := &database.SignTask{
		ID:        mockID(m.nextID),
		TaskID:    taskID,
		GroupID:   groupID,
		Initiator: initiator,
		Status:    database.TaskOpen,
	}
	m.rows = append(m.rows, row)
	out := *row
	return &out, nil
}

// RowForGroup returns the task row for one (task, group) pair.
func (m *MockTaskStore) RowForGroup(ctx context.Context, taskID, groupID string) (*database.SignTask, error) {
	if m.RowError != nil {
		return nil, m.RowError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.TaskID == taskID && row.GroupID == groupID {
			out := *row
			return &out, nil
		}
	}
	return nil, database.ErrNotFound
}

// TaskExists checks whether any row carries the task ID.
func (m *MockTaskStore) TaskExists(ctx context.Context, taskID string) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}

// RowsByTask returns all rows of a task.
func (m *MockTaskStore) RowsByTask(ctx context.Context, taskID string) ([]database.SignTask, error) {
	if m.RowsError != nil {
		return nil, m.RowsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []database.SignTask
	for _, row := range m.rows {
		if row.TaskID == taskID {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

// Close marks every open row of a task closed.
func (m *MockTaskStore) Close(ctx context.Context, taskID string) (int64, error) {
	if m.CloseError != nil {
		return 0, m.CloseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var closed int64
	for _, row := range m.rows {
		if row.TaskID == taskID && row.Status == database.TaskOpen {
			row.Status = database.TaskClosed
			closed++
		}
	}
	return closed, nil
}

// OpenForMember returns open task rows for groups the member belongs to.
func (m *MockTaskStore) OpenForMember(ctx context.Context, memberID string) ([]database.SignTask, error) {
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []database.SignTask
	for _, row := range m.rows {
		if row.Status != database.TaskOpen || seen[row.TaskID] {
			continue
		}
		if m.GroupSource == nil {
			continue
		}
		ids, err := m.GroupSource.MemberIDs(ctx, row.GroupID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id == memberID {
				seen[row.TaskID] = true
				out = append(out, *row)
				break
			}
		}
	}
	return out, nil
}

// MockRecordStore is an in-memory implementation of database.RecordStore.
type MockRecordStore struct {
	mu      sync.RWMutex
	records map[string]*database.AttendanceRecord // keyed by taskID+"/"+memberID
	nextID  int

	// Error injection
	CreateError     error
	PendingError    error
	TransitionError error
	OverrideError   error
	ListError       error

	// TransitionFailFor makes Transition fail for specific member IDs.
	TransitionFailFor map[string]error

	// TransitionNoopFor makes Transition report no change for specific
	// member IDs, as when a concurrent writer got to the record first.
	TransitionNoopFor map[string]bool

	// Member rows for PendingMembers lookups.
	MemberSource *MockMemberStore
	GroupSource  *MockGroupStore
}

// NewMockRecordStore creates an empty mock record store.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{records: make(map[string]*database.AttendanceRecord)}
}

func recordKey(taskID, memberID string) string {
	return taskID + "/" + memberID
}

// Record returns the stored record for a (task, member) pair, or nil.
func (m *MockRecordStore) Record(taskID, memberID string) *database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(taskID, memberID)]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// Create inserts a not-signed record for a (task, member) pair.
func (m *MockRecordStore) Create(ctx context.Context, taskID, memberID string) (*database.AttendanceRecord, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(taskID, memberID)
	if _, ok := m.records[key]; ok {
		return nil, database.ErrDuplicateRecord
	}
	m.nextID++
	rec := &database.AttendanceRecord{
		ID:       mockID(m.nextID),
		TaskID:   taskID,
		MemberID: memberID,
		Status:   database.StatusNotSigned,
	}
	m.records[key] = rec
	out := *rec
	return &out, nil
}

// PendingMembers returns members still not signed for the task.
func (m *MockRecordStore) PendingMembers(ctx context.Context, taskID, groupID string) ([]database.Member, error) {
	if m.PendingError != nil {
		return nil, m.PendingError
	}

	var groupFilter map[string]bool
	if groupID != "" && m.GroupSource != nil {
		ids, err := m.GroupSource.MemberIDs(ctx, groupID)
		if err != nil {
			return nil, err
		}
		groupFilter = make(map[string]bool, len(ids))
		for _, id := range ids {
			groupFilter[id] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var members []database.Member
	for _, rec := range m.records {
		if rec.TaskID != taskID || rec.Status == database.StatusSigned {
			continue
		}
		if groupFilter != nil && !groupFilter[rec.MemberID] {
			continue
		}
		if m.MemberSource == nil {
			members = append(members, database.Member{ID: rec.MemberID})
			continue
		}
		member, err := m.MemberSource.Get(ctx, rec.MemberID)
		if err != nil {
			continue
		}
		members = append(members, *member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

// Transition moves a record from not-signed to the given status.
func (m *MockRecordStore) Transition(
	ctx context.Context, taskID, memberID string, status database.RecordStatus, score *float64,
) (bool, error) {
	if m.TransitionError != nil {
		return false, m.TransitionError
	}
	if err, ok := m.TransitionFailFor[memberID]; ok {
		return false, err
	}
	if m.TransitionNoopFor[memberID] {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(taskID, memberID)]
	if !ok || rec.Status != database.StatusNotSigned {
		return false, nil
	}
	rec.Status = status
	rec.Score = score
	return true, nil
}

// Override sets a record's status unconditionally.
func (m *MockRecordStore) Override(
	ctx context.Context, taskID, memberID string, status database.RecordStatus,
) (bool, error) {
	if m.OverrideError != nil {
		return false, m.OverrideError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(taskID, memberID)]
	if !ok {
		return false, nil
	}
	rec.Status = status
	rec.Score = nil
	return true, nil
}

// ListByTask returns the records of a task.
func (m *MockRecordStore) ListByTask(ctx context.Context, taskID, groupID string) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	var groupFilter map[string]bool
	if groupID != "" && m.GroupSource != nil {
		ids, err := m.GroupSource.MemberIDs(ctx, groupID)
		if err != nil {
			return nil, err
		}
		groupFilter = make(map[string]bool, len(ids))
		for _, id := range ids {
			groupFilter[id] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []database.AttendanceRecord
	for _, rec := range m.records {
		if rec.TaskID != taskID {
			continue
		}
		if groupFilter != nil && !groupFilter[rec.MemberID] {
			continue
		}
		out := *rec
		if m.MemberSource != nil {
			if member, err := m.MemberSource.Get(ctx, rec.MemberID); err == nil {
				out.MemberName = member.Name
			}
		}
		records = append(records, out)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].MemberID < records[j].MemberID })
	return records, nil
}

// MockSubmissionStore is an in-memory implementation of database.SubmissionStore.
type MockSubmissionStore struct {
	mu          sync.RWMutex
	submissions []database.Submission
	faces       map[string][]database.SubmissionFace
	nextID      int

	// Error injection
	SaveError        error
	ListError        error
	FacesError       error
	AppearancesError error
}

// NewMockSubmissionStore creates an empty mock submission store.
func NewMockSubmissionStore() *MockSubmissionStore {
	return &MockSubmissionStore{faces: make(map[string][]database.SubmissionFace)}
}

// Save persists a submission and its faces.
func (m *MockSubmissionStore) Save(ctx context.Context, sub *database.Submission, faces []database.SubmissionFace) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if sub.ID == "" {
		sub.ID = mockID(m.nextID)
	}
	for i := range faces {
		faces[i].SubmissionID = sub.ID
		faces[i].ID = int64(m.nextID*100 + i)
	}
	m.submissions = append(m.submissions, *sub)
	m.faces[sub.ID] = append([]database.SubmissionFace(nil), faces...)
	return nil
}

// Count returns the number of stored submissions.
func (m *MockSubmissionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.submissions)
}

// ListByTask returns the submissions of a task.
func (m *MockSubmissionStore) ListByTask(ctx context.Context, taskID string) ([]database.Submission, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Submission
	for _, sub := range m.submissions {
		if sub.TaskID == taskID {
			out = append(out, sub)
		}
	}
	return out, nil
}

// Faces returns the faces of a submission.
func (m *MockSubmissionStore) Faces(ctx context.Context, submissionID string) ([]database.SubmissionFace, error) {
	if m.FacesError != nil {
		return nil, m.FacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.SubmissionFace(nil), m.faces[submissionID]...), nil
}

// AppearancesFor returns stored faces ordered by L2 distance to emb.
func (m *MockSubmissionStore) AppearancesFor(
	ctx context.Context, emb []float32, limit int,
) ([]database.MemberAppearance, error) {
	if m.AppearancesError != nil {
		return nil, m.AppearancesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	taskBySubmission := make(map[string]string, len(m.submissions))
	for _, sub := range m.submissions {
		taskBySubmission[sub.ID] = sub.TaskID
	}

	var out []database.MemberAppearance
	for subID, faces := range m.faces {
		for _, face := range faces {
			out = append(out, database.MemberAppearance{
				Face:     face,
				TaskID:   taskBySubmission[subID],
				Distance: facematch.EuclideanDistance(emb, face.Embedding),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Verify interface compliance.
var _ database.GroupStore = (*MockGroupStore)(nil)
var _ database.MemberStore = (*MockMemberStore)(nil)
var _ database.TaskStore = (*MockTaskStore)(nil)
var _ database.RecordStore = (*MockRecordStore)(nil)
var _ database.SubmissionStore = (*MockSubmissionStore)(nil)
