package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/database/mock"
	"github.com/rollcall-io/rollcall/internal/embedding"
)

type membersFixture struct {
	handler     *MembersHandler
	members     *mock.MockMemberStore
	groups      *mock.MockGroupStore
	tasks       *mock.MockTaskStore
	submissions *mock.MockSubmissionStore
	detector    *stubDetector
	enrollments *stubEnrollmentSaver
	index       *database.MemberIndex
}

func newMembersFixture() *membersFixture {
	f := &membersFixture{
		members:     mock.NewMockMemberStore(),
		groups:      mock.NewMockGroupStore(),
		tasks:       mock.NewMockTaskStore(),
		submissions: mock.NewMockSubmissionStore(),
		detector:    &stubDetector{},
		enrollments: newStubEnrollmentSaver(),
		index:       database.NewMemberIndex(),
	}
	f.tasks.GroupSource = f.groups
	f.handler = NewMembersHandler(
		f.members, f.tasks, f.submissions,
		f.detector, f.enrollments, f.index, zap.NewNop())
	return f
}

func (f *membersFixture) seedMember(t *testing.T, name string) *database.Member {
	t.Helper()
	member := &database.Member{Name: name}
	if err := f.members.Create(context.Background(), member); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return member
}

func TestMembersCreate(t *testing.T) {
	f := newMembersFixture()

	req := jsonRequest(t, http.MethodPost, "/api/v1/members", map[string]string{
		"name":       "Jana Nováková",
		"student_no": "S-042",
	})
	recorder := httptest.NewRecorder()
	f.handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var member database.Member
	parseJSONResponse(t, recorder, &member)
	if len(member.ID) != database.ShortIDLength {
		t.Errorf("expected short ID, got %q", member.ID)
	}
	if member.Role != "student" {
		t.Errorf("expected default role student, got %q", member.Role)
	}
}

func TestMembersCreateInvalidRole(t *testing.T) {
	f := newMembersFixture()

	req := jsonRequest(t, http.MethodPost, "/api/v1/members", map[string]string{
		"name": "Alice",
		"role": "janitor",
	})
	recorder := httptest.NewRecorder()
	f.handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestMembersGet(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/members/"+member.ID, nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Member   database.Member `json:"member"`
		Enrolled bool            `json:"enrolled"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Member.Name != "Alice" || result.Enrolled {
		t.Errorf("unexpected response: %+v", result)
	}
}

func TestMembersGetNotFound(t *testing.T) {
	f := newMembersFixture()

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/members/aaaaaaaaaaaa", nil),
		map[string]string{"memberID": "aaaaaaaaaaaa"},
	)
	recorder := httptest.NewRecorder()
	f.handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestMembersUpdate(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPatch, "/api/v1/members/"+member.ID,
			map[string]string{"name": "Alicia", "phone": "123456789"}),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Update(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	updated, err := f.members.Get(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if updated.Name != "Alicia" || updated.Phone != "123456789" {
		t.Errorf("patch not applied: %+v", updated)
	}
}

func TestMembersUpdateEmptyPatch(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPatch, "/api/v1/members/"+member.ID, map[string]string{}),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Update(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "empty patch")
}

func TestMembersUpdateRenameRefreshesIndex(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")
	if err := f.members.SetEmbedding(context.Background(), member.ID, uniformFeature(t, 0.5), ""); err != nil {
		t.Fatalf("seed embedding: %v", err)
	}
	f.index.Add(database.MemberEmbedding{MemberID: member.ID, Name: "Alice", Embedding: uniformVec(0.5)})

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPatch, "/api/v1/members/"+member.ID,
			map[string]string{"name": "Alicia"}),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Update(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	hits, err := f.index.Search(uniformVec(0.5), 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("index search: %v / %v", hits, err)
	}
	if hits[0].Name != "Alicia" {
		t.Errorf("index still carries old name: %+v", hits[0])
	}
}

func TestMembersSearch(t *testing.T) {
	f := newMembersFixture()
	f.seedMember(t, "Jana Nováková")
	f.seedMember(t, "Bob")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members?name=jana+novakova", nil)
	recorder := httptest.NewRecorder()
	f.handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Members []database.Member `json:"members"`
		Count   int               `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 1 || result.Members[0].Name != "Jana Nováková" {
		t.Errorf("diacritic-insensitive search failed: %+v", result)
	}
}

func TestMembersSearchMissingName(t *testing.T) {
	f := newMembersFixture()

	recorder := httptest.NewRecorder()
	f.handler.Search(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/members", nil))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestMembersEnrollFace(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	// Two faces; the higher det score must win.
	f.detector.faces = []embedding.Face{
		{Index: 0, Embedding: uniformVec(0.2), BBox: [4]float64{0, 0, 50, 50}, DetScore: 0.61},
		{Index: 1, Embedding: uniformVec(0.7), BBox: [4]float64{60, 0, 120, 50}, DetScore: 0.97},
	}

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/members/"+member.ID+"/face", []byte("jpeg bytes"), nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.EnrollFace(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		FacesDetected int  `json:"faces_detected"`
		Enrolled      bool `json:"enrolled"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.FacesDetected != 2 || !result.Enrolled {
		t.Errorf("unexpected response: %+v", result)
	}

	stored, err := f.members.Get(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if !bytes.Equal(stored.FaceFeature, uniformFeature(t, 0.7)) {
		t.Error("stored embedding is not the highest-confidence face")
	}
	if _, ok := f.enrollments.saved[member.ID]; !ok {
		t.Error("enrollment photo not saved")
	}

	hits, err := f.index.Search(uniformVec(0.7), 1)
	if err != nil || len(hits) != 1 || hits[0].MemberID != member.ID {
		t.Errorf("member not searchable after enrollment: %v / %v", hits, err)
	}
}

func TestMembersEnrollFaceNoFace(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")
	f.detector.err = embedding.ErrNoFaceDetected

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/members/"+member.ID+"/face", []byte("jpeg bytes"), nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.EnrollFace(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestMembersEnrollFaceMissingImage(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/members/"+member.ID+"/face", nil, map[string]string{"note": "x"}),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.EnrollFace(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "image file is required")
}

func TestMembersEnrollFaceSaverFailureNotFatal(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")
	f.detector.faces = []embedding.Face{
		{Index: 0, Embedding: uniformVec(0.3), DetScore: 0.9},
	}
	f.enrollments.err = context.DeadlineExceeded

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/members/"+member.ID+"/face", []byte("jpeg bytes"), nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.EnrollFace(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	stored, err := f.members.Get(context.Background(), member.ID)
	if err != nil || !stored.Enrolled() {
		t.Fatalf("embedding must be stored despite photo failure: %v", err)
	}
	if stored.FacePath != "" {
		t.Errorf("face path must stay empty, got %q", stored.FacePath)
	}
}

func TestMembersOpenTasks(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")
	group, err := f.groups.Create(context.Background(), "Math", "teacher-1")
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := f.groups.AddMember(context.Background(), group.ID, member.ID); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	taskID := database.NewShortID()
	if _, err := f.tasks.CreateRow(context.Background(), taskID, group.ID, "teacher-1"); err != nil {
		t.Fatalf("seed task row: %v", err)
	}

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/members/"+member.ID+"/tasks/open", nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.OpenTasks(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Tasks []database.SignTask `json:"tasks"`
		Count int                 `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 1 || result.Tasks[0].TaskID != taskID {
		t.Errorf("expected one open task, got %+v", result)
	}
}

func TestMembersAppearances(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")
	if err := f.members.SetEmbedding(context.Background(), member.ID, uniformFeature(t, 0.4), ""); err != nil {
		t.Fatalf("seed embedding: %v", err)
	}

	sub := &database.Submission{TaskID: database.NewShortID(), FacesTotal: 1}
	faces := []database.SubmissionFace{
		{FaceIndex: 0, Embedding: uniformVec(0.4), BBox: []float64{0, 0, 50, 50}},
	}
	if err := f.submissions.Save(context.Background(), sub, faces); err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/members/"+member.ID+"/appearances?limit=5", nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Appearances(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Appearances []database.MemberAppearance `json:"appearances"`
		Count       int                         `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 1 {
		t.Fatalf("expected one appearance, got %+v", result)
	}
	if result.Appearances[0].Distance > 0.001 {
		t.Errorf("expected near-zero distance, got %f", result.Appearances[0].Distance)
	}
}

func TestMembersAppearancesNotEnrolled(t *testing.T) {
	f := newMembersFixture()
	member := f.seedMember(t, "Alice")

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/members/"+member.ID+"/appearances", nil),
		map[string]string{"memberID": member.ID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Appearances(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "member has no enrolled face")
}
