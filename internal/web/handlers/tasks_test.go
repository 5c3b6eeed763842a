package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/database/mock"
	"github.com/rollcall-io/rollcall/internal/embedding"
)

type tasksFixture struct {
	handler     *TasksHandler
	groups      *mock.MockGroupStore
	members     *mock.MockMemberStore
	tasks       *mock.MockTaskStore
	records     *mock.MockRecordStore
	submissions *mock.MockSubmissionStore
	detector    *stubDetector
}

func newTasksFixture() *tasksFixture {
	f := &tasksFixture{
		groups:      mock.NewMockGroupStore(),
		members:     mock.NewMockMemberStore(),
		tasks:       mock.NewMockTaskStore(),
		records:     mock.NewMockRecordStore(),
		submissions: mock.NewMockSubmissionStore(),
		detector:    &stubDetector{},
	}
	f.groups.MemberSource = f.members
	f.tasks.GroupSource = f.groups
	f.records.MemberSource = f.members
	f.records.GroupSource = f.groups

	logger := zap.NewNop()
	publisher := attendance.NewPublisher(f.groups, f.tasks, f.records, logger)
	reconciler := attendance.NewReconciler(f.tasks, f.records, f.members, f.submissions, f.detector, nil, logger)
	f.handler = NewTasksHandler(
		publisher, reconciler,
		f.tasks, f.records, f.submissions,
		testMatchingConfig(), logger)
	return f
}

// seedClass creates a group with enrolled members and returns the group ID
// and member IDs. Member i gets the embedding uniformVec(0.1 * (i+1)).
func (f *tasksFixture) seedClass(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	group, err := f.groups.Create(context.Background(), "Math", "teacher-1")
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	memberIDs := make([]string, 0, len(names))
	for i, name := range names {
		member := &database.Member{Name: name}
		if err := f.members.Create(context.Background(), member); err != nil {
			t.Fatalf("seed member: %v", err)
		}
		feature := uniformFeature(t, 0.1*float32(i+1))
		if err := f.members.SetEmbedding(context.Background(), member.ID, feature, ""); err != nil {
			t.Fatalf("seed embedding: %v", err)
		}
		if err := f.groups.AddMember(context.Background(), group.ID, member.ID); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
		memberIDs = append(memberIDs, member.ID)
	}
	return group.ID, memberIDs
}

// publishTask publishes a task to the group through the handler and returns
// the task ID.
func (f *tasksFixture) publishTask(t *testing.T, groupID string) string {
	t.Helper()
	req := jsonRequest(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"group_ids": []string{groupID},
		"initiator": "teacher-1",
	})
	recorder := httptest.NewRecorder()
	f.handler.Publish(recorder, req)
	assertStatusCode(t, recorder, http.StatusCreated)

	var result attendance.PublishResult
	parseJSONResponse(t, recorder, &result)
	return result.TaskID
}

func TestTasksPublish(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice", "Bob")

	req := jsonRequest(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"group_ids": []string{groupID},
		"initiator": "teacher-1",
	})
	recorder := httptest.NewRecorder()
	f.handler.Publish(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var result attendance.PublishResult
	parseJSONResponse(t, recorder, &result)
	if len(result.TaskID) != database.ShortIDLength {
		t.Errorf("expected generated task ID, got %q", result.TaskID)
	}
	if result.RecordsCreated != len(memberIDs) {
		t.Errorf("expected %d records, got %d", len(memberIDs), result.RecordsCreated)
	}
}

func TestTasksPublishValidation(t *testing.T) {
	f := newTasksFixture()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"no groups", map[string]any{"initiator": "teacher-1"}},
		{"empty groups", map[string]any{"group_ids": []string{}, "initiator": "teacher-1"}},
		{"missing initiator", map[string]any{"group_ids": []string{"aaaaaaaaaaaa"}}},
		{"malformed group id", map[string]any{"group_ids": []string{"short"}, "initiator": "teacher-1"}},
		{"malformed resume id", map[string]any{"group_ids": []string{"aaaaaaaaaaaa"}, "initiator": "teacher-1", "task_id": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			f.handler.Publish(recorder, jsonRequest(t, http.MethodPost, "/api/v1/tasks", tt.body))
			assertStatusCode(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestTasksPublishUnknownGroups(t *testing.T) {
	f := newTasksFixture()

	req := jsonRequest(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"group_ids": []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb"},
		"initiator": "teacher-1",
	})
	recorder := httptest.NewRecorder()
	f.handler.Publish(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTasksGet(t *testing.T) {
	f := newTasksFixture()
	groupID, _ := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID, nil),
		map[string]string{"taskID": taskID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Rows  []database.SignTask `json:"rows"`
		Count int                 `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 1 || result.Rows[0].GroupID != groupID {
		t.Errorf("unexpected rows: %+v", result)
	}
}

func TestTasksGetNotFound(t *testing.T) {
	f := newTasksFixture()

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/tasks/aaaaaaaaaaaa", nil),
		map[string]string{"taskID": "aaaaaaaaaaaa"},
	)
	recorder := httptest.NewRecorder()
	f.handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTasksClose(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	closeReq := func() *httptest.ResponseRecorder {
		req := requestWithChiParams(
			httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+taskID+"/close", nil),
			map[string]string{"taskID": taskID},
		)
		recorder := httptest.NewRecorder()
		f.handler.Close(recorder, req)
		return recorder
	}

	recorder := closeReq()
	assertStatusCode(t, recorder, http.StatusOK)
	var result struct {
		ClosedRows int64 `json:"closed_rows"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.ClosedRows != 1 {
		t.Errorf("expected 1 closed row, got %d", result.ClosedRows)
	}

	// Closing affects only the task rows, never the attendance records.
	rec := f.records.Record(taskID, memberIDs[0])
	if rec == nil {
		t.Fatal("expected attendance record to survive close")
	}
	if rec.Status != database.StatusNotSigned {
		t.Errorf("close changed record status to %v", rec.Status)
	}

	// Closing again is a no-op, not an error.
	recorder = closeReq()
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &result)
	if result.ClosedRows != 0 {
		t.Errorf("expected 0 closed rows on repeat, got %d", result.ClosedRows)
	}
}

func TestTasksCloseNotFound(t *testing.T) {
	f := newTasksFixture()

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodPost, "/api/v1/tasks/aaaaaaaaaaaa/close", nil),
		map[string]string{"taskID": "aaaaaaaaaaaa"},
	)
	recorder := httptest.NewRecorder()
	f.handler.Close(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTasksRecords(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice", "Bob")
	taskID := f.publishTask(t, groupID)

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID+"/records", nil),
		map[string]string{"taskID": taskID},
	)
	recorder := httptest.NewRecorder()
	f.handler.Records(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Records []database.AttendanceRecord `json:"records"`
		Count   int                         `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != len(memberIDs) {
		t.Fatalf("expected %d records, got %+v", len(memberIDs), result)
	}
	for _, rec := range result.Records {
		if rec.Status != database.StatusNotSigned {
			t.Errorf("record %s not pending: %v", rec.MemberID, rec.Status)
		}
		if rec.MemberName == "" {
			t.Errorf("record %s missing member name", rec.MemberID)
		}
	}
}

func TestTasksOverride(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	status := int16(database.StatusExcused)
	req := requestWithChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/tasks/"+taskID+"/records/"+memberIDs[0],
			map[string]any{"status": status}),
		map[string]string{"taskID": taskID, "memberID": memberIDs[0]},
	)
	recorder := httptest.NewRecorder()
	f.handler.Override(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	rec := f.records.Record(taskID, memberIDs[0])
	if rec == nil || rec.Status != database.StatusExcused {
		t.Errorf("override not applied: %+v", rec)
	}
}

func TestTasksOverrideInvalidStatus(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/tasks/"+taskID+"/records/"+memberIDs[0],
			map[string]any{"status": 42}),
		map[string]string{"taskID": taskID, "memberID": memberIDs[0]},
	)
	recorder := httptest.NewRecorder()
	f.handler.Override(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "unknown record status")
}

func TestTasksOverrideMissingRecord(t *testing.T) {
	f := newTasksFixture()
	groupID, _ := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/tasks/"+taskID+"/records/cccccccccccc",
			map[string]any{"status": 1}),
		map[string]string{"taskID": taskID, "memberID": "cccccccccccc"},
	)
	recorder := httptest.NewRecorder()
	f.handler.Override(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTasksSubmitPhoto(t *testing.T) {
	f := newTasksFixture()
	groupID, memberIDs := f.seedClass(t, "Alice", "Bob")
	taskID := f.publishTask(t, groupID)

	// One face matching Alice (embedding uniformVec(0.1)).
	f.detector.faces = []embedding.Face{
		{Index: 0, Embedding: uniformVec(0.1), BBox: [4]float64{0, 0, 50, 50}, DetScore: 0.95},
	}

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions",
			[]byte("jpeg bytes"), map[string]string{"group_id": groupID, "submitted_by": "teacher-1"}),
		map[string]string{"taskID": taskID},
	)
	recorder := httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result attendance.ReconcileResult
	parseJSONResponse(t, recorder, &result)
	if len(result.Matched) != 1 || result.Matched[0].MemberID != memberIDs[0] {
		t.Fatalf("expected Alice matched, got %+v", result)
	}
	if len(result.StillPending) != 1 || result.StillPending[0].MemberID != memberIDs[1] {
		t.Errorf("expected Bob still pending, got %+v", result.StillPending)
	}

	rec := f.records.Record(taskID, memberIDs[0])
	if rec == nil || rec.Status != database.StatusSigned {
		t.Errorf("Alice not signed: %+v", rec)
	}

	// Resubmitting after everyone pending is handled reports nothing to do.
	f.detector.faces = []embedding.Face{
		{Index: 0, Embedding: uniformVec(0.2), DetScore: 0.95},
	}
	recorder = httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions",
			[]byte("jpeg bytes"), map[string]string{"group_id": groupID}),
		map[string]string{"taskID": taskID},
	))
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &result)
	if len(result.Matched) != 1 || result.Matched[0].MemberID != memberIDs[1] {
		t.Fatalf("expected Bob matched on second photo, got %+v", result)
	}

	recorder = httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions",
			[]byte("jpeg bytes"), map[string]string{"group_id": groupID}),
		map[string]string{"taskID": taskID},
	))
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &result)
	if !result.NothingPending {
		t.Errorf("expected nothing pending, got %+v", result)
	}
}

func TestTasksSubmitPhotoBadThreshold(t *testing.T) {
	f := newTasksFixture()
	groupID, _ := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions",
			[]byte("jpeg bytes"), map[string]string{"threshold": "tight"}),
		map[string]string{"taskID": taskID},
	)
	recorder := httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "threshold must be a number")
}

func TestTasksSubmitPhotoUnknownTask(t *testing.T) {
	f := newTasksFixture()

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/aaaaaaaaaaaa/submissions", []byte("jpeg bytes"), nil),
		map[string]string{"taskID": "aaaaaaaaaaaa"},
	)
	recorder := httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTasksSubmitPhotoClosedTask(t *testing.T) {
	f := newTasksFixture()
	groupID, _ := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)
	if _, err := f.tasks.Close(context.Background(), taskID); err != nil {
		t.Fatalf("close task: %v", err)
	}

	req := requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions",
			[]byte("jpeg bytes"), map[string]string{"group_id": groupID}),
		map[string]string{"taskID": taskID},
	)
	recorder := httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestTasksListSubmissionsAndFaces(t *testing.T) {
	f := newTasksFixture()
	groupID, _ := f.seedClass(t, "Alice")
	taskID := f.publishTask(t, groupID)

	f.detector.faces = []embedding.Face{
		{Index: 0, Embedding: uniformVec(0.1), BBox: [4]float64{0, 0, 50, 50}, DetScore: 0.95},
	}
	recorder := httptest.NewRecorder()
	f.handler.SubmitPhoto(recorder, requestWithChiParams(
		multipartImageRequest(t, "/api/v1/tasks/"+taskID+"/submissions", []byte("jpeg bytes"), nil),
		map[string]string{"taskID": taskID},
	))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	f.handler.ListSubmissions(recorder, requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID+"/submissions", nil),
		map[string]string{"taskID": taskID},
	))
	assertStatusCode(t, recorder, http.StatusOK)

	var listResult struct {
		Submissions []database.Submission `json:"submissions"`
		Count       int                   `json:"count"`
	}
	parseJSONResponse(t, recorder, &listResult)
	if listResult.Count != 1 {
		t.Fatalf("expected one submission, got %+v", listResult)
	}
	sub := listResult.Submissions[0]
	if sub.FacesTotal != 1 || sub.MatchedTotal != 1 {
		t.Errorf("unexpected submission counters: %+v", sub)
	}

	recorder = httptest.NewRecorder()
	f.handler.SubmissionFaces(recorder, requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/submissions/"+sub.ID+"/faces", nil),
		map[string]string{"submissionID": sub.ID},
	))
	assertStatusCode(t, recorder, http.StatusOK)

	var facesResult struct {
		Faces []database.SubmissionFace `json:"faces"`
		Count int                       `json:"count"`
	}
	parseJSONResponse(t, recorder, &facesResult)
	if facesResult.Count != 1 || facesResult.Faces[0].MatchedMemberID == "" {
		t.Errorf("expected one matched face, got %+v", facesResult)
	}
}
