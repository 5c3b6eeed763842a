package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database"
)

// TasksHandler handles sign-in task lifecycle endpoints: publishing,
// closing, record overrides and photo submissions.
type TasksHandler struct {
	publisher   *attendance.Publisher
	reconciler  *attendance.Reconciler
	tasks       database.TaskStore
	records     database.RecordStore
	submissions database.SubmissionStore
	matching    *config.MatchingConfig
	logger      *zap.Logger
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(
	publisher *attendance.Publisher,
	reconciler *attendance.Reconciler,
	tasks database.TaskStore,
	records database.RecordStore,
	submissions database.SubmissionStore,
	matching *config.MatchingConfig,
	logger *zap.Logger,
) *TasksHandler {
	return &TasksHandler{
		publisher:   publisher,
		reconciler:  reconciler,
		tasks:       tasks,
		records:     records,
		submissions: submissions,
		matching:    matching,
		logger:      logger,
	}
}

type publishTaskRequest struct {
	GroupIDs  []string `json:"group_ids" validate:"required,min=1,dive,len=12"`
	Initiator string   `json:"initiator" validate:"required,max=255"`
	TaskID    string   `json:"task_id" validate:"omitempty,len=12"`
}

// Publish handles POST /tasks. Passing the task_id of an earlier partial
// publish resumes it instead of starting a new task.
func (h *TasksHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.publisher.Publish(r.Context(), attendance.PublishRequest{
		GroupIDs:  req.GroupIDs,
		Initiator: req.Initiator,
		TaskID:    req.TaskID,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// Get handles GET /tasks/{taskID}. It returns the per-group rows of a task.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	rows, err := h.tasks.RowsByTask(r.Context(), taskID)
	if err != nil {
		h.logger.Error("loading task rows failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"rows":    rows,
		"count":   len(rows),
	})
}

// Close handles POST /tasks/{taskID}/close. Closing an already closed task
// reports zero closed rows.
func (h *TasksHandler) Close(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	exists, err := h.tasks.TaskExists(r.Context(), taskID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	closed, err := h.tasks.Close(r.Context(), taskID)
	if err != nil {
		h.logger.Error("closing task failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"closed_rows": closed,
	})
}

// Records handles GET /tasks/{taskID}/records. An optional group_id query
// narrows the list to one group's members.
func (h *TasksHandler) Records(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	exists, err := h.tasks.TaskExists(r.Context(), taskID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	records, err := h.records.ListByTask(r.Context(), taskID, r.URL.Query().Get("group_id"))
	if err != nil {
		h.logger.Error("listing records failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"records": records,
		"count":   len(records),
	})
}

type overrideRecordRequest struct {
	Status *int16 `json:"status" validate:"required"`
}

// Override handles PUT /tasks/{taskID}/records/{memberID}. Manual
// corrections apply regardless of the record's current state and drop any
// automatic match score.
func (h *TasksHandler) Override(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	memberID := chi.URLParam(r, "memberID")

	var req overrideRecordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !database.ValidRecordStatus(*req.Status) {
		respondError(w, http.StatusBadRequest, "unknown record status")
		return
	}
	status := database.RecordStatus(*req.Status)

	changed, err := h.records.Override(r.Context(), taskID, memberID, status)
	if err != nil {
		h.logger.Error("record override failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}
	if !changed {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id":   taskID,
		"member_id": memberID,
		"status":    status.String(),
	})
}

// SubmitPhoto handles POST /tasks/{taskID}/submissions. The multipart form
// carries the class photo under "image" plus optional group_id,
// submitted_by and threshold fields. Resubmitting the same photo is safe:
// already signed members keep their records.
func (h *TasksHandler) SubmitPhoto(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	imageData := readImageFile(w, r, "image")
	if imageData == nil {
		return
	}

	threshold := 0.0
	if s := r.FormValue("threshold"); s != "" {
		t, err := strconv.ParseFloat(s, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		threshold = t
	}

	result, err := h.reconciler.Reconcile(r.Context(), attendance.ReconcileRequest{
		TaskID:      taskID,
		GroupID:     r.FormValue("group_id"),
		SubmittedBy: r.FormValue("submitted_by"),
		Image:       imageData,
		Threshold:   h.matching.ClampThreshold(threshold),
	})
	if err != nil {
		h.logger.Error("reconciling submission failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ListSubmissions handles GET /tasks/{taskID}/submissions.
func (h *TasksHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	exists, err := h.tasks.TaskExists(r.Context(), taskID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	submissions, err := h.submissions.ListByTask(r.Context(), taskID)
	if err != nil {
		h.logger.Error("listing submissions failed",
			zap.String("task_id", sanitizeForLog(taskID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"submissions": submissions,
		"count":       len(submissions),
	})
}

// SubmissionFaces handles GET /submissions/{submissionID}/faces.
func (h *TasksHandler) SubmissionFaces(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	faces, err := h.submissions.Faces(r.Context(), submissionID)
	if err != nil {
		h.logger.Error("listing submission faces failed",
			zap.String("submission_id", sanitizeForLog(submissionID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"submission_id": submissionID,
		"faces":         faces,
		"count":         len(faces),
	})
}
