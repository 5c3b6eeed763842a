package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/embedding"
)

const (
	defaultAppearanceLimit = 20
	maxAppearanceLimit     = 100
)

// EnrollmentSaver persists enrollment photos, returning the stored path.
type EnrollmentSaver interface {
	SaveEnrollment(memberID string, imageData []byte) (string, error)
}

// MembersHandler handles member management and face enrollment endpoints.
type MembersHandler struct {
	members     database.MemberStore
	tasks       database.TaskStore
	submissions database.SubmissionStore
	detector    attendance.FaceDetector
	enrollments EnrollmentSaver
	index       *database.MemberIndex
	logger      *zap.Logger
}

// NewMembersHandler creates a new members handler. enrollments may be nil
// to skip storing enrollment photos; index may be nil to skip index updates.
func NewMembersHandler(
	members database.MemberStore,
	tasks database.TaskStore,
	submissions database.SubmissionStore,
	detector attendance.FaceDetector,
	enrollments EnrollmentSaver,
	index *database.MemberIndex,
	logger *zap.Logger,
) *MembersHandler {
	return &MembersHandler{
		members:     members,
		tasks:       tasks,
		submissions: submissions,
		detector:    detector,
		enrollments: enrollments,
		index:       index,
		logger:      logger,
	}
}

type createMemberRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Phone     string `json:"phone" validate:"max=32"`
	StudentNo string `json:"student_no" validate:"max=64"`
	Role      string `json:"role" validate:"omitempty,oneof=student teacher"`
}

// Create handles POST /members.
func (h *MembersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	member := &database.Member{
		Name:      req.Name,
		Phone:     req.Phone,
		StudentNo: req.StudentNo,
		Role:      req.Role,
	}
	if err := h.members.Create(r.Context(), member); err != nil {
		h.logger.Error("creating member failed", zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, member)
}

// Get handles GET /members/{memberID}.
func (h *MembersHandler) Get(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	member, err := h.members.Get(r.Context(), memberID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"member":   member,
		"enrolled": member.Enrolled(),
	})
}

type updateMemberRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	StudentNo *string `json:"student_no" validate:"omitempty,max=64"`
	Role      *string `json:"role" validate:"omitempty,oneof=student teacher"`
}

// Update handles PATCH /members/{memberID}. Absent fields stay unchanged.
func (h *MembersHandler) Update(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	var req updateMemberRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	patch := database.MemberPatch{
		Name:      req.Name,
		Phone:     req.Phone,
		StudentNo: req.StudentNo,
		Role:      req.Role,
	}
	if patch.Empty() {
		respondError(w, http.StatusBadRequest, "empty patch")
		return
	}

	if err := h.members.Update(r.Context(), memberID, patch); err != nil {
		respondStoreError(w, err)
		return
	}

	member, err := h.members.Get(r.Context(), memberID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	// A renamed enrolled member keeps matching under the new name.
	if req.Name != nil && member.Enrolled() && h.index != nil {
		if vec, err := embedding.Unmarshal(member.FaceFeature); err == nil {
			h.index.Add(database.MemberEmbedding{
				MemberID:  member.ID,
				Name:      member.Name,
				Embedding: vec,
			})
		}
	}

	respondJSON(w, http.StatusOK, member)
}

// Search handles GET /members?name=. Matching ignores case, diacritics and
// repeated whitespace.
func (h *MembersHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}

	members, err := h.members.SearchByName(r.Context(), name)
	if err != nil {
		h.logger.Error("member search failed",
			zap.String("name", sanitizeForLog(name)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

// EnrollFace handles POST /members/{memberID}/face. The photo must contain
// at least one face; with several, the highest-confidence detection wins.
// Re-enrolling replaces the previous embedding.
func (h *MembersHandler) EnrollFace(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	member, err := h.members.Get(r.Context(), memberID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	imageData := readImageFile(w, r, "image")
	if imageData == nil {
		return
	}

	faces, err := h.detector.DetectFaces(r.Context(), imageData)
	if err != nil {
		h.logger.Error("face detection failed",
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	best := faces[0]
	for _, face := range faces[1:] {
		if face.DetScore > best.DetScore {
			best = face
		}
	}

	feature, err := embedding.Marshal(best.Embedding)
	if err != nil {
		respondError(w, http.StatusBadGateway, "embedding service returned an invalid embedding")
		return
	}

	facePath := ""
	if h.enrollments != nil {
		facePath, err = h.enrollments.SaveEnrollment(memberID, imageData)
		if err != nil {
			// The embedding is what matters; a lost photo is logged and skipped.
			h.logger.Warn("saving enrollment photo failed",
				zap.String("member_id", sanitizeForLog(memberID)),
				zap.Error(err))
			facePath = ""
		}
	}

	if err := h.members.SetEmbedding(r.Context(), memberID, feature, facePath); err != nil {
		h.logger.Error("storing embedding failed",
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	if h.index != nil {
		h.index.Add(database.MemberEmbedding{
			MemberID:  memberID,
			Name:      member.Name,
			Embedding: best.Embedding,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"member_id":      memberID,
		"faces_detected": len(faces),
		"det_score":      best.DetScore,
		"enrolled":       true,
	})
}

// OpenTasks handles GET /members/{memberID}/tasks/open.
func (h *MembersHandler) OpenTasks(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	if _, err := h.members.Get(r.Context(), memberID); err != nil {
		respondStoreError(w, err)
		return
	}

	tasks, err := h.tasks.OpenForMember(r.Context(), memberID)
	if err != nil {
		h.logger.Error("listing open tasks failed",
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"member_id": memberID,
		"tasks":     tasks,
		"count":     len(tasks),
	})
}

// Appearances handles GET /members/{memberID}/appearances. It finds
// submission faces nearest to the member's enrolled embedding.
func (h *MembersHandler) Appearances(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	member, err := h.members.Get(r.Context(), memberID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !member.Enrolled() {
		respondError(w, http.StatusBadRequest, "member has no enrolled face")
		return
	}

	vec, err := embedding.Unmarshal(member.FaceFeature)
	if err != nil {
		h.logger.Error("stored embedding is corrupt",
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "stored embedding is corrupt")
		return
	}

	limit := defaultAppearanceLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAppearanceLimit)
	}

	appearances, err := h.submissions.AppearancesFor(r.Context(), vec, limit)
	if err != nil {
		h.logger.Error("appearance search failed",
			zap.String("member_id", sanitizeForLog(memberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"member_id":   memberID,
		"appearances": appearances,
		"count":       len(appearances),
	})
}
