package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database"
)

// IdentifyHandler answers "who is in this photo" queries against the
// in-memory member index, without touching any attendance state.
type IdentifyHandler struct {
	index    *database.MemberIndex
	detector attendance.FaceDetector
	matching *config.MatchingConfig
	logger   *zap.Logger
}

// NewIdentifyHandler creates a new identify handler.
func NewIdentifyHandler(
	index *database.MemberIndex,
	detector attendance.FaceDetector,
	matching *config.MatchingConfig,
	logger *zap.Logger,
) *IdentifyHandler {
	return &IdentifyHandler{
		index:    index,
		detector: detector,
		matching: matching,
		logger:   logger,
	}
}

// identifiedFace is one detected face with its nearest enrolled members.
type identifiedFace struct {
	FaceIndex  int                 `json:"face_index"`
	BBox       [4]float64          `json:"bbox"`
	Candidates []database.IndexHit `json:"candidates"`
}

// Identify handles POST /identify. Each detected face gets its nearest
// enrolled members with L2 distances; the caller judges the distances.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	if h.index == nil || h.index.IsEmpty() {
		respondError(w, http.StatusServiceUnavailable, "member index is not ready")
		return
	}

	imageData := readImageFile(w, r, "image")
	if imageData == nil {
		return
	}

	limit := h.matching.IdentifyLimit
	if s := r.FormValue("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, h.matching.IdentifyLimit)
	}

	faces, err := h.detector.DetectFaces(r.Context(), imageData)
	if err != nil {
		h.logger.Error("face detection failed", zap.Error(err))
		respondStoreError(w, err)
		return
	}

	results := make([]identifiedFace, 0, len(faces))
	for _, face := range faces {
		hits, err := h.index.Search(face.Embedding, limit)
		if err != nil {
			h.logger.Error("index search failed",
				zap.Int("face_index", face.Index),
				zap.Error(err))
			respondError(w, http.StatusInternalServerError, "member index search failed")
			return
		}
		results = append(results, identifiedFace{
			FaceIndex:  face.Index,
			BBox:       face.BBox,
			Candidates: hits,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"faces_detected": len(faces),
		"faces":          results,
	})
}
