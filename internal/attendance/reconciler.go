package attendance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/embedding"
	"github.com/rollcall-io/rollcall/internal/facematch"
)

// FaceDetector extracts faces and embeddings from a photo.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error)
}

// CropSaver persists submission photos and per-face crops, returning the
// stored path.
type CropSaver interface {
	SaveSubmissionPhoto(submissionID string, imageData []byte) (string, error)
	SaveFaceCrop(submissionID string, faceIndex int, imageData []byte, bbox [4]float64) (string, error)
}

// ReconcileRequest is one submitted class photo to process against a task.
// GroupID narrows matching to one group's pending members; empty covers the
// whole task. Threshold is the maximum accepted match distance.
type ReconcileRequest struct {
	TaskID      string
	GroupID     string
	SubmittedBy string
	Image       []byte
	Threshold   float64
}

// MatchedMember is one pending member recognized in the photo.
type MatchedMember struct {
	MemberID  string  `json:"member_id"`
	Name      string  `json:"name"`
	FaceIndex int     `json:"face_index"`
	Distance  float64 `json:"distance"`
}

// PendingMember is a member still not signed after reconciliation.
type PendingMember struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Enrolled bool   `json:"enrolled"`
}

// ReconcileResult reports the outcome of processing one submission.
type ReconcileResult struct {
	SubmissionID   string          `json:"submission_id,omitempty"`
	TaskID         string          `json:"task_id"`
	FacesDetected  int             `json:"faces_detected"`
	Matched        []MatchedMember `json:"matched"`
	UnmatchedFaces []int           `json:"unmatched_faces,omitempty"`
	StillPending   []PendingMember `json:"still_pending,omitempty"`
	NothingPending bool            `json:"nothing_pending,omitempty"`
}

// Reconciler turns submitted class photos into attendance transitions.
type Reconciler struct {
	tasks       database.TaskStore
	records     database.RecordStore
	members     database.MemberStore
	submissions database.SubmissionStore
	detector    FaceDetector
	crops       CropSaver
	logger      *zap.Logger
}

// NewReconciler creates a reconciler over the given stores. crops may be
// nil to disable artifact persistence.
func NewReconciler(
	tasks database.TaskStore,
	records database.RecordStore,
	members database.MemberStore,
	submissions database.SubmissionStore,
	detector FaceDetector,
	crops CropSaver,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		tasks:       tasks,
		records:     records,
		members:     members,
		submissions: submissions,
		detector:    detector,
		crops:       crops,
		logger:      logger,
	}
}

// Reconcile matches the faces in a submitted photo against the task's
// pending members and signs in everyone recognized within the threshold.
//
// Each matched member's record moves from not-signed to signed exactly once;
// a record that already left the not-signed state is untouched, so
// resubmitting the same photo is a safe no-op. Pending members are read
// before matching without locking, so a concurrent manual override can win
// the race; the record-level guard makes the late transition a no-op rather
// than an overwrite.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	exists, err := r.tasks.TaskExists(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return nil, ErrTaskNotFound
	}

	if req.GroupID != "" {
		row, err := r.tasks.RowForGroup(ctx, req.TaskID, req.GroupID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load task row: %w", err)
		}
		if row.Status == database.TaskClosed {
			return nil, ErrTaskClosed
		}
	}

	result := &ReconcileResult{TaskID: req.TaskID, Matched: []MatchedMember{}}

	pending, err := r.records.PendingMembers(ctx, req.TaskID, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load pending members: %w", err)
	}
	if len(pending) == 0 {
		result.NothingPending = true
		return result, nil
	}

	faces, err := r.detector.DetectFaces(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	result.FacesDetected = len(faces)

	queries := make([]facematch.Query, 0, len(faces))
	for _, face := range faces {
		queries = append(queries, facematch.Query{Index: face.Index, Embedding: face.Embedding})
	}
	candidates, err := r.buildCandidates(ctx, pending)
	if err != nil {
		return nil, err
	}

	assignments := facematch.Assign(queries, candidates, req.Threshold)

	matched := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		if !a.Matched() {
			result.UnmatchedFaces = append(result.UnmatchedFaces, a.QueryIndex)
			continue
		}

		distance := a.Distance
		changed, err := r.records.Transition(ctx, req.TaskID, a.MemberID, database.StatusSigned, &distance)
		if err != nil {
			r.logger.Error("record transition failed",
				zap.String("task_id", req.TaskID),
				zap.String("member_id", a.MemberID),
				zap.Error(err))
			result.UnmatchedFaces = append(result.UnmatchedFaces, a.QueryIndex)
			continue
		}
		if !changed {
			// The record left the not-signed state after the pending read,
			// e.g. a concurrent submission or override won the race.
			r.logger.Warn("record no longer signable",
				zap.String("task_id", req.TaskID),
				zap.String("member_id", a.MemberID))
			result.UnmatchedFaces = append(result.UnmatchedFaces, a.QueryIndex)
			continue
		}

		matched[a.MemberID] = true
		result.Matched = append(result.Matched, MatchedMember{
			MemberID:  a.MemberID,
			Name:      memberName(pending, a.MemberID),
			FaceIndex: a.QueryIndex,
			Distance:  a.Distance,
		})
	}

	for _, member := range pending {
		if matched[member.ID] {
			continue
		}
		result.StillPending = append(result.StillPending, PendingMember{
			MemberID: member.ID,
			Name:     member.Name,
			Enrolled: member.Enrolled(),
		})
	}

	r.persistSubmission(ctx, req, faces, assignments, result)

	r.logger.Info("submission reconciled",
		zap.String("task_id", req.TaskID),
		zap.String("group_id", req.GroupID),
		zap.Int("faces", result.FacesDetected),
		zap.Int("matched", len(result.Matched)),
		zap.Int("still_pending", len(result.StillPending)))

	return result, nil
}

// buildCandidates loads the enrolled embeddings of the pending members, in
// stable pending order. Members without an enrolled embedding are left out
// of matching but stay pending.
func (r *Reconciler) buildCandidates(ctx context.Context, pending []database.Member) ([]facematch.Candidate, error) {
	ids := make([]string, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
	}

	embeddings, err := r.members.EmbeddingsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate embeddings: %w", err)
	}

	byID := make(map[string][]float32, len(embeddings))
	for _, emb := range embeddings {
		byID[emb.MemberID] = emb.Embedding
	}

	candidates := make([]facematch.Candidate, 0, len(embeddings))
	for _, id := range ids {
		vec, ok := byID[id]
		if !ok {
			continue
		}
		candidates = append(candidates, facematch.Candidate{MemberID: id, Embedding: vec})
	}
	return candidates, nil
}

// persistSubmission stores the submission and its faces for audit. Failures
// are logged, never fatal: the attendance transitions already happened.
func (r *Reconciler) persistSubmission(
	ctx context.Context,
	req ReconcileRequest,
	faces []embedding.Face,
	assignments []facematch.Assignment,
	result *ReconcileResult,
) {
	byQuery := make(map[int]facematch.Assignment, len(assignments))
	for _, a := range assignments {
		byQuery[a.QueryIndex] = a
	}

	sub := &database.Submission{
		TaskID:       req.TaskID,
		GroupID:      req.GroupID,
		SubmittedBy:  req.SubmittedBy,
		FacesTotal:   len(faces),
		MatchedTotal: len(result.Matched),
	}

	subFaces := make([]database.SubmissionFace, 0, len(faces))
	for _, face := range faces {
		sf := database.SubmissionFace{
			FaceIndex: face.Index,
			Embedding: face.Embedding,
			BBox:      face.BBox[:],
		}
		if a, ok := byQuery[face.Index]; ok && a.Matched() {
			distance := a.Distance
			sf.MatchedMemberID = a.MemberID
			sf.Distance = &distance
		}
		subFaces = append(subFaces, sf)
	}

	// Mint the submission ID up front so artifact paths carry it.
	sub.ID = database.NewShortID()
	if r.crops != nil {
		photoPath, err := r.crops.SaveSubmissionPhoto(sub.ID, req.Image)
		if err != nil {
			r.logger.Warn("saving submission photo failed", zap.Error(err))
		} else {
			sub.PhotoPath = photoPath
		}
		for i := range subFaces {
			face := faces[i]
			cropPath, err := r.crops.SaveFaceCrop(sub.ID, face.Index, req.Image, face.BBox)
			if err != nil {
				r.logger.Warn("saving face crop failed",
					zap.Int("face_index", face.Index),
					zap.Error(err))
				continue
			}
			subFaces[i].CropPath = cropPath
		}
	}

	if err := r.submissions.Save(ctx, sub, subFaces); err != nil {
		r.logger.Error("persisting submission failed",
			zap.String("task_id", req.TaskID),
			zap.Error(err))
		return
	}
	result.SubmissionID = sub.ID
}

func memberName(members []database.Member, id string) string {
	for i := range members {
		if members[i].ID == id {
			return members[i].Name
		}
	}
	return ""
}
