package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rollcall-io/rollcall/internal/database"
)

// GroupsHandler handles group management endpoints.
type GroupsHandler struct {
	groups  database.GroupStore
	members database.MemberStore
	logger  *zap.Logger
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(groups database.GroupStore, members database.MemberStore, logger *zap.Logger) *GroupsHandler {
	return &GroupsHandler{
		groups:  groups,
		members: members,
		logger:  logger,
	}
}

type createGroupRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Owner string `json:"owner" validate:"max=255"`
}

// Create handles POST /groups.
func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	group, err := h.groups.Create(r.Context(), req.Name, req.Owner)
	if err != nil {
		h.logger.Error("creating group failed", zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, group)
}

// List handles GET /groups.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		h.logger.Error("listing groups failed", zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// Get handles GET /groups/{groupID}.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	group, err := h.groups.Get(r.Context(), groupID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, group)
}

type addGroupMemberRequest struct {
	MemberID string `json:"member_id" validate:"required,len=12"`
}

// AddMember handles POST /groups/{groupID}/members. Adding a member twice
// is a no-op.
func (h *GroupsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req addGroupMemberRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.groups.Get(r.Context(), groupID); err != nil {
		respondStoreError(w, err)
		return
	}
	if _, err := h.members.Get(r.Context(), req.MemberID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "member not found")
			return
		}
		respondStoreError(w, err)
		return
	}

	if err := h.groups.AddMember(r.Context(), groupID, req.MemberID); err != nil {
		h.logger.Error("adding group member failed",
			zap.String("group_id", sanitizeForLog(groupID)),
			zap.String("member_id", sanitizeForLog(req.MemberID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"group_id":  groupID,
		"member_id": req.MemberID,
	})
}

// Members handles GET /groups/{groupID}/members.
func (h *GroupsHandler) Members(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	if _, err := h.groups.Get(r.Context(), groupID); err != nil {
		respondStoreError(w, err)
		return
	}

	members, err := h.groups.Members(r.Context(), groupID)
	if err != nil {
		h.logger.Error("listing group members failed",
			zap.String("group_id", sanitizeForLog(groupID)),
			zap.Error(err))
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"members":  members,
		"count":    len(members),
	})
}
