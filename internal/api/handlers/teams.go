package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/finfolio-app/finfolio/internal/api/middleware"
	"github.com/finfolio-app/finfolio/internal/model"
	"github.com/finfolio-app/finfolio/internal/team"
)

// TeamsHandler serves team lifecycle endpoints.
type TeamsHandler struct {
	svc *team.Service
	log zerolog.Logger
}

// NewTeamsHandler creates the teams handler.
func NewTeamsHandler(svc *team.Service, log zerolog.Logger) *TeamsHandler {
	return &TeamsHandler{svc: svc, log: log}
}

// CreateTeam handles POST /api/teams
func (h *TeamsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.svc.CreateTeam(r.Context(), middleware.UserID(r.Context()), req.Name)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// MyTeam handles GET /api/teams/me
func (h *TeamsHandler) MyTeam(w http.ResponseWriter, r *http.Request) {
	t, membership, err := h.svc.MyTeam(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	if t == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"team": nil})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"team":       t,
		"membership": membership,
	})
}

// ListMembers handles GET /api/teams/members
func (h *TeamsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	t, members, err := h.svc.ListMembers(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"team":    t,
		"members": members,
		"count":   len(members),
	})
}

// JoinTeam handles POST /api/teams/join
func (h *TeamsHandler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	joined, err := h.svc.JoinTeam(r.Context(), middleware.UserID(r.Context()), req.Code)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, joined)
}

// LeaveTeam handles POST /api/teams/leave
func (h *TeamsHandler) LeaveTeam(w http.ResponseWriter, r *http.Request) {
	dissolved, err := h.svc.LeaveTeam(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"left":           true,
		"team_dissolved": dissolved,
	})
}

// UpdateMemberRole handles PUT /api/teams/members/{userID}/role
func (h *TeamsHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.svc.UpdateMemberRole(r.Context(), middleware.UserID(r.Context()), r.PathValue("userID"), model.Role(req.Role))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RemoveMember handles DELETE /api/teams/members/{userID}
func (h *TeamsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveMember(r.Context(), middleware.UserID(r.Context()), r.PathValue("userID"))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// CreateInvite handles POST /api/teams/invites
func (h *TeamsHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxUses        int `json:"max_uses"`
		ExpiresInHours int `json:"expires_in_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	invite, err := h.svc.CreateInvite(r.Context(), middleware.UserID(r.Context()),
		req.MaxUses, time.Duration(req.ExpiresInHours)*time.Hour)
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, invite)
}

// ListInvites handles GET /api/teams/invites?active=true
func (h *TeamsHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.svc.ListInvites(r.Context(), middleware.UserID(r.Context()),
		r.URL.Query().Get("active") == "true")
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	if invites == nil {
		invites = []*model.Invite{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"invites": invites,
		"count":   len(invites),
	})
}

// RevokeInvite handles DELETE /api/teams/invites/{code}
func (h *TeamsHandler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RevokeInvite(r.Context(), middleware.UserID(r.Context()), r.PathValue("code"))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// InviteInfo handles GET /api/invites/{code}, the pre-join preview.
func (h *TeamsHandler) InviteInfo(w http.ResponseWriter, r *http.Request) {
	invite, t, err := h.svc.InviteInfo(r.Context(), r.PathValue("code"))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"team_name":    t.Name,
		"member_count": t.MemberCount,
		"max_uses":     invite.MaxUses,
		"use_count":    invite.UseCount,
	})
}
