package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pupitre/access/internal/model"
	"pupitre/access/internal/policy"
	"pupitre/access/internal/repository"
)

type profileSummary struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Role      string  `json:"role"`
	SchoolID  *string `json:"schoolId"`
}

func mapProfile(p model.Profile) profileSummary {
	return profileSummary{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role.String(),
		SchoolID:  p.SchoolID,
	}
}

// authorize runs the policy check and writes the rejection if it fails.
// Together with the row policies in the store this is the two-layer
// contract: a handler bug here still leaves the store filtering rows.
func authorize(w http.ResponseWriter, actor *model.Actor, action policy.Action, res policy.Resource) bool {
	if err := policy.Explain(actor.Profile, action, res); err != nil {
		writeAccessError(w, err)
		return false
	}
	decisions.WithLabelValues(outcomeAllow).Inc()
	return true
}

// handleGetProfileBySubject is the bootstrap lookup: the subject fetches
// its own profile knowing only its credential. Self-lookups answer 404
// when no profile exists; any other target resolves the caller first and
// goes through the regular policy and row-filter path. Absent and
// invisible targets are the same 404.
func (s *Server) handleGetProfileBySubject(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromContext(r.Context())
	if subject == nil {
		denyUnauthenticated(w)
		return
	}
	targetID := chi.URLParam(r, "subjectID")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "missing_subject_id")
		return
	}

	if targetID == subject.ID {
		profile, err := s.resolver.Resolve(r.Context(), subject.ID)
		if err != nil {
			if errors.Is(err, model.ErrUnauthenticated) {
				writeError(w, http.StatusNotFound, "profile_not_found")
				return
			}
			writeAccessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapProfile(profile))
		return
	}

	caller, err := s.resolver.Resolve(r.Context(), subject.ID)
	if err != nil {
		rejectAuthError(w, err)
		return
	}
	actor := &model.Actor{Subject: *subject, Profile: caller}

	target, err := s.store.GetProfile(r.Context(), caller.ID, targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "profile_not_found")
		return
	}
	if !authorize(w, actor, policy.ActionSelect, policy.ProfileResource(target)) {
		return
	}
	writeJSON(w, http.StatusOK, mapProfile(target))
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	writeJSON(w, http.StatusOK, mapProfile(actor.Profile))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "missing_profile_id")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), actor.Profile.ID, profileID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionSelect, policy.ProfileResource(profile)) {
		return
	}
	writeJSON(w, http.StatusOK, mapProfile(profile))
}

type patchProfileRequest struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`

	// Accepted but never read: authorization comes from the resolved
	// actor, not from whatever the client claims to be.
	Role     *string `json:"role,omitempty"`
	SchoolID *string `json:"schoolId,omitempty"`
}

func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "missing_profile_id")
		return
	}

	var req patchProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	target, err := s.store.GetProfile(r.Context(), actor.Profile.ID, profileID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionUpdate, policy.ProfileResource(target)) {
		return
	}

	update := repository.ProfileUpdate{}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email != "" {
			update.Email = &email
		}
	}
	if req.FirstName != nil {
		first := strings.TrimSpace(*req.FirstName)
		if first != "" {
			update.FirstName = &first
		}
	}
	if req.LastName != nil {
		last := strings.TrimSpace(*req.LastName)
		if last != "" {
			update.LastName = &last
		}
	}

	profile, err := s.store.UpdateProfile(r.Context(), actor.Profile.ID, profileID, update)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	s.resolver.Invalidate(r.Context(), profileID)
	writeJSON(w, http.StatusOK, mapProfile(profile))
}

func (s *Server) handleListProfilesBySchool(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")

	profiles, err := s.store.ListProfilesBySchool(r.Context(), actor.Profile.ID, schoolID, limitParam(r, 200))
	if err != nil {
		writeAccessError(w, err)
		return
	}

	resp := make([]profileSummary, 0, len(profiles))
	for _, profile := range profiles {
		resp = append(resp, mapProfile(profile))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	var unread int64
	if s.redis != nil {
		if value, err := s.redis.Get(r.Context(), "unread:"+actor.Profile.ID).Int64(); err == nil {
			unread = value
		}
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": unread})
}

func limitParam(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
