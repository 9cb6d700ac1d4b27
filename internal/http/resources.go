package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pupitre/access/internal/model"
	"pupitre/access/internal/policy"
	"pupitre/access/internal/repository"
)

type assessmentSummary struct {
	ID        string  `json:"id"`
	SchoolID  *string `json:"schoolId"`
	OwnerID   string  `json:"ownerId"`
	Title     string  `json:"title"`
	Subject   string  `json:"subject"`
	CreatedOn int64   `json:"createdOn"`
}

func mapAssessment(a model.Assessment) assessmentSummary {
	return assessmentSummary{
		ID:        a.ID,
		SchoolID:  a.SchoolID,
		OwnerID:   a.OwnerID,
		Title:     a.Title,
		Subject:   a.Subject,
		CreatedOn: a.CreatedAt.Unix(),
	}
}

type createAssessmentRequest struct {
	Title   string `json:"title"`
	Subject string `json:"subject"`

	// Ignored: ownership and tenancy come from the resolved actor and
	// the route, never from the body.
	OwnerID  *string `json:"ownerId,omitempty"`
	SchoolID *string `json:"schoolId,omitempty"`
}

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")

	var req createAssessmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Title == "" || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	now := time.Now().UTC()
	assessment := model.Assessment{
		ID:        uuid.NewString(),
		SchoolID:  &schoolID,
		OwnerID:   actor.Profile.ID,
		Title:     req.Title,
		Subject:   req.Subject,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !authorize(w, actor, policy.ActionInsert, policy.AssessmentResource(assessment)) {
		return
	}
	if err := s.store.CreateAssessment(r.Context(), actor.Profile.ID, assessment); err != nil {
		writeAccessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapAssessment(assessment))
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	assessmentID := chi.URLParam(r, "assessmentID")
	if assessmentID == "" {
		writeError(w, http.StatusBadRequest, "missing_assessment_id")
		return
	}

	assessment, err := s.store.GetAssessment(r.Context(), actor.Profile.ID, assessmentID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionSelect, policy.AssessmentResource(assessment)) {
		return
	}
	writeJSON(w, http.StatusOK, mapAssessment(assessment))
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")

	assessments, err := s.store.ListAssessmentsBySchool(r.Context(), actor.Profile.ID, schoolID, limitParam(r, 200))
	if err != nil {
		writeAccessError(w, err)
		return
	}

	// The store already filtered rows to the actor's visibility; a
	// student sees only their own records here, everyone else what
	// their scope allows. An empty list is just an empty list.
	resp := make([]assessmentSummary, 0, len(assessments))
	for _, assessment := range assessments {
		resp = append(resp, mapAssessment(assessment))
	}
	writeJSON(w, http.StatusOK, resp)
}

type patchAssessmentRequest struct {
	Title   *string `json:"title,omitempty"`
	Subject *string `json:"subject,omitempty"`
}

func (s *Server) handlePatchAssessment(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	assessmentID := chi.URLParam(r, "assessmentID")
	if assessmentID == "" {
		writeError(w, http.StatusBadRequest, "missing_assessment_id")
		return
	}

	var req patchAssessmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	assessment, err := s.store.GetAssessment(r.Context(), actor.Profile.ID, assessmentID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionUpdate, policy.AssessmentResource(assessment)) {
		return
	}

	update := repository.AssessmentUpdate{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title != "" {
			update.Title = &title
		}
	}
	if req.Subject != nil {
		subject := strings.TrimSpace(*req.Subject)
		if subject != "" {
			update.Subject = &subject
		}
	}

	updated, err := s.store.UpdateAssessment(r.Context(), actor.Profile.ID, assessmentID, update)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapAssessment(updated))
}

func (s *Server) handleDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	assessmentID := chi.URLParam(r, "assessmentID")
	if assessmentID == "" {
		writeError(w, http.StatusBadRequest, "missing_assessment_id")
		return
	}

	assessment, err := s.store.GetAssessment(r.Context(), actor.Profile.ID, assessmentID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionDelete, policy.AssessmentResource(assessment)) {
		return
	}

	deleted, err := s.store.DeleteAssessment(r.Context(), actor.Profile.ID, assessmentID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type projectSummary struct {
	ID        string  `json:"id"`
	SchoolID  *string `json:"schoolId"`
	OwnerID   string  `json:"ownerId"`
	Name      string  `json:"name"`
	Summary   string  `json:"summary"`
	CreatedOn int64   `json:"createdOn"`
}

func mapProject(p model.Project) projectSummary {
	return projectSummary{
		ID:        p.ID,
		SchoolID:  p.SchoolID,
		OwnerID:   p.OwnerID,
		Name:      p.Name,
		Summary:   p.Summary,
		CreatedOn: p.CreatedAt.Unix(),
	}
}

type createProjectRequest struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`

	OwnerID  *string `json:"ownerId,omitempty"`
	SchoolID *string `json:"schoolId,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	now := time.Now().UTC()
	project := model.Project{
		ID:        uuid.NewString(),
		SchoolID:  &schoolID,
		OwnerID:   actor.Profile.ID,
		Name:      req.Name,
		Summary:   strings.TrimSpace(req.Summary),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !authorize(w, actor, policy.ActionInsert, policy.ProjectResource(project)) {
		return
	}
	if err := s.store.CreateProject(r.Context(), actor.Profile.ID, project); err != nil {
		writeAccessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapProject(project))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "missing_project_id")
		return
	}

	project, err := s.store.GetProject(r.Context(), actor.Profile.ID, projectID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionSelect, policy.ProjectResource(project)) {
		return
	}
	writeJSON(w, http.StatusOK, mapProject(project))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")

	projects, err := s.store.ListProjectsBySchool(r.Context(), actor.Profile.ID, schoolID, limitParam(r, 200))
	if err != nil {
		writeAccessError(w, err)
		return
	}

	resp := make([]projectSummary, 0, len(projects))
	for _, project := range projects {
		resp = append(resp, mapProject(project))
	}
	writeJSON(w, http.StatusOK, resp)
}

type patchProjectRequest struct {
	Name    *string `json:"name,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "missing_project_id")
		return
	}

	var req patchProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	project, err := s.store.GetProject(r.Context(), actor.Profile.ID, projectID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionUpdate, policy.ProjectResource(project)) {
		return
	}

	update := repository.ProjectUpdate{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != "" {
			update.Name = &name
		}
	}
	if req.Summary != nil {
		summary := strings.TrimSpace(*req.Summary)
		update.Summary = &summary
	}

	updated, err := s.store.UpdateProject(r.Context(), actor.Profile.ID, projectID, update)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProject(updated))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		denyUnauthenticated(w)
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "missing_project_id")
		return
	}

	project, err := s.store.GetProject(r.Context(), actor.Profile.ID, projectID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !authorize(w, actor, policy.ActionDelete, policy.ProjectResource(project)) {
		return
	}

	deleted, err := s.store.DeleteProject(r.Context(), actor.Profile.ID, projectID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
