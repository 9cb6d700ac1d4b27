package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"pupitre/access/internal/config"
	"pupitre/access/internal/credential"
	"pupitre/access/internal/model"
	"pupitre/access/internal/repository"
)

// Store is the repository surface the handlers need. The concrete
// implementation enforces the row policies independently of the checks
// made here; the two layers must agree, and tests hold them to it.
type Store interface {
	GetProfile(ctx context.Context, actorID, profileID string) (model.Profile, error)
	ListProfilesBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Profile, error)
	UpdateProfile(ctx context.Context, actorID, profileID string, update repository.ProfileUpdate) (model.Profile, error)

	CreateAssessment(ctx context.Context, actorID string, assessment model.Assessment) error
	GetAssessment(ctx context.Context, actorID, assessmentID string) (model.Assessment, error)
	ListAssessmentsBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Assessment, error)
	UpdateAssessment(ctx context.Context, actorID, assessmentID string, update repository.AssessmentUpdate) (model.Assessment, error)
	DeleteAssessment(ctx context.Context, actorID, assessmentID string) (bool, error)

	CreateProject(ctx context.Context, actorID string, project model.Project) error
	GetProject(ctx context.Context, actorID, projectID string) (model.Project, error)
	ListProjectsBySchool(ctx context.Context, actorID, schoolID string, limit int) ([]model.Project, error)
	UpdateProject(ctx context.Context, actorID, projectID string, update repository.ProjectUpdate) (model.Project, error)
	DeleteProject(ctx context.Context, actorID, projectID string) (bool, error)
}

// ProfileResolver maps a subject id to its profile server-side. The
// middleware never trusts anything role-shaped coming from the client.
type ProfileResolver interface {
	Resolve(ctx context.Context, subjectID string) (model.Profile, error)
	Invalidate(ctx context.Context, subjectID string)
}

type Server struct {
	cfg       config.Config
	store     Store
	resolver  ProfileResolver
	validator credential.Validator
	redis     *redis.Client
}

func NewServer(cfg config.Config, store Store, resolver ProfileResolver, validator credential.Validator, redisClient *redis.Client) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		validator: validator,
		redis:     redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Elevated-trust bootstrap lookup: credential required, profile not,
	// because the caller cannot prove a profile it has not fetched yet.
	r.With(s.credentialOnly).Get("/profile/{subjectID}", s.handleGetProfileBySubject)

	r.With(s.authMiddleware).Get("/me", s.handleGetMe)
	r.With(s.authMiddleware).Get("/me/unread", s.handleUnreadCount)

	r.Route("/profiles", func(r chi.Router) {
		r.With(s.authMiddleware).Get("/{profileID}", s.handleGetProfile)
		r.With(s.authMiddleware).Patch("/{profileID}", s.handlePatchProfile)
	})

	r.Route("/schools/{schoolID}", func(r chi.Router) {
		r.With(s.authMiddleware, s.requireRole(model.RoleSuperAdmin, model.RoleSchoolAdmin), s.requireSchoolScope).
			Get("/profiles", s.handleListProfilesBySchool)

		r.With(s.authMiddleware, s.requireSchoolScope).Get("/assessments", s.handleListAssessments)
		r.With(s.authMiddleware, s.requireRole(model.RoleSuperAdmin, model.RoleSchoolAdmin, model.RoleTeacher), s.requireSchoolScope).
			Post("/assessments", s.handleCreateAssessment)

		r.With(s.authMiddleware, s.requireSchoolScope).Get("/projects", s.handleListProjects)
		r.With(s.authMiddleware, s.requireRole(model.RoleSuperAdmin, model.RoleSchoolAdmin, model.RoleTeacher), s.requireSchoolScope).
			Post("/projects", s.handleCreateProject)
	})

	r.With(s.authMiddleware).Get("/assessments/{assessmentID}", s.handleGetAssessment)
	r.With(s.authMiddleware).Patch("/assessments/{assessmentID}", s.handlePatchAssessment)
	r.With(s.authMiddleware, s.requireRole(model.RoleSuperAdmin, model.RoleSchoolAdmin)).
		Delete("/assessments/{assessmentID}", s.handleDeleteAssessment)

	r.With(s.authMiddleware).Get("/projects/{projectID}", s.handleGetProject)
	r.With(s.authMiddleware).Patch("/projects/{projectID}", s.handlePatchProject)
	r.With(s.authMiddleware, s.requireRole(model.RoleSuperAdmin, model.RoleSchoolAdmin)).
		Delete("/projects/{projectID}", s.handleDeleteProject)

	return r
}

// Context plumbing. The resolved actor is the only authorization input
// downstream handlers may use.

type actorKey struct{}
type subjectKey struct{}

func actorFromContext(ctx context.Context) *model.Actor {
	actor, _ := ctx.Value(actorKey{}).(*model.Actor)
	return actor
}

func subjectFromContext(ctx context.Context) *model.Subject {
	subject, _ := ctx.Value(subjectKey{}).(*model.Subject)
	return subject
}

// authMiddleware is the full gate: bearer extraction, credential
// validation, profile resolution, actor attachment. Anonymous requests
// are rejected before the resolver is ever touched; resolver outages
// reject rather than degrade (fail-closed on the server path).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			denyUnauthenticated(w)
			return
		}

		subject, err := s.validator.Validate(r.Context(), token)
		if err != nil {
			rejectAuthError(w, err)
			return
		}

		profile, err := s.resolver.Resolve(r.Context(), subject.ID)
		if err != nil {
			rejectAuthError(w, err)
			return
		}
		if !profile.Valid() {
			// Invariant violation: the profile is kept usable for
			// self-scoped operations only; the policy layer denies the
			// rest. Never repaired here.
			log.Printf("data integrity warning: profile %s role %s has no school", profile.ID, profile.Role)
		}

		actor := &model.Actor{Subject: subject, Profile: profile}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credentialOnly validates the credential but defers profile resolution
// to the handler. Only the bootstrap profile lookup uses it.
func (s *Server) credentialOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			denyUnauthenticated(w)
			return
		}
		subject, err := s.validator.Validate(r.Context(), token)
		if err != nil {
			rejectAuthError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, &subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFromContext(r.Context())
			if actor == nil {
				denyUnauthenticated(w)
				return
			}
			for _, role := range roles {
				if actor.Profile.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			denyForbidden(w)
		})
	}
}

// requireSchoolScope compares the school in the URL against the actor's.
// super_admin passes; everyone else must match, and an actor without a
// school (invariant violation) matches nothing.
func (s *Server) requireSchoolScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := actorFromContext(r.Context())
		if actor == nil {
			denyUnauthenticated(w)
			return
		}
		if actor.Profile.Role == model.RoleSuperAdmin {
			next.ServeHTTP(w, r)
			return
		}
		schoolID := chi.URLParam(r, "schoolID")
		if schoolID == "" {
			writeError(w, http.StatusBadRequest, "missing_school_id")
			return
		}
		if actor.Profile.SchoolID == nil || *actor.Profile.SchoolID != schoolID {
			denyForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrUpstreamUnavailable) {
		denyUnavailable(w)
		return
	}
	denyUnauthenticated(w)
}

func denyUnauthenticated(w http.ResponseWriter) {
	decisions.WithLabelValues(outcomeUnauthenticated).Inc()
	writeError(w, http.StatusUnauthorized, "unauthenticated")
}

func denyForbidden(w http.ResponseWriter) {
	decisions.WithLabelValues(outcomeForbidden).Inc()
	// Generic on purpose: no role, tenant, or resource detail leaks.
	writeError(w, http.StatusForbidden, "forbidden")
}

func denyUnavailable(w http.ResponseWriter) {
	decisions.WithLabelValues(outcomeUnavailable).Inc()
	writeError(w, http.StatusServiceUnavailable, "upstream_unavailable")
}

// writeAccessError maps the error taxonomy onto the wire.
func writeAccessError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, model.ErrUnauthenticated):
		denyUnauthenticated(w)
	case errors.Is(err, model.ErrForbidden):
		denyForbidden(w)
	case errors.Is(err, model.ErrInvariantViolation):
		log.Printf("data integrity warning: %v", err)
		denyForbidden(w)
	case errors.Is(err, model.ErrUpstreamUnavailable):
		denyUnavailable(w)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
