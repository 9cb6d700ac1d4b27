package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pupitre/access/internal/config"
	"pupitre/access/internal/model"
	"pupitre/access/internal/repository"
)

const (
	schoolA = "11111111-1111-1111-1111-111111111111"
	schoolB = "22222222-2222-2222-2222-222222222222"

	superID   = "00000000-0000-0000-0000-000000000001"
	adminAID  = "00000000-0000-0000-0000-000000000002"
	teacherID = "00000000-0000-0000-0000-000000000003"
	studentID = "00000000-0000-0000-0000-000000000004"
	peerID    = "00000000-0000-0000-0000-000000000005"
)

func strptr(s string) *string { return &s }

// fakeValidator treats the bearer token as the subject id.
type fakeValidator struct {
	fail error
}

func (f *fakeValidator) Validate(_ context.Context, token string) (model.Subject, error) {
	if f.fail != nil {
		return model.Subject{}, f.fail
	}
	return model.Subject{ID: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeResolver struct {
	profiles     map[string]model.Profile
	fail         error
	resolveCalls int
	invalidated  []string
}

func (f *fakeResolver) Resolve(_ context.Context, subjectID string) (model.Profile, error) {
	f.resolveCalls++
	if f.fail != nil {
		return model.Profile{}, f.fail
	}
	profile, ok := f.profiles[subjectID]
	if !ok {
		return model.Profile{}, model.ErrUnauthenticated
	}
	return profile, nil
}

func (f *fakeResolver) Invalidate(_ context.Context, subjectID string) {
	f.invalidated = append(f.invalidated, subjectID)
}

// fakeStore holds rows in memory. It mimics the row filter only for
// point reads of profiles by other actors; the policy layer is what the
// handler tests exercise.
type fakeStore struct {
	profiles    map[string]model.Profile
	assessments map[string]model.Assessment
	projects    map[string]model.Project
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[string]model.Profile),
		assessments: make(map[string]model.Assessment),
		projects:    make(map[string]model.Project),
	}
}

func (f *fakeStore) GetProfile(_ context.Context, _, profileID string) (model.Profile, error) {
	p, ok := f.profiles[profileID]
	if !ok {
		return model.Profile{}, model.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListProfilesBySchool(_ context.Context, _, schoolID string, _ int) ([]model.Profile, error) {
	out := []model.Profile{}
	for _, p := range f.profiles {
		if p.SchoolID != nil && *p.SchoolID == schoolID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, _, profileID string, update repository.ProfileUpdate) (model.Profile, error) {
	p, ok := f.profiles[profileID]
	if !ok {
		return model.Profile{}, model.ErrNotFound
	}
	if update.Email != nil {
		p.Email = *update.Email
	}
	if update.FirstName != nil {
		p.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		p.LastName = *update.LastName
	}
	f.profiles[profileID] = p
	return p, nil
}

func (f *fakeStore) CreateAssessment(_ context.Context, _ string, a model.Assessment) error {
	f.assessments[a.ID] = a
	return nil
}

func (f *fakeStore) GetAssessment(_ context.Context, _, assessmentID string) (model.Assessment, error) {
	a, ok := f.assessments[assessmentID]
	if !ok {
		return model.Assessment{}, model.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAssessmentsBySchool(_ context.Context, _, schoolID string, _ int) ([]model.Assessment, error) {
	out := []model.Assessment{}
	for _, a := range f.assessments {
		if a.SchoolID != nil && *a.SchoolID == schoolID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateAssessment(_ context.Context, _, assessmentID string, update repository.AssessmentUpdate) (model.Assessment, error) {
	a, ok := f.assessments[assessmentID]
	if !ok {
		return model.Assessment{}, model.ErrNotFound
	}
	if update.Title != nil {
		a.Title = *update.Title
	}
	if update.Subject != nil {
		a.Subject = *update.Subject
	}
	f.assessments[assessmentID] = a
	return a, nil
}

func (f *fakeStore) DeleteAssessment(_ context.Context, _, assessmentID string) (bool, error) {
	if _, ok := f.assessments[assessmentID]; !ok {
		return false, nil
	}
	delete(f.assessments, assessmentID)
	return true, nil
}

func (f *fakeStore) CreateProject(_ context.Context, _ string, p model.Project) error {
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, _, projectID string) (model.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return model.Project{}, model.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListProjectsBySchool(_ context.Context, _, schoolID string, _ int) ([]model.Project, error) {
	out := []model.Project{}
	for _, p := range f.projects {
		if p.SchoolID != nil && *p.SchoolID == schoolID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, _, projectID string, update repository.ProjectUpdate) (model.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return model.Project{}, model.ErrNotFound
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Summary != nil {
		p.Summary = *update.Summary
	}
	f.projects[projectID] = p
	return p, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, _, projectID string) (bool, error) {
	if _, ok := f.projects[projectID]; !ok {
		return false, nil
	}
	delete(f.projects, projectID)
	return true, nil
}

func seededProfiles() map[string]model.Profile {
	return map[string]model.Profile{
		superID:   {ID: superID, Email: "root@pupitre.io", Role: model.RoleSuperAdmin},
		adminAID:  {ID: adminAID, Email: "admin@a.edu", Role: model.RoleSchoolAdmin, SchoolID: strptr(schoolA)},
		teacherID: {ID: teacherID, Email: "teacher@a.edu", Role: model.RoleTeacher, SchoolID: strptr(schoolA)},
		studentID: {ID: studentID, Email: "student@a.edu", Role: model.RoleStudent, SchoolID: strptr(schoolA)},
		peerID:    {ID: peerID, Email: "peer@a.edu", Role: model.RoleStudent, SchoolID: strptr(schoolA)},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *fakeResolver) {
	t.Helper()
	store := newFakeStore()
	for id, p := range seededProfiles() {
		store.profiles[id] = p
	}
	store.assessments["as-1"] = model.Assessment{
		ID: "as-1", SchoolID: strptr(schoolA), OwnerID: teacherID,
		Title: "Algebra midterm", Subject: "math", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	store.assessments["as-student"] = model.Assessment{
		ID: "as-student", SchoolID: strptr(schoolA), OwnerID: studentID,
		Title: "Essay", Subject: "history", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	resolver := &fakeResolver{profiles: seededProfiles()}
	server := NewServer(config.Config{}, store, resolver, &fakeValidator{}, nil)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, store, resolver
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request failed: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request build failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAnonymousRejectedBeforeResolution(t *testing.T) {
	app, _, resolver := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resolver.resolveCalls != 0 {
		t.Fatalf("resolver consulted for an anonymous request")
	}
}

func TestStudentProfileAccess(t *testing.T) {
	app, _, _ := newTestServer(t)

	// Own profile.
	resp := doReq(t, http.MethodGet, app.URL+"/profiles/"+studentID, studentID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for own profile, got %d", resp.StatusCode)
	}

	// A peer's profile in the same school: visible in the fake store,
	// but the policy layer must still deny it.
	resp = doReq(t, http.MethodGet, app.URL+"/profiles/"+peerID, studentID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for peer profile, got %d", resp.StatusCode)
	}
}

func TestForbiddenIsGeneric(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/profiles/"+peerID, studentID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "forbidden" {
		t.Fatalf("expected bare forbidden code, got %q", body["error"])
	}
	if len(body) != 1 {
		t.Fatalf("error body leaks detail: %v", body)
	}
}

func TestSchoolAdminCrossTenant(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/schools/"+schoolA+"/profiles", adminAID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 in own school, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/schools/"+schoolB+"/profiles", adminAID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 across schools, got %d", resp.StatusCode)
	}
}

func TestSuperAdminCrossesTenants(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/schools/"+schoolB+"/profiles", superID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for super_admin in any school, got %d", resp.StatusCode)
	}
}

func TestStudentCannotListSchoolProfiles(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/schools/"+schoolA+"/profiles", studentID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student listing, got %d", resp.StatusCode)
	}
}

func TestResolverOutageIsUnavailableNotForbidden(t *testing.T) {
	app, _, resolver := newTestServer(t)
	resolver.fail = model.ErrUpstreamUnavailable

	resp := doReq(t, http.MethodGet, app.URL+"/me", studentID, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for resolver outage, got %d", resp.StatusCode)
	}
}

func TestPatchProfileIgnoresRoleInBody(t *testing.T) {
	app, store, resolver := newTestServer(t)

	resp := doReq(t, http.MethodPatch, app.URL+"/profiles/"+studentID, studentID, map[string]string{
		"firstName": "Ada",
		"role":      "super_admin",
		"schoolId":  schoolB,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := store.profiles[studentID]
	if got.FirstName != "Ada" {
		t.Fatalf("first name not applied: %q", got.FirstName)
	}
	if got.Role != model.RoleStudent {
		t.Fatalf("role escalated via request body: %s", got.Role)
	}
	if got.SchoolID == nil || *got.SchoolID != schoolA {
		t.Fatalf("school changed via request body")
	}
	if len(resolver.invalidated) != 1 || resolver.invalidated[0] != studentID {
		t.Fatalf("cache not invalidated after update: %v", resolver.invalidated)
	}
}

func TestStudentCannotEditOtherProfiles(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodPatch, app.URL+"/profiles/"+peerID, studentID, map[string]string{
		"firstName": "Hijacked",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestBootstrapProfileLookup(t *testing.T) {
	app, _, _ := newTestServer(t)

	// Self lookup works with just a credential.
	resp := doReq(t, http.MethodGet, app.URL+"/profile/"+studentID, studentID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for self lookup, got %d", resp.StatusCode)
	}

	// A subject without a provisioned profile gets 404, not 500.
	resp = doReq(t, http.MethodGet, app.URL+"/profile/ghost-1", "ghost-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unprovisioned subject, got %d", resp.StatusCode)
	}

	// A student asking for someone else's profile goes through the
	// regular policy path and is denied.
	resp = doReq(t, http.MethodGet, app.URL+"/profile/"+peerID, studentID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cross lookup, got %d", resp.StatusCode)
	}
}

func TestAssessmentLifecycle(t *testing.T) {
	app, store, _ := newTestServer(t)

	// Teacher creates in own school.
	resp := doReq(t, http.MethodPost, app.URL+"/schools/"+schoolA+"/assessments", teacherID, map[string]string{
		"title": "Geometry quiz", "subject": "math",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created assessmentSummary
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created assessment: %v", err)
	}
	if created.OwnerID != teacherID {
		t.Fatalf("owner not taken from actor: %s", created.OwnerID)
	}
	if created.SchoolID == nil || *created.SchoolID != schoolA {
		t.Fatalf("school not taken from route: %v", created.SchoolID)
	}

	// Student cannot create.
	resp = doReq(t, http.MethodPost, app.URL+"/schools/"+schoolA+"/assessments", studentID, map[string]string{
		"title": "x", "subject": "y",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student create, got %d", resp.StatusCode)
	}

	// Teacher cannot create in another school.
	resp = doReq(t, http.MethodPost, app.URL+"/schools/"+schoolB+"/assessments", teacherID, map[string]string{
		"title": "x", "subject": "y",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-school create, got %d", resp.StatusCode)
	}

	// Teacher edits own, not a student's record.
	resp = doReq(t, http.MethodPatch, app.URL+"/assessments/as-1", teacherID, map[string]string{"title": "Algebra final"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 updating own assessment, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPatch, app.URL+"/assessments/as-student", teacherID, map[string]string{"title": "nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 updating someone else's record, got %d", resp.StatusCode)
	}

	// Teacher cannot delete at all; school_admin can.
	resp = doReq(t, http.MethodDelete, app.URL+"/assessments/as-1", teacherID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for teacher delete, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodDelete, app.URL+"/assessments/as-1", adminAID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin delete, got %d", resp.StatusCode)
	}
	if _, ok := store.assessments["as-1"]; ok {
		t.Fatalf("assessment not deleted")
	}
}

func TestStudentReadsOnlyOwnRecords(t *testing.T) {
	app, _, _ := newTestServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/assessments/as-student", studentID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for own record, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, app.URL+"/assessments/as-1", studentID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for teacher's record, got %d", resp.StatusCode)
	}
}

func TestInvariantBreakingActorIsContained(t *testing.T) {
	app, _, resolver := newTestServer(t)
	resolver.profiles["broken-1"] = model.Profile{ID: "broken-1", Role: model.RoleTeacher}

	// Self endpoint still works.
	resp := doReq(t, http.MethodGet, app.URL+"/me", "broken-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /me, got %d", resp.StatusCode)
	}

	// School-scoped access is denied, not inferred.
	resp = doReq(t, http.MethodGet, app.URL+"/schools/"+schoolA+"/assessments", "broken-1", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for school access without a school, got %d", resp.StatusCode)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Basic abc":        "",
		"Bearer":           "",
		"Bearer  spaced  ": "spaced",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
