// Package policy is the single source of truth for the role/scope rules.
// The same table drives the procedural Allow predicate used by the HTTP
// middleware and the declarative row policies installed in the store
// (internal/rowfilter), so the two enforcement paths cannot drift.
package policy

import (
	"pupitre/access/internal/model"
)

type Action string

const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var Actions = []Action{ActionSelect, ActionInsert, ActionUpdate, ActionDelete}

// Class identifies a protected resource table.
type Class string

const (
	ClassProfile    Class = "profiles"
	ClassAssessment Class = "assessments"
	ClassProject    Class = "projects"
)

var Classes = []Class{ClassProfile, ClassAssessment, ClassProject}

// Scope is the widest set of rows a role may touch for a given
// class/action pair.
type Scope int

const (
	// ScopeNone denies the action outright.
	ScopeNone Scope = iota
	// ScopeSelf allows rows whose id equals the actor id. It ignores
	// school membership: self access to one's own profile is the
	// baseline that survives school-scope gaps.
	ScopeSelf
	// ScopeOwn allows rows the actor owns, within the actor's school.
	ScopeOwn
	// ScopeSchool allows rows within the actor's school.
	ScopeSchool
	// ScopeAny allows every row, legacy rows included.
	ScopeAny
)

// Resource is the policy-relevant projection of a row.
type Resource struct {
	Class    Class
	ID       string
	SchoolID *string
	OwnerID  string
}

func ProfileResource(p model.Profile) Resource {
	return Resource{Class: ClassProfile, ID: p.ID, SchoolID: p.SchoolID, OwnerID: p.ID}
}

func AssessmentResource(a model.Assessment) Resource {
	return Resource{Class: ClassAssessment, ID: a.ID, SchoolID: a.SchoolID, OwnerID: a.OwnerID}
}

func ProjectResource(p model.Project) Resource {
	return Resource{Class: ClassProject, ID: p.ID, SchoolID: p.SchoolID, OwnerID: p.OwnerID}
}

// Allow evaluates the canonical rule table for a resolved actor. It never
// consults anything client-supplied: the profile must come from the
// server-side resolver.
func Allow(actor model.Profile, action Action, res Resource) bool {
	return Explain(actor, action, res) == nil
}

// Explain returns nil when the action is permitted, ErrForbidden when the
// table denies it, and ErrInvariantViolation when the denial is caused by
// the actor breaking the provisioning invariant (non-super_admin with no
// school). Invariant violations are still denials; the distinct error
// exists so callers can log the data-integrity warning.
func Explain(actor model.Profile, action Action, res Resource) error {
	if actor.ID == "" {
		return model.ErrUnauthenticated
	}

	// Baseline self rule: a user can always read and update their own
	// profile, regardless of school-scope state.
	if res.Class == ClassProfile && res.ID == actor.ID {
		if action == ActionSelect || action == ActionUpdate {
			return nil
		}
	}

	scope := scopeFor(actor.Role, res.Class, action)
	switch scope {
	case ScopeNone:
		return model.ErrForbidden
	case ScopeAny:
		return nil
	case ScopeSelf:
		if res.ID == actor.ID {
			return nil
		}
		return model.ErrForbidden
	}

	// ScopeOwn and ScopeSchool require a tenancy match. An actor without
	// a school should not exist outside super_admin; deny everything
	// school-scoped rather than inferring a tenant.
	if !actor.Valid() {
		return model.ErrInvariantViolation
	}
	// Legacy rows (no school) are contained: super_admin only.
	if res.SchoolID == nil || *res.SchoolID == "" {
		return model.ErrForbidden
	}
	if *res.SchoolID != *actor.SchoolID {
		return model.ErrForbidden
	}
	if scope == ScopeOwn && res.OwnerID != actor.ID {
		return model.ErrForbidden
	}
	return nil
}

func scopeFor(role model.Role, class Class, action Action) Scope {
	classes, ok := Rules[role]
	if !ok {
		return ScopeNone
	}
	actions, ok := classes[class]
	if !ok {
		return ScopeNone
	}
	return actions[action]
}
