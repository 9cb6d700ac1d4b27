// Package rowfilter derives the store-level row policies from the
// canonical table in internal/policy. The same compiled clause list is
// rendered two ways: as SQL (installed into Postgres as row security
// policies by an explicit migration step) and as a pure-Go evaluator
// (used by the conformance tests to prove the store and the middleware
// agree on every decision).
//
// The SQL side is keyed off a single session setting, app.actor_id. The
// actor's role and school are looked up by the database itself from
// profiles; the application never passes them.
package rowfilter

import (
	"fmt"
	"strings"

	"pupitre/access/internal/model"
	"pupitre/access/internal/policy"
)

// Version tags the generated policy artifact. Bump it whenever the
// canonical table changes so installed declarations are auditable
// against the binary that produced them.
const Version = 3

var roleOrder = []model.Role{
	model.RoleSuperAdmin,
	model.RoleSchoolAdmin,
	model.RoleTeacher,
	model.RoleStudent,
}

type clause struct {
	Role  model.Role
	Scope policy.Scope
}

// TablePolicy is one row-security policy: the visibility or mutability
// predicate for a protected table and statement kind.
type TablePolicy struct {
	Table   policy.Class
	Action  policy.Action
	clauses []clause
	// baseline marks the profile self-access rule, applied before any
	// role clause so a user can always read and update their own row.
	baseline bool
}

// Compile flattens the canonical table into deterministic per-table,
// per-action policies. Every protected table gets a policy for every
// action; an action nobody holds compiles to a deny-all predicate, so a
// missing policy can only mean a configuration defect, never an open
// table.
func Compile() []TablePolicy {
	out := make([]TablePolicy, 0, len(policy.Classes)*len(policy.Actions))
	for _, class := range policy.Classes {
		for _, action := range policy.Actions {
			tp := TablePolicy{Table: class, Action: action}
			if class == policy.ClassProfile && (action == policy.ActionSelect || action == policy.ActionUpdate) {
				tp.baseline = true
			}
			for _, role := range roleOrder {
				scope := policy.Rules[role][class][action]
				if scope == policy.ScopeNone {
					continue
				}
				tp.clauses = append(tp.clauses, clause{Role: role, Scope: scope})
			}
			out = append(out, tp)
		}
	}
	return out
}

func ownerColumn(class policy.Class) string {
	if class == policy.ClassProfile {
		return "id"
	}
	return "owner_id"
}

// SQL renders the policy predicate for USING / WITH CHECK.
func (tp TablePolicy) SQL() string {
	owner := ownerColumn(tp.Table)
	var parts []string
	if tp.baseline {
		parts = append(parts, "id = app_actor_id()")
	}
	for _, c := range tp.clauses {
		parts = append(parts, c.sql(owner))
	}
	if len(parts) == 0 {
		return "false"
	}
	return strings.Join(parts, "\n    OR ")
}

func (c clause) sql(owner string) string {
	roleEq := fmt.Sprintf("app_actor_role() = '%s'", c.Role)
	switch c.Scope {
	case policy.ScopeAny:
		return fmt.Sprintf("(%s)", roleEq)
	case policy.ScopeSelf:
		return fmt.Sprintf("(%s AND id = app_actor_id())", roleEq)
	case policy.ScopeSchool:
		return fmt.Sprintf("(%s AND school_id IS NOT NULL AND school_id = app_actor_school())", roleEq)
	case policy.ScopeOwn:
		return fmt.Sprintf("(%s AND school_id IS NOT NULL AND school_id = app_actor_school() AND %s = app_actor_id())", roleEq, owner)
	default:
		return "false"
	}
}

// Visible is the pure-Go reading of the same compiled predicate. It is
// intentionally a second interpretation (of the clause list, not of
// policy.Explain) so the conformance suite compares two independently
// walked paths that share only the canonical table.
func (tp TablePolicy) Visible(actor model.Profile, res policy.Resource) bool {
	if tp.baseline && res.ID == actor.ID {
		return true
	}
	for _, c := range tp.clauses {
		if c.match(actor, res) {
			return true
		}
	}
	return false
}

func (c clause) match(actor model.Profile, res policy.Resource) bool {
	if actor.Role != c.Role {
		return false
	}
	switch c.Scope {
	case policy.ScopeAny:
		return true
	case policy.ScopeSelf:
		return res.ID == actor.ID
	case policy.ScopeSchool:
		return sameSchool(actor, res)
	case policy.ScopeOwn:
		return sameSchool(actor, res) && res.OwnerID == actor.ID
	default:
		return false
	}
}

// sameSchool fails closed on either side missing a school: legacy rows
// stay contained and invariant-violating actors get nothing.
func sameSchool(actor model.Profile, res policy.Resource) bool {
	if actor.SchoolID == nil || *actor.SchoolID == "" {
		return false
	}
	if res.SchoolID == nil || *res.SchoolID == "" {
		return false
	}
	return *res.SchoolID == *actor.SchoolID
}

// Evaluator answers row-level decisions the way the installed SQL
// policies would.
type Evaluator struct {
	policies map[policy.Class]map[policy.Action]TablePolicy
}

func NewEvaluator() *Evaluator {
	e := &Evaluator{policies: make(map[policy.Class]map[policy.Action]TablePolicy)}
	for _, tp := range Compile() {
		if e.policies[tp.Table] == nil {
			e.policies[tp.Table] = make(map[policy.Action]TablePolicy)
		}
		e.policies[tp.Table][tp.Action] = tp
	}
	return e
}

func (e *Evaluator) Allow(actor model.Profile, action policy.Action, res policy.Resource) bool {
	actions, ok := e.policies[res.Class]
	if !ok {
		return false
	}
	tp, ok := actions[action]
	if !ok {
		return false
	}
	return tp.Visible(actor, res)
}

// Covered reports whether a policy exists for the table/action pair.
func (e *Evaluator) Covered(class policy.Class, action policy.Action) bool {
	actions, ok := e.policies[class]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}
