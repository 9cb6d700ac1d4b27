package model

import (
	"strings"
	"time"
)

// Role is the closed set of application roles. Values arriving from the
// identity provider are untrusted strings and must pass ParseRole.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSchoolAdmin Role = "school_admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
)

func ParseRole(value string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(value))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	case RoleSchoolAdmin:
		return RoleSchoolAdmin, nil
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", ErrUnknownRole
	}
}

func (r Role) String() string {
	return string(r)
}

// Subject is the identity-provider principal behind a validated credential.
type Subject struct {
	ID        string
	Email     string
	ExpiresAt time.Time
}

// Profile is the application identity. ID equals the subject id. SchoolID
// is nil only for super_admin (and unmigrated legacy rows, which the
// policy layer treats as an invariant violation for every other role).
type Profile struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	SchoolID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the profile satisfies the provisioning invariant:
// every non-super_admin profile carries a school.
func (p Profile) Valid() bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	return p.SchoolID != nil && *p.SchoolID != ""
}

// Actor is the resolved (subject, profile) pair attempting an operation.
type Actor struct {
	Subject Subject
	Profile Profile
}

// Assessment is a school-scoped resource. A nil SchoolID marks a legacy
// record, visible to super_admin only.
type Assessment struct {
	ID        string
	SchoolID  *string
	OwnerID   string
	Title     string
	Subject   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Project struct {
	ID        string
	SchoolID  *string
	OwnerID   string
	Name      string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
