package models

import (
	"fmt"
	"strings"
)

// Role is an organizational role held by a user of the platform
type Role string

const (
	RoleSolicitante Role = "solicitante"
	RoleSupervisor  Role = "supervisor"
	RoleGerente     Role = "gerente"
	RoleDirector    Role = "director"
	RoleAdmin       Role = "admin"
	RoleEjecutivo   Role = "ejecutivo"
)

// AllRoles lists every known role in ascending authority
var AllRoles = []Role{RoleSolicitante, RoleSupervisor, RoleGerente, RoleDirector, RoleAdmin, RoleEjecutivo}

// ParseRole converts a raw role name into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ParseRoles converts raw role names, skipping unknown ones
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, s := range raw {
		if r, err := ParseRole(s); err == nil {
			roles = append(roles, r)
		}
	}
	return roles
}

// ApprovalLevel is the ordinal authority required by a workflow step.
// Higher values outrank lower ones.
type ApprovalLevel int

const (
	LevelNone       ApprovalLevel = 0
	LevelSupervisor ApprovalLevel = 1
	LevelGerente    ApprovalLevel = 2
	LevelDirector   ApprovalLevel = 3
	LevelEjecutivo  ApprovalLevel = 4
)

// Valid reports whether the level can be required by a matrix rule
func (l ApprovalLevel) Valid() bool {
	return l >= LevelSupervisor && l <= LevelEjecutivo
}

// Role returns the role that nominally holds this level
func (l ApprovalLevel) Role() Role {
	switch l {
	case LevelSupervisor:
		return RoleSupervisor
	case LevelGerente:
		return RoleGerente
	case LevelDirector:
		return RoleDirector
	case LevelEjecutivo:
		return RoleEjecutivo
	default:
		return RoleSolicitante
	}
}

func (l ApprovalLevel) String() string {
	return string(l.Role())
}

// Level returns the approval level a role carries. Admins approve at
// director level.
func (r Role) Level() ApprovalLevel {
	switch r {
	case RoleSupervisor:
		return LevelSupervisor
	case RoleGerente:
		return LevelGerente
	case RoleDirector, RoleAdmin:
		return LevelDirector
	case RoleEjecutivo:
		return LevelEjecutivo
	default:
		return LevelNone
	}
}

// Capability is a single permission bit
type Capability uint16

const (
	CapApprove Capability = 1 << iota
	CapSupervise
	CapExecutive
	CapManageMatrix
	CapManageDelegations
	CapTriggerEscalation
)

// CapabilitySet is a set of capabilities
type CapabilitySet uint16

// Has reports whether the set contains c
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

var roleCapabilities = map[Role]CapabilitySet{
	RoleSolicitante: 0,
	RoleSupervisor:  CapabilitySet(CapApprove | CapSupervise),
	RoleGerente:     CapabilitySet(CapApprove),
	RoleDirector:    CapabilitySet(CapApprove),
	RoleAdmin: CapabilitySet(CapApprove | CapSupervise | CapManageMatrix |
		CapManageDelegations | CapTriggerEscalation),
	RoleEjecutivo: CapabilitySet(CapApprove | CapExecutive | CapTriggerEscalation),
}

// Capabilities returns the capability set granted to the role
func (r Role) Capabilities() CapabilitySet {
	return roleCapabilities[r]
}

// HasCapability reports whether any of the roles grants c
func HasCapability(roles []Role, c Capability) bool {
	for _, r := range roles {
		if r.Capabilities().Has(c) {
			return true
		}
	}
	return false
}

// HighestLevel returns the highest approval level across roles
func HighestLevel(roles []Role) ApprovalLevel {
	best := LevelNone
	for _, r := range roles {
		if l := r.Level(); l > best {
			best = l
		}
	}
	return best
}

// RolesWithCapability returns every role that grants c
func RolesWithCapability(c Capability) []Role {
	var out []Role
	for _, r := range AllRoles {
		if r.Capabilities().Has(c) {
			out = append(out, r)
		}
	}
	return out
}
