package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

const (
	// ObjectSessions is the casbin object guarding session administration.
	ObjectSessions = "sessions"
	// ActionLogout is the casbin action for remote logout.
	ActionLogout = "logout"
)

// RoleEnforcer decides role-based permissions for bound principals.
type RoleEnforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewRoleEnforcer creates an enforcer that grants remote logout to adminRole.
func NewRoleEnforcer(adminRole string) (*RoleEnforcer, error) {
	if adminRole == "" {
		return nil, fmt.Errorf("%w: admin role is required", ErrConfiguration)
	}

	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if _, err := enforcer.AddPolicy(adminRole, ObjectSessions, ActionLogout); err != nil {
		return nil, fmt.Errorf("add admin policy: %w", err)
	}

	return &RoleEnforcer{enforcer: enforcer}, nil
}

// Allowed reports whether any of p's roles may perform act on obj.
func (r *RoleEnforcer) Allowed(p Principal, obj, act string) (bool, error) {
	for _, role := range p.Roles() {
		ok, err := r.enforcer.Enforce(role, obj, act)
		if err != nil {
			return false, fmt.Errorf("enforce %s on %s: %w", act, obj, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
