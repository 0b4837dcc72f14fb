// Package access implements RBAC role permissions overlaid with ABAC policy
// evaluation: team isolation, business-hours contractor restriction, and
// break-the-glass emergency access.
package access

import (
	"context"
	"errors"
	"time"
)

// Role names a user's RBAC role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEngineer Role = "engineer"
	RoleAnalyst  Role = "analyst"
	RoleViewer   Role = "viewer"
	RoleService  Role = "service"
	RoleGuest    Role = "guest"
)

// Action names an RBAC-gated operation.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionSearch Action = "search"
)

// AccessLevelCeiling maps a role to the maximum payload access_level it may
// see. Illustrative values per spec §4.13.
var AccessLevelCeiling = map[Role]int{
	RoleAdmin:    1 << 30,
	RoleEngineer: 5,
	RoleAnalyst:  4,
	RoleViewer:   2,
	RoleGuest:    1,
	RoleService:  5,
}

// rolePermissions is the RBAC table: which actions each role may perform.
var rolePermissions = map[Role]map[Action]bool{
	RoleAdmin:    {ActionRead: true, ActionWrite: true, ActionDelete: true, ActionSearch: true},
	RoleEngineer: {ActionRead: true, ActionWrite: true, ActionDelete: true, ActionSearch: true},
	RoleAnalyst:  {ActionRead: true, ActionSearch: true},
	RoleViewer:   {ActionRead: true},
	RoleService:  {ActionRead: true, ActionWrite: true},
}

// User is the request-scoped principal, derived from the bearer token or
// API key by SecurityMiddleware.
type User struct {
	UserID           string
	Role             Role
	Team             string // empty string means no team attribute
	TenantID         string
	IsContractor     bool
	EmergencyAccess  bool
}

// Resource is the object an action targets.
type Resource struct {
	Team string // "" or "public" bypasses team isolation
}

var ErrMissingUser = errors.New("access: no user in context")

type contextKey struct{}

// ContextWithUser attaches u to ctx for downstream handlers.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext retrieves the request's User. Fails closed: a missing
// user is an error, never treated as an implicit guest.
func UserFromContext(ctx context.Context) (*User, error) {
	u, ok := ctx.Value(contextKey{}).(*User)
	if !ok || u == nil {
		return nil, ErrMissingUser
	}
	return u, nil
}

// Control evaluates RBAC then ABAC for every permission check.
type Control struct {
	now func() time.Time
}

// New returns an AccessControl evaluator.
func New() *Control {
	return &Control{now: time.Now}
}

// CheckPermission is the sole public operation: it evaluates RBAC, then
// ABAC overlays which may deny or grant, and always returns a human-readable
// reason suitable for the audit log.
func (c *Control) CheckPermission(u *User, res Resource, action Action) (bool, string) {
	if u.EmergencyAccess {
		return true, "break-the-glass emergency access granted"
	}

	if !rolePermissions[u.Role][action] {
		return false, "role " + string(u.Role) + " lacks permission for action " + string(action)
	}

	if ok, reason := c.checkTeamIsolation(u, res); !ok {
		return false, reason
	}

	if ok, reason := c.checkBusinessHours(u); !ok {
		return false, reason
	}

	return true, "permitted by role " + string(u.Role)
}

func (c *Control) checkTeamIsolation(u *User, res Resource) (bool, string) {
	if u.Role == RoleAdmin {
		return true, ""
	}
	if u.Team == "" {
		return true, ""
	}
	if res.Team == "" || res.Team == "public" || res.Team == u.Team {
		return true, ""
	}
	return false, "team isolation: user team " + u.Team + " does not match resource team " + res.Team
}

func (c *Control) checkBusinessHours(u *User) (bool, string) {
	if !u.IsContractor {
		return true, ""
	}
	now := c.now().Local()
	hour := now.Hour()
	if hour >= 9 && hour < 18 {
		return true, ""
	}
	return false, "contractor access denied outside business hours (09:00-18:00 local)"
}
