// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package access authorizes authenticated principals.
//
// Guard answers three fixed questions (role membership, ownership, demo
// write block) and one open one: whether a role's permission patterns
// allow an action on a resource. Permissions use the "action:resource"
// format with ':' as the glob separator:
//   - action: "read", "write", "delete"
//   - resource: "account:01ABC", "job:*", "property:01XYZ"
//
// The token $self in a pattern is replaced by the caller's account id.
package access

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
)

// compiledPermission holds a permission pattern and its compiled glob.
// glob is nil when the pattern contains $self and must be compiled per call.
type compiledPermission struct {
	pattern string
	glob    glob.Glob
}

// Guard implements the authorization checks.
//
// Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	roles  map[auth.Role][]compiledPermission
	demo   map[ulid.ULID]struct{}
	logger *slog.Logger
}

// NewGuard creates a guard from role permission patterns and the read-only
// demo account ids. Logger defaults to slog.Default().
//
// Returns error if any permission pattern fails to compile (invalid glob syntax).
func NewGuard(roles map[auth.Role][]string, demoAccounts []ulid.ULID, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiledRoles := make(map[auth.Role][]compiledPermission, len(roles))
	for role, perms := range roles {
		compiled := make([]compiledPermission, 0, len(perms))
		for _, p := range perms {
			g, err := glob.Compile(p, ':')
			if err != nil {
				return nil, oops.In("access").
					Code("INVALID_PERMISSION_PATTERN").
					With("role", role).
					With("pattern", p).
					Wrap(err)
			}
			if strings.Contains(p, "$self") {
				g = nil
			}
			compiled = append(compiled, compiledPermission{pattern: p, glob: g})
		}
		compiledRoles[role] = compiled
	}

	demo := make(map[ulid.ULID]struct{}, len(demoAccounts))
	for _, id := range demoAccounts {
		demo[id] = struct{}{}
	}

	return &Guard{roles: compiledRoles, demo: demo, logger: logger}, nil
}

// RequireRole fails with Unauthorized unless p's role is one of allowed.
func (g *Guard) RequireRole(p auth.Principal, allowed ...auth.Role) error {
	if slices.Contains(allowed, p.Role) {
		return nil
	}
	return oops.With("account_id", p.AccountID.String()).
		With("role", string(p.Role)).
		Wrap(auth.ErrForbidden())
}

// RequireOwnership fails with Unauthorized unless p owns the resource.
func (g *Guard) RequireOwnership(p auth.Principal, owner ulid.ULID) error {
	if p.AccountID.Compare(ulid.ULID{}) != 0 && p.AccountID == owner {
		return nil
	}
	return oops.With("account_id", p.AccountID.String()).
		With("owner_id", owner.String()).
		Wrap(auth.ErrForbidden())
}

// RequireWritable fails with Unauthorized for the read-only demo accounts.
func (g *Guard) RequireWritable(p auth.Principal) error {
	if !g.IsDemo(p.AccountID) {
		return nil
	}
	g.logger.Info("demo account write blocked", "account_id", p.AccountID.String())
	return oops.With("account_id", p.AccountID.String()).Wrap(auth.ErrDemoReadOnly())
}

// IsDemo reports whether id is a configured demo account.
func (g *Guard) IsDemo(id ulid.ULID) bool {
	_, ok := g.demo[id]
	return ok
}

// Can reports whether p's role permits action on resource.
// Unknown roles are denied.
func (g *Guard) Can(p auth.Principal, action, resource string) bool {
	permissions := g.roles[p.Role]
	if len(permissions) == 0 {
		return false
	}

	requested := action + ":" + resource
	self := p.AccountID.String()

	for _, perm := range permissions {
		if perm.glob != nil {
			if perm.glob.Match(requested) {
				return true
			}
			continue
		}

		resolved := strings.ReplaceAll(perm.pattern, "$self", self)
		compiled, err := glob.Compile(resolved, ':')
		if err != nil {
			// Pattern compilation failure causes silent permission denial.
			g.logger.Warn("failed to compile resolved permission pattern",
				"account_id", self,
				"pattern", perm.pattern,
				"error", err)
			continue
		}
		if compiled.Match(requested) {
			return true
		}
	}
	return false
}

// RequirePermission wraps Can into an Unauthorized error.
func (g *Guard) RequirePermission(p auth.Principal, action, resource string) error {
	if g.Can(p, action, resource) {
		return nil
	}
	return oops.With("account_id", p.AccountID.String()).
		With("action", action).
		With("resource", resource).
		Wrap(auth.ErrForbidden())
}
