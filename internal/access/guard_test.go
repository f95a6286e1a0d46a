// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access_test

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/pkg/errutil"
)

func newGuard(t *testing.T, roles auth.RoleSet, demo ...ulid.ULID) *access.Guard {
	t.Helper()
	g, err := access.NewGuard(access.DefaultRoles(roles), demo, nil)
	require.NoError(t, err)
	return g
}

func TestNewGuard_InvalidPattern(t *testing.T) {
	_, err := access.NewGuard(map[auth.Role][]string{auth.RoleUser: {"read:[unclosed"}}, nil, nil)
	errutil.AssertErrorCode(t, err, "INVALID_PERMISSION_PATTERN")
}

func TestGuard_RequireRole(t *testing.T) {
	g := newGuard(t, auth.JobBoardRoles)
	employer := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleEmployer}

	require.NoError(t, g.RequireRole(employer, auth.RoleEmployer, auth.RoleAdmin))

	err := g.RequireRole(employer, auth.RoleAdmin)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
	errutil.AssertErrorCode(t, err, "AUTH_FORBIDDEN")
}

func TestGuard_RequireOwnership(t *testing.T) {
	g := newGuard(t, auth.RentalRoles)
	x := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleTenant}
	y := ulid.Make()

	require.NoError(t, g.RequireOwnership(x, x.AccountID))
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(g.RequireOwnership(x, y)))
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(g.RequireOwnership(auth.Principal{}, ulid.ULID{})))
}

func TestGuard_RequireWritable(t *testing.T) {
	demo := ulid.Make()
	g := newGuard(t, auth.JobBoardRoles, demo)

	p := auth.Principal{AccountID: demo, Role: auth.RoleEmployer}
	require.NoError(t, g.RequireRole(p, auth.RoleEmployer))
	require.NoError(t, g.RequireOwnership(p, demo))

	err := g.RequireWritable(p)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
	errutil.AssertPublicMessage(t, err, "Test user can only read")

	require.NoError(t, g.RequireWritable(auth.Principal{AccountID: ulid.Make(), Role: auth.RoleUser}))
}

func TestGuard_Can(t *testing.T) {
	g := newGuard(t, auth.JobBoardRoles)
	employer := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleEmployer}
	user := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleUser}
	admin := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleAdmin}

	tests := []struct {
		name     string
		p        auth.Principal
		action   string
		resource string
		want     bool
	}{
		{"employer writes jobs", employer, "write", "job:01ABC", true},
		{"user cannot write jobs", user, "write", "job:01ABC", false},
		{"user applies", user, "write", "application:01XYZ", true},
		{"self account", user, "write", "account:" + user.AccountID.String(), true},
		{"other account", user, "write", "account:" + employer.AccountID.String(), false},
		{"admin anything", admin, "delete", "account:" + user.AccountID.String(), true},
		{"unknown role", auth.Principal{AccountID: ulid.Make(), Role: "ghost"}, "read", "job:1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Can(tt.p, tt.action, tt.resource))
		})
	}

	err := g.RequirePermission(user, "delete", "job:01ABC")
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
	errutil.AssertErrorContext(t, err, "action", "delete")
}
