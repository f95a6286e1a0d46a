// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
)

func TestDefaultRoles(t *testing.T) {
	jobboard := access.DefaultRoles(auth.JobBoardRoles)
	require.Len(t, jobboard, 3)
	assert.Contains(t, jobboard[auth.RoleEmployer], "write:job:*")
	assert.Contains(t, jobboard[auth.RoleAdmin], "**")
	assert.NotContains(t, jobboard, auth.RoleTenant)

	rental := access.DefaultRoles(auth.RentalRoles)
	require.Len(t, rental, 2)
	assert.Contains(t, rental[auth.RoleLandlord], "write:property:*")
}

func TestRoleComposition(t *testing.T) {
	for variant, roles := range map[string]auth.RoleSet{"jobboard": auth.JobBoardRoles, "rental": auth.RentalRoles} {
		for role, perms := range access.DefaultRoles(roles) {
			assert.Contains(t, perms, "write:account:$self", "%s/%s should manage its own account", variant, role)
		}
	}
}
