// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import "github.com/holomush/keyhold/internal/auth"

// Permission groups define reusable sets of permissions.
// Roles compose these groups rather than inheriting.

var selfPowers = []string{
	"read:account:$self",
	"write:account:$self",
	"delete:account:$self",
}

var applicantPowers = []string{
	"read:job:*",
	"read:property:*",
	"write:application:*",
}

var employerPowers = []string{
	"read:job:*",
	"write:job:*",
	"delete:job:*",
	"read:application:*",
}

var landlordPowers = []string{
	"read:property:*",
	"write:property:*",
	"delete:property:*",
	"read:application:*",
}

var adminPowers = []string{
	"**",
}

// DefaultRoles returns the role permissions for a role variant. Unknown
// variants get no roles.
func DefaultRoles(roles auth.RoleSet) map[auth.Role][]string {
	table := map[auth.Role][]string{
		auth.RoleUser:     compose(selfPowers, applicantPowers),
		auth.RoleTenant:   compose(selfPowers, applicantPowers),
		auth.RoleEmployer: compose(selfPowers, employerPowers),
		auth.RoleLandlord: compose(selfPowers, landlordPowers),
		auth.RoleAdmin:    compose(selfPowers, adminPowers),
	}
	out := make(map[auth.Role][]string, len(roles.All))
	for _, r := range roles.All {
		if perms, ok := table[r]; ok {
			out[r] = perms
		}
	}
	return out
}

// compose merges multiple permission slices into one.
func compose(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
