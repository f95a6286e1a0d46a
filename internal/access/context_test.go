// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access_test

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
)

func TestPrincipalContext(t *testing.T) {
	_, ok := access.PrincipalFrom(context.Background())
	assert.False(t, ok)

	p := auth.Principal{AccountID: ulid.Make(), Role: auth.RoleTenant}
	got, ok := access.PrincipalFrom(access.WithPrincipal(context.Background(), p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
