// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/keyhold/internal/auth"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   auth.Kind
		status int
	}{
		{"bad request", auth.NewBadRequest("X", "bad"), auth.KindBadRequest, http.StatusBadRequest},
		{"unauthenticated", auth.ErrInvalidCredentials(), auth.KindUnauthenticated, http.StatusUnauthorized},
		{"unauthorized", auth.ErrForbidden(), auth.KindUnauthorized, http.StatusForbidden},
		{"demo read only", auth.ErrDemoReadOnly(), auth.KindUnauthorized, http.StatusForbidden},
		{"not found", oops.Code("X_NOT_FOUND").Wrap(auth.ErrNotFound), auth.KindNotFound, http.StatusNotFound},
		{"conflict", auth.NewConflict("X", "dup"), auth.KindConflict, http.StatusConflict},
		{"wrapped conflict", oops.Code("OUTER").Wrap(auth.NewConflict("X", "dup")), auth.KindConflict, http.StatusConflict},
		{"plain error", errors.New("boom"), auth.KindInternal, http.StatusInternalServerError},
		{"oops without kind", oops.Code("DB_DOWN").Errorf("boom"), auth.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, auth.KindOf(tt.err))
			assert.Equal(t, tt.status, auth.KindOf(tt.err).HTTPStatus())
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "Please provide valid credentials", auth.PublicMessage(auth.ErrInvalidCredentials()))
	assert.Equal(t, "Test user can only read", auth.PublicMessage(auth.ErrDemoReadOnly()))
	assert.Equal(t, "Unauthorized to access this route", auth.PublicMessage(auth.ErrForbidden()))
	assert.Equal(t, auth.DefaultPublicMessage, auth.PublicMessage(oops.Code("DB_DOWN").Public("db is down").Errorf("boom")))
	assert.Equal(t, "Not found", auth.PublicMessage(auth.ErrNotFound))
	assert.Empty(t, auth.PublicMessage(nil))
}
