// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth manages account credentials and sessions.
//
// # Domain Types
//
// Accounts enter the system through NewRegistration, which validates the
// role-dependent profile before AccountService.Register hashes the secret
// and persists it. Refresh sessions are created with NewRefreshSession.
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
//   - AccountService - registration, verification, password reset, deletion
//   - RotatingSessions - access/refresh pair with a rotating session row
//   - CookieSessions - one stateless credential carried in a cookie
//
// Both session types implement SessionService; the transport chooses one at
// startup. Every exported error carries a Kind (see KindOf) and a public
// message (see PublicMessage) safe to show to clients.
package auth
