// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "time"

// SetClock replaces the service clock in tests.
func (s *AccountService) SetClock(now func() time.Time) { s.now = now }

// SetClock replaces the session clock in tests.
func (s *RotatingSessions) SetClock(now func() time.Time) { s.now = now }

// DummyPasswordHash exposes the timing-equalization digest.
const DummyPasswordHash = dummyPasswordHash
