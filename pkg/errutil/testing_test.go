// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/keyhold/pkg/errutil"
)

func TestAssertions_Match(t *testing.T) {
	err := oops.Code("MY_CODE").
		With("account_id", "123").
		Public("Please provide all fields").
		Errorf("test error")

	errutil.AssertErrorCode(t, err, "MY_CODE")
	errutil.AssertErrorContext(t, err, "account_id", "123")
	errutil.AssertPublicMessage(t, err, "Please provide all fields")
}
