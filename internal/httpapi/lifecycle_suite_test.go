// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/holomush/keyhold/internal/auth"
)

func TestLifecycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Account Lifecycle Suite")
}

var _ = Describe("Account lifecycle", func() {
	var api *testAPI

	post := func(path string, body any) apiResponse {
		return api.do(GinkgoT(), http.MethodPost, "/api/v1"+path, body)
	}

	Context("rental variant with one-time codes", Ordered, func() {
		const (
			email       = "a@x.com"
			oldPassword = "Str0ng!Pw"
			newPassword = "NewStr0ng!Pw"
		)

		BeforeAll(func() {
			api = newTestAPI(GinkgoT(), apiOptions{roles: auth.RentalRoles, mode: auth.ChallengeCode})
		})

		It("registers a tenant and mails a verification code", func() {
			resp := post("/auth/register", map[string]any{
				"email": email, "password": oldPassword, "firstName": "Ann", "role": "tenant",
			})
			Expect(resp.Status).To(Equal(http.StatusCreated))
			Expect(resp.Body["msg"]).To(Equal("Email verification sent to " + email))
			Expect(api.lastSecret(GinkgoT(), email)).To(MatchRegexp(`^\d+$`))
		})

		It("rejects a login before verification", func() {
			resp := post("/auth/login", map[string]any{"email": email, "password": oldPassword})
			Expect(resp.Status).NotTo(Equal(http.StatusOK))
		})

		It("rejects a wrong code", func() {
			resp := post("/auth/verify-email", map[string]any{"email": email, "code": "000000x"})
			Expect(resp.Status).To(Equal(http.StatusUnauthorized))
		})

		It("verifies with the mailed code", func() {
			resp := post("/auth/verify-email", map[string]any{"email": email, "code": api.lastSecret(GinkgoT(), email)})
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Body["msg"]).To(Equal("Email verified successfully"))
		})

		It("reports a repeated verify only to the code holder", func() {
			code := api.lastSecret(GinkgoT(), email)
			Expect(post("/auth/verify-email", map[string]any{"email": email, "code": code}).Status).
				To(Equal(http.StatusConflict))
			Expect(post("/auth/verify-email", map[string]any{"email": email, "code": "000000x"}).Status).
				To(Equal(http.StatusUnauthorized))
		})

		It("logs in", func() {
			resp := post("/auth/login", map[string]any{"email": email, "password": oldPassword})
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Body).To(HaveKey("accessToken"))
			Expect(resp.Body["role"]).To(Equal("tenant"))
		})

		It("sends one reset code and refuses a second while pending", func() {
			resp := post("/auth/forgot-password", map[string]any{"email": email})
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Body["msg"]).To(Equal("Password reset sent to " + email))

			resp = post("/auth/forgot-password", map[string]any{"email": email})
			Expect(resp.Status).To(Equal(http.StatusConflict))
		})

		It("resets the password with the mailed code", func() {
			resp := post("/auth/reset-password", map[string]any{
				"email": email, "code": api.lastSecret(GinkgoT(), email), "password": newPassword,
			})
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Body["msg"]).To(Equal("Password changed successfully"))
		})

		It("accepts only the new password", func() {
			Expect(post("/auth/login", map[string]any{"email": email, "password": oldPassword}).Status).
				To(Equal(http.StatusUnauthorized))
			Expect(post("/auth/login", map[string]any{"email": email, "password": newPassword}).Status).
				To(Equal(http.StatusOK))
		})
	})
})
