// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
)

// Requests counts API requests by route pattern and status code.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyhold_http_requests_total",
		Help: "Total number of API requests by route and status code",
	},
	[]string{"route", "code"},
)

// RegisterMetrics registers the HTTP metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(Requests); err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").With("metric", "http_requests").Wrap(err)
	}
	return nil
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves the request credential to a principal and stores
// it in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var credential string
		if h.cookieTransport {
			if c, err := r.Cookie(auth.CookieName); err == nil {
				credential = c.Value
			}
		} else {
			credential = BearerToken(r.Header.Get("Authorization"))
		}
		if credential == "" {
			h.writeError(w, r, auth.ErrAuthenticationInvalid())
			return
		}

		p, err := h.sessions.Authenticate(r.Context(), credential)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
	})
}

// requireWritable rejects demo accounts. It must run after authenticate.
func (h *Handler) requireWritable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := access.PrincipalFrom(r.Context())
		if !ok {
			h.writeError(w, r, auth.ErrAuthenticationInvalid())
			return
		}
		if err := h.guard.RequireWritable(p); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole authenticates the request and rejects principals whose role
// is not in roles.
func (h *Handler) RequireRole(next http.Handler, roles ...auth.Role) http.Handler {
	return h.authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := access.PrincipalFrom(r.Context())
		if err := h.guard.RequireRole(p, roles...); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		_, pattern := mux.Handler(r)
		mux.ServeHTTP(rec, r)
		if pattern == "" || pattern == "/" {
			pattern = "unmatched"
		}
		Requests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
	})
}
