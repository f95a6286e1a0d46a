// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the account and session lifecycle over HTTP
// under /api/v1. Every error response is {"msg": "<public message>"} with
// the status taken from the error's kind.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/pkg/errutil"
)

// Refresher is implemented by session strategies that support refresh.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.Credentials, error)
}

// Deps are the collaborators of the HTTP handler.
type Deps struct {
	Accounts *auth.AccountService
	Sessions auth.SessionService
	Guard    *access.Guard
	// CookieTransport carries the credential in the "token" cookie instead
	// of the response body and the Authorization header.
	CookieTransport bool
	// CookieTTL is the cookie Max-Age.
	CookieTTL time.Duration
	// InsecureCookies drops the Secure attribute for local development.
	InsecureCookies bool
	// TrustedProxies are the peers allowed to report the client address in
	// X-Forwarded-For. Requests from anyone else are recorded by RemoteAddr.
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

// Handler serves the /api/v1 routes.
type Handler struct {
	accounts        *auth.AccountService
	sessions        auth.SessionService
	refresher       Refresher
	guard           *access.Guard
	cookieTransport bool
	cookieTTL       time.Duration
	secureCookies   bool
	trustedProxies  []netip.Prefix
	logger          *slog.Logger
}

// New creates a Handler.
func New(deps Deps) (*Handler, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("account service is required")
	case deps.Sessions == nil:
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("session service is required")
	case deps.Guard == nil:
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("guard is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := deps.CookieTTL
	if ttl <= 0 {
		ttl = auth.DefaultCookieTTL
	}
	h := &Handler{
		accounts:        deps.Accounts,
		sessions:        deps.Sessions,
		guard:           deps.Guard,
		cookieTransport: deps.CookieTransport,
		cookieTTL:       ttl,
		secureCookies:   !deps.InsecureCookies,
		trustedProxies:  deps.TrustedProxies,
		logger:          logger,
	}
	if r, ok := deps.Sessions.(Refresher); ok {
		h.refresher = r
	}
	return h, nil
}

// Routes returns the API mux wrapped in request metrics.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", h.register)
	mux.HandleFunc("POST /api/v1/auth/verify-email", h.verifyEmail)
	mux.HandleFunc("POST /api/v1/auth/login", h.login)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", h.forgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password", h.resetPassword)
	if h.refresher != nil {
		mux.HandleFunc("POST /api/v1/auth/refresh", h.refresh)
	}
	mux.Handle("DELETE /api/v1/auth/logout", h.authenticate(http.HandlerFunc(h.logout)))

	mux.Handle("GET /api/v1/users/me", h.authenticate(http.HandlerFunc(h.showMe)))
	mux.Handle("PATCH /api/v1/users", h.authenticate(h.requireWritable(http.HandlerFunc(h.updateProfile))))
	mux.Handle("DELETE /api/v1/users", h.authenticate(h.requireWritable(http.HandlerFunc(h.deleteAccount))))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, messageResponse{Msg: "Route does not exist"})
	})

	return instrument(mux)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.accounts.Register(r.Context(), auth.RegistrationInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		ContactNo:   req.ContactNo,
		Role:        req.Role,
		CompanyName: req.CompanyName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Msg: "Email verification sent to " + account.Email})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.Verify(r.Context(), req.Email, req.secret()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Msg: "Email verified successfully"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := h.sessions.Login(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Client:   h.clientInfo(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCredentials(w, creds)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := h.refresher.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCredentials(w, creds)
}

func (h *Handler) writeCredentials(w http.ResponseWriter, creds *auth.Credentials) {
	resp := tokenResponse{
		Role:   string(creds.Principal.Role),
		UserID: creds.Principal.AccountID.String(),
	}
	if h.cookieTransport {
		http.SetCookie(w, h.cookie(creds.AccessToken, int(h.cookieTTL.Seconds())))
	} else {
		resp.AccessToken = creds.AccessToken
		resp.RefreshToken = creds.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := access.PrincipalFrom(r.Context())
	if err := h.sessions.Logout(r.Context(), p.AccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cookieTransport {
		http.SetCookie(w, h.cookie("", -1))
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Msg: "Password reset sent to " + strings.TrimSpace(req.Email)})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.RedeemReset(r.Context(), req.Email, req.secret(), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Msg: "Password changed successfully"})
}

func (h *Handler) showMe(w http.ResponseWriter, r *http.Request) {
	p, _ := access.PrincipalFrom(r.Context())
	account, err := h.accounts.Get(r.Context(), p.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]accountView{"user": viewOf(account)})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := access.PrincipalFrom(r.Context())
	if err := h.guard.RequirePermission(p, "write", "account:"+p.AccountID.String()); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateProfileRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.accounts.UpdateProfile(r.Context(), p.AccountID, auth.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		ContactNo:   req.ContactNo,
		CompanyName: req.CompanyName,
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := access.PrincipalFrom(r.Context())
	if err := h.guard.RequireOwnership(p, p.AccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.Delete(r.Context(), p.AccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cookieTransport {
		http.SetCookie(w, h.cookie("", -1))
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     auth.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

// writeError maps err to its status and public message. Internal errors
// are logged; client errors are not.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		errutil.LogErrorContext(r.Context(), h.logger, slog.LevelError, "request failed", err)
	}
	writeJSON(w, kind.HTTPStatus(), messageResponse{Msg: auth.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// clientInfo records the peer address. X-Forwarded-For is only read when
// the peer is a trusted proxy, and then walked right to left past any
// further trusted hops.
func (h *Handler) clientInfo(r *http.Request) auth.ClientInfo {
	info := auth.ClientInfo{UserAgent: r.UserAgent(), IPAddress: r.RemoteAddr}
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return info
	}
	addr := peer.Addr().Unmap()
	info.IPAddress = addr.String()
	if !h.trusted(addr) {
		return info
	}

	hops := r.Header.Values("X-Forwarded-For")
	var chain []string
	for _, hop := range hops {
		chain = append(chain, strings.Split(hop, ",")...)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(chain[i]))
		if err != nil {
			break
		}
		hop = hop.Unmap()
		info.IPAddress = hop.String()
		if !h.trusted(hop) {
			break
		}
	}
	return info
}

func (h *Handler) trusted(addr netip.Addr) bool {
	for _, p := range h.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
