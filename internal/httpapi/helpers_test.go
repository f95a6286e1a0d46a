// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"regexp"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyhold/internal/access"
	"github.com/holomush/keyhold/internal/assets"
	"github.com/holomush/keyhold/internal/auth"
	"github.com/holomush/keyhold/internal/auth/memstore"
	"github.com/holomush/keyhold/internal/cascade"
	"github.com/holomush/keyhold/internal/httpapi"
	"github.com/holomush/keyhold/internal/mail"
)

// testingT is the subset of testing.TB used by the helpers; it is satisfied
// by both *testing.T and GinkgoT().
type testingT interface {
	Helper()
	Cleanup(func())
	Context() context.Context
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	FailNow()
}

var signingKey = []byte("0123456789abcdef0123456789abcdef")

type apiOptions struct {
	roles   auth.RoleSet
	mode    auth.ChallengeMode
	cookie  bool
	demo    []ulid.ULID
	proxies []netip.Prefix
}

// testAPI is a complete in-memory deployment behind an httptest server.
type testAPI struct {
	server   *httptest.Server
	handler  *httpapi.Handler
	store    *memstore.Store
	outbox   *mail.Outbox
	hasher   auth.SecretHasher
	accounts *auth.AccountService
}

func newTestAPI(t testingT, opts apiOptions) *testAPI {
	t.Helper()
	store := memstore.New()
	outbox := &mail.Outbox{}
	hasher := auth.NewArgon2idHasher()

	issuer, err := auth.NewChallengeIssuer(opts.mode)
	require.NoError(t, err)
	notifier, err := mail.NewNotifier(outbox, opts.mode, "https://app.keyhold.test", "Keyhold")
	require.NoError(t, err)
	cleanup, err := cascade.NewNotifier(store.Dependents(), assets.NewNoop(nil), nil)
	require.NoError(t, err)

	accounts, err := auth.NewAccountService(auth.AccountServiceDeps{
		Accounts:   store.Accounts(),
		Hasher:     hasher,
		Challenges: issuer,
		Notifier:   notifier,
		Cascade:    cleanup,
		Transactor: store,
		Roles:      opts.roles,
	})
	require.NoError(t, err)

	signer, err := auth.NewTokenSigner(signingKey, "keyhold")
	require.NoError(t, err)

	var sessions auth.SessionService
	if opts.cookie {
		sessions, err = auth.NewCookieSessions(store.Accounts(), hasher, signer, 0, nil)
	} else {
		sessions, err = auth.NewRotatingSessions(store.Accounts(), store.Sessions(), hasher, signer, auth.RotatingConfig{})
	}
	require.NoError(t, err)

	guard, err := access.NewGuard(access.DefaultRoles(opts.roles), opts.demo, nil)
	require.NoError(t, err)

	h, err := httpapi.New(httpapi.Deps{
		Accounts:        accounts,
		Sessions:        sessions,
		Guard:           guard,
		CookieTransport: opts.cookie,
		InsecureCookies: true,
		TrustedProxies:  opts.proxies,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, handler: h, store: store, outbox: outbox, hasher: hasher, accounts: accounts}
}

type apiResponse struct {
	Status  int
	Body    map[string]any
	Cookies []*http.Cookie
}

func (a *testAPI) do(t testingT, method, path string, body any, mutate ...func(*http.Request)) apiResponse {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := apiResponse{Status: resp.StatusCode, Cookies: resp.Cookies()}
	_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	return out
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

var (
	linkSecret = regexp.MustCompile(`token=([0-9a-f]+)`)
	codeSecret = regexp.MustCompile(`code is (\d+)`)
)

// lastSecret returns the raw challenge secret from the newest email to addr.
func (a *testAPI) lastSecret(t testingT, addr string) string {
	t.Helper()
	msg, ok := a.outbox.Last(addr)
	require.True(t, ok, "no mail sent to %s", addr)
	for _, re := range []*regexp.Regexp{linkSecret, codeSecret} {
		if m := re.FindStringSubmatch(msg.HTML); m != nil {
			return m[1]
		}
	}
	t.Fatalf("no secret in mail to %s", addr)
	return ""
}

// seedVerified stores a verified account with a known id and password.
func (a *testAPI) seedVerified(t testingT, id ulid.ULID, email, password string, role auth.Role) {
	t.Helper()
	hash, err := a.hasher.Hash(password)
	require.NoError(t, err)
	require.NoError(t, a.store.Accounts().Create(t.Context(), &auth.Account{
		ID:           id,
		Email:        email,
		FirstName:    "Demo",
		Role:         role,
		Status:       auth.StatusActive,
		PasswordHash: hash,
		Verified:     true,
	}))
}
