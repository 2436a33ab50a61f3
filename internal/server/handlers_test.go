package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21chrisab/mailbrief/internal/analysis"
	"github.com/21chrisab/mailbrief/internal/auth"
	"github.com/21chrisab/mailbrief/internal/enrich"
	"github.com/21chrisab/mailbrief/internal/mail"
	"github.com/21chrisab/mailbrief/internal/session"
)

type fakeBroker struct {
	authURL     string
	authErr     error
	exchangeID  auth.Identity
	exchangeErr error

	revoked []string
}

func (b *fakeBroker) AuthCodeURL(state string) (string, error) {
	if b.authErr != nil {
		return "", b.authErr
	}
	return b.authURL + "?state=" + state, nil
}

func (b *fakeBroker) Exchange(_ context.Context, code string) (auth.Identity, error) {
	if b.exchangeErr != nil {
		return auth.Identity{}, b.exchangeErr
	}
	return b.exchangeID, nil
}

func (b *fakeBroker) Revoke(identity auth.Identity) {
	b.revoked = append(b.revoked, identity.ID)
}

type fakeEnricher struct {
	out []enrich.Enriched
	err error

	calls     int
	lastQuery string
	lastLimit int64
}

func (e *fakeEnricher) FetchAndEnrich(_ context.Context, _ auth.Identity, limit int64, query string) ([]enrich.Enriched, error) {
	e.calls++
	e.lastLimit = limit
	e.lastQuery = query
	return e.out, e.err
}

type testHarness struct {
	srv      *Server
	broker   *fakeBroker
	enricher *fakeEnricher
	sessions *session.Store
	handler  http.Handler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	broker := &fakeBroker{
		authURL: "https://provider.example.com/auth",
		exchangeID: auth.Identity{
			ID:    "acct-123",
			Email: "user@example.com",
			Name:  "Test User",
		},
	}
	enricher := &fakeEnricher{}
	sessions := session.NewStore()
	t.Cleanup(sessions.Stop)

	srv := New(Config{
		Addr:          ":0",
		SessionSecret: "test-secret",
		Origins:       []string{"http://localhost:5173"},
		PageSize:      10,
	}, broker, sessions, enricher, nil, nil)

	return &testHarness{
		srv:      srv,
		broker:   broker,
		enricher: enricher,
		sessions: sessions,
		handler:  srv.Handler(),
	}
}

// login walks the full flow: GET /login for the cookie and state, then the
// provider redirect. Returns the session cookie for follow-up requests.
func (h *testHarness) login(t *testing.T) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	cookie := sessionCookie(t, rec)
	sid := stateFromLocation(t, rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/redirect?code=code-1&state="+sid, nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	return cookie
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName && c.MaxAge >= 0 {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func stateFromLocation(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestLogin_RedirectsToConsent(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://provider.example.com/auth"))

	// The state parameter is the session id from the fresh cookie.
	cookie := sessionCookie(t, rec)
	sid, ok := h.srv.verifySessionCookie(cookie.Value)
	require.True(t, ok)
	assert.Equal(t, sid, stateFromLocation(t, location))
	assert.True(t, cookie.HttpOnly)
}

func TestLogin_ProviderNotConfigured(t *testing.T) {
	h := newTestHarness(t)
	h.broker.authErr = auth.ErrProviderConfig

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRedirect_CompletesLogin(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.True(t, me.LoggedIn)
	require.NotNil(t, me.Account)
	assert.Equal(t, "acct-123", me.Account.ID)
	assert.Equal(t, "user@example.com", me.Account.Email)
}

func TestRedirect_StateMismatch(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/redirect?code=code-1&state=forged", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedirect_MissingCode(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/redirect", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedirect_ProviderError(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/redirect?error=access_denied", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign-in failed")
}

func TestRedirect_ExchangeFailure(t *testing.T) {
	h := newTestHarness(t)
	h.broker.exchangeErr = &auth.ExchangeError{Err: fmt.Errorf("invalid_grant")}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookie := sessionCookie(t, rec)
	sid := stateFromLocation(t, rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/redirect?code=bad&state="+sid, nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// The upstream detail must not leak into the page.
	assert.NotContains(t, rec.Body.String(), "invalid_grant")
}

func TestMe_Anonymous(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.False(t, me.LoggedIn)
	assert.Nil(t, me.Account)
}

func TestMe_TamperedCookie(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)
	cookie.Value = cookie.Value[:len(cookie.Value)-2] + "xx"

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.False(t, me.LoggedIn)
}

func TestLogout_IsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acct-123"}, h.broker.revoked)

	// Second logout with the same cookie: still 200, no second revoke.
	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acct-123"}, h.broker.revoked)

	// And without any cookie at all.
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_EndsSession(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	h.handler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.False(t, me.LoggedIn)
}

func TestFetchEmails_Unauthenticated(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/fetch-emails", strings.NewReader("{}")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "User not authenticated.")
	assert.Zero(t, h.enricher.calls)
}

func TestFetchEmails(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	h.enricher.out = []enrich.Enriched{
		{Item: mail.Item{ID: "m1", Subject: "First"}, Analysis: analysis.Result{
			Summary: "s1", ActionItems: []string{}, Sentiment: analysis.SentimentNeutral, DocType: "Memo",
		}},
		{Item: mail.Item{ID: "m2", Subject: "Second"}, Analysis: analysis.Fallback()},
		{Item: mail.Item{ID: "m3", Subject: "Third"}, Analysis: analysis.Result{
			Summary: "s3", ActionItems: []string{"reply"}, Sentiment: analysis.SentimentPositive, DocType: "Invite",
		}},
	}

	req := httptest.NewRequest(http.MethodPost, "/fetch-emails",
		strings.NewReader(`{"searchQuery":"is:unread"}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "is:unread", h.enricher.lastQuery)
	assert.Equal(t, int64(10), h.enricher.lastLimit)

	var out []enrich.Enriched
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 3)

	// Batch order survives, and the failed item carries the fallback.
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, "m2", out[1].ID)
	assert.Equal(t, "m3", out[2].ID)
	assert.Equal(t, analysis.Fallback(), out[1].Analysis)
	assert.Equal(t, "s3", out[2].Analysis.Summary)
}

func TestFetchEmails_EmptyBody(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodPost, "/fetch-emails", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", h.enricher.lastQuery)
}

func TestFetchEmails_MalformedBody(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodPost, "/fetch-emails", strings.NewReader("{not json"))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.enricher.calls)
}

func TestFetchEmails_ReauthRequired(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)
	h.enricher.err = fmt.Errorf("renewal rejected: %w", auth.ErrReauthRequired)

	req := httptest.NewRequest(http.MethodPost, "/fetch-emails", strings.NewReader("{}"))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "log in again")
	assert.NotContains(t, rec.Body.String(), "User not authenticated.")
}

func TestFetchEmails_UpstreamFailure(t *testing.T) {
	h := newTestHarness(t)
	cookie := h.login(t)
	h.enricher.err = fmt.Errorf("list messages: %w: quota detail", mail.ErrUpstreamRejected)

	req := httptest.NewRequest(http.MethodPost, "/fetch-emails", strings.NewReader("{}"))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to fetch emails.")
	// Upstream detail stays in the log, not the response.
	assert.NotContains(t, rec.Body.String(), "quota detail")
}

func TestFetchEmails_GetNotAllowed(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fetch-emails", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS_AllowedOrigin(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/fetch-emails", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.srv.health.SetReady(false)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
