package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/transcript-summary/auth"
	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/graph"
	"github.com/jrsteele09/transcript-summary/internal/config"
	"github.com/jrsteele09/transcript-summary/internal/transport"
	"github.com/jrsteele09/transcript-summary/provider"
	"github.com/jrsteele09/transcript-summary/provider/providertest"
	"github.com/jrsteele09/transcript-summary/returnctx"
	"github.com/jrsteele09/transcript-summary/server"
	"github.com/jrsteele09/transcript-summary/sessions"
)

var (
	testHashKey  = []byte("0123456789abcdef0123456789abcdef")
	testBlockKey = []byte("fedcba9876543210fedcba9876543210")
	testCtxKey   = []byte("abcdefghijklmnopqrstuvwxyz012345")
)

type sentMessage struct {
	token   string
	topic   string
	members []string
	html    string
}

type fakeGraph struct {
	mu          sync.Mutex
	meetings    map[string]graph.Meeting
	transcripts map[string]string
	err         error
	sent        []sentMessage
}

func (g *fakeGraph) ListMeetings(ctx context.Context, accessToken string) ([]graph.Meeting, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	out := make([]graph.Meeting, 0, len(g.meetings))
	for _, m := range g.meetings {
		out = append(out, m)
	}
	return out, nil
}

func (g *fakeGraph) Meeting(ctx context.Context, accessToken, meetingID string) (graph.Meeting, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return graph.Meeting{}, g.err
	}
	m, ok := g.meetings[meetingID]
	if !ok {
		return graph.Meeting{}, graph.ErrNotFound
	}
	return m, nil
}

func (g *fakeGraph) Transcript(ctx context.Context, accessToken, meetingID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transcripts[meetingID]
	if !ok {
		return "", graph.ErrNotFound
	}
	return t, nil
}

func (g *fakeGraph) SendChatMessage(ctx context.Context, accessToken, topic string, members []string, html string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, sentMessage{token: accessToken, topic: topic, members: members, html: html})
	return "chat-1", nil
}

type testFixture struct {
	idp     *providertest.IdP
	store   *sessions.InMemoryRepo
	cookies *sessions.CookieBinder
	graph   *fakeGraph
	server  *server.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	idp := providertest.New(t)
	idp.Name = "Zoë Example"
	idp.Email = "zoe@example.com"
	t.Setenv("ENV", "TEST")
	t.Setenv("MICROSOFT_CLIENT_ID", providertest.ClientID)
	t.Setenv("MICROSOFT_CLIENT_SECRET", providertest.ClientSecret)
	t.Setenv("MICROSOFT_AUTHORITY", idp.URL())
	t.Setenv("OIDC_ISSUER", "")
	t.Setenv("MICROSOFT_REDIRECT_URI", "http://localhost:5001/auth/callback")
	p, err := provider.New(context.Background(), config.OAuth{}, transport.NewClient(5*time.Second, nil))
	require.NoError(t, err)

	f := &testFixture{
		idp:     idp,
		store:   sessions.NewInMemoryRepo(),
		cookies: sessions.NewCookieBinder(testHashKey, testBlockKey, time.Hour),
		graph: &fakeGraph{
			meetings: map[string]graph.Meeting{
				"m-1": {ID: "m-1", Subject: "Planning <Q3>", Participants: []string{"a@example.com", "b@example.com"}},
				"m-2": {ID: "m-2", Subject: "Retro"},
			},
			transcripts: map[string]string{
				"m-1": "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\n<v Ann>Ship it on Friday.\n",
			},
		},
	}
	codec := credentials.JSONCodec{}
	coordinator := auth.NewCoordinator(f.store, p, returnctx.NewEncoder(testCtxKey, 15*time.Minute), codec,
		auth.WithSessionMaxAge(time.Hour))
	refresher := credentials.NewRefresher(f.store, codec, p, time.Minute)

	f.server, err = server.New(config.New(), server.Deps{
		Store:       f.store,
		Cookies:     f.cookies,
		Coordinator: coordinator,
		Refresher:   refresher,
		Graph:       f.graph,
	})
	require.NoError(t, err)
	return f
}

func (f *testFixture) do(t *testing.T, method, target string, body string, cookie *http.Cookie, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessions.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", sessions.CookieName)
	return nil
}

// beginLogin follows a login URL and returns the session cookie and the state sent to the provider.
func (f *testFixture) beginLogin(t *testing.T, loginURL string, cookie *http.Cookie) (*http.Cookie, string) {
	t.Helper()
	rec := f.do(t, http.MethodGet, loginURL, "", cookie, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	authorize, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.NotEmpty(t, state)
	return sessionCookie(t, rec), state
}

// signIn completes a sign-in started at loginURL and returns the session cookie and resume path.
func (f *testFixture) signIn(t *testing.T, loginURL string) (*http.Cookie, string) {
	t.Helper()
	cookie, state := f.beginLogin(t, loginURL, nil)
	q := url.Values{"state": {state}, "code": {f.idp.IssueCode()}}
	rec := f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", cookie, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	return cookie, rec.Header().Get("Location")
}

var jsonAccept = http.Header{"Accept": {"application/json"}}

func TestProtectedRoute_RedirectsBrowserToLogin(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/summary?id=m-1&post=1", "", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?action=post_to_chat&id=m-1", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, server.RouteMeetings, "", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?action=list_meetings", rec.Header().Get("Location"))
}

func TestProtectedRoute_APICallerGets401(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, server.RouteMeetings, "", nil, jsonAccept)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authentication_required", body["error"])
	assert.Equal(t, "/auth/login?action=list_meetings", body["login_url"])
}

func TestSignIn_ResumesPendingSummaryWithPostFlag(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/summary?id=m-1&post=1", "", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	cookie, state := f.beginLogin(t, rec.Header().Get("Location"), nil)
	q := url.Values{"state": {state}, "code": {f.idp.IssueCode()}}
	rec = f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", cookie, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	resume := rec.Header().Get("Location")
	assert.Equal(t, "/summary?id=m-1&post=1", resume)

	rec = f.do(t, http.MethodGet, resume, "", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Meeting struct {
			ID string `json:"id"`
		} `json:"meeting"`
		Summary       string `json:"summary"`
		PostRequested bool   `json:"post_requested"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "m-1", body.Meeting.ID)
	assert.True(t, body.PostRequested)
	assert.Equal(t, "<v Ann>Ship it on Friday.", body.Summary)

	// The same callback cannot be replayed.
	rec = f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", cookie, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignIn_HTMXCallbackUsesHXRedirect(t *testing.T) {
	f := setupTestFixture(t)

	cookie, state := f.beginLogin(t, "/auth/login?action=list_meetings", nil)
	q := url.Values{"state": {state}, "code": {f.idp.IssueCode()}}
	rec := f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", cookie, http.Header{"Hx-Request": {"true"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/meetings", rec.Header().Get("HX-Redirect"))
}

func TestLogin_RotatesSessionID(t *testing.T) {
	f := setupTestFixture(t)

	oldCookie, _ := f.beginLogin(t, server.RouteAuthLogin, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(oldCookie)
	oldID := f.cookies.SessionID(req)
	require.NotEmpty(t, oldID)

	newCookie, _ := f.beginLogin(t, server.RouteAuthLogin, oldCookie)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(newCookie)
	newID := f.cookies.SessionID(req)
	assert.NotEqual(t, oldID, newID)

	_, err := f.store.Load(context.Background(), oldID)
	require.ErrorIs(t, err, sessions.ErrNotFound)
	_, err = f.store.Load(context.Background(), newID)
	require.NoError(t, err)
}

func TestLogin_InvalidActionIsRejected(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/login?action=delete_everything", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		params     func(state, code string) url.Values
		failStatus int32
		wantStatus int
		wantText   string
	}{
		{
			name:       "state mismatch",
			params:     func(_, code string) url.Values { return url.Values{"state": {"forged"}, "code": {code}} },
			wantStatus: http.StatusBadRequest,
			wantText:   "invalid or has expired",
		},
		{
			name: "provider denied",
			params: func(state, _ string) url.Values {
				return url.Values{"state": {state}, "error": {"access_denied"}, "error_description": {"AADSTS65004 user declined"}}
			},
			wantStatus: http.StatusUnauthorized,
			wantText:   "Sign in again",
		},
		{
			name:       "missing code",
			params:     func(state, _ string) url.Values { return url.Values{"state": {state}} },
			wantStatus: http.StatusBadRequest,
			wantText:   "incomplete",
		},
		{
			name:       "exchange failure",
			params:     func(state, code string) url.Values { return url.Values{"state": {state}, "code": {code}} },
			failStatus: http.StatusInternalServerError,
			wantStatus: http.StatusBadGateway,
			wantText:   "Authentication failed, please try again.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			cookie, state := f.beginLogin(t, server.RouteAuthLogin, nil)
			f.idp.FailStatus.Store(tt.failStatus)

			rec := f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+tt.params(state, f.idp.IssueCode()).Encode(), "", cookie, nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantText)
			assert.NotContains(t, rec.Body.String(), "AADSTS")
			assert.NotContains(t, rec.Body.String(), state)
		})
	}
}

func TestCallback_WithoutSessionCookie(t *testing.T) {
	f := setupTestFixture(t)
	_, state := f.beginLogin(t, server.RouteAuthLogin, nil)

	q := url.Values{"state": {state}, "code": {f.idp.IssueCode()}}
	rec := f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(0), f.idp.ExchangeCalls.Load())

	// A declined consent is reported as such even when the cookie did not come back.
	q = url.Values{"state": {state}, "error": {"access_denied"}}
	rec = f.do(t, http.MethodGet, server.RouteAuthCallback+"?"+q.Encode(), "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign-in was cancelled")
}

func TestStatusAndLogout(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, server.RouteAuthStatus, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())

	cookie, _ := f.signIn(t, server.RouteAuthLogin)
	rec = f.do(t, http.MethodGet, server.RouteAuthStatus, "", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":true,"user":{"name":"Zoë Example","email":"zoe@example.com"}}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, server.RouteAuthLogout, "", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
	cleared := sessionCookie(t, rec)
	assert.Less(t, cleared.MaxAge, 0)

	// The old cookie no longer maps to any credentials.
	rec = f.do(t, http.MethodGet, server.RouteAuthStatus, "", cookie, nil)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
}

func TestMeetings_ListsWithToken(t *testing.T) {
	f := setupTestFixture(t)
	cookie, resume := f.signIn(t, "/auth/login?action=list_meetings")
	require.Equal(t, server.RouteMeetings, resume)

	rec := f.do(t, http.MethodGet, resume, "", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Meetings []struct {
			ID           string   `json:"id"`
			Participants []string `json:"participants"`
		} `json:"meetings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Meetings, 2)
}

func TestMeetings_GraphUnauthorizedForcesSignIn(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)
	f.graph.err = graph.ErrUnauthorized

	rec := f.do(t, http.MethodGet, server.RouteMeetings, "", cookie, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?action=list_meetings", rec.Header().Get("Location"))

	// Credentials were dropped so the next request goes straight to sign-in.
	f.graph.err = nil
	rec = f.do(t, http.MethodGet, server.RouteMeetings, "", cookie, jsonAccept)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeetings_GraphForbidden(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)
	f.graph.err = graph.ErrForbidden

	rec := f.do(t, http.MethodGet, server.RouteMeetings, "", cookie, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_permissions", body["error"])
	assert.Equal(t, "/auth/login?action=list_meetings", body["login_url"])

	// Credentials are kept; only consent is missing.
	rec = f.do(t, http.MethodGet, server.RouteAuthStatus, "", cookie, nil)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
}

func TestSummary_NoTranscript(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)

	rec := f.do(t, http.MethodGet, "/summary?id=m-2", "", cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No transcript available for this meeting.")
	assert.Contains(t, rec.Body.String(), `"post_requested":false`)
}

func TestSummary_RequiresMeetingID(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)

	rec := f.do(t, http.MethodGet, server.RouteSummary, "", cookie, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendSummary(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)

	rec := f.do(t, http.MethodPost, server.RouteSendSummary, `{"meeting_id":"m-1","summary":"Ship <b>Friday</b>\nThanks"}`, cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"sent","chat_id":"chat-1"}`, rec.Body.String())

	require.Len(t, f.graph.sent, 1)
	sent := f.graph.sent[0]
	assert.NotEmpty(t, sent.token)
	assert.Equal(t, "Summary: Planning <Q3>", sent.topic)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sent.members)
	assert.Equal(t, "<h3>Planning &lt;Q3&gt;</h3><p>Ship &lt;b&gt;Friday&lt;/b&gt;<br>Thanks</p>", sent.html)
}

func TestSendSummary_Validation(t *testing.T) {
	f := setupTestFixture(t)
	cookie, _ := f.signIn(t, server.RouteAuthLogin)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: "meeting", want: http.StatusBadRequest},
		{name: "missing summary", body: `{"meeting_id":"m-1"}`, want: http.StatusBadRequest},
		{name: "no participants", body: `{"meeting_id":"m-2","summary":"x"}`, want: http.StatusBadRequest},
		{name: "unknown meeting", body: `{"meeting_id":"m-9","summary":"x"}`, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, server.RouteSendSummary, tt.body, cookie, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Empty(t, f.graph.sent)
}

func TestSendSummary_UnauthenticatedGets401(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, server.RouteSendSummary+"?meeting_id=m-1", `{"meeting_id":"m-1","summary":"x"}`, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/auth/login?action=post_to_chat&id=m-1", body["login_url"])
}

func TestHealthAndIndex(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, server.RouteHealth, "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = f.do(t, http.MethodGet, server.RouteIndex, "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"app":"Transcript Summary"`)
}
