package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
	"turnstile.app/internal/notify"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/store/memory"
)

const tokenSecret = "gateway-test-secret"

var now = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	t     *testing.T
	store *memory.Store
	gw    *Gateway
	h     http.Handler
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	return newFixtureWithRepo(t, memory.New(), nil, cfg, opts...)
}

// newFixtureWithRepo serves repo (defaulting to store) while seeding and
// authenticating through store.
func newFixtureWithRepo(t *testing.T, store *memory.Store, repo domain.Repository, cfg Config, opts ...Option) *fixture {
	t.Helper()
	authn, err := auth.NewAuthenticator(store, tokenSecret, auth.WithClock(clock))
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	if repo == nil {
		repo = store
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec, cfg.RateBurst = 1000, 1000
	}
	gw := New(repo, authn, cfg, append([]Option{WithClock(clock)}, opts...)...)
	t.Cleanup(gw.Wait)
	return &fixture{t: t, store: store, gw: gw, h: gw.Handler()}
}

// user seeds a user with a live session and returns its bearer token.
func (f *fixture) user(id string) string {
	f.t.Helper()
	f.store.PutUser(domain.User{ID: id, AuthUserID: "auth-" + id, DisplayName: id})
	f.store.PutSession(auth.Session{ID: "sess-" + id, AuthUserID: "auth-" + id, ExpiresAt: now.Add(time.Hour)})
	return f.token("auth-"+id, "sess-"+id)
}

func (f *fixture) token(sub, sid string) string {
	f.t.Helper()
	tok, err := auth.IssueToken(tokenSecret, "", sub, sid, now, 30*time.Minute)
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *fixture) post(path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) call(name, token string, body any) *httptest.ResponseRecorder {
	return f.post("/functions/v1/"+name, token, body)
}

type response struct {
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data"`
	Error     *errorBody      `json:"error"`
	RequestID string          `json:"request_id"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope %q: %v", rr.Body.String(), err)
	}
	return resp
}

func expectOK(t *testing.T, rr *httptest.ResponseRecorder, data any) {
	t.Helper()
	resp := decode(t, rr)
	if rr.Code != http.StatusOK || !resp.OK {
		t.Fatalf("expected ok, got %d %s", rr.Code, rr.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code Code) {
	t.Helper()
	resp := decode(t, rr)
	if rr.Code != status || resp.OK || resp.Error == nil || resp.Error.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, rr.Code, rr.Body.String())
	}
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

func TestAuthenticationFailures(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutConversation(domain.Conversation{ID: "c1"}, "u1")
	body := map[string]string{"conversation_id": "c1", "body": "hi"}

	revokedAt := now.Add(-time.Minute)
	f.store.PutUser(domain.User{ID: "u-rev", AuthUserID: "auth-rev"})
	f.store.PutSession(auth.Session{ID: "s-rev", AuthUserID: "auth-rev", ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt})
	f.store.PutUser(domain.User{ID: "u-old", AuthUserID: "auth-old"})
	f.store.PutSession(auth.Session{ID: "s-old", AuthUserID: "auth-old", ExpiresAt: now.Add(-time.Second)})

	cases := map[string]string{
		"missing token":   "",
		"garbage token":   "not-a-jwt",
		"unknown session": f.token("auth-u1", "nope"),
		"revoked session": f.token("auth-rev", "s-rev"),
		"expired session": f.token("auth-old", "s-old"),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			expectCode(t, f.call("messages-send", tok, body), http.StatusUnauthorized, CodeUnauthorized)
		})
	}
	if got := f.store.Messages("c1"); len(got) != 0 {
		t.Fatalf("rejected calls wrote messages: %+v", got)
	}
}

func TestUnmappedIdentityIsNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutSession(auth.Session{ID: "s1", AuthUserID: "auth-ghost", ExpiresAt: now.Add(time.Hour)})

	rr := f.call("messages-send", f.token("auth-ghost", "s1"), map[string]string{"conversation_id": "c1", "body": "hi"})
	expectCode(t, rr, http.StatusNotFound, CodeNotFound)
}

func TestRequestShapeValidation(t *testing.T) {
	f := newFixture(t, Config{})
	tok := f.user("u1")

	cases := map[string]string{
		"empty body":      "",
		"malformed":       `{"conversation_id":`,
		"unknown field":   `{"conversation_id":"c1","body":"hi","admin":true}`,
		"trailing data":   `{"conversation_id":"c1","body":"hi"} {}`,
		"missing body":    `{"conversation_id":"c1"}`,
		"bad client id":   `{"conversation_id":"c1","body":"hi","client_message_id":"abc"}`,
		"wrong json type": `{"conversation_id":1,"body":"hi"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			expectCode(t, f.call("messages-send", tok, body), http.StatusBadRequest, CodeValidationError)
		})
	}
}

func TestWrongMethodIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/functions/v1/events-cancel", nil)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)

	expectCode(t, rr, http.StatusMethodNotAllowed, CodeValidationError)
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}
}

func TestUnknownFunctionIsNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	expectCode(t, f.call("tables-drop", "", `{}`), http.StatusNotFound, CodeNotFound)
}

func TestRateLimitedPerUser(t *testing.T) {
	f := newFixture(t, Config{RatePerSec: 1, RateBurst: 2})
	f.store.PutCampaign(domain.Campaign{ID: "k1", OwnerID: "someone-else", Status: domain.CampaignActive})
	a := f.user("u1")
	b := f.user("u2")
	body := map[string]string{"campaign_id": "k1"}

	for i := 0; i < 2; i++ {
		expectCode(t, f.call("campaigns-cancel", a, body), http.StatusForbidden, CodeForbidden)
	}
	rr := f.call("campaigns-cancel", a, body)
	expectCode(t, rr, http.StatusTooManyRequests, CodeRateLimited)
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rr.Header().Get("Retry-After"))
	}
	// another user has their own bucket
	expectCode(t, f.call("campaigns-cancel", b, body), http.StatusForbidden, CodeForbidden)
}

// brokenRepo fails one read with a driver error carrying internal detail.
type brokenRepo struct {
	*memory.Store
}

func (brokenRepo) Conversation(context.Context, string) (domain.Conversation, error) {
	return domain.Conversation{}, errors.New("dial tcp 10.0.0.7:5432: connection refused")
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	store := memory.New()
	f := newFixtureWithRepo(t, store, brokenRepo{Store: store}, Config{})
	tok := f.user("u1")

	before := testutil.ToFloat64(obs.FunctionResults.WithLabelValues("messages-send", string(CodeInternalError)))
	rr := f.call("messages-send", tok, map[string]string{"conversation_id": "c1", "body": "hi"})
	expectCode(t, rr, http.StatusInternalServerError, CodeInternalError)
	if strings.Contains(rr.Body.String(), "10.0.0.7") || strings.Contains(rr.Body.String(), "refused") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
	after := testutil.ToFloat64(obs.FunctionResults.WithLabelValues("messages-send", string(CodeInternalError)))
	if after-before != 1 {
		t.Fatalf("expected internal_error result counted once, got %v", after-before)
	}
}

func TestEnvelopeCarriesRequestID(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/messages-send", strings.NewReader(`{}`))
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)

	if resp := decode(t, rr); resp.RequestID != "req-123" {
		t.Fatalf("expected request id echoed, got %q", resp.RequestID)
	}
	if rr.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/messages-send", nil)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected open origin")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("expected Authorization in allowed headers")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ready := errors.New("db down")
	f := newFixture(t, Config{Version: "test"}, WithReadyCheck(func(context.Context) error { return ready }))

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}
	if rr := get("/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := get("/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing check: %d", rr.Code)
	}
	ready = nil
	if rr := get("/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}
}
