package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/executor"
	"github.com/stake-plus/mememo/src/grants"
	"github.com/stake-plus/mememo/src/registry"
)

const (
	adminSecret  = "admin-secret-0123456789"
	auth3pSecret = "auth3p-secret-0123456789"
	bankGrant    = "bank-balance:bank_account"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	router     *gin.Engine
	clock      *clock.Fake
	grants     *grants.MemoryStore
	cache      *cache.MemoryStore
	challenges *challenge.Manager
	last       executor.Invocation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{clock: clock.NewFake(epoch)}
	e.grants = grants.NewMemoryStore(e.clock)
	e.cache = cache.NewMemoryStore(e.clock)
	e.challenges = challenge.NewManager(e.grants, challenge.Options{
		Clock:    e.clock,
		Notifier: challenge.NotifierFunc(func(context.Context, challenge.Challenge) error { return nil }),
	})
	t.Cleanup(e.challenges.Wait)

	reg, err := registry.New([]registry.Definition{
		{Name: "thanks", Pattern: `ty`, Enabled: true, Exec: executor.Spec{Run: "true"}},
		{Name: "balance", Pattern: `balance\??`, Enabled: true, RequiredGrants: []string{bankGrant}, CacheTTL: time.Minute, Exec: executor.Spec{Run: "true"}},
		{Name: "say", Pattern: `say (.+)`, Enabled: true, Exec: executor.Spec{Run: "true"}},
	})
	require.NoError(t, err)
	exec := executor.Func(func(_ context.Context, _ executor.Spec, inv executor.Invocation) (executor.Result, error) {
		e.last = inv
		return executor.Result{Output: inv.Service + " <b>ok</b>"}, nil
	})
	d := dispatch.New(reg, e.grants, e.cache, exec, dispatch.Options{Clock: e.clock})

	e.router = NewRouter(config.APIConfig{AdminSecret: adminSecret}, auth3pSecret, Deps{
		Dispatcher: d,
		Grants:     e.grants,
		Cache:      e.cache,
		Challenges: e.challenges,
		Limiter:    NewRateLimiter(100, time.Minute, e.clock),
	})
	return e
}

func token(t *testing.T, secret, role string) string {
	t.Helper()
	tok, err := IssueToken([]byte(secret), "tester", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestHealthzIsOpen(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestTokensAreScopedByRole(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)
	third := token(t, auth3pSecret, RoleAuth3p)

	code, _ := e.do(t, http.MethodGet, "/v1/admin/services", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/v1/admin/services", third, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "auth3p token is signed with another secret")

	wrongRole := token(t, adminSecret, RoleAuth3p)
	code, _ = e.do(t, http.MethodGet, "/v1/admin/services", wrongRole, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := e.do(t, http.MethodGet, "/v1/admin/services", admin, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["services"], 3)

	code, _ = e.do(t, http.MethodPost, "/v1/auth3p/respond", admin, map[string]string{"challenge_id": "x", "outcome": "approved"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRespondLifecycle(t *testing.T) {
	e := newEnv(t)
	third := token(t, auth3pSecret, RoleAuth3p)
	ctx := context.Background()

	ch, err := e.challenges.Begin(ctx, challenge.Request{Principal: "discord-1", Grant: bankGrant}, 0)
	require.NoError(t, err)

	code, body := e.do(t, http.MethodGet, "/v1/auth3p/challenges", third, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["challenges"], 1)

	code, _ = e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": ch.ID, "outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": ch.ID, "outcome": "approved"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "grant_issued", body["result"])

	ok, err := e.grants.HasGrant(ctx, "discord-1", bankGrant)
	require.NoError(t, err)
	assert.True(t, ok)

	code, _ = e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": ch.ID, "outcome": "approved"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = e.do(t, http.MethodGet, "/v1/auth3p/challenges/"+ch.ID, third, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(challenge.Answered), body["state"])

	code, _ = e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": "nope", "outcome": "approved"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRespondDeniedAndExpired(t *testing.T) {
	e := newEnv(t)
	third := token(t, auth3pSecret, RoleAuth3p)
	ctx := context.Background()

	denied, err := e.challenges.Begin(ctx, challenge.Request{Principal: "discord-1", Grant: bankGrant}, 0)
	require.NoError(t, err)
	code, body := e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": denied.ID, "outcome": "denied"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "denied", body["result"])

	late, err := e.challenges.Begin(ctx, challenge.Request{Principal: "discord-2", Grant: bankGrant}, time.Minute)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	code, _ = e.do(t, http.MethodPost, "/v1/auth3p/respond", third, map[string]string{"challenge_id": late.ID, "outcome": "approved"})
	assert.Equal(t, http.StatusGone, code)

	list, err := e.grants.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCommandsGateAndRun(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)

	code, body := e.do(t, http.MethodPost, "/v1/commands", admin, map[string]string{"principal": "discord-1", "text": "balance?"})
	assert.Equal(t, http.StatusForbidden, code)
	out := body["outcome"].(map[string]any)
	assert.Equal(t, "authorization_required", out["kind"])
	assert.Equal(t, []any{bankGrant}, out["missing"])

	code, body = e.do(t, http.MethodPost, "/v1/admin/grants", admin, map[string]string{"principal": "discord-1", "grant": bankGrant, "ttl": "1h"})
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["grant"])

	code, body = e.do(t, http.MethodPost, "/v1/commands", admin, map[string]string{"principal": "discord-1", "text": "<i>balance?</i>"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "balance <b>ok</b>", body["message"])
	assert.Equal(t, 1, e.cache.Len())

	code, _ = e.do(t, http.MethodPost, "/v1/commands", admin, map[string]string{"principal": "discord-1", "text": "what"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRevokeDropsCachedResults(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)
	ctx := context.Background()

	_, err := e.grants.Issue(ctx, "discord-1", bankGrant, time.Hour)
	require.NoError(t, err)
	code, _ := e.do(t, http.MethodPost, "/v1/commands", admin, map[string]string{"principal": "discord-1", "text": "balance"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, e.cache.Len())

	code, body := e.do(t, http.MethodGet, "/v1/admin/grants/discord-1", admin, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["grants"], 1)

	code, body = e.do(t, http.MethodDelete, "/v1/admin/grants/discord-1/"+bankGrant, admin, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["invalidated"])
	assert.Zero(t, e.cache.Len())

	ok, err := e.grants.HasGrant(ctx, "discord-1", bankGrant)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminChallengesAndCache(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)

	code, body := e.do(t, http.MethodPost, "/v1/admin/challenges", admin, map[string]string{"principal": "discord-1", "grant": bankGrant})
	assert.Equal(t, http.StatusAccepted, code)
	ch := body["challenge"].(map[string]any)
	assert.Equal(t, string(challenge.Pending), ch["state"])
	assert.Len(t, e.challenges.Pending("discord-1"), 1)

	code, _ = e.do(t, http.MethodPost, "/v1/admin/cache/invalidate", admin, map[string]string{"service": "nope"})
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, e.cache.Put(context.Background(), cache.Fingerprint("balance", nil), "x", time.Minute))
	code, body = e.do(t, http.MethodPost, "/v1/admin/cache/invalidate", admin, map[string]string{"service": "balance"})
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["invalidated"])

	code, _ = e.do(t, http.MethodPost, "/v1/admin/grants", admin, map[string]string{"principal": "discord-1", "grant": bankGrant, "ttl": "-1h"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRateLimiterWindow(t *testing.T) {
	c := clock.NewFake(epoch)
	rl := NewRateLimiter(2, time.Minute, c)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	c.Advance(time.Minute)
	assert.True(t, rl.Allow("a"))
	c.Advance(time.Minute)
	assert.Equal(t, 2, rl.Cleanup(c.Now()))
}

func TestRateLimitMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(1, time.Minute, nil)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, want, w.Code, "request %d", i)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	e := newEnv(t)
	tok, err := IssueToken([]byte(adminSecret), "tester", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	code, _ := e.do(t, http.MethodGet, "/v1/admin/services", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	_, err = IssueToken(nil, "tester", RoleAdmin, time.Hour)
	assert.Error(t, err)
}

func TestServerStartStop(t *testing.T) {
	e := newEnv(t)
	s := &Server{listen: "127.0.0.1:0", handler: e.router}
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
	assert.Equal(t, "api", s.Name())
}

func TestCommandTextKeepsTypedCharacters(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)

	code, _ := e.do(t, http.MethodPost, "/v1/commands", admin, map[string]any{
		"principal": "discord-1",
		"text":      "say <b>what's up</b> & 1<2",
		"platform":  map[string]string{"channel": "ops & co"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"what's up & 1<2"}, e.last.Args)
	assert.Equal(t, "ops & co", e.last.Platform["channel"])
}

func TestCommandPlatformCannotOverrideCaller(t *testing.T) {
	e := newEnv(t)
	admin := token(t, adminSecret, RoleAdmin)

	code, _ := e.do(t, http.MethodPost, "/v1/commands", admin, map[string]any{
		"principal": "discord-1",
		"text":      "say hi",
		"platform":  map[string]string{"caller": "someone-else", "source": "discord"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tester", e.last.Platform["caller"])
	assert.Equal(t, "api", e.last.Platform["source"])

	e.last = executor.Invocation{}
	code, _ = e.do(t, http.MethodPost, "/v1/commands", admin, map[string]any{
		"principal": "discord-1",
		"text":      "say hi",
		"platform":  map[string]string{"X;rm -rf": "v"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, e.last.Service, "rejected requests never execute")
}
