package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/authz"
	"github.com/guildwarden/warden/commands"
	"github.com/guildwarden/warden/engine"
	tmplmod "github.com/guildwarden/warden/modules/templating"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/templating"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []templating.ExecContext
	out   json.RawMessage
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, template string, ec templating.ExecContext) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ec)
	return f.out, f.err
}

func (f *fakeExecutor) Calls() []templating.ExecContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]templating.ExecContext(nil), f.calls...)
}

func testServer(t *testing.T, exec *fakeExecutor, config Config) (*Server, *engine.Engine) {
	eng := engine.EngineTestFixture(tmplmod.Module(exec))
	mock := eng.MockPlatform()
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "scripter"})
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "plain"})
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "admin", Administrator: true})
	assert.NoError(t, eng.Store.SetMemberOverrides(context.Background(), "g1", "scripter", []string{"templating.exec_template"}))
	config.Registerer = prometheus.NewRegistry()
	return NewServer(eng, exec, config), eng
}

func execute(srv *Server, guild, user, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/guilds/"+guild+"/users/"+user+"/execute-template", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ExecuteTemplateResponse {
	var out ExecuteTemplateResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestExecuteTemplate(t *testing.T) {
	assert := assert.New(t)
	exec := &fakeExecutor{out: json.RawMessage(`{"ok":true}`)}
	srv, _ := testServer(t, exec, Config{})

	rec := execute(srv, "g1", "scripter", `{"template":"return {ok=true}","args":{"n":1}}`, "")
	assert.Equal(http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.JSONEq(`{"ok":true}`, string(out.Result))
	assert.Empty(out.Error)
	assert.Nil(out.PermissionError)

	calls := exec.Calls()
	if assert.Len(calls, 1) {
		assert.Equal("g1", calls[0].GuildID)
		assert.Equal("scripter", calls[0].UserID)
		assert.JSONEq(`{"n":1}`, string(calls[0].Args))
	}
}

func TestExecuteTemplateDenied(t *testing.T) {
	assert := assert.New(t)
	exec := &fakeExecutor{out: json.RawMessage(`1`)}
	srv, _ := testServer(t, exec, Config{})

	for _, user := range []string{"plain", "admin", "stranger"} {
		rec := execute(srv, "g1", user, `{"template":"return 1"}`, "")
		assert.Equal(http.StatusForbidden, rec.Code, user)
		out := decode(t, rec)
		if assert.NotNil(out.PermissionError, user) {
			assert.NotEmpty(out.PermissionError.Reason)
		}
		assert.Nil(out.Result)
	}
	assert.Empty(exec.Calls())

	out := decode(t, execute(srv, "g1", "plain", `{"template":"return 1"}`, ""))
	assert.Equal(string(authz.CodeMissingCapability), out.PermissionError.Code)
	assert.Contains(out.PermissionError.Reason, "templating.exec_template")
	out = decode(t, execute(srv, "g1", "stranger", `{"template":"return 1"}`, ""))
	assert.Equal(string(authz.CodeMemberNotFound), out.PermissionError.Code)
}

func TestExecuteTemplateMatchesCommandSurface(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	exec := &fakeExecutor{out: json.RawMessage(`"x"`)}
	srv, eng := testServer(t, exec, Config{})
	router := commands.NewRouter(eng)

	for _, user := range []string{"scripter", "plain", "admin", "stranger"} {
		_, cmdErr := router.Invoke(ctx, commands.Invocation{GuildID: "g1", UserID: user, Command: tmplmod.ExecCommand, Args: map[string]any{"template": "x"}})
		var denied *authz.DeniedError
		cmdDenied := errors.As(cmdErr, &denied)

		rec := execute(srv, "g1", user, `{"template":"x"}`, "")
		assert.Equal(cmdDenied, rec.Code == http.StatusForbidden, user)
		if cmdDenied {
			assert.Equal(string(denied.Result.Code), decode(t, rec).PermissionError.Code, user)
		}
	}
}

func TestExecuteTemplateFailure(t *testing.T) {
	assert := assert.New(t)
	exec := &fakeExecutor{err: errors.New("line 1: attempt to call a nil value")}
	srv, _ := testServer(t, exec, Config{})

	rec := execute(srv, "g1", "scripter", `{"template":"nope()"}`, "")
	assert.Equal(http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal("line 1: attempt to call a nil value", out.Error)
	assert.Nil(out.Result)
}

func TestExecuteTemplateBadBody(t *testing.T) {
	assert := assert.New(t)
	exec := &fakeExecutor{}
	srv, _ := testServer(t, exec, Config{})

	rec := execute(srv, "g1", "scripter", `{"template":`, "")
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Contains(decode(t, rec).Error, "invalid request body")
	assert.Empty(exec.Calls())
}

func TestBearerAuth(t *testing.T) {
	assert := assert.New(t)
	secret := []byte("s3cret")
	exec := &fakeExecutor{out: json.RawMessage(`1`)}
	srv, _ := testServer(t, exec, Config{Secret: secret})

	rec := execute(srv, "g1", "scripter", `{"template":"return 1"}`, "")
	assert.Equal(http.StatusUnauthorized, rec.Code)

	other, err := SignToken([]byte("other"), "ops", time.Hour)
	assert.NoError(err)
	rec = execute(srv, "g1", "scripter", `{"template":"return 1"}`, other)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	expired, err := SignToken(secret, "ops", -time.Hour)
	assert.NoError(err)
	rec = execute(srv, "g1", "scripter", `{"template":"return 1"}`, expired)
	assert.Equal(http.StatusUnauthorized, rec.Code)
	assert.Empty(exec.Calls())

	good, err := SignToken(secret, "ops", time.Hour)
	assert.NoError(err)
	rec = execute(srv, "g1", "scripter", `{"template":"return 1"}`, good)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Len(exec.Calls(), 1)

	// health stays open
	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	hrec := httptest.NewRecorder()
	srv.ServeHTTP(hrec, req)
	assert.Equal(http.StatusOK, hrec.Code)
	assert.Contains(hrec.Body.String(), `"status":"ok"`)
}
