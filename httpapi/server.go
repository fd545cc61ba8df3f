// Package httpapi serves the remote template execution endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	slogecho "github.com/samber/slog-echo"

	"github.com/guildwarden/warden/authz"
	"github.com/guildwarden/warden/engine"
	tmplmod "github.com/guildwarden/warden/modules/templating"
	"github.com/guildwarden/warden/templating"
)

var templateExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_api_template_executions",
	Help: "Number of execute-template requests, by outcome",
}, []string{"outcome"})

type Config struct {
	// HS256 secret for bearer tokens; empty disables auth
	Secret []byte
	// per-request bound on template execution
	ExecTimeout time.Duration
	// for request metrics; nil is the default registry
	Registerer prometheus.Registerer
}

type Server struct {
	Logger   *slog.Logger
	Checker  *authz.Checker
	Executor templating.Executor
	Config   Config

	echo  *echo.Echo
	httpd *http.Server
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type ExecuteTemplateRequest struct {
	Template string          `json:"template"`
	Args     json.RawMessage `json:"args"`
}

type PermissionError struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// ExecuteTemplateResponse carries exactly one of its fields.
type ExecuteTemplateResponse struct {
	Result          json.RawMessage  `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
	PermissionError *PermissionError `json:"permission_error,omitempty"`
}

func NewServer(eng *engine.Engine, exec templating.Executor, config Config) *Server {
	if config.ExecTimeout == 0 {
		config.ExecTimeout = 10 * time.Second
	}
	srv := &Server{
		Logger:   eng.Logger.With("component", "api"),
		Checker:  authz.NewChecker(eng),
		Executor: exec,
		Config:   config,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(srv.Logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "warden_api",
		Registerer: config.Registerer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)

	guilds := e.Group("/guilds")
	if len(config.Secret) > 0 {
		guilds.Use(bearerAuth(config.Secret))
	}
	guilds.POST("/:guild_id/users/:user_id/execute-template", srv.HandleExecuteTemplate)

	srv.echo = e
	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Start blocks serving on addr until Shutdown.
func (srv *Server) Start(addr string) error {
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           addr,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1024 * 1024,
	}
	srv.Logger.Info("starting api server", "bind", addr)
	if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpd == nil {
		return nil
	}
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	if code >= 500 {
		srv.Logger.Warn("api internal error", "err", err, "path", c.Path())
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
		srv.Logger.Error("writing error response", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden"})
}

func (srv *Server) HandleExecuteTemplate(c echo.Context) error {
	ctx := c.Request().Context()
	guildID := c.Param("guild_id")
	userID := c.Param("user_id")

	var body ExecuteTemplateRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		templateExecutions.WithLabelValues("bad_request").Inc()
		return c.JSON(http.StatusBadRequest, ExecuteTemplateResponse{Error: "invalid request body: " + err.Error()})
	}

	// same check a native invocation of the command gets
	res := srv.Checker.CheckCommand(ctx, tmplmod.ExecCommand, guildID, userID, authz.Options{})
	if !res.IsOK() {
		templateExecutions.WithLabelValues("denied").Inc()
		return c.JSON(http.StatusForbidden, ExecuteTemplateResponse{PermissionError: &PermissionError{
			Reason: res.Reason(),
			Code:   string(res.Code),
		}})
	}

	ctx, cancel := context.WithTimeout(ctx, srv.Config.ExecTimeout)
	defer cancel()
	out, err := srv.Executor.Execute(ctx, body.Template, templating.ExecContext{
		Args:    body.Args,
		GuildID: guildID,
		UserID:  userID,
	})
	if err != nil {
		templateExecutions.WithLabelValues("error").Inc()
		srv.Logger.Debug("template execution failed", "guild", guildID, "user", userID, "err", err)
		return c.JSON(http.StatusOK, ExecuteTemplateResponse{Error: err.Error()})
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	templateExecutions.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, ExecuteTemplateResponse{Result: out})
}
