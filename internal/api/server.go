// Package api exposes the HTTP control and observation surface: invites,
// sessions, balances and the admin knobs. Player identity comes from the
// request body; backend and admin endpoints are gated by shared keys.
package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/escrow"
	"github.com/zkripson/battleship-go/internal/ledger"
	"github.com/zkripson/battleship-go/internal/obslog"
	"github.com/zkripson/battleship-go/internal/session"
)

type Config struct {
	ListenAddr string
	BackendKey string
	AdminKey   string
}

type Server struct {
	registry *session.Registry
	engine   *escrow.Engine
	ledger   *ledger.Ledger
	cfg      Config

	srv *fasthttp.Server
}

func NewServer(registry *session.Registry, engine *escrow.Engine, led *ledger.Ledger, cfg Config) *Server {
	s := &Server{
		registry: registry,
		engine:   engine,
		ledger:   led,
		cfg:      cfg,
	}
	s.srv = &fasthttp.Server{
		Handler:      s.route,
		Name:         "battleship",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until the context ends, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.srv.ListenAndServe(s.cfg.ListenAddr)
	}()
	obslog.L().Info("api_listen", zap.String("addr", s.cfg.ListenAddr))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.ShutdownWithContext(shutdownCtx)
	}
}

// Handler exposes the request handler for in-process tests.
func (s *Server) Handler() fasthttp.RequestHandler { return s.route }

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	segs := splitPath(string(ctx.Path()))

	switch {
	case method == fasthttp.MethodGet && match(segs, "healthz"):
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})

	case method == fasthttp.MethodPost && match(segs, "invites"):
		s.handleCreateInvite(ctx)
	case method == fasthttp.MethodGet && match(segs, "invites", "*"):
		s.handleGetInvite(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "invites", "*", "accept"):
		s.handleAcceptInvite(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "invites", "*", "cancel"):
		s.handleCancelInvite(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "invites", "*", "expire"):
		s.handleExpireInvite(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "invites", "*", "session"):
		s.backend(ctx, func() { s.handleCreateSession(ctx, segs[1]) })

	case method == fasthttp.MethodGet && match(segs, "sessions", "*"):
		s.handleGetSession(ctx, segs[1])
	case method == fasthttp.MethodGet && match(segs, "sessions", "*", "cell"):
		s.handleCellState(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "board"):
		s.handleSubmitBoard(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "shot"):
		s.handleMakeShot(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "shot-result"):
		s.handleShotResult(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "verify-end"):
		s.handleVerifyEnd(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "forfeit"):
		s.handleForfeit(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "timeout-claim"):
		s.handleTimeoutClaim(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "cancel"):
		s.handleCancelSession(ctx, segs[1])
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "start"):
		s.backend(ctx, func() { s.handleStart(ctx, segs[1]) })
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "complete"):
		s.backend(ctx, func() { s.handleComplete(ctx, segs[1]) })
	case method == fasthttp.MethodPost && match(segs, "sessions", "*", "resolve"):
		s.backend(ctx, func() { s.handleResolve(ctx, segs[1]) })

	case method == fasthttp.MethodGet && match(segs, "players", "*", "invites"):
		s.handlePlayerInvites(ctx, segs[1])
	case method == fasthttp.MethodGet && match(segs, "players", "*", "sessions"):
		s.handlePlayerSessions(ctx, segs[1])
	case method == fasthttp.MethodGet && match(segs, "players", "*", "balance"):
		s.handleBalance(ctx, segs[1])

	case method == fasthttp.MethodPost && match(segs, "admin", "logic-version"):
		s.admin(ctx, func() { s.handleLogicVersion(ctx) })
	case method == fasthttp.MethodPost && match(segs, "admin", "deposit"):
		s.admin(ctx, func() { s.handleDeposit(ctx) })

	default:
		writeError(ctx, fasthttp.StatusNotFound, "no such route")
	}
}

func (s *Server) backend(ctx *fasthttp.RequestCtx, fn func()) {
	if !keyMatches(ctx, "X-Backend-Key", s.cfg.BackendKey) {
		writeError(ctx, fasthttp.StatusForbidden, "backend key required")
		return
	}
	fn()
}

func (s *Server) admin(ctx *fasthttp.RequestCtx, fn func()) {
	if !keyMatches(ctx, "X-Admin-Key", s.cfg.AdminKey) {
		writeError(ctx, fasthttp.StatusForbidden, "admin key required")
		return
	}
	fn()
}

func keyMatches(ctx *fasthttp.RequestCtx, header, want string) bool {
	if want == "" {
		return false
	}
	got := ctx.Request.Header.Peek(header)
	return subtle.ConstantTimeCompare(got, []byte(want)) == 1
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// match compares path segments; "*" captures any single segment.
func match(segs []string, pattern ...string) bool {
	if len(segs) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && segs[i] != p {
			return false
		}
	}
	return true
}
