package api

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

func parseSessionID(ctx *fasthttp.RequestCtx, seg string) (uint64, bool) {
	id, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "session id must be numeric")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateInvite(ctx *fasthttp.RequestCtx) {
	var req struct {
		Creator string `json:"creator"`
		Stake   int64  `json:"stake"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	inv, err := s.engine.CreateInvite(ctx, req.Creator, req.Stake)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, inv)
}

func (s *Server) handleGetInvite(ctx *fasthttp.RequestCtx, id string) {
	inv, err := s.engine.Get(ctx, id)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inv)
}

func (s *Server) handleAcceptInvite(ctx *fasthttp.RequestCtx, id string) {
	var req struct {
		Acceptor string `json:"acceptor"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	inv, err := s.engine.AcceptInvite(ctx, id, req.Acceptor)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inv)
}

func (s *Server) handleCancelInvite(ctx *fasthttp.RequestCtx, id string) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	inv, err := s.engine.CancelInvite(ctx, id, req.Caller)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inv)
}

func (s *Server) handleExpireInvite(ctx *fasthttp.RequestCtx, id string) {
	inv, err := s.engine.HandleExpired(ctx, id)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inv)
}

func (s *Server) handleCreateSession(ctx *fasthttp.RequestCtx, id string) {
	inv, err := s.engine.CreateSession(ctx, id)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, inv)
}

func (s *Server) handleGetSession(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	sess, err := s.registry.Get(ctx, id)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleCellState(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	args := ctx.QueryArgs()
	player := string(args.Peek("player"))
	x, errX := strconv.Atoi(string(args.Peek("x")))
	y, errY := strconv.Atoi(string(args.Peek("y")))
	if errX != nil || errY != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "x and y query params required")
		return
	}
	shot, hit, err := s.registry.CellState(ctx, id, player, x, y)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]bool{"shot": shot, "hit": hit})
}

func (s *Server) handleSubmitBoard(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player     string `json:"player"`
		Commitment string `json:"commitment"`
		Proof      string `json:"proof"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.SubmitBoard(ctx, id, req.Player, req.Commitment, req.Proof)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleMakeShot(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player string `json:"player"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.MakeShot(ctx, id, req.Player, req.X, req.Y)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleShotResult(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player string `json:"player"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Hit    bool   `json:"hit"`
		Proof  string `json:"proof"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.SubmitShotResult(ctx, id, req.Player, req.X, req.Y, req.Hit, req.Proof)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleVerifyEnd(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player      string `json:"player"`
		Commitment  string `json:"commitment"`
		HistoryHash string `json:"history_hash"`
		Proof       string `json:"proof"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.VerifyGameEnd(ctx, id, req.Player, req.Commitment, req.HistoryHash, req.Proof)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleForfeit(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player string `json:"player"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.Forfeit(ctx, id, req.Player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleTimeoutClaim(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player string `json:"player"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.ClaimTimeoutWin(ctx, id, req.Player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleCancelSession(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Player string `json:"player"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	// an empty caller is the internal escrow path, never a request
	if strings.TrimSpace(req.Player) == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "player required")
		return
	}
	sess, err := s.registry.Cancel(ctx, id, req.Player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleStart(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	sess, err := s.registry.Start(ctx, id)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleComplete(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Winner string `json:"winner"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	sess, err := s.registry.CompleteByBackend(ctx, id, req.Winner)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleResolve(ctx *fasthttp.RequestCtx, seg string) {
	id, ok := parseSessionID(ctx, seg)
	if !ok {
		return
	}
	var req struct {
		Winner string `json:"winner"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	inv, err := s.engine.Resolve(ctx, id, req.Winner)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inv)
}

func (s *Server) handlePlayerInvites(ctx *fasthttp.RequestCtx, player string) {
	ids, err := s.engine.InvitesByPlayer(ctx, player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"invites": ids})
}

func (s *Server) handlePlayerSessions(ctx *fasthttp.RequestCtx, player string) {
	ids, err := s.registry.SessionsByPlayer(ctx, player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleBalance(ctx *fasthttp.RequestCtx, player string) {
	bal, err := s.ledger.Balance(ctx, player)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"account": player, "balance": bal})
}

func (s *Server) handleLogicVersion(ctx *fasthttp.RequestCtx) {
	var req struct {
		Version int `json:"version"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	if err := s.registry.SetLogicVersion(ctx, req.Version); err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]int{"version": req.Version})
}

func (s *Server) handleDeposit(ctx *fasthttp.RequestCtx) {
	var req struct {
		Account string `json:"account"`
		Amount  int64  `json:"amount"`
	}
	if !readJSON(ctx, &req) {
		return
	}
	bal, err := s.ledger.Deposit(ctx, req.Account, req.Amount)
	if err != nil {
		fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"account": req.Account, "balance": bal})
}
