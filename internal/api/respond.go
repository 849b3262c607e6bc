package api

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/board"
	"github.com/zkripson/battleship-go/internal/escrow"
	"github.com/zkripson/battleship-go/internal/ledger"
	"github.com/zkripson/battleship-go/internal/obslog"
	"github.com/zkripson/battleship-go/internal/session"
)

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		obslog.L().Error("api_encode_error", zap.Error(err))
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func readJSON(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// fail maps the sentinel error taxonomy onto HTTP statuses.
func fail(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound) || errors.Is(err, escrow.ErrNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrOutOfRange),
		errors.Is(err, session.ErrInvalidPlayer),
		errors.Is(err, session.ErrSamePlayer),
		errors.Is(err, escrow.ErrSamePlayer),
		errors.Is(err, escrow.ErrInvalidStake),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(ctx, fasthttp.StatusPaymentRequired, err.Error())
	case errors.Is(err, session.ErrNotPlayer), errors.Is(err, escrow.ErrUnauthorized):
		writeError(ctx, fasthttp.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrInvalidProof):
		writeError(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrInvalidTurn),
		errors.Is(err, session.ErrAlreadyShot),
		errors.Is(err, session.ErrTimeoutNotReached),
		errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrExpired),
		errors.Is(err, escrow.ErrNotExpired),
		errors.Is(err, escrow.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrUnbalanced):
		writeError(ctx, fasthttp.StatusConflict, err.Error())
	default:
		obslog.L().Error("api_internal_error", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}
