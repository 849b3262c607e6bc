package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/board"
	"github.com/zkripson/battleship-go/internal/obslog"
)

// SubmitBoard stores a player's verified board commitment. When both players
// have submitted, the game goes ACTIVE with player A to move.
func (r *Registry) SubmitBoard(ctx context.Context, id uint64, player, commitment, proof string) (*Session, error) {
	player = strings.TrimSpace(player)
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Flow != FlowZK {
			return ErrInvalidState
		}
		if s.Phase != PhaseCreated && s.Phase != PhaseAwaitingBoards {
			return ErrInvalidState
		}
		if !s.IsPlayer(player) {
			return ErrNotPlayer
		}
		b := s.Board(player)
		if b.Commitment != "" {
			return ErrInvalidState
		}

		ok, verr := r.verifier.VerifyBoardPlacement(ctx, commitment, proof)
		if verr != nil || !ok {
			return ErrInvalidProof
		}

		b.Commitment = commitment
		if s.BoardA.Commitment != "" && s.BoardB.Commitment != "" {
			s.Phase = PhaseActive
			s.CurrentTurn = s.PlayerA
			s.LastActionAt = r.now()
		} else {
			s.Phase = PhaseAwaitingBoards
		}
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_board",
		zap.Uint64("session_id", id),
		zap.String("player", player),
		zap.String("phase", string(sess.Phase)),
	)
	return sess, nil
}

// Start is the attested-flow entry point: the backend moves the session from
// CREATED straight to ACTIVE without board commitments.
func (r *Registry) Start(ctx context.Context, id uint64) (*Session, error) {
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Flow != FlowAttested {
			return ErrInvalidState
		}
		if s.Phase != PhaseCreated {
			return ErrInvalidState
		}
		s.Phase = PhaseActive
		s.CurrentTurn = s.PlayerA
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_start", zap.Uint64("session_id", id))
	return sess, nil
}

// MakeShot records the current player's shot against the opponent's grid.
// The turn does not change until the opponent answers the shot.
func (r *Registry) MakeShot(ctx context.Context, id uint64, player string, x, y int) (*Session, error) {
	player = strings.TrimSpace(player)
	idx, err := board.CoordToIndex(x, y)
	if err != nil {
		return nil, err
	}
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Phase != PhaseActive {
			return ErrInvalidState
		}
		if !s.IsPlayer(player) {
			return ErrNotPlayer
		}
		if player != s.CurrentTurn {
			return ErrInvalidTurn
		}
		if s.PendingShot != nil {
			return ErrInvalidState
		}
		target := s.Board(s.Opponent(player))
		if !target.RecordShot(idx) {
			return ErrAlreadyShot
		}
		i := idx
		s.PendingShot = &i
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_shot",
		zap.Uint64("session_id", id),
		zap.String("player", player),
		zap.Int("x", x),
		zap.Int("y", y),
	)
	return sess, nil
}

// SubmitShotResult lets the shot-at player answer the pending shot. A proven
// hit on the 17th ship cell ends the game in the shooter's favor; otherwise
// the turn passes to the responder.
func (r *Registry) SubmitShotResult(ctx context.Context, id uint64, responder string, x, y int, isHit bool, proof string) (*Session, error) {
	responder = strings.TrimSpace(responder)
	idx, err := board.CoordToIndex(x, y)
	if err != nil {
		return nil, err
	}
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Phase != PhaseActive {
			return ErrInvalidState
		}
		if !s.IsPlayer(responder) {
			return ErrNotPlayer
		}
		if responder == s.CurrentTurn {
			return ErrInvalidTurn
		}
		if s.PendingShot == nil || *s.PendingShot != idx {
			return ErrInvalidState
		}

		b := s.Board(responder)
		if s.Flow == FlowZK {
			ok, verr := r.verifier.VerifyShotResult(ctx, b.Commitment, x, y, isHit, proof)
			if verr != nil || !ok {
				return ErrInvalidProof
			}
		}

		s.PendingShot = nil
		s.LastActionAt = r.now()
		if isHit {
			if sunk := b.RecordHit(idx); sunk {
				s.Winner = s.CurrentTurn
				s.Phase = PhaseCompleted
				return nil
			}
		}
		s.CurrentTurn = responder
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_result",
		zap.Uint64("session_id", id),
		zap.String("responder", responder),
		zap.Bool("hit", isHit),
		zap.String("phase", string(sess.Phase)),
		zap.String("winner", sess.Winner),
	)
	return sess, nil
}

// VerifyGameEnd is the alternate end path: the claimant proves the opponent's
// fleet is fully sunk over the shot history.
func (r *Registry) VerifyGameEnd(ctx context.Context, id uint64, claimant, commitment, historyHash, proof string) (*Session, error) {
	claimant = strings.TrimSpace(claimant)
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Flow != FlowZK {
			return ErrInvalidState
		}
		if s.Phase != PhaseActive {
			return ErrInvalidState
		}
		if !s.IsPlayer(claimant) {
			return ErrNotPlayer
		}

		opp := s.Board(s.Opponent(claimant))
		if commitment != opp.Commitment {
			return ErrInvalidProof
		}
		ok, verr := r.verifier.VerifyGameEnd(ctx, commitment, historyHash, proof)
		if verr != nil || !ok {
			return ErrInvalidProof
		}
		if opp.HitCount != board.ShipCells {
			return ErrInvalidState
		}

		s.Winner = claimant
		s.Phase = PhaseCompleted
		s.PendingShot = nil
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_end_claim",
		zap.Uint64("session_id", id),
		zap.String("winner", claimant),
	)
	return sess, nil
}

// CompleteByBackend records a backend-attested outcome for an attested-flow
// session.
func (r *Registry) CompleteByBackend(ctx context.Context, id uint64, winner string) (*Session, error) {
	winner = strings.TrimSpace(winner)
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Flow != FlowAttested {
			return ErrInvalidState
		}
		if s.Phase != PhaseActive {
			return ErrInvalidState
		}
		if !s.IsPlayer(winner) {
			return ErrInvalidPlayer
		}
		s.Winner = winner
		s.Phase = PhaseCompleted
		s.PendingShot = nil
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_complete_attested",
		zap.Uint64("session_id", id),
		zap.String("winner", winner),
	)
	return sess, nil
}

// Forfeit concedes the game in any non-terminal phase.
func (r *Registry) Forfeit(ctx context.Context, id uint64, player string) (*Session, error) {
	player = strings.TrimSpace(player)
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Terminal() {
			return ErrInvalidState
		}
		if !s.IsPlayer(player) {
			return ErrNotPlayer
		}
		s.Winner = s.Opponent(player)
		s.Phase = PhaseCompleted
		s.PendingShot = nil
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_forfeit",
		zap.Uint64("session_id", id),
		zap.String("forfeiter", player),
		zap.String("winner", sess.Winner),
	)
	return sess, nil
}

// ClaimTimeoutWin awards the game to the waiting player once the current
// player overran the turn timeout. Before the timeout elapses the claim
// fails without mutating anything.
func (r *Registry) ClaimTimeoutWin(ctx context.Context, id uint64, claimant string) (*Session, error) {
	claimant = strings.TrimSpace(claimant)
	sess, err := r.update(ctx, id, func(s *Session, expired bool) error {
		if !s.IsPlayer(claimant) {
			return ErrNotPlayer
		}
		if expired {
			// the timeout check already resolved the session; the claim
			// succeeds only for the player it resolved in favor of
			if s.Winner == claimant {
				return nil
			}
			return ErrInvalidState
		}
		if s.Phase != PhaseActive {
			return ErrInvalidState
		}
		return ErrTimeoutNotReached
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_timeout_win",
		zap.Uint64("session_id", id),
		zap.String("winner", claimant),
	)
	return sess, nil
}

// Cancel aborts a session that never went active. Caller must be a player;
// the empty caller is the registry/escrow itself.
func (r *Registry) Cancel(ctx context.Context, id uint64, caller string) (*Session, error) {
	caller = strings.TrimSpace(caller)
	sess, err := r.update(ctx, id, func(s *Session, _ bool) error {
		if s.Phase != PhaseCreated && s.Phase != PhaseAwaitingBoards {
			return ErrInvalidState
		}
		if caller != "" && !s.IsPlayer(caller) {
			return ErrNotPlayer
		}
		s.Phase = PhaseCancelled
		s.LastActionAt = r.now()
		return nil
	})
	if err != nil {
		return sess, err
	}
	obslog.L().Info("session_cancel",
		zap.Uint64("session_id", id),
		zap.String("caller", caller),
	)
	return sess, nil
}
