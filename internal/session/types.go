package session

import (
	"time"

	"github.com/zkripson/battleship-go/internal/board"
)

// Phase is a session lifecycle state.
type Phase string

const (
	PhaseCreated        Phase = "CREATED"
	PhaseAwaitingBoards Phase = "AWAITING_BOARDS"
	PhaseActive         Phase = "ACTIVE"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseCancelled      Phase = "CANCELLED"
)

// Flow selects the state machine variant a session was created with.
type Flow string

const (
	// FlowZK: players submit proof-checked board commitments and shot
	// results.
	FlowZK Flow = "zk"
	// FlowAttested: a trusted backend starts the game and attests the
	// outcome; board submission is collapsed into the start transition.
	FlowAttested Flow = "attested"
)

// Session is the persisted state of one match. Boards[player] tracks the
// opponent's fire against that player's grid.
type Session struct {
	ID      uint64 `json:"id"`
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b"`

	Phase Phase `json:"phase"`
	Flow  Flow  `json:"flow"`

	// LogicVersion is frozen at creation; later registry version bumps do
	// not touch live sessions.
	LogicVersion int `json:"logic_version"`

	CurrentTurn string `json:"current_turn,omitempty"`
	Winner      string `json:"winner,omitempty"`

	BoardA *board.State `json:"board_a"`
	BoardB *board.State `json:"board_b"`

	// PendingShot is the cell index fired at by CurrentTurn and not yet
	// answered by the opponent.
	PendingShot *int `json:"pending_shot,omitempty"`

	TurnTimeout  time.Duration `json:"turn_timeout"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActionAt time.Time     `json:"last_action_at"`
}

// IsPlayer reports whether id is one of the two participants.
func (s *Session) IsPlayer(id string) bool {
	return id != "" && (id == s.PlayerA || id == s.PlayerB)
}

// Opponent returns the other participant, or "" when id is not a player.
func (s *Session) Opponent(id string) string {
	switch id {
	case s.PlayerA:
		return s.PlayerB
	case s.PlayerB:
		return s.PlayerA
	}
	return ""
}

// Board returns the grid owned by the given player (the one the opponent
// fires at).
func (s *Session) Board(player string) *board.State {
	switch player {
	case s.PlayerA:
		return s.BoardA
	case s.PlayerB:
		return s.BoardB
	}
	return nil
}

// Terminal reports whether the session reached a final phase.
func (s *Session) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseCancelled
}

// Fingerprints returns the audit fingerprints of both boards.
func (s *Session) Fingerprints() map[string]string {
	return map[string]string{
		s.PlayerA: s.BoardA.Fingerprint(),
		s.PlayerB: s.BoardB.Fingerprint(),
	}
}

// Errors
var (
	ErrNotFound          = errf("session not found")
	ErrInvalidState      = errf("operation not valid in current phase")
	ErrInvalidTurn       = errf("not this player's turn")
	ErrInvalidProof      = errf("proof rejected")
	ErrAlreadyShot       = errf("cell already targeted")
	ErrSamePlayer        = errf("players must differ")
	ErrInvalidPlayer     = errf("invalid player identity")
	ErrNotPlayer         = errf("caller is not a session participant")
	ErrTimeoutNotReached = errf("turn timeout has not elapsed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
