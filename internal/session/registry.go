package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/board"
	"github.com/zkripson/battleship-go/internal/obslog"
	"github.com/zkripson/battleship-go/internal/verify"
)

// Config fixes the parameters new sessions are created with.
type Config struct {
	Flow        Flow
	TurnTimeout time.Duration
	// LogicVersion seeds the registry version when none is stored yet.
	LogicVersion int
}

// Registry creates sessions, assigns ids and drives every state transition.
// Each transition runs as a WATCH transaction on the session key, so
// operations on one session are serialized while distinct sessions proceed in
// parallel.
type Registry struct {
	rdb      *redis.Client
	store    *Store
	verifier verify.Verifier
	cfg      Config

	now func() time.Time
}

func NewRegistry(rdb *redis.Client, verifier verify.Verifier, cfg Config) *Registry {
	if cfg.Flow == "" {
		cfg.Flow = FlowZK
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	if cfg.LogicVersion <= 0 {
		cfg.LogicVersion = 1
	}
	return &Registry{
		rdb:      rdb,
		store:    NewStore(rdb),
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Store exposes the underlying store for read-only observers.
func (r *Registry) Store() *Store { return r.store }

// CreateSession allocates a fresh session for the pair, bound to the
// currently active logic version.
func (r *Registry) CreateSession(ctx context.Context, playerA, playerB string) (*Session, error) {
	playerA = strings.TrimSpace(playerA)
	playerB = strings.TrimSpace(playerB)
	if playerA == "" || playerB == "" {
		return nil, ErrInvalidPlayer
	}
	if playerA == playerB {
		return nil, ErrSamePlayer
	}

	id, err := r.store.NextID(ctx)
	if err != nil {
		return nil, err
	}
	version, err := r.store.LogicVersion(ctx, r.cfg.LogicVersion)
	if err != nil {
		return nil, err
	}

	now := r.now()
	sess := &Session{
		ID:           id,
		PlayerA:      playerA,
		PlayerB:      playerB,
		Phase:        PhaseCreated,
		Flow:         r.cfg.Flow,
		LogicVersion: version,
		BoardA:       board.New(),
		BoardB:       board.New(),
		TurnTimeout:  r.cfg.TurnTimeout,
		CreatedAt:    now,
		LastActionAt: now,
	}
	if err := r.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	if err := r.store.IndexPlayers(ctx, id, playerA, playerB); err != nil {
		return nil, err
	}
	obslog.L().Info("session_create",
		zap.Uint64("session_id", id),
		zap.String("player_a", playerA),
		zap.String("player_b", playerB),
		zap.String("flow", string(sess.Flow)),
		zap.Int("logic_version", version),
	)
	return sess, nil
}

// SetLogicVersion changes the ruleset for sessions created from now on.
// Live sessions keep the version they were created with.
func (r *Registry) SetLogicVersion(ctx context.Context, v int) error {
	if v <= 0 {
		return ErrInvalidState
	}
	if err := r.store.SetLogicVersion(ctx, v); err != nil {
		return err
	}
	obslog.L().Info("session_logic_version", zap.Int("version", v))
	return nil
}

// Get returns the session by id.
func (r *Registry) Get(ctx context.Context, id uint64) (*Session, error) {
	return r.store.Load(ctx, id)
}

// SessionsByPlayer lists the player's session ids.
func (r *Registry) SessionsByPlayer(ctx context.Context, player string) ([]uint64, error) {
	return r.store.SessionsByPlayer(ctx, player)
}

// CellState answers the observable shot/hit query for one cell of a player's
// board.
func (r *Registry) CellState(ctx context.Context, id uint64, player string, x, y int) (shot, hit bool, err error) {
	sess, err := r.store.Load(ctx, id)
	if err != nil {
		return false, false, err
	}
	b := sess.Board(player)
	if b == nil {
		return false, false, ErrNotPlayer
	}
	idx, err := board.CoordToIndex(x, y)
	if err != nil {
		return false, false, err
	}
	return b.Shot(idx), b.Hit(idx), nil
}

// update runs one state transition under WATCH on the session key. The
// timeout check runs first: an expired ACTIVE session is resolved in favor of
// the waiting player before fn sees it, and that resolution is persisted even
// when fn then rejects the call.
func (r *Registry) update(ctx context.Context, id uint64, fn func(s *Session, expired bool) error) (*Session, error) {
	key := keySession(id)
	var out *Session
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		sess, err := decode(raw)
		if err != nil {
			return err
		}

		expired := r.expireIfTimedOut(sess)
		opErr := fn(sess, expired)
		if opErr != nil && !expired {
			return opErr
		}

		pipe := tx.TxPipeline()
		blob, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, blob, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = sess
		return opErr
	}, key)
	if err != nil {
		return out, err
	}
	return out, nil
}

// expireIfTimedOut force-resolves an ACTIVE session whose turn timer ran out:
// the player who failed to act loses.
func (r *Registry) expireIfTimedOut(s *Session) bool {
	if s.Phase != PhaseActive {
		return false
	}
	if r.now().Sub(s.LastActionAt) <= s.TurnTimeout {
		return false
	}
	s.Winner = s.Opponent(s.CurrentTurn)
	s.Phase = PhaseCompleted
	s.PendingShot = nil
	s.LastActionAt = r.now()
	obslog.L().Info("session_timeout_resolve",
		zap.Uint64("session_id", s.ID),
		zap.String("winner", s.Winner),
		zap.String("timed_out", s.CurrentTurn),
	)
	return true
}
