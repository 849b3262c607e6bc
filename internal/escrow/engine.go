package escrow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/ledger"
	"github.com/zkripson/battleship-go/internal/obslog"
	"github.com/zkripson/battleship-go/internal/session"
)

// Config bounds stakes and sets the invite expiry window.
type Config struct {
	MinStake   int64
	MaxStake   int64
	FeePercent int64
	InviteTTL  time.Duration
}

// Engine matches wagers, custodies stakes for the duration of a game and
// distributes the pot on the reported outcome. Invite mutations and their
// ledger legs commit in a single WATCH transaction over the invite key and
// the touched account keys, so a resolution either lands whole or not at all.
type Engine struct {
	rdb      *redis.Client
	store    *Store
	ledger   *ledger.Ledger
	registry *session.Registry
	repo     *Repository
	cfg      Config

	now func() time.Time
}

func NewEngine(rdb *redis.Client, led *ledger.Ledger, registry *session.Registry, cfg Config) *Engine {
	if cfg.MinStake <= 0 {
		cfg.MinStake = 1
	}
	if cfg.MaxStake <= 0 {
		cfg.MaxStake = 1_000_000
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 24 * time.Hour
	}
	return &Engine{
		rdb:      rdb,
		store:    NewStore(rdb),
		ledger:   led,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AttachRepository wires a database repository for persisting settlements.
func (e *Engine) AttachRepository(r *Repository) {
	if e != nil {
		e.repo = r
	}
}

// Get returns the invite by id.
func (e *Engine) Get(ctx context.Context, id string) (*Invite, error) {
	return e.store.Load(ctx, id)
}

// InvitesByPlayer lists invite ids the player participates in.
func (e *Engine) InvitesByPlayer(ctx context.Context, player string) ([]string, error) {
	return e.store.InvitesByPlayer(ctx, player)
}

// BySession resolves the invite linked to a session.
func (e *Engine) BySession(ctx context.Context, sessionID uint64) (*Invite, error) {
	id, err := e.store.InviteBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.store.Load(ctx, id)
}

// CreateInvite escrows the creator's stake and opens the wager.
func (e *Engine) CreateInvite(ctx context.Context, creator string, stake int64) (*Invite, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, ErrUnauthorized
	}
	if stake < e.cfg.MinStake || stake > e.cfg.MaxStake {
		return nil, ErrInvalidStake
	}

	now := e.now()
	inv := &Invite{
		ID:        uuid.NewString(),
		Creator:   creator,
		Stake:     stake,
		Status:    StatusOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.InviteTTL),
	}
	legs := []ledger.Entry{
		ledger.Debit(creator, stake),
		ledger.Credit(EscrowAccount, stake),
	}

	err := e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := ledger.CheckDebits(ctx, tx, legs...); err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		raw, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		pipe.Set(ctx, keyInvite(inv.ID), raw, 0)
		pipe.SAdd(ctx, keyUserIdx(creator), inv.ID)
		ledger.Queue(ctx, pipe, legs...)
		_, err = pipe.Exec(ctx)
		return err
	}, ledger.Keys(legs...)...)
	if err != nil {
		return nil, err
	}

	obslog.L().Info("invite_create",
		zap.String("invite_id", inv.ID),
		zap.String("creator", creator),
		zap.Int64("stake", stake),
	)
	return inv, nil
}

// AcceptInvite escrows the acceptor's matching stake. Accepting past the
// expiry window flips the invite to EXPIRED, refunds the creator and reports
// ErrExpired.
func (e *Engine) AcceptInvite(ctx context.Context, inviteID, acceptor string) (*Invite, error) {
	acceptor = strings.TrimSpace(acceptor)
	if acceptor == "" {
		return nil, ErrUnauthorized
	}
	key := keyInvite(inviteID)

	var out *Invite
	err := e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		inv, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if inv.Status != StatusOpen {
			return ErrInvalidStatus
		}
		if inv.Creator == acceptor {
			return ErrSamePlayer
		}

		if e.now().After(inv.ExpiresAt) {
			inv.Status = StatusExpired
			refund := []ledger.Entry{
				ledger.Debit(EscrowAccount, inv.Stake),
				ledger.Credit(inv.Creator, inv.Stake),
			}
			if err := e.persistTx(ctx, tx, inv, refund); err != nil {
				return err
			}
			out = inv
			return ErrExpired
		}

		legs := []ledger.Entry{
			ledger.Debit(acceptor, inv.Stake),
			ledger.Credit(EscrowAccount, inv.Stake),
		}
		if err := ledger.CheckDebits(ctx, tx, legs...); err != nil {
			return err
		}
		inv.Acceptor = acceptor
		inv.Status = StatusMatched
		pipe := tx.TxPipeline()
		raw, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, raw, 0)
		pipe.SAdd(ctx, keyUserIdx(acceptor), inv.ID)
		ledger.Queue(ctx, pipe, legs...)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = inv
		return nil
	}, key, ledger.AccountKey(acceptor), ledger.AccountKey(EscrowAccount))

	if err != nil {
		if out != nil && out.Status == StatusExpired {
			obslog.L().Info("invite_expire", zap.String("invite_id", inviteID), zap.String("reason", "accept_after_expiry"))
			e.persistSettlement(ctx, out, "expired")
		}
		return out, err
	}

	obslog.L().Info("invite_accept",
		zap.String("invite_id", inviteID),
		zap.String("acceptor", acceptor),
		zap.Int64("stake", out.Stake),
	)
	return out, nil
}

// CreateSession asks the registry for the game linked to a matched invite
// and moves the wager into escrowed play. Backend-only entry point.
func (e *Engine) CreateSession(ctx context.Context, inviteID string) (*Invite, error) {
	inv, err := e.store.Load(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusMatched {
		return nil, ErrInvalidStatus
	}

	sess, err := e.registry.CreateSession(ctx, inv.Creator, inv.Acceptor)
	if err != nil {
		return nil, err
	}

	key := keyInvite(inviteID)
	var out *Invite
	err = e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status != StatusMatched {
			return ErrInvalidStatus
		}
		cur.SessionID = sess.ID
		cur.Status = StatusEscrowed
		pipe := tx.TxPipeline()
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, raw, 0)
		pipe.Set(ctx, keySessionMap(sess.ID), cur.ID, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = cur
		return nil
	}, key)
	if err != nil {
		// the invite moved under us; drop the orphaned session
		_, _ = e.registry.Cancel(ctx, sess.ID, "")
		return nil, err
	}

	obslog.L().Info("invite_session",
		zap.String("invite_id", inviteID),
		zap.Uint64("session_id", sess.ID),
	)
	return out, nil
}

// Resolve distributes the pot for the reported outcome. Winner "" is a draw:
// both stakes are refunded and no fee is taken. Backend-only entry point.
// The write-once FundsDistributed guard makes a second call a no-op failure.
func (e *Engine) Resolve(ctx context.Context, sessionID uint64, winner string) (*Invite, error) {
	winner = strings.TrimSpace(winner)
	inviteID, err := e.store.InviteBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// read once outside the transaction to learn the account set to watch
	peek, err := e.store.Load(ctx, inviteID)
	if err != nil {
		return nil, err
	}

	key := keyInvite(inviteID)
	watched := []string{
		key,
		ledger.AccountKey(EscrowAccount),
		ledger.AccountKey(TreasuryAccount),
		ledger.AccountKey(peek.Creator),
		ledger.AccountKey(peek.Acceptor),
	}

	var out *Invite
	err = e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		inv, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if inv.FundsDistributed {
			return ErrAlreadyResolved
		}
		if inv.Status != StatusEscrowed {
			return ErrInvalidStatus
		}

		pool := 2 * inv.Stake
		var legs []ledger.Entry
		switch winner {
		case "":
			// draw: pure refund, deliberately no fee
			legs = []ledger.Entry{
				ledger.Debit(EscrowAccount, pool),
				ledger.Credit(inv.Creator, inv.Stake),
				ledger.Credit(inv.Acceptor, inv.Stake),
			}
		case inv.Creator, inv.Acceptor:
			fee := pool * e.cfg.FeePercent / 100
			payout := pool - fee
			legs = []ledger.Entry{
				ledger.Debit(EscrowAccount, pool),
				ledger.Credit(winner, payout),
			}
			if fee > 0 {
				legs = append(legs, ledger.Credit(TreasuryAccount, fee))
			}
			inv.Winner = winner
			inv.Payout = payout
			inv.Fee = fee
		default:
			return ErrUnauthorized
		}

		now := e.now()
		inv.ResolvedAt = &now
		inv.FundsDistributed = true
		inv.Status = StatusResolved
		if err := e.persistTx(ctx, tx, inv, legs); err != nil {
			return err
		}
		out = inv
		return nil
	}, watched...)
	if err != nil {
		return nil, err
	}

	method := "win"
	if winner == "" {
		method = "draw"
	}
	obslog.L().Info("invite_resolve",
		zap.String("invite_id", inviteID),
		zap.Uint64("session_id", sessionID),
		zap.String("winner", winner),
		zap.Int64("payout", out.Payout),
		zap.Int64("fee", out.Fee),
	)
	e.persistSettlement(ctx, out, method)
	return out, nil
}

// CancelInvite refunds an unmatched wager. Only the creator may cancel.
func (e *Engine) CancelInvite(ctx context.Context, inviteID, caller string) (*Invite, error) {
	caller = strings.TrimSpace(caller)
	key := keyInvite(inviteID)

	var out *Invite
	err := e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		inv, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if inv.Status != StatusOpen {
			return ErrInvalidStatus
		}
		if caller != inv.Creator {
			return ErrUnauthorized
		}
		inv.Status = StatusCancelled
		legs := []ledger.Entry{
			ledger.Debit(EscrowAccount, inv.Stake),
			ledger.Credit(inv.Creator, inv.Stake),
		}
		if err := e.persistTx(ctx, tx, inv, legs); err != nil {
			return err
		}
		out = inv
		return nil
	}, key, ledger.AccountKey(EscrowAccount))
	if err != nil {
		return nil, err
	}

	obslog.L().Info("invite_cancel", zap.String("invite_id", inviteID))
	e.persistSettlement(ctx, out, "cancelled")
	return out, nil
}

// HandleExpired refunds an open invite whose window ran out. Callable by
// anyone.
func (e *Engine) HandleExpired(ctx context.Context, inviteID string) (*Invite, error) {
	key := keyInvite(inviteID)

	var out *Invite
	err := e.rdb.Watch(ctx, func(tx *redis.Tx) error {
		inv, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if inv.Status != StatusOpen {
			return ErrInvalidStatus
		}
		if !e.now().After(inv.ExpiresAt) {
			return ErrNotExpired
		}
		inv.Status = StatusExpired
		legs := []ledger.Entry{
			ledger.Debit(EscrowAccount, inv.Stake),
			ledger.Credit(inv.Creator, inv.Stake),
		}
		if err := e.persistTx(ctx, tx, inv, legs); err != nil {
			return err
		}
		out = inv
		return nil
	}, key, ledger.AccountKey(EscrowAccount))
	if err != nil {
		return nil, err
	}

	obslog.L().Info("invite_expire", zap.String("invite_id", inviteID), zap.String("reason", "ttl"))
	e.persistSettlement(ctx, out, "expired")
	return out, nil
}

// persistTx writes the invite and queues its ledger legs in one pipeline
// inside an open WATCH transaction.
func (e *Engine) persistTx(ctx context.Context, tx *redis.Tx, inv *Invite, legs []ledger.Entry) error {
	if err := ledger.Validate(legs...); err != nil {
		return err
	}
	if err := ledger.CheckDebits(ctx, tx, legs...); err != nil {
		return err
	}
	pipe := tx.TxPipeline()
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	pipe.Set(ctx, keyInvite(inv.ID), raw, 0)
	ledger.Queue(ctx, pipe, legs...)
	_, err = pipe.Exec(ctx)
	return err
}

func loadTx(ctx context.Context, tx *redis.Tx, key string) (*Invite, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeInvite(raw)
}

// persistSettlement saves the terminal invite to the database repository if
// one is attached. The redis state stays authoritative; failures are logged.
func (e *Engine) persistSettlement(ctx context.Context, inv *Invite, method string) {
	if e == nil || e.repo == nil || inv == nil {
		return
	}
	if err := e.repo.SaveSettlement(ctx, inv, method); err != nil {
		obslog.L().Error("settlement_persist_error",
			zap.String("invite_id", inv.ID),
			zap.String("method", method),
			zap.Error(err),
		)
		return
	}
	obslog.L().Info("settlement_persist",
		zap.String("invite_id", inv.ID),
		zap.String("method", method),
	)
}
