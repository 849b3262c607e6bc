package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zkripson/battleship-go/internal/ledger"
	"github.com/zkripson/battleship-go/internal/session"
	"github.com/zkripson/battleship-go/internal/verify"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	led := ledger.New(rdb)
	reg := session.NewRegistry(rdb, verify.Static{OK: true}, session.Config{Flow: session.FlowAttested})
	eng := NewEngine(rdb, led, reg, Config{MinStake: 10, MaxStake: 1000, FeePercent: 10, InviteTTL: 24 * time.Hour})
	return eng, led
}

// totalSupply sums every account the tests touch; transfers must never
// change it.
func totalSupply(t *testing.T, led *ledger.Ledger, players ...string) int64 {
	t.Helper()
	accts := append([]string{EscrowAccount, TreasuryAccount}, players...)
	total, err := led.Total(context.Background(), accts...)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	return total
}

func escrowedInvite(t *testing.T, e *Engine, led *ledger.Ledger, stake int64) *Invite {
	t.Helper()
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", stake)
	_, _ = led.Deposit(ctx, "bob", stake)

	inv, err := e.CreateInvite(ctx, "alice", stake)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := e.AcceptInvite(ctx, inv.ID, "bob"); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	inv, err = e.CreateSession(ctx, inv.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if inv.Status != StatusEscrowed || inv.SessionID == 0 {
		t.Fatalf("status=%s session=%d after CreateSession", inv.Status, inv.SessionID)
	}
	return inv
}

func TestCreateInvite(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 100)

	if _, err := e.CreateInvite(ctx, "alice", 5); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("below-min stake: expected ErrInvalidStake, got %v", err)
	}
	if _, err := e.CreateInvite(ctx, "alice", 5000); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("above-max stake: expected ErrInvalidStake, got %v", err)
	}
	if _, err := e.CreateInvite(ctx, "alice", 200); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	inv, err := e.CreateInvite(ctx, "alice", 100)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if inv.Status != StatusOpen {
		t.Fatalf("status = %s, want OPEN", inv.Status)
	}
	if b, _ := led.Balance(ctx, "alice"); b != 0 {
		t.Fatalf("alice = %d after staking, want 0", b)
	}
	if b, _ := led.Balance(ctx, EscrowAccount); b != 100 {
		t.Fatalf("escrow = %d, want 100", b)
	}

	ids, err := e.InvitesByPlayer(ctx, "alice")
	if err != nil || len(ids) != 1 || ids[0] != inv.ID {
		t.Fatalf("InvitesByPlayer: %v %v", ids, err)
	}
}

func TestAcceptInvite(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 100)

	inv, _ := e.CreateInvite(ctx, "alice", 100)

	if _, err := e.AcceptInvite(ctx, "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.AcceptInvite(ctx, inv.ID, "alice"); !errors.Is(err, ErrSamePlayer) {
		t.Fatalf("expected ErrSamePlayer, got %v", err)
	}
	if _, err := e.AcceptInvite(ctx, inv.ID, "bob"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	_, _ = led.Deposit(ctx, "bob", 100)
	got, err := e.AcceptInvite(ctx, inv.ID, "bob")
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if got.Status != StatusMatched || got.Acceptor != "bob" {
		t.Fatalf("status=%s acceptor=%q", got.Status, got.Acceptor)
	}
	if b, _ := led.Balance(ctx, EscrowAccount); b != 200 {
		t.Fatalf("escrow = %d, want 200", b)
	}

	// already matched
	if _, err := e.AcceptInvite(ctx, inv.ID, "carol"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestCreateSessionRequiresMatch(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 100)
	inv, _ := e.CreateInvite(ctx, "alice", 100)

	if _, err := e.CreateSession(ctx, inv.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on open invite, got %v", err)
	}
}

func TestResolveNormalWin(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	inv := escrowedInvite(t, e, led, 100)
	before := totalSupply(t, led, "alice", "bob")

	got, err := e.Resolve(ctx, inv.SessionID, "alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != StatusResolved || !got.FundsDistributed {
		t.Fatalf("status=%s distributed=%v", got.Status, got.FundsDistributed)
	}
	if got.Payout != 180 || got.Fee != 20 {
		t.Fatalf("payout=%d fee=%d, want 180/20", got.Payout, got.Fee)
	}
	if got.Payout+got.Fee != 2*got.Stake {
		t.Fatalf("payout+fee != pool")
	}

	if b, _ := led.Balance(ctx, "alice"); b != 180 {
		t.Fatalf("winner balance = %d, want 180", b)
	}
	if b, _ := led.Balance(ctx, TreasuryAccount); b != 20 {
		t.Fatalf("treasury = %d, want 20", b)
	}
	if b, _ := led.Balance(ctx, EscrowAccount); b != 0 {
		t.Fatalf("escrow = %d, want 0", b)
	}
	if after := totalSupply(t, led, "alice", "bob"); after != before {
		t.Fatalf("total supply changed: %d -> %d", before, after)
	}
}

func TestResolveDraw(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	inv := escrowedInvite(t, e, led, 100)
	before := totalSupply(t, led, "alice", "bob")

	got, err := e.Resolve(ctx, inv.SessionID, "")
	if err != nil {
		t.Fatalf("Resolve draw: %v", err)
	}
	if got.Winner != "" || got.Fee != 0 {
		t.Fatalf("draw recorded winner=%q fee=%d", got.Winner, got.Fee)
	}
	if b, _ := led.Balance(ctx, "alice"); b != 100 {
		t.Fatalf("alice refund = %d, want 100", b)
	}
	if b, _ := led.Balance(ctx, "bob"); b != 100 {
		t.Fatalf("bob refund = %d, want 100", b)
	}
	if b, _ := led.Balance(ctx, TreasuryAccount); b != 0 {
		t.Fatalf("treasury took a fee on a draw: %d", b)
	}
	if after := totalSupply(t, led, "alice", "bob"); after != before {
		t.Fatalf("total supply changed: %d -> %d", before, after)
	}
}

func TestResolveIdempotent(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	inv := escrowedInvite(t, e, led, 100)

	if _, err := e.Resolve(ctx, inv.SessionID, "bob"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	bobAfter, _ := led.Balance(ctx, "bob")

	if _, err := e.Resolve(ctx, inv.SessionID, "bob"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve: expected ErrAlreadyResolved, got %v", err)
	}
	if b, _ := led.Balance(ctx, "bob"); b != bobAfter {
		t.Fatalf("second resolve moved funds: %d -> %d", bobAfter, b)
	}
}

func TestResolveValidation(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	inv := escrowedInvite(t, e, led, 100)

	if _, err := e.Resolve(ctx, 99999, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
	}
	if _, err := e.Resolve(ctx, inv.SessionID, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider winner: expected ErrUnauthorized, got %v", err)
	}
	got, _ := e.Get(ctx, inv.ID)
	if got.FundsDistributed || got.Status != StatusEscrowed {
		t.Fatalf("failed resolve mutated invite: %s/%v", got.Status, got.FundsDistributed)
	}
}

func TestCancelInvite(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 100)
	inv, _ := e.CreateInvite(ctx, "alice", 100)

	if _, err := e.CancelInvite(ctx, inv.ID, "bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	got, err := e.CancelInvite(ctx, inv.ID, "alice")
	if err != nil {
		t.Fatalf("CancelInvite: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if b, _ := led.Balance(ctx, "alice"); b != 100 {
		t.Fatalf("refund = %d, want 100", b)
	}
	if b, _ := led.Balance(ctx, EscrowAccount); b != 0 {
		t.Fatalf("escrow = %d, want 0", b)
	}

	// matched invites cannot be cancelled
	_, _ = led.Deposit(ctx, "bob", 50)
	_, _ = led.Deposit(ctx, "alice", 50)
	inv2, _ := e.CreateInvite(ctx, "alice", 50)
	if _, err := e.AcceptInvite(ctx, inv2.ID, "bob"); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if _, err := e.CancelInvite(ctx, inv2.ID, "alice"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestHandleExpired(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 50)
	inv, _ := e.CreateInvite(ctx, "alice", 50)

	// not yet expired
	if _, err := e.HandleExpired(ctx, inv.ID); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("expected ErrNotExpired, got %v", err)
	}

	base := time.Now()
	e.now = func() time.Time { return base.Add(25 * time.Hour) }

	// an unrelated caller sweeps the expired invite
	got, err := e.HandleExpired(ctx, inv.ID)
	if err != nil {
		t.Fatalf("HandleExpired: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if b, _ := led.Balance(ctx, "alice"); b != 50 {
		t.Fatalf("refund = %d, want 50", b)
	}
	if _, err := e.HandleExpired(ctx, inv.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second sweep: expected ErrInvalidStatus, got %v", err)
	}
}

func TestAcceptAfterExpiryFlipsStatus(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	_, _ = led.Deposit(ctx, "alice", 100)
	_, _ = led.Deposit(ctx, "bob", 100)
	inv, _ := e.CreateInvite(ctx, "alice", 100)

	base := time.Now()
	e.now = func() time.Time { return base.Add(25 * time.Hour) }

	if _, err := e.AcceptInvite(ctx, inv.ID, "bob"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	got, _ := e.Get(ctx, inv.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if b, _ := led.Balance(ctx, "alice"); b != 100 {
		t.Fatalf("creator not refunded: %d", b)
	}
	if b, _ := led.Balance(ctx, "bob"); b != 100 {
		t.Fatalf("acceptor charged on expired invite: %d", b)
	}
}

func TestTruncatingFeeArithmetic(t *testing.T) {
	e, led := newTestEngine(t)
	ctx := context.Background()
	// odd pool: 2*15 = 30, fee 3, payout 27
	inv := escrowedInvite(t, e, led, 15)

	got, err := e.Resolve(ctx, inv.SessionID, "alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Fee != 3 || got.Payout != 27 {
		t.Fatalf("fee=%d payout=%d, want 3/27", got.Fee, got.Payout)
	}
	if got.Payout+got.Fee != 30 {
		t.Fatalf("pool not conserved: %d", got.Payout+got.Fee)
	}
}
