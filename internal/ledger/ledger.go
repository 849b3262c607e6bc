// Package ledger holds custodial per-account balances. Amounts are abstract
// fungible credit units stored as redis integers; every transfer is a
// balanced set of legs applied atomically so value is never created or
// destroyed outside Deposit.
package ledger

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInsufficientBalance = errf("insufficient balance")
	ErrInvalidAmount       = errf("invalid amount")
	ErrUnbalanced          = errf("transfer legs do not sum to zero")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Entry is one leg of a transfer: positive credits, negative debits.
type Entry struct {
	Account string
	Amount  int64
}

// Credit builds a crediting leg.
func Credit(account string, amount int64) Entry { return Entry{Account: account, Amount: amount} }

// Debit builds a debiting leg.
func Debit(account string, amount int64) Entry { return Entry{Account: account, Amount: -amount} }

type Ledger struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Ledger { return &Ledger{rdb: rdb} }

func keyAccount(acct string) string { return "bs:ledger:acct:" + strings.TrimSpace(acct) }

// AccountKey exposes the redis key for an account so callers embedding
// ledger legs in their own WATCH can include it in the watched set.
func AccountKey(acct string) string { return keyAccount(acct) }

// Keys returns the redis keys touched by the given legs, for WATCH.
func Keys(entries ...Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, keyAccount(e.Account))
	}
	return out
}

// Balance returns the account balance; missing accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, acct string) (int64, error) {
	return readBalance(ctx, l.rdb, acct)
}

// Total sums the given accounts. Used by conservation checks and monitors.
func (l *Ledger) Total(ctx context.Context, accts ...string) (int64, error) {
	var total int64
	for _, a := range accts {
		b, err := readBalance(ctx, l.rdb, a)
		if err != nil {
			return 0, err
		}
		total += b
	}
	return total, nil
}

// Deposit mints amount into the account. This is the only entry point that
// changes total supply; it backs the admin faucet.
func (l *Ledger) Deposit(ctx context.Context, acct string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return l.rdb.IncrBy(ctx, keyAccount(acct), amount).Result()
}

// Apply executes a balanced transfer on its own WATCH transaction: every
// debited account is balance-checked, then all legs commit in one pipeline.
// Either the whole transfer lands or none of it does.
func (l *Ledger) Apply(ctx context.Context, entries ...Entry) error {
	if err := Validate(entries...); err != nil {
		return err
	}
	return l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := CheckDebits(ctx, tx, entries...); err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		Queue(ctx, pipe, entries...)
		_, err := pipe.Exec(ctx)
		return err
	}, Keys(entries...)...)
}

// Validate rejects zero legs and unbalanced transfers.
func Validate(entries ...Entry) error {
	var sum int64
	for _, e := range entries {
		if e.Amount == 0 || strings.TrimSpace(e.Account) == "" {
			return ErrInvalidAmount
		}
		sum += e.Amount
	}
	if sum != 0 {
		return ErrUnbalanced
	}
	return nil
}

// CheckDebits verifies inside a transaction that every debited account can
// cover its leg. Callers embedding ledger legs in their own WATCH use this
// before queueing.
func CheckDebits(ctx context.Context, tx redis.Cmdable, entries ...Entry) error {
	for _, e := range entries {
		if e.Amount >= 0 {
			continue
		}
		bal, err := readBalance(ctx, tx, e.Account)
		if err != nil {
			return err
		}
		if bal+e.Amount < 0 {
			return ErrInsufficientBalance
		}
	}
	return nil
}

// Queue appends the legs to an open pipeline.
func Queue(ctx context.Context, pipe redis.Pipeliner, entries ...Entry) {
	for _, e := range entries {
		pipe.IncrBy(ctx, keyAccount(e.Account), e.Amount)
	}
}

func readBalance(ctx context.Context, c redis.Cmdable, acct string) (int64, error) {
	raw, err := c.Get(ctx, keyAccount(acct)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
