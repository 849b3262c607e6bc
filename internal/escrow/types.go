package escrow

import "time"

// Status is an invite lifecycle state.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusMatched   Status = "MATCHED"
	StatusEscrowed  Status = "ESCROWED"
	StatusResolved  Status = "RESOLVED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// System accounts. The escrow account custodies every open pot; the treasury
// collects the platform fee.
const (
	EscrowAccount   = "system:escrow"
	TreasuryAccount = "system:treasury"
)

// Invite is a pending wager. It is the only entity aware of monetary
// amounts; the linked session is the only entity aware of gameplay.
type Invite struct {
	ID       string `json:"id"`
	Creator  string `json:"creator"`
	Acceptor string `json:"acceptor,omitempty"`
	Stake    int64  `json:"stake"`

	Status Status `json:"status"`

	// SessionID back-references the game created from this invite (1:1).
	SessionID uint64 `json:"session_id,omitempty"`

	// FundsDistributed is the write-once guard against double payout. It
	// flips false→true exactly once, only while ESCROWED.
	FundsDistributed bool `json:"funds_distributed"`

	Winner string `json:"winner,omitempty"`
	Payout int64  `json:"payout,omitempty"`
	Fee    int64  `json:"fee,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Terminal reports whether the invite reached a final status.
func (i *Invite) Terminal() bool {
	return i.Status == StatusResolved || i.Status == StatusCancelled || i.Status == StatusExpired
}

// Errors
var (
	ErrNotFound        = errf("invite not found")
	ErrInvalidStake    = errf("stake outside allowed bounds")
	ErrInvalidStatus   = errf("operation not valid in current status")
	ErrSamePlayer      = errf("creator cannot accept their own invite")
	ErrExpired         = errf("invite expired")
	ErrNotExpired      = errf("invite has not expired yet")
	ErrAlreadyResolved = errf("funds already distributed")
	ErrUnauthorized    = errf("caller may not perform this action")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
