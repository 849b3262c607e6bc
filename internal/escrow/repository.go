package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository persists terminal settlements to Postgres for audit and
// reporting. Redis remains the authoritative state.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveSettlement upserts the terminal state of a wager. Method is how the
// invite ended: win, draw, cancelled or expired.
func (r *Repository) SaveSettlement(ctx context.Context, inv *Invite, method string) error {
	if r == nil || r.db == nil || inv == nil {
		return nil
	}

	var resolvedAt *time.Time
	if inv.ResolvedAt != nil {
		resolvedAt = inv.ResolvedAt
	}

	q := `INSERT INTO settlements (
	    invite_id, creator, acceptor, stake, session_id,
	    status, method, winner, payout, fee,
	    created_at, expires_at, resolved_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	  ) ON CONFLICT (invite_id) DO UPDATE SET
	    acceptor=EXCLUDED.acceptor,
	    session_id=EXCLUDED.session_id,
	    status=EXCLUDED.status,
	    method=EXCLUDED.method,
	    winner=EXCLUDED.winner,
	    payout=EXCLUDED.payout,
	    fee=EXCLUDED.fee,
	    resolved_at=EXCLUDED.resolved_at`

	_, err := r.db.ExecContext(ctx, q,
		inv.ID,
		inv.Creator, inv.Acceptor, inv.Stake, inv.SessionID,
		string(inv.Status), strings.TrimSpace(method), inv.Winner, inv.Payout, inv.Fee,
		inv.CreatedAt, inv.ExpiresAt, resolvedAt,
	)
	return err
}
