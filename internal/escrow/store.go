package escrow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store persists invites as JSON blobs plus the per-player index and the
// session→invite back-reference.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func keyInvite(id string) string { return "bs:invite:" + strings.TrimSpace(id) }
func keyUserIdx(player string) string {
	return "bs:invite:index:user:" + strings.TrimSpace(player)
}
func keySessionMap(sessionID uint64) string {
	return "bs:invite:session:" + strconv.FormatUint(sessionID, 10)
}

func (s *Store) Save(ctx context.Context, inv *Invite) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyInvite(inv.ID), raw, 0).Err()
}

func (s *Store) Load(ctx context.Context, id string) (*Invite, error) {
	raw, err := s.rdb.Get(ctx, keyInvite(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeInvite(raw)
}

func decodeInvite(raw []byte) (*Invite, error) {
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) IndexPlayer(ctx context.Context, player, inviteID string) error {
	if strings.TrimSpace(player) == "" {
		return nil
	}
	return s.rdb.SAdd(ctx, keyUserIdx(player), inviteID).Err()
}

// InvitesByPlayer returns the ids of invites the player created or accepted.
func (s *Store) InvitesByPlayer(ctx context.Context, player string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyUserIdx(player)).Result()
}

// MapSession records the 1:1 session→invite back-reference.
func (s *Store) MapSession(ctx context.Context, sessionID uint64, inviteID string) error {
	return s.rdb.Set(ctx, keySessionMap(sessionID), inviteID, 0).Err()
}

// InviteBySession resolves the invite linked to a session.
func (s *Store) InviteBySession(ctx context.Context, sessionID uint64) (string, error) {
	id, err := s.rdb.Get(ctx, keySessionMap(sessionID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
