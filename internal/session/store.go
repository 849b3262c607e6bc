package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store persists sessions as JSON blobs keyed by id, plus the monotonic id
// counter, the per-player index sets and the active logic version.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func keySession(id uint64) string { return "bs:session:" + strconv.FormatUint(id, 10) }
func keyCounter() string          { return "bs:session:count" }
func keyPlayerIdx(player string) string {
	return "bs:session:index:player:" + strings.TrimSpace(player)
}
func keyLogicVersion() string { return "bs:session:logic_version" }

// NextID allocates a fresh monotonically increasing session id.
func (s *Store) NextID(ctx context.Context) (uint64, error) {
	n, err := s.rdb.Incr(ctx, keyCounter()).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keySession(sess.ID), raw, 0).Err()
}

func (s *Store) Load(ctx context.Context, id uint64) (*Session, error) {
	raw, err := s.rdb.Get(ctx, keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func decode(raw []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// IndexPlayers appends the session to both players' indices.
func (s *Store) IndexPlayers(ctx context.Context, id uint64, playerA, playerB string) error {
	for _, p := range []string{playerA, playerB} {
		if err := s.rdb.SAdd(ctx, keyPlayerIdx(p), strconv.FormatUint(id, 10)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// SessionsByPlayer returns the player's session ids in ascending order.
func (s *Store) SessionsByPlayer(ctx context.Context, player string) ([]uint64, error) {
	raw, err := s.rdb.SMembers(ctx, keyPlayerIdx(player)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, r := range raw {
		n, perr := strconv.ParseUint(r, 10, 64)
		if perr != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LogicVersion reads the version new sessions are bound to. Returns def when
// unset.
func (s *Store) LogicVersion(ctx context.Context, def int) (int, error) {
	raw, err := s.rdb.Get(ctx, keyLogicVersion()).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	return n, nil
}

func (s *Store) SetLogicVersion(ctx context.Context, v int) error {
	return s.rdb.Set(ctx, keyLogicVersion(), strconv.Itoa(v), 0).Err()
}
