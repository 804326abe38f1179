package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to all keys.
	KeyPrefix string
	// HistoryLimit caps the audit list of committed ticks.
	HistoryLimit int
}

// RedisStore keeps the whole state as one JSON value. Each commit writes the
// value and appends to a capped audit list inside one MULTI/EXEC.
type RedisStore struct {
	client       *redis.Client
	keyPrefix    string
	historyLimit int
}

var _ interfaces.StateStore = (*RedisStore)(nil)

// commitEntry is one line of the audit list.
type commitEntry struct {
	Seq        uint64    `json:"seq"`
	LastTickAt time.Time `json:"last_tick_at"`
	InFlight   int       `json:"in_flight"`
	Positions  int       `json:"positions"`
}

func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("open redis: %w: address is required", types.ErrStoreUnavailable)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "trader"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix, historyLimit: cfg.HistoryLimit}, nil
}

func (s *RedisStore) key() string        { return s.keyPrefix + ":tickstate" }
func (s *RedisStore) historyKey() string { return s.keyPrefix + ":tickstate:history" }

func (s *RedisStore) Load(ctx context.Context) (types.TickState, error) {
	b, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.NewTickState(), nil
	}
	if err != nil {
		return types.TickState{}, unavailable("load", err)
	}
	st, err := decode(b)
	if err != nil {
		return types.TickState{}, unavailable("load", err)
	}
	return st, nil
}

func (s *RedisStore) Commit(ctx context.Context, st types.TickState) error {
	payload, err := encode(st)
	if err != nil {
		return unavailable("commit", err)
	}
	entry, err := json.Marshal(commitEntry{
		Seq:        st.Seq,
		LastTickAt: st.LastTickAt,
		InFlight:   len(st.InFlight),
		Positions:  len(st.Positions),
	})
	if err != nil {
		return unavailable("commit", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(), payload, 0)
		pipe.LPush(ctx, s.historyKey(), entry)
		if s.historyLimit > 0 {
			pipe.LTrim(ctx, s.historyKey(), 0, int64(s.historyLimit-1))
		}
		return nil
	})
	if err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
