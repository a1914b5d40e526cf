package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const cursorKeyPrefix = "poller:last_block:v1:"

// CursorStore persists the poller's last scanned block across restarts.
type CursorStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

// RedisCursorStore keeps the cursor in Redis, keyed by contract address.
type RedisCursorStore struct {
	cache *redis.Client
	key   string
}

// NewRedisCursorStore builds a cursor store for contract.
func NewRedisCursorStore(cache *redis.Client, contract common.Address) *RedisCursorStore {
	return &RedisCursorStore{cache: cache, key: cursorKeyPrefix + strings.ToLower(contract.Hex())}
}

// Load returns the stored cursor; ok is false when none was saved yet.
func (s *RedisCursorStore) Load(ctx context.Context) (uint64, bool, error) {
	v, err := s.cache.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load poller cursor: %w", err)
	}
	block, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode poller cursor %q: %w", v, err)
	}
	return block, true, nil
}

// Save stores block as the last fully processed block.
func (s *RedisCursorStore) Save(ctx context.Context, block uint64) error {
	if err := s.cache.Set(ctx, s.key, strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return fmt.Errorf("save poller cursor: %w", err)
	}
	return nil
}
