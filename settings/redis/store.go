// Package redissettings stores component settings in Redis so several
// processes can share one throttle.
package redissettings

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/billsync/settings"
)

var _ settings.Store = (*Store)(nil)

// Store implements settings.Store on a Redis client.
type Store struct {
	rdb   redis.Cmdable
	keyNS string
}

// New returns a Store that namespaces keys under keyPrefix
// (default "billsync:settings:").
func New(rdb redis.Cmdable, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "billsync:settings:"
	}
	return &Store{rdb: rdb, keyNS: keyPrefix}
}

func (s *Store) key(k string) string { return s.keyNS + k }

// GetSetting returns settings.ErrNotFound for a missing key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", settings.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// PutSetting writes value without expiry.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}
