// Package settings defines the small key-value store that holds component
// state such as the re-validation throttle timestamp.
package settings

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetSetting when the key has never been written.
var ErrNotFound = errors.New("settings: not found")

// Store is a durable string key-value store.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}
