package providers

import (
	"context"
	"errors"
)

// ErrStorageKeyNotFound is returned by LocalStorage.Get for missing keys
var ErrStorageKeyNotFound = errors.New("storage key not found")

// LocalStorage persists the serialized local domain store across restarts
type LocalStorage interface {
	// Get retrieves a value, returning ErrStorageKeyNotFound if absent
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value
	Set(ctx context.Context, key, value string) error

	// Remove deletes a value; missing keys are not an error
	Remove(ctx context.Context, key string) error
}
