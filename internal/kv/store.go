// Package kv provides the key-value slot stores that hold persisted connector state.
package kv

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("kv: key not found")

	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("kv: stored value is corrupt")
)

// Store is a durable string slot store addressed by namespaced keys.
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and a slot name: Key("gophsync", "onedrive_token") == "gophsync:onedrive_token".
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}
