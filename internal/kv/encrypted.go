package kv

import (
	"context"
	"fmt"

	"github.com/jun/gophsync/internal/crypto"
)

// EncryptedStore seals every value with an Encryptor before handing it to the inner store.
type EncryptedStore struct {
	inner Store
	enc   crypto.Encryptor
}

func NewEncryptedStore(inner Store, enc crypto.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc}
}

func (s *EncryptedStore) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := s.enc.Decrypt(ctx, sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return plain, nil
}

func (s *EncryptedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.enc.Encrypt(ctx, value)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
