package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"authcore/internal/sentinel"
	dErrors "authcore/pkg/domain-errors"
)

const nonceSize = 24

// FileStore persists the token triple as a secretbox-sealed file. The
// 32-byte key comes from the host application (keychain, TPM, env); the
// store never writes plaintext to disk.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  [32]byte
}

func NewFileStore(path string, key [32]byte) *FileStore {
	return &FileStore{path: path, key: key}
}

func (s *FileStore) StoreTokens(_ context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not encode tokens")
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not create token directory")
	}
	// Write-then-rename keeps the stored blob atomic from the reader's view.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not write tokens")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not persist tokens")
	}
	return nil
}

func (s *FileStore) RetrieveTokens(_ context.Context) (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, sentinel.ErrNoTokens
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not read tokens")
	}
	if len(sealed) <= nonceSize {
		return nil, sentinel.ErrNoTokens
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		// Undecryptable blobs are treated as absent; the caller will
		// force a fresh sign-in rather than trust tampered storage.
		return nil, sentinel.ErrNoTokens
	}
	var tokens Tokens
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, sentinel.ErrNoTokens
	}
	return &tokens, nil
}

func (s *FileStore) ClearTokens(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not clear tokens")
	}
	return nil
}

func (s *FileStore) HasStoredTokens(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "could not stat token file")
	}
	return info.Size() > nonceSize, nil
}
