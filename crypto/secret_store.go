package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/punchchat/logging"
)

const (
	// DefaultDirName is the per-user directory holding punchchat state.
	DefaultDirName = ".punchchat"
	// SecretFileName is the plaintext secret file inside the state directory.
	SecretFileName = "secret"
)

// ErrNoSecret is returned when no secret has been stored yet.
var ErrNoSecret = errors.New("no secret found: create or import a key first")

// SecretStore persists the single user secret.
type SecretStore interface {
	Load() (string, error)
	Store(secret string) error
	Exists() bool
}

// DefaultHome returns $HOME/.punchchat.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// OpenSecretStore returns an encrypted store when a passphrase is given and
// a plaintext file store otherwise.
func OpenSecretStore(dir string, passphrase []byte) (SecretStore, error) {
	if len(passphrase) == 0 {
		return NewFileSecretStore(dir), nil
	}
	return NewEncryptedSecretStore(dir, passphrase)
}

// FileSecretStore keeps the secret in a plain 0600 file.
type FileSecretStore struct {
	dir string
}

// NewFileSecretStore creates a store rooted at dir. The directory is created
// on the first Store.
func NewFileSecretStore(dir string) *FileSecretStore {
	return &FileSecretStore{dir: dir}
}

// Path returns the location of the secret file.
func (s *FileSecretStore) Path() string {
	return filepath.Join(s.dir, SecretFileName)
}

// Exists reports whether a secret file is present.
func (s *FileSecretStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads the stored secret.
func (s *FileSecretStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSecret
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	defer ZeroBytes(data)

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", ErrNoSecret
	}
	return secret, nil
}

// Store writes the secret, replacing any previous one.
func (s *FileSecretStore) Store(secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	if err := writeAtomic(s.dir, SecretFileName, []byte(secret)); err != nil {
		return err
	}

	logging.NewLogger("crypto", "FileSecretStore.Store").
		WithField("path", s.Path()).
		Info("Secret stored")
	return nil
}

// writeAtomic writes data to dir/name through a temporary file and rename.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmpFile := filepath.Join(dir, name+".tmp")
	finalFile := filepath.Join(dir, name)

	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
