package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/punchchat/logging"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current encryption format version
	EncryptionVersion = 1
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
	// EncryptedSecretFileName is the encrypted secret file inside the state directory.
	EncryptedSecretFileName = "secret.enc"
)

// EncryptedSecretStore keeps the secret encrypted at rest with a key
// derived from a passphrase.
type EncryptedSecretStore struct {
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

// NewEncryptedSecretStore derives the store key from passphrase. The salt
// lives next to the secret and is created on first use. The passphrase
// slice is wiped before returning.
func NewEncryptedSecretStore(dataDir string, passphrase []byte) (*EncryptedSecretStore, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &EncryptedSecretStore{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := s.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(s.encryptionKey[:], derivedKey)

	SecureWipe(derivedKey)
	SecureWipe(passphrase)

	return s, nil
}

func (s *EncryptedSecretStore) loadOrGenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)

	data, err := os.ReadFile(s.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		if err := os.WriteFile(s.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}

		return salt, nil
	}

	if len(data) != SaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
	}

	copy(salt, data)
	return salt, nil
}

// Path returns the location of the encrypted secret file.
func (s *EncryptedSecretStore) Path() string {
	return filepath.Join(s.dataDir, EncryptedSecretFileName)
}

// Exists reports whether an encrypted secret is present.
func (s *EncryptedSecretStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load decrypts the stored secret. A wrong passphrase surfaces as an
// authentication failure.
func (s *EncryptedSecretStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSecret
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	plaintext, err := s.open(data)
	if err != nil {
		return "", err
	}
	defer ZeroBytes(plaintext)

	if len(plaintext) == 0 {
		return "", ErrNoSecret
	}
	return string(plaintext), nil
}

// Store encrypts and writes the secret.
// Format: [version:2][nonce:12][ciphertext+tag:N]
func (s *EncryptedSecretStore) Store(secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	sealed, err := s.seal([]byte(secret))
	if err != nil {
		return err
	}

	if err := writeAtomic(s.dataDir, EncryptedSecretFileName, sealed); err != nil {
		return err
	}

	logging.NewLogger("crypto", "EncryptedSecretStore.Store").
		WithField("path", s.Path()).
		Info("Encrypted secret stored")
	return nil
}

func (s *EncryptedSecretStore) seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], EncryptionVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)
	return output, nil
}

func (s *EncryptedSecretStore) open(data []byte) ([]byte, error) {
	// version + nonce + tag
	if len(data) < 2+12+16 {
		return nil, fmt.Errorf("file too short: %d bytes (minimum 30 bytes)", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, EncryptionVersion)
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	nonce := data[2 : 2+nonceSize]
	ciphertext := data[2+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}
	return plaintext, nil
}

func (s *EncryptedSecretStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// RotatePassphrase re-encrypts the stored secret under a key derived from
// newPassphrase with a fresh salt. On failure the store keeps its old key.
func (s *EncryptedSecretStore) RotatePassphrase(newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return errors.New("new passphrase cannot be empty")
	}

	secret, err := s.Load()
	if err != nil {
		return fmt.Errorf("failed to decrypt secret: %w", err)
	}

	newSalt := make([]byte, SaltSize)
	if _, err := rand.Read(newSalt); err != nil {
		return fmt.Errorf("failed to generate new salt: %w", err)
	}

	newKey := pbkdf2.Key(newPassphrase, newSalt, PBKDF2Iterations, 32, sha256.New)
	oldKey := s.encryptionKey
	copy(s.encryptionKey[:], newKey)
	SecureWipe(newKey)

	if err := s.Store(secret); err != nil {
		s.encryptionKey = oldKey
		return fmt.Errorf("failed to re-encrypt secret: %w", err)
	}

	if err := os.WriteFile(s.saltFile, newSalt, 0o600); err != nil {
		s.encryptionKey = oldKey
		return fmt.Errorf("failed to save new salt: %w", err)
	}

	ZeroBytes(oldKey[:])
	SecureWipe(newPassphrase)
	return nil
}

// Close wipes the encryption key from memory.
func (s *EncryptedSecretStore) Close() error {
	ZeroBytes(s.encryptionKey[:])
	return nil
}
