// Secure storage for session snapshots. Credentials harvested during the
// login handshake normally live only in memory; when a profile opts into
// persistence the snapshot is encrypted at rest with AES-256-GCM under a
// key derived from locally stored random salt.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// SecurityManager handles encryption and decryption of stored session state
type SecurityManager interface {
	// EncryptSnapshot encrypts a session snapshot for storage
	EncryptSnapshot(plaintext []byte) (string, error)

	// DecryptSnapshot decrypts a stored session snapshot
	DecryptSnapshot(ciphertext string) ([]byte, error)

	// SecureKeyExists checks if encryption key material is available
	SecureKeyExists() bool

	// GenerateSecureKey creates new encryption key material
	GenerateSecureKey() error
}

// AESSecurityManager implements SecurityManager using AES-256-GCM
type AESSecurityManager struct {
	keyPath    string
	masterKey  []byte
	keyDerived bool
}

// NewSecurityManagerAt creates a security manager storing key material in
// the given directory
func NewSecurityManagerAt(securityDir string) (SecurityManager, error) {
	if err := os.MkdirAll(securityDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create security directory %s: %w", securityDir, err)
	}

	manager := &AESSecurityManager{
		keyPath: filepath.Join(securityDir, "master.key"),
	}

	if err := manager.initializeEncryptionKey(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption key: %w", err)
	}

	return manager, nil
}

// initializeEncryptionKey loads existing key material or generates new
func (s *AESSecurityManager) initializeEncryptionKey() error {
	if _, err := os.Stat(s.keyPath); os.IsNotExist(err) {
		return s.GenerateSecureKey()
	}
	return s.loadExistingKey()
}

// loadExistingKey reads and derives the master key from stored salt
func (s *AESSecurityManager) loadExistingKey() error {
	keyData, err := os.ReadFile(s.keyPath)
	if err != nil {
		return fmt.Errorf("failed to read master key file: %w", err)
	}

	salt, err := hex.DecodeString(string(keyData))
	if err != nil {
		return fmt.Errorf("failed to decode key material: %w", err)
	}

	s.masterKey = pbkdf2.Key([]byte(s.machinePassphrase()), salt, 100000, 32, sha256.New)
	s.keyDerived = true
	return nil
}

// machinePassphrase combines machine-local identifiers for key derivation
func (s *AESSecurityManager) machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return fmt.Sprintf("webchat-session-%s-%s", hostname, username)
}

// GenerateSecureKey creates new salt, stores it, and derives the master key
func (s *AESSecurityManager) GenerateSecureKey() error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate random salt: %w", err)
	}

	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return fmt.Errorf("failed to write key material: %w", err)
	}

	s.masterKey = pbkdf2.Key([]byte(s.machinePassphrase()), salt, 100000, 32, sha256.New)
	s.keyDerived = true
	return nil
}

// SecureKeyExists checks if encryption key material is available
func (s *AESSecurityManager) SecureKeyExists() bool {
	_, err := os.Stat(s.keyPath)
	return err == nil
}

// EncryptSnapshot encrypts a session snapshot using AES-256-GCM
func (s *AESSecurityManager) EncryptSnapshot(plaintext []byte) (string, error) {
	if !s.keyDerived {
		return "", fmt.Errorf("encryption key not available")
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSnapshot decrypts a stored session snapshot
func (s *AESSecurityManager) DecryptSnapshot(ciphertext string) ([]byte, error) {
	if !s.keyDerived {
		return nil, fmt.Errorf("encryption key not available")
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// ClearSecurityData removes all encryption key material
func (s *AESSecurityManager) ClearSecurityData() error {
	if s.masterKey != nil {
		for i := range s.masterKey {
			s.masterKey[i] = 0
		}
		s.masterKey = nil
		s.keyDerived = false
	}

	if err := os.Remove(s.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove security key file: %w", err)
	}
	return nil
}
