package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrImageNotFound is returned when no image exists for a user.
var ErrImageNotFound = errors.New("image not found")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ImageStore writes one face image per user, optionally encrypted at rest
// with NaCl secretbox under a machine-derived key.
type ImageStore struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewImageStore creates the image directory if needed.
func NewImageStore(dir string, encryptionEnabled bool) (*ImageStore, error) {
	s := &ImageStore{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		s.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	return s, nil
}

// deriveKey derives an encryption key from machine-specific information,
// so encrypted images only open on the machine that wrote them.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceattend-images-v1")

	return sha256.Sum256([]byte(identity.String()))
}

// PathFor returns the image path for a user id.
func (s *ImageStore) PathFor(userID int64) string {
	ext := ".jpg"
	if s.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(s.dir, fmt.Sprintf("user_%d%s", userID, ext))
}

// Save writes the image for userID and returns its path.
// An existing file for the same id is never overwritten.
func (s *ImageStore) Save(userID int64, data []byte) (string, error) {
	path := s.PathFor(userID)

	if s.encryptionEnabled {
		var err error
		data, err = s.encrypt(data)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt image: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return path, nil
}

// Load reads (and decrypts) the image stored at path.
func (s *ImageStore) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if strings.HasSuffix(path, ".enc") {
		return s.decrypt(data)
	}
	return data, nil
}

// Remove deletes the image at path. Missing files are ignored.
func (s *ImageStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *ImageStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

func (s *ImageStore) decrypt(ciphertext []byte) ([]byte, error) {
	if !s.encryptionEnabled || len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
