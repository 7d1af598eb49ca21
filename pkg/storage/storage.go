// Package storage keeps enrolled reference profiles on disk so a suspect
// enrolled once can be scanned for again. Profiles may be encrypted at rest
// using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// Profile is an enrolled reference subject.
type Profile struct {
	Label       string                   `json:"label"`
	Descriptors []recognition.Descriptor `json:"descriptors"`
	Sources     []string                 `json:"sources"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	Metadata    map[string]string        `json:"metadata,omitempty"`
}

// ErrProfileNotFound is returned when no profile exists for a label.
var ErrProfileNotFound = errors.New("profile not found")

// ErrProfileExists is returned when creating a profile that already exists.
var ErrProfileExists = errors.New("profile already exists")

// ErrInvalidLabel is returned for labels that cannot be used as file names.
var ErrInvalidLabel = errors.New("invalid profile label")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidLabel reports whether label can name a profile.
func ValidLabel(label string) bool {
	return labelPattern.MatchString(label) && !strings.Contains(label, "..")
}

// FileStorage stores one file per profile under <dataDir>/profiles.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	if err := os.MkdirAll(fs.profilesDir(), 0700); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// Encrypted profiles can only be read on the machine that wrote them.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facesweep-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

func (fs *FileStorage) profilesDir() string {
	return filepath.Join(fs.dataDir, "profiles")
}

func (fs *FileStorage) profilePath(label string) string {
	filename := label + ".json"
	if fs.encryptionEnabled {
		filename = label + ".enc"
	}
	return filepath.Join(fs.profilesDir(), filename)
}

// SaveProfile writes p, replacing any stored profile with the same label.
func (fs *FileStorage) SaveProfile(p Profile) error {
	if !ValidLabel(p.Label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, p.Label)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt profile: %w", err)
		}
	}

	if err := os.WriteFile(fs.profilePath(p.Label), data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	logging.Debugf("Saved profile: %s", p.Label)
	return nil
}

// LoadProfile reads the profile stored for label.
func (fs *FileStorage) LoadProfile(label string) (*Profile, error) {
	if !ValidLabel(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	data, err := os.ReadFile(fs.profilePath(label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt profile: %w", err)
		}
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	logging.Debugf("Loaded profile: %s", label)
	return &p, nil
}

// DeleteProfile removes the profile stored for label.
func (fs *FileStorage) DeleteProfile(label string) error {
	if !ValidLabel(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	if err := os.Remove(fs.profilePath(label)); err != nil {
		if os.IsNotExist(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	logging.Infof("Deleted profile: %s", label)
	return nil
}

// ListProfiles returns the labels of all stored profiles, sorted.
func (fs *FileStorage) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(fs.profilesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	labels := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			labels = append(labels, strings.TrimSuffix(name, ".json"))
		} else if strings.HasSuffix(name, ".enc") {
			labels = append(labels, strings.TrimSuffix(name, ".enc"))
		}
	}

	sort.Strings(labels)
	return labels, nil
}

// ProfileExists checks if a profile is stored for label.
func (fs *FileStorage) ProfileExists(label string) bool {
	if !ValidLabel(label) {
		return false
	}
	_, err := os.Stat(fs.profilePath(label))
	return err == nil
}

// CreateProfile stores a new profile with its first descriptor.
func (fs *FileStorage) CreateProfile(label string, descriptor recognition.Descriptor, source string, metadata map[string]string) error {
	if !ValidLabel(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if fs.ProfileExists(label) {
		return ErrProfileExists
	}

	now := time.Now()
	p := Profile{
		Label:       label,
		Descriptors: []recognition.Descriptor{descriptor},
		Sources:     []string{source},
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}

	return fs.SaveProfile(p)
}

// AddDescriptor appends another reference face to an existing profile.
func (fs *FileStorage) AddDescriptor(label string, descriptor recognition.Descriptor, source string) error {
	p, err := fs.LoadProfile(label)
	if err != nil {
		return err
	}

	p.Descriptors = append(p.Descriptors, descriptor)
	p.Sources = append(p.Sources, source)
	p.UpdatedAt = time.Now()

	return fs.SaveProfile(*p)
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
