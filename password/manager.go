package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Supported hashing algorithms.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned for hashes produced by an unknown algorithm or version.
	ErrUnsupportedHash = errors.New("unsupported password hash")
	// ErrTooLong is returned when the plaintext exceeds what the algorithm can digest.
	ErrTooLong = errors.New("password too long")
)

// Config selects the algorithm used for new hashes and its cost.
//
// Lower costs are meant for tests and local development only.
type Config struct {
	Algorithm  string
	Argon2     Argon2Params
	BcryptCost int
}

// DefaultArgon2Params returns the production Argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type hasher interface {
	hash(plain string) (string, error)
	verify(plain, encoded string) (bool, error)
	weakerThanCurrent(encoded string) (bool, error)
}

// Manager hashes and verifies passwords. It is safe for concurrent use.
type Manager struct {
	algorithm string
	argon     argon2Hasher
	bcrypt    bcryptHasher
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	algorithm := strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if algorithm == "" {
		algorithm = AlgorithmArgon2id
	}

	m := &Manager{algorithm: algorithm}
	switch algorithm {
	case AlgorithmArgon2id:
		if err := cfg.Argon2.validate(); err != nil {
			return nil, err
		}
		m.argon = argon2Hasher{params: cfg.Argon2}
		m.bcrypt = bcryptHasher{cost: bcrypt.DefaultCost}
	case AlgorithmBcrypt:
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
		m.bcrypt = bcryptHasher{cost: cfg.BcryptCost}
		m.argon = argon2Hasher{params: DefaultArgon2Params()}
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	return m, nil
}

func (m *Manager) current() hasher {
	if m.algorithm == AlgorithmBcrypt {
		return m.bcrypt
	}
	return m.argon
}

func (m *Manager) forHash(encoded string) (hasher, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return m.argon, nil
	case isBcrypt(encoded):
		return m.bcrypt, nil
	default:
		return nil, ErrUnsupportedHash
	}
}

// Hash returns a salted hash of plain using the configured algorithm. Two calls
// with the same input produce different outputs.
func (m *Manager) Hash(plain string) (string, error) {
	return m.current().hash(plain)
}

// Verify reports whether plain matches encoded. A malformed or unsupported hash
// is an error, never a match.
func (m *Manager) Verify(plain, encoded string) (bool, error) {
	h, err := m.forHash(encoded)
	if err != nil {
		return false, err
	}
	return h.verify(plain, encoded)
}

// NeedsRehash reports whether encoded was produced by another algorithm or with
// weaker parameters than the current configuration.
func (m *Manager) NeedsRehash(encoded string) (bool, error) {
	h, err := m.forHash(encoded)
	if err != nil {
		return false, err
	}
	if h != m.current() {
		return true, nil
	}
	return h.weakerThanCurrent(encoded)
}
