// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash should be recomputed with the current parameters.
	NeedsUpgrade(hash string) bool
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultArgon2Params returns the OWASP-recommended parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: argon2Time, MemoryKiB: argon2Memory, Threads: argon2Threads}
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a new Argon2idHasher. Zero fields in params fall
// back to the defaults.
func NewArgon2idHasher(params Argon2Params) *Argon2idHasher {
	d := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = d.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = d.MemoryKiB
	}
	if params.Threads == 0 {
		params.Threads = d.Threads
	}
	return &Argon2idHasher{params: params}
}

// Params returns the parameters new hashes are produced with.
func (h *Argon2idHasher) Params() Argon2Params {
	return h.params
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeHashingFailed).
			With("operation", "read salt").
			Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// argon2Hash is a parsed PHC string.
type argon2Hash struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func parseArgon2Hash(encodedHash string) (*argon2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, oops.Code(CodeInvalidHash).Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, oops.Code(CodeInvalidHash).Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var parsed argon2Hash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &parsed.version); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if parsed.version != argon2.Version {
		return nil, oops.Code(CodeInvalidHash).Errorf("unsupported argon2 version: %d", parsed.version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}

	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return nil, oops.Code(CodeInvalidHash).Errorf("threads value %d out of range", threads)
	}
	if memory == 0 || time == 0 {
		return nil, oops.Code(CodeInvalidHash).Errorf("invalid cost parameters")
	}
	parsed.params = Argon2Params{Time: time, MemoryKiB: memory, Threads: uint8(threads)}

	var err error
	if parsed.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if parsed.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code(CodeInvalidHash).Wrap(err)
	}

	// Validate key length to prevent integer overflow in uint32 conversion
	if keyLen := len(parsed.key); keyLen <= 0 || keyLen > 1<<30 {
		return nil, oops.Code(CodeInvalidHash).Errorf("invalid hash key length: %d", keyLen)
	}

	return &parsed, nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt,
		parsed.params.Time, parsed.params.MemoryKiB, parsed.params.Threads, uint32(len(parsed.key)))

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade returns true if the hash is not argon2id or was produced with
// different parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	parsed, err := parseArgon2Hash(hash)
	if err != nil {
		return true
	}
	return parsed.params != h.params || len(parsed.key) != argon2KeyLen
}

// BcryptHasher implements PasswordHasher using bcrypt. Kept for hashes
// imported from older deployments.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's range uses bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code(CodeHashingFailed).
			With("operation", "bcrypt").
			Wrap(err)
	}
	return string(out), nil
}

// Verify checks if the password matches the bcrypt hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code(CodeInvalidHash).Wrap(err)
	}
}

// NeedsUpgrade returns true if the hash is not bcrypt or uses a different cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}

// isBcrypt reports whether hash looks like a bcrypt hash.
func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// MultiHasher hashes with argon2id and verifies both argon2id and bcrypt
// hashes. Any bcrypt hash needs an upgrade.
type MultiHasher struct {
	primary *Argon2idHasher
	legacy  *BcryptHasher
}

// NewMultiHasher creates a MultiHasher around primary.
func NewMultiHasher(primary *Argon2idHasher) *MultiHasher {
	return &MultiHasher{primary: primary, legacy: NewBcryptHasher(bcrypt.DefaultCost)}
}

// Hash produces an argon2id hash of the password.
func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

// Verify dispatches on the hash prefix.
func (h *MultiHasher) Verify(password, hash string) (bool, error) {
	if isBcrypt(hash) {
		return h.legacy.Verify(password, hash)
	}
	return h.primary.Verify(password, hash)
}

// NeedsUpgrade returns true for bcrypt hashes and outdated argon2id parameters.
func (h *MultiHasher) NeedsUpgrade(hash string) bool {
	return h.primary.NeedsUpgrade(hash)
}
