// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"context"
	"runtime"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// HashPool bounds the number of concurrent Hash and Verify calls so that
// CPU-heavy hashing cannot starve request handling.
type HashPool struct {
	hasher PasswordHasher
	sem    *semaphore.Weighted
	size   int
}

// NewHashPool wraps hasher. size <= 0 uses GOMAXPROCS.
func NewHashPool(hasher PasswordHasher, size int) *HashPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &HashPool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
	}
}

// Size returns the maximum number of concurrent hash operations.
func (p *HashPool) Size() int {
	return p.size
}

// Hash hashes password once a slot is free.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", oops.Code(CodeHashingFailed).
			With("operation", "acquire hash slot").
			Wrap(err)
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(password)
}

// Verify checks password against hash once a slot is free.
func (p *HashPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, oops.Code(CodeHashingFailed).
			With("operation", "acquire hash slot").
			Wrap(err)
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(password, hash)
}

// NeedsUpgrade delegates to the wrapped hasher. It does not hash.
func (p *HashPool) NeedsUpgrade(hash string) bool {
	return p.hasher.NeedsUpgrade(hash)
}
