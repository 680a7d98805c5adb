// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package memory provides an in-process auth.AccountRepository. It is used
// when no database is configured and in tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tokenward/tokenward/internal/auth"
)

// AccountRepository stores accounts in maps guarded by a mutex. Email and
// username indexes are case-insensitive, matching the PostgreSQL schema.
type AccountRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.Account
	byEmail    map[string]ulid.ULID
	byUsername map[string]ulid.ULID
}

// Compile-time check that AccountRepository implements auth.AccountRepository.
var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[ulid.ULID]*auth.Account),
		byEmail:    make(map[string]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
	}
}

func key(s string) string {
	return strings.ToLower(s)
}

// Create stores a copy of account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[account.ID]; ok {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("id", account.ID.String()).
			Errorf("account id already exists")
	}
	if _, ok := r.byEmail[key(account.Email)]; ok {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("email", account.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if account.Username != nil {
		if _, ok := r.byUsername[key(*account.Username)]; ok {
			return oops.Code("ACCOUNT_CREATE_FAILED").
				With("username", *account.Username).
				Wrap(auth.ErrDuplicateUsername)
		}
	}

	stored := account.Clone()
	r.byID[stored.ID] = stored
	r.byEmail[key(stored.Email)] = stored.ID
	if stored.Username != nil {
		r.byUsername[key(*stored.Username)] = stored.ID
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return account.Clone(), nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[key(email)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[key(username)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

// Update applies changes to the stored account under the write lock,
// re-indexing email and username.
func (r *AccountRepository) Update(_ context.Context, id ulid.ULID, changes auth.AccountChanges) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if changes.IfPasswordHash != nil && current.PasswordHash != *changes.IfPasswordHash {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}

	next := current.Clone()
	changes.Apply(next)

	if owner, ok := r.byEmail[key(next.Email)]; ok && owner != id {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("email", next.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if next.Username != nil {
		if owner, ok := r.byUsername[key(*next.Username)]; ok && owner != id {
			return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
				With("username", *next.Username).
				Wrap(auth.ErrDuplicateUsername)
		}
	}

	delete(r.byEmail, key(current.Email))
	if current.Username != nil {
		delete(r.byUsername, key(*current.Username))
	}
	r.byID[id] = next
	r.byEmail[key(next.Email)] = id
	if next.Username != nil {
		r.byUsername[key(*next.Username)] = id
	}
	return next.Clone(), nil
}

// List returns accounts ordered by creation time, then id.
func (r *AccountRepository) List(_ context.Context, offset, limit int) ([]*auth.Account, error) {
	r.mu.RLock()
	all := make([]*auth.Account, 0, len(r.byID))
	for _, a := range r.byID {
		all = append(all, a.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *auth.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*auth.Account{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
