// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package mocks holds testify mocks for auth interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/tokenward/tokenward/internal/auth"
)

// MockAccountRepository is a testify mock of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func accountResult(args mock.Arguments) (*auth.Account, error) {
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

// Create provides a mock function.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// GetByID provides a mock function.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return accountResult(m.Called(ctx, id))
}

// GetByEmail provides a mock function.
func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, email))
}

// GetByUsername provides a mock function.
func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, username))
}

// Update provides a mock function.
func (m *MockAccountRepository) Update(ctx context.Context, id ulid.ULID, changes auth.AccountChanges) (*auth.Account, error) {
	return accountResult(m.Called(ctx, id, changes))
}

// List provides a mock function.
func (m *MockAccountRepository) List(ctx context.Context, offset, limit int) ([]*auth.Account, error) {
	args := m.Called(ctx, offset, limit)
	accounts, _ := args.Get(0).([]*auth.Account)
	return accounts, args.Error(1)
}
