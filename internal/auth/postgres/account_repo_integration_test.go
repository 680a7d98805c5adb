// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/oklog/ulid/v2"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/postgres"
)

// nopDispatcher drops notifications.
type nopDispatcher struct{}

func (nopDispatcher) DispatchVerification(context.Context, ulid.ULID, string, string)  {}
func (nopDispatcher) DispatchPasswordReset(context.Context, ulid.ULID, string, string) {}

func newAccount(email string, username *string) *auth.Account {
	account, err := auth.NewAccount(email, username, "", "hash", time.Now().Truncate(time.Microsecond))
	Expect(err).NotTo(HaveOccurred())
	return account
}

func ptr(s string) *string { return &s }

var _ = Describe("AccountRepository", func() {
	var repo *postgres.AccountRepository

	BeforeEach(func() {
		truncate()
		repo = postgres.NewAccountRepository(testPool)
	})

	It("round-trips an account", func() {
		account := newAccount("alice@example.com", ptr("alice"))
		login := account.CreatedAt.Add(time.Minute)
		account.LastLogin = &login
		account.OAuthProvider = ptr("github")
		Expect(repo.Create(suiteCtx, account)).To(Succeed())

		byID, err := repo.GetByID(suiteCtx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID).To(Equal(account))

		byEmail, err := repo.GetByEmail(suiteCtx, "ALICE@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(byEmail.ID).To(Equal(account.ID))

		byUsername, err := repo.GetByUsername(suiteCtx, "Alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(byUsername.ID).To(Equal(account.ID))
	})

	It("reports missing accounts with ErrNotFound", func() {
		_, err := repo.GetByEmail(suiteCtx, "nobody@example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))

		_, err = repo.Update(suiteCtx, newAccount("ghost@example.com", nil).ID, auth.AccountChanges{FullName: ptr("x")})
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("maps unique violations to the duplicate sentinels", func() {
		Expect(repo.Create(suiteCtx, newAccount("alice@example.com", ptr("alice")))).To(Succeed())

		err := repo.Create(suiteCtx, newAccount("Alice@Example.com", nil))
		Expect(err).To(MatchError(auth.ErrDuplicateEmail))

		err = repo.Create(suiteCtx, newAccount("other@example.com", ptr("ALICE")))
		Expect(err).To(MatchError(auth.ErrDuplicateUsername))

		bob := newAccount("bob@example.com", nil)
		Expect(repo.Create(suiteCtx, bob)).To(Succeed())
		_, err = repo.Update(suiteCtx, bob.ID, auth.AccountChanges{Email: ptr("alice@example.com")})
		Expect(err).To(MatchError(auth.ErrDuplicateEmail))
	})

	It("leaves columns it was not asked to write", func() {
		account := newAccount("carol@example.com", ptr("carol"))
		Expect(repo.Create(suiteCtx, account)).To(Succeed())

		inactive := false
		_, err := repo.Update(suiteCtx, account.ID, auth.AccountChanges{IsActive: &inactive, PasswordHash: ptr("reset")})
		Expect(err).NotTo(HaveOccurred())

		at := account.CreatedAt.Add(time.Hour)
		got, err := repo.Update(suiteCtx, account.ID, auth.AccountChanges{LastLogin: &at, UpdatedAt: at})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsActive).To(BeFalse())
		Expect(got.PasswordHash).To(Equal("reset"))
		Expect(*got.LastLogin).To(BeTemporally("==", at))
	})

	It("rejects a guarded password write after a concurrent change", func() {
		account := newAccount("dave@example.com", nil)
		Expect(repo.Create(suiteCtx, account)).To(Succeed())

		_, err := repo.Update(suiteCtx, account.ID, auth.AccountChanges{PasswordHash: ptr("reset")})
		Expect(err).NotTo(HaveOccurred())

		_, err = repo.Update(suiteCtx, account.ID, auth.AccountChanges{PasswordHash: ptr("rehash"), IfPasswordHash: ptr("hash")})
		Expect(err).To(MatchError(auth.ErrConflict))

		got, err := repo.GetByID(suiteCtx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("reset"))
	})

	It("allows many accounts without a username", func() {
		Expect(repo.Create(suiteCtx, newAccount("a@example.com", nil))).To(Succeed())
		Expect(repo.Create(suiteCtx, newAccount("b@example.com", nil))).To(Succeed())
	})

	It("keeps exactly one account under concurrent registration", func() {
		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errs <- repo.Create(suiteCtx, newAccount("race@example.com", nil))
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		}
		Expect(succeeded).To(Equal(1))

		var count int
		Expect(testPool.QueryRow(suiteCtx, `SELECT COUNT(*) FROM accounts`).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("lists accounts in creation order", func() {
		base := time.Now().Truncate(time.Microsecond)
		for i, email := range []string{"c@example.com", "a@example.com", "b@example.com"} {
			account := newAccount(email, nil)
			account.CreatedAt = base.Add(time.Duration(i) * time.Second)
			Expect(repo.Create(suiteCtx, account)).To(Succeed())
		}

		page, err := repo.List(suiteCtx, 1, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(page).To(HaveLen(2))
		Expect(page[0].Email).To(Equal("a@example.com"))
		Expect(page[1].Email).To(Equal("b@example.com"))
	})

	It("backs the account service end to end", func() {
		svc, err := auth.NewAccountService(auth.AccountServiceDeps{
			Accounts: repo,
			Hasher:   auth.NewHashPool(auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}), 2),
			Issuer:   mustIssuer(),
			Notifier: nopDispatcher{},
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Register(suiteCtx, auth.RegisterInput{Email: "alice@example.com", Password: "Secret1A"})
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Register(suiteCtx, auth.RegisterInput{Email: "alice@example.com", Password: "Secret1A"})
		Expect(auth.Code(err)).To(Equal(auth.CodeDuplicateEmail))

		pair, account, err := svc.Login(suiteCtx, "alice@example.com", "Secret1A")
		Expect(err).NotTo(HaveOccurred())
		Expect(pair.AccessToken).NotTo(BeEmpty())

		stored, err := repo.GetByID(suiteCtx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.LastLogin).NotTo(BeNil())
	})
})

func mustIssuer() *auth.TokenIssuer {
	codec, err := auth.NewTokenCodec([]byte("integration-secret-0123456789abcdef"), "HS256")
	Expect(err).NotTo(HaveOccurred())
	issuer, err := auth.NewTokenIssuer(codec, auth.TokenTTLs{}, nil)
	Expect(err).NotTo(HaveOccurred())
	return issuer
}
