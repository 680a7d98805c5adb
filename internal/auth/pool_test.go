// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth_test

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/pkg/errutil"
)

// slowHasher tracks how many calls run at once.
type slowHasher struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
}

func (h *slowHasher) enter() {
	n := h.active.Add(1)
	for {
		cur := h.maxSeen.Load()
		if n <= cur || h.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	<-h.release
	h.active.Add(-1)
}

func (h *slowHasher) Hash(string) (string, error) {
	h.enter()
	return "hash", nil
}

func (h *slowHasher) Verify(string, string) (bool, error) {
	h.enter()
	return true, nil
}

func (h *slowHasher) NeedsUpgrade(string) bool { return false }

func TestHashPool_BoundsConcurrency(t *testing.T) {
	inner := &slowHasher{release: make(chan struct{})}
	pool := auth.NewHashPool(inner, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Hash(ctx, "x")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return inner.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(2), inner.maxSeen.Load())
}

func TestHashPool_HonoursCancellation(t *testing.T) {
	inner := &slowHasher{release: make(chan struct{})}
	pool := auth.NewHashPool(inner, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = pool.Verify(context.Background(), "x", "y")
	}()
	require.Eventually(t, func() bool { return inner.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Hash(ctx, "x")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeHashingFailed)

	close(inner.release)
	<-done
}

func TestHashPool_DefaultSize(t *testing.T) {
	pool := auth.NewHashPool(auth.NewArgon2idHasher(fastParams), 0)
	assert.Equal(t, runtime.GOMAXPROCS(0), pool.Size())
}
