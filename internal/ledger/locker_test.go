package ledger_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/projectledger/internal/ledger"
)

func TestKeyedLocker_mutualExclusionPerKey(t *testing.T) {
	l := ledger.NewKeyedLocker()
	var inside, maxInside int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "P")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestKeyedLocker_timeoutIsConflict(t *testing.T) {
	l := ledger.NewKeyedLocker()
	unlock, err := l.Lock(ctx, "P")
	require.NoError(t, err)
	defer unlock()

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, "P")
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are unaffected.
	other, err := l.Lock(ctx, "Q")
	require.NoError(t, err)
	other()
}

func TestKeyedLocker_doneContextNeverAcquires(t *testing.T) {
	l := ledger.NewKeyedLocker()
	dead, cancel := context.WithCancel(ctx)
	cancel()

	for i := 0; i < 50; i++ {
		unlock, err := l.Lock(dead, "free")
		if err == nil {
			unlock()
			t.Fatalf("attempt %d: acquired a free key with a cancelled context", i)
		}
		require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestKeyedLocker_releaseHandsOver(t *testing.T) {
	l := ledger.NewKeyedLocker()
	unlock, err := l.Lock(ctx, "P")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		next, err := l.Lock(ctx, "P")
		if err == nil {
			next()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while the key was held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}
