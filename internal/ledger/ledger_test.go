package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/flowerr"
	"flowsmith/internal/types"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	led, err := New(store)
	require.NoError(t, err)
	return led, store
}

func TestDepletionOrder(t *testing.T) {
	tests := []struct {
		name        string
		bonusFirst  bool
		wantRegular int64
		wantBonus   int64
	}{
		{name: "regular first", bonusFirst: false, wantRegular: 0, wantBonus: 7},
		{name: "bonus first", bonusFirst: true, wantRegular: 5, wantBonus: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			led, _ := newTestLedger(t)
			ctx := context.Background()
			require.NoError(t, led.Provision(ctx, "alice", Balance{Regular: 5, Bonus: 10}))

			entry, err := led.Settle(ctx, "alice", "req-1", 8, tt.bonusFirst, OutcomeSuccess)
			require.NoError(t, err)

			assert.Equal(t, int64(8), entry.Amount)
			assert.Equal(t, Balance{Regular: tt.wantRegular, Bonus: tt.wantBonus}, entry.After)
			assert.Equal(t, OutcomeSuccess, entry.Outcome)
		})
	}
}

func TestSettleNeverNegative(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "bob", Balance{Regular: 3, Bonus: 2}))

	// Actual cost exceeded the combined balance: both components clamp at
	// zero, the remainder is recorded, delivery is not blocked.
	entry, err := led.Settle(ctx, "bob", "req-1", 9, false, OutcomeSuccess)
	require.NoError(t, err)

	assert.Equal(t, Balance{}, entry.After)
	assert.Equal(t, int64(5), entry.Amount)
	assert.Equal(t, int64(4), entry.Shortfall)
	assert.Equal(t, OutcomePartial, entry.Outcome)

	bal, err := led.Store().Balance(ctx, "bob")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bal.Regular, int64(0))
	assert.GreaterOrEqual(t, bal.Bonus, int64(0))
}

func TestSettleIdempotent(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "carol", Balance{Regular: 20}))

	first, err := led.Settle(ctx, "carol", "req-1", 6, false, OutcomeSuccess)
	require.NoError(t, err)

	// Retrying the same request id must not double-charge.
	second, err := led.Settle(ctx, "carol", "req-1", 6, false, OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	bal, err := store.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(14), bal.Regular)
	assert.Len(t, store.Entries(), 1)
}

func TestSettleIdempotentPastCache(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "carol", Balance{Regular: 20}))

	_, err := led.Settle(ctx, "carol", "req-1", 6, false, OutcomeSuccess)
	require.NoError(t, err)

	// A fresh ledger over the same store sees the stored entry.
	led2, err := New(store)
	require.NoError(t, err)
	entry, err := led2.Settle(ctx, "carol", "req-1", 6, false, OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.Amount)

	bal, err := store.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(14), bal.Regular)
}

func TestZeroCostFailureEntry(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "dan", Balance{Regular: 10}))

	entry, err := led.Settle(ctx, "dan", "req-1", 0, false, OutcomeFailure)
	require.NoError(t, err)

	assert.Equal(t, int64(0), entry.Amount)
	assert.Equal(t, OutcomeFailure, entry.Outcome)
	assert.Equal(t, entry.Before, entry.After)

	bal, err := store.Balance(ctx, "dan")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Regular)
}

func TestRolloverCap(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "eve", Balance{Regular: 80, Bonus: 30}))

	entry, err := led.Rollover(ctx, "eve", 100, 0.5)
	require.NoError(t, err)

	// Leftover 80 rolls over only 50 (allocation 100 * cap 0.5).
	assert.Equal(t, int64(50), entry.Amount)
	assert.Equal(t, Balance{Regular: 150, Bonus: 30}, entry.After)
	assert.Equal(t, OutcomeRollover, entry.Outcome)
}

func TestRolloverNeverTouchesBonus(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "eve", Balance{Regular: 10, Bonus: 42}))

	entry, err := led.Rollover(ctx, "eve", 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.After.Bonus)
	assert.Equal(t, Balance{Regular: 110, Bonus: 42}, entry.After)
}

func TestConcurrentSettlesSerialized(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "frank", Balance{Regular: 10}))

	// Two runs of cost 6 against a balance of 10: the serialized ledger
	// must never double-collect. Exactly one settles in full; the other
	// takes the remaining 4 with a recorded shortfall of 2.
	var wg sync.WaitGroup
	entries := make([]Entry, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e, err := led.Settle(ctx, "frank", "req-"+string(rune('a'+n)), 6, false, OutcomeSuccess)
			require.NoError(t, err)
			entries[n] = e
		}(i)
	}
	wg.Wait()

	var collected, shortfall int64
	full, partial := 0, 0
	for _, e := range entries {
		collected += e.Amount
		shortfall += e.Shortfall
		switch e.Outcome {
		case OutcomeSuccess:
			full++
		case OutcomePartial:
			partial++
		}
	}
	assert.Equal(t, int64(10), collected)
	assert.Equal(t, int64(2), shortfall)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, partial)

	bal, err := store.Balance(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, Balance{}, bal)
}

func TestPrecheckInsufficient(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "gina", Balance{Regular: 1}))

	req := types.GenerationRequest{
		ID:        "req-1",
		Principal: "gina",
		Prompt:    "when a webhook fires send a slack message and update a sheets row",
	}
	_, err := led.Precheck(ctx, req)
	require.Error(t, err)
	assert.True(t, flowerr.Is(err, flowerr.KindInsufficientCredits))
}

func TestPrecheckNeverDeducts(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, led.Provision(ctx, "hana", Balance{Regular: 50, Bonus: 5}))

	req := types.GenerationRequest{ID: "req-1", Principal: "hana", Prompt: "sync sheets to hubspot"}
	adm, err := led.Precheck(ctx, req)
	require.NoError(t, err)
	assert.Greater(t, adm.Estimate.Cost, int64(0))

	bal, err := store.Balance(ctx, "hana")
	require.NoError(t, err)
	assert.Equal(t, Balance{Regular: 50, Bonus: 5}, bal)
	assert.Empty(t, store.Entries())
}
