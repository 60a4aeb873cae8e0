// Package ledger is the admission controller and credit ledger: the advisory
// pre-check before a pipeline runs and the single settlement path that may
// mutate a principal's two-component balance.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"flowsmith/internal/flowerr"
	"flowsmith/internal/types"
)

// Admission is the pre-check result: advisory sizing plus the balance
// snapshot it was checked against. Nothing is reserved or deducted.
type Admission struct {
	Estimate Estimate `json:"estimate"`
	Balance  Balance  `json:"balance"`
}

// Ledger owns all balance mutation. Settlement for a given principal is
// serialized through a per-principal lock; every other component sees
// balances as read-only snapshots.
type Ledger struct {
	store Store

	locks *principalLocks
	// idem short-circuits settlement replays without a store round trip.
	idem *lru.Cache[string, Entry]
}

// New builds a Ledger over the given store.
func New(store Store) (*Ledger, error) {
	idem, err := lru.New[string, Entry](4096)
	if err != nil {
		return nil, err
	}
	return &Ledger{store: store, locks: newPrincipalLocks(), idem: idem}, nil
}

// Store exposes the underlying store for read-only use (balance endpoint).
func (l *Ledger) Store() Store { return l.store }

// Precheck computes the complexity estimate and verifies the principal could
// afford it. Advisory only: it never reserves or deducts, since actual cost
// is unknown until generation completes.
func (l *Ledger) Precheck(ctx context.Context, req types.GenerationRequest) (Admission, error) {
	est := EstimateComplexity(req)
	bal, err := l.store.Balance(ctx, req.Principal)
	if err != nil {
		return Admission{}, flowerr.Wrap(flowerr.StageAdmission, flowerr.KindSettlement, "balance read failed", err)
	}
	if bal.Total() < est.Cost {
		return Admission{}, flowerr.Newf(flowerr.StageAdmission, flowerr.KindInsufficientCredits,
			"estimated cost %d exceeds balance %d", est.Cost, bal.Total())
	}
	return Admission{Estimate: est, Balance: bal}, nil
}

// Settle charges actualCost against the principal's balance and appends the
// ledger entry. It is the only credit-mutating operation.
//
// Depletion order follows bonusFirst. Either component is clamped at zero;
// an uncollectable remainder is recorded as Shortfall with outcome partial.
// Failure outcomes settle with actualCost 0 for audit continuity. Replays
// keyed on requestID return the original entry unchanged.
func (l *Ledger) Settle(ctx context.Context, principal, requestID string, actualCost int64, bonusFirst bool, outcome Outcome) (Entry, error) {
	if actualCost < 0 {
		actualCost = 0
	}
	unlock := l.locks.lock(principal)
	defer unlock()

	if e, ok := l.idem.Get(requestID); ok {
		return e, nil
	}
	if e, err := l.store.EntryByRequest(ctx, requestID); err != nil {
		return Entry{}, flowerr.Wrap(flowerr.StageSettlement, flowerr.KindSettlement, "entry lookup failed", err)
	} else if e != nil {
		l.idem.Add(requestID, *e)
		return *e, nil
	}

	before, err := l.store.Balance(ctx, principal)
	if err != nil {
		return Entry{}, flowerr.Wrap(flowerr.StageSettlement, flowerr.KindSettlement, "balance read failed", err)
	}

	after, charged := deplete(before, actualCost, bonusFirst)
	shortfall := actualCost - charged
	if shortfall > 0 && outcome == OutcomeSuccess {
		outcome = OutcomePartial
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Principal: principal,
		RequestID: requestID,
		Before:    before,
		After:     after,
		Amount:    charged,
		Shortfall: shortfall,
		Outcome:   outcome,
		At:        time.Now().UTC(),
	}
	if err := l.store.Settle(ctx, after, entry); err != nil {
		if err == ErrDuplicate {
			if e, lerr := l.store.EntryByRequest(ctx, requestID); lerr == nil && e != nil {
				l.idem.Add(requestID, *e)
				return *e, nil
			}
		}
		return Entry{}, flowerr.Wrap(flowerr.StageSettlement, flowerr.KindSettlement, "settlement write failed", err)
	}
	l.idem.Add(requestID, entry)
	return entry, nil
}

// Rollover resets the regular component at a period boundary:
// new regular = allocation + min(leftover, allocation*capFraction).
// Bonus is never touched and never increased by rollover.
func (l *Ledger) Rollover(ctx context.Context, principal string, allocation int64, capFraction float64) (Entry, error) {
	if allocation < 0 {
		return Entry{}, fmt.Errorf("ledger: negative allocation %d", allocation)
	}
	if capFraction < 0 {
		capFraction = 0
	}
	unlock := l.locks.lock(principal)
	defer unlock()

	before, err := l.store.Balance(ctx, principal)
	if err != nil {
		return Entry{}, flowerr.Wrap(flowerr.StageSettlement, flowerr.KindSettlement, "balance read failed", err)
	}

	carryCap := int64(float64(allocation) * capFraction)
	carried := before.Regular
	if carried > carryCap {
		carried = carryCap
	}
	if carried < 0 {
		carried = 0
	}
	after := Balance{Regular: allocation + carried, Bonus: before.Bonus}

	entry := Entry{
		ID:        uuid.NewString(),
		Principal: principal,
		RequestID: "rollover:" + uuid.NewString(),
		Before:    before,
		After:     after,
		Amount:    carried,
		Outcome:   OutcomeRollover,
		At:        time.Now().UTC(),
	}
	if err := l.store.Settle(ctx, after, entry); err != nil {
		return Entry{}, flowerr.Wrap(flowerr.StageSettlement, flowerr.KindSettlement, "rollover write failed", err)
	}
	return entry, nil
}

// Provision seeds or replaces a principal's balance. Used by the billing
// boundary and tests; not part of the settlement path.
func (l *Ledger) Provision(ctx context.Context, principal string, b Balance) error {
	unlock := l.locks.lock(principal)
	defer unlock()
	return l.store.Provision(ctx, principal, b)
}

// deplete charges amount from b in the preferred order, clamping each
// component at zero. Returns the new balance and the amount actually taken.
func deplete(b Balance, amount int64, bonusFirst bool) (Balance, int64) {
	take := func(avail, want int64) int64 {
		if want <= avail {
			return want
		}
		return avail
	}
	remaining := amount
	if bonusFirst {
		t := take(b.Bonus, remaining)
		b.Bonus -= t
		remaining -= t
		t = take(b.Regular, remaining)
		b.Regular -= t
		remaining -= t
	} else {
		t := take(b.Regular, remaining)
		b.Regular -= t
		remaining -= t
		t = take(b.Bonus, remaining)
		b.Bonus -= t
		remaining -= t
	}
	return b, amount - remaining
}
