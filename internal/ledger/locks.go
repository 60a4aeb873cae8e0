package ledger

import "sync"

// principalLocks hands out one mutex per principal so settlements for the
// same principal never interleave their read-modify-write.
type principalLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPrincipalLocks() *principalLocks {
	return &principalLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *principalLocks) lock(principal string) (unlock func()) {
	p.mu.Lock()
	m, ok := p.locks[principal]
	if !ok {
		m = &sync.Mutex{}
		p.locks[principal] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}
