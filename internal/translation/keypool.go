package translation

import (
	"fmt"
	"sync"
	"time"
)

// keyBlockDuration is the cooldown a key sits out after a failed call.
const keyBlockDuration = time.Minute

// keyEntry tracks usage of one API credential and its bound client.
type keyEntry struct {
	index          int
	api            languageAPI
	activeRequests int
	totalRequests  int
	failedRequests int
	blockedUntil   time.Time
}

// keyPool balances calls across several API credentials, handing out the
// least-loaded key that is not sitting out a failure cooldown. With a single
// key it degenerates to plain reuse.
type keyPool struct {
	mu      sync.Mutex
	entries []*keyEntry
	now     func() time.Time
}

func newKeyPool(apis []languageAPI) (*keyPool, error) {
	if len(apis) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	entries := make([]*keyEntry, len(apis))
	for i, api := range apis {
		entries[i] = &keyEntry{index: i, api: api}
	}
	return &keyPool{entries: entries, now: time.Now}, nil
}

// acquire returns the least-loaded unblocked entry. When every key is
// blocked the least-loaded one is handed out anyway, so calls never stall on
// an empty pool. The caller must call release exactly once when the request
// completes.
func (p *keyPool) acquire() *keyEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *keyEntry
	for _, e := range p.entries {
		if e.blockedUntil.After(now) {
			continue
		}
		if best == nil || e.activeRequests < best.activeRequests {
			best = e
		}
	}
	if best == nil {
		best = p.entries[0]
		for _, e := range p.entries[1:] {
			if e.activeRequests < best.activeRequests {
				best = e
			}
		}
	}

	best.activeRequests++
	best.totalRequests++
	return best
}

// release returns an entry to the pool. A failed call starts the key's
// cooldown in addition to counting against it.
func (p *keyPool) release(e *keyEntry, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.activeRequests > 0 {
		e.activeRequests--
	}
	if failed {
		e.failedRequests++
		e.blockedUntil = p.now().Add(keyBlockDuration)
	}
}

// KeyStats reports per-key usage counters.
type KeyStats struct {
	Index          int  `json:"index"`
	ActiveRequests int  `json:"active_requests"`
	TotalRequests  int  `json:"total_requests"`
	FailedRequests int  `json:"failed_requests"`
	Blocked        bool `json:"blocked"`
}

func (p *keyPool) stats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]KeyStats, len(p.entries))
	for i, e := range p.entries {
		out[i] = KeyStats{
			Index:          e.index,
			ActiveRequests: e.activeRequests,
			TotalRequests:  e.totalRequests,
			FailedRequests: e.failedRequests,
			Blocked:        e.blockedUntil.After(now),
		}
	}
	return out
}
