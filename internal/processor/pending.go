package processor

import (
	"context"
	"sync"
)

const (
	// pendingOpsPerKey caps how many ops one DID can park. Past the
	// cap the oldest op is evicted; a DID hot enough to hit this is
	// repaired wholesale by the backfill path anyway.
	pendingOpsPerKey = 10_000

	// pendingOpBudget is how many flush attempts an op gets before it
	// is dropped.
	pendingOpBudget = 3
)

type pendingOp struct {
	budget int
	run    func(ctx context.Context) error
}

// pendingOps parks operations keyed by DID until a flush trigger lands
// for that DID. The queues live in process memory only: a restart
// loses them and the repair worker re-derives the missing state.
type pendingOps struct {
	maxPerKey int

	mu  sync.Mutex
	ops map[string][]pendingOp
}

func newPendingOps(maxPerKey int) *pendingOps {
	return &pendingOps{
		maxPerKey: maxPerKey,
		ops:       make(map[string][]pendingOp),
	}
}

func (p *pendingOps) add(key string, budget int, run func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.ops[key]
	if len(queue) >= p.maxPerKey {
		queue = queue[1:]
	}
	p.ops[key] = append(queue, pendingOp{budget: budget, run: run})
}

// take removes and returns every op parked under the key.
func (p *pendingOps) take(key string) []pendingOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := p.ops[key]
	delete(p.ops, key)
	return ops
}

// size counts parked ops across all keys.
func (p *pendingOps) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, queue := range p.ops {
		total += len(queue)
	}
	return total
}
