package transport

import "sync"

// pendingTable maps correlation ids to calls awaiting a response. It belongs to exactly one
// connection and is emptied when that connection goes away.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[uint64]*Call
	closed error // Set by failAll; later adds fail with it
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*Call)}
}

func (p *pendingTable) add(id uint64, call *Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return p.closed
	}
	p.calls[id] = call
	return nil
}

// take removes and returns the call for id. Lookup and removal are one step, so a response
// resolves its call at most once even when a cancellation races with it.
func (p *pendingTable) take(id uint64) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return call, ok
}

// forget drops id and reports whether it was still pending.
func (p *pendingTable) forget(id uint64) bool {
	_, ok := p.take(id)
	return ok
}

// failAll empties the table and returns what was in it. The table refuses new calls after.
func (p *pendingTable) failAll(err error) []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed == nil {
		p.closed = err
	}
	calls := make([]*Call, 0, len(p.calls))
	for id, call := range p.calls {
		calls = append(calls, call)
		delete(p.calls, id)
	}
	return calls
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
