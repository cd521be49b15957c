package walletconnect

import (
	"sync"
)

type outcome struct {
	resp *response
	err  error
}

// pendingRequest is the one-shot slot of an outbound json-rpc request.
type pendingRequest struct {
	id     int64
	method string
	slot   chan outcome
	// apply runs on the relay goroutine before the slot is resolved, so session
	// changes caused by a response are ordered with the events around it.
	apply func(*response) error
}

// pendingRequests correlates response ids with waiting callers.
// An entry leaves the map exactly once: resolved, failed, or removed by its caller.
type pendingRequests struct {
	mu       sync.Mutex
	byID     map[int64]*pendingRequest
	closeErr error
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{byID: make(map[int64]*pendingRequest)}
}

// add registers id. It fails once the set has been closed.
func (p *pendingRequests) add(id int64, method string, apply func(*response) error) (*pendingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeErr != nil {
		return nil, p.closeErr
	}
	req := &pendingRequest{
		id:     id,
		method: method,
		slot:   make(chan outcome, 1),
		apply:  apply,
	}
	p.byID[id] = req
	return req, nil
}

func (p *pendingRequests) take(id int64) *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.byID[id]
	if !ok {
		return nil
	}
	delete(p.byID, id)
	return req
}

// resolve hands resp to the request waiting on resp.id.
// It returns false when nobody waits for that id anymore.
func (p *pendingRequests) resolve(resp *response) bool {
	req := p.take(resp.id)
	if req == nil {
		return false
	}
	var err error
	if req.apply != nil {
		err = req.apply(resp)
	}
	req.slot <- outcome{resp: resp, err: err}
	return true
}

// remove drops id without resolving it; the caller has stopped waiting.
func (p *pendingRequests) remove(id int64) {
	p.take(id)
}

// failAll resolves every outstanding request with err.
func (p *pendingRequests) failAll(err error) int {
	p.mu.Lock()
	reqs := p.byID
	p.byID = make(map[int64]*pendingRequest)
	p.mu.Unlock()
	for _, req := range reqs {
		req.slot <- outcome{err: err}
	}
	return len(reqs)
}

// close fails everything outstanding and refuses later adds with err.
func (p *pendingRequests) close(err error) int {
	p.mu.Lock()
	if p.closeErr == nil {
		p.closeErr = err
	}
	p.mu.Unlock()
	return p.failAll(err)
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
