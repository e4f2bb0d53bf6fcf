package client

import (
	"sync"

	"github.com/ValerySidorin/raiden/resp3"
)

type reqState int

const (
	reqStaged reqState = iota
	reqWriting
	reqWritten
	reqCompleted
	reqCancelled
)

// pending is one enqueued request together with its completion future.
type pending struct {
	req     *Request
	adapter resp3.Adapter

	remaining int // in-band replies still expected
	consumed  int // reply bytes consumed so far

	state reqState
	wrote bool // payload reached the socket; replies will arrive even if cancelled
	err   error
	done  chan error
}

func newPending(req *Request, adapter resp3.Adapter) *pending {
	return &pending{
		req:       req,
		adapter:   adapter,
		remaining: req.ResponseCount(),
		done:      make(chan error, 1),
	}
}

func (p *pending) resolve(err error) {
	select {
	case p.done <- err:
	default:
	}
}

// advance moves a composed adapter to the next command's sink.
func (p *pending) advance() {
	if c, ok := p.adapter.(*resp3.Composed); ok {
		c.Advance()
	}
}

// requestQueue is the FIFO of in-flight requests. Replies always match the
// oldest written entry; unwritten entries are contiguous at the tail.
type requestQueue struct {
	mu      sync.Mutex
	entries []*pending
	wake    chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		wake: make(chan struct{}, 1),
	}
}

// enqueue appends p and notifies the writer. A request carrying HELLO jumps
// ahead of every entry that has not been staged for writing yet, so
// authentication can precede queued traffic.
func (q *requestQueue) enqueue(p *pending) {
	q.mu.Lock()
	q.entries = append(q.entries, p)

	if p.req.helloPriority {
		i := len(q.entries) - 1
		for i > 0 && q.entries[i-1].state == reqStaged {
			q.entries[i], q.entries[i-1] = q.entries[i-1], q.entries[i]
			i--
		}
	}
	q.mu.Unlock()

	q.notify()
}

func (q *requestQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextToWrite returns the contiguous run of staged entries the writer may
// emit as one write. With coalescing off, or when the head of the run opts
// out, the run is a single request.
func (q *requestQueue) nextToWrite(coalesce bool) []*pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.entries) && q.entries[i].state != reqStaged {
		i++
	}
	if i == len(q.entries) {
		return nil
	}

	if !coalesce || !q.entries[i].req.coalesce {
		return []*pending{q.entries[i]}
	}

	j := i
	for j < len(q.entries) && q.entries[j].state == reqStaged && q.entries[j].req.coalesce {
		j++
	}

	run := make([]*pending, j-i)
	copy(run, q.entries[i:j])
	return run
}

func (q *requestQueue) markWriting(run []*pending) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range run {
		if p.state == reqStaged {
			p.state = reqWriting
		}
	}
}

// markWritten advances the run past the socket. Fire-and-forget entries
// expecting no reply complete here: they consumed their pipeline slot but
// nothing will ever match them.
func (q *requestQueue) markWritten(run []*pending) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range run {
		p.wrote = true
		if p.state != reqWriting {
			continue
		}
		if p.remaining == 0 {
			p.state = reqCompleted
			p.resolve(nil)
			q.remove(p)
			continue
		}
		p.state = reqWritten
	}
}

// headForReply returns the entry the next in-band reply belongs to, or nil
// when a reply would be unsolicited.
func (q *requestQueue) headForReply() *pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	p := q.entries[0]
	if p.state == reqWritten || (p.state == reqCancelled && p.wrote) {
		return p
	}
	return nil
}

// adapterFor snapshots the entry's current adapter. Cancellation swaps the
// adapter out concurrently, so the reader must not touch the field directly.
func (q *requestQueue) adapterFor(p *pending) resp3.Adapter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return p.adapter
}

// onReplyChunk accounts one completed top level reply for the head entry.
// When its last reply lands the entry completes and pops, resolving with
// the first adapter rejection seen, if any.
func (q *requestQueue) onReplyChunk(p *pending, consumed int, sinkErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p.consumed += consumed
	if sinkErr != nil && p.err == nil {
		p.err = sinkErr
	}
	p.remaining--
	p.advance()

	if p.remaining > 0 {
		return
	}

	if p.state == reqWritten {
		p.state = reqCompleted
		p.resolve(p.err)
	}
	q.remove(p)
}

// cancelEntry cancels a single request. Unwritten entries leave the queue;
// written ones stay as husks so their replies still drain in order, with
// the adapter swapped out.
func (q *requestQueue) cancelEntry(p *pending) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch p.state {
	case reqCompleted, reqCancelled:
		return
	case reqStaged:
		q.remove(p)
		p.state = reqCancelled
	default:
		p.state = reqCancelled
		p.adapter = &resp3.Ignore{}
	}
	p.resolve(ErrCancelled)
}

// cancelAll cancels every entry with err. With keepUnwritten set, staged
// entries that opted into retry survive for the next connection; everything
// written is cancelled unconditionally.
func (q *requestQueue) cancelAll(err error, keepUnwritten bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, p := range q.entries {
		if p.state == reqCancelled && p.remaining > 0 {
			// Husk of an individually cancelled request; drop it.
			continue
		}
		if keepUnwritten && p.state == reqStaged && p.req.retryOnCancel {
			kept = append(kept, p)
			continue
		}
		p.state = reqCancelled
		p.resolve(err)
	}

	tail := q.entries[len(kept):]
	for i := range tail {
		tail[i] = nil
	}
	q.entries = kept
}

// reset restages kept entries after a reconnect so the writer picks them up
// again.
func (q *requestQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.entries {
		p.state = reqStaged
	}
	if len(q.entries) > 0 {
		q.notify()
	}
}

// cancelExecs cancels every in-flight request individually, keeping written
// husks around so their replies still drain.
func (q *requestQueue) cancelExecs() {
	q.mu.Lock()
	snapshot := make([]*pending, len(q.entries))
	copy(snapshot, q.entries)
	q.mu.Unlock()

	for _, p := range snapshot {
		q.cancelEntry(p)
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// remove deletes p preserving order. Called with the lock held.
func (q *requestQueue) remove(p *pending) {
	for i, e := range q.entries {
		if e == p {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = nil
			q.entries = q.entries[:len(q.entries)-1]
			return
		}
	}
}
