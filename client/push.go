package client

import (
	"context"
	"sync/atomic"

	"github.com/ValerySidorin/raiden/internal/observability"
	"github.com/ValerySidorin/raiden/resp3"
)

// Push is one unsolicited server frame, flattened in traversal order.
type Push struct {
	Nodes []resp3.Node
}

// Strings returns the textual leaves of the frame in order.
func (p Push) Strings() []string {
	out := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if !n.Type.IsAggregate() {
			out = append(out, string(n.Value))
		}
	}
	return out
}

// pushChannel hands push frames from the reader to the single consumer. A
// full channel blocks the reader, backpressuring the parser. After the
// consumer cancels, frames are discarded and counted instead.
type pushChannel struct {
	ch        chan Push
	cancelled atomic.Bool
	cancelCh  chan struct{}
	dropped   atomic.Uint64
}

func newPushChannel(capacity int) *pushChannel {
	return &pushChannel{
		ch:       make(chan Push, capacity),
		cancelCh: make(chan struct{}),
	}
}

func (pc *pushChannel) send(ctx context.Context, p Push) error {
	if pc.cancelled.Load() {
		pc.drop()
		return nil
	}

	select {
	case pc.ch <- p:
		observability.IncPushDelivered()
		return nil
	case <-pc.cancelCh:
		pc.drop()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (pc *pushChannel) receive(ctx context.Context) (Push, error) {
	if pc.cancelled.Load() {
		return Push{}, ErrCancelled
	}

	select {
	case p := <-pc.ch:
		return p, nil
	case <-pc.cancelCh:
		return Push{}, ErrCancelled
	case <-ctx.Done():
		return Push{}, ctx.Err()
	}
}

// cancel stops reception. Idempotent.
func (pc *pushChannel) cancel() {
	if pc.cancelled.CompareAndSwap(false, true) {
		close(pc.cancelCh)
	}
}

func (pc *pushChannel) drop() {
	pc.dropped.Add(1)
	observability.IncPushDropped()
}

// Dropped returns how many push frames were discarded after cancellation.
func (pc *pushChannel) Dropped() uint64 {
	return pc.dropped.Load()
}
