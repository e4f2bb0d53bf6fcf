package client

import (
	"strings"

	"github.com/ValerySidorin/raiden/resp3"
)

// Commands the server answers out of band (through push frames) instead of
// with an in-band reply.
var noResponse = map[string]struct{}{
	"SUBSCRIBE":    {},
	"UNSUBSCRIBE":  {},
	"PSUBSCRIBE":   {},
	"PUNSUBSCRIBE": {},
	"SSUBSCRIBE":   {},
	"SUNSUBSCRIBE": {},
}

type command struct {
	end         int // offset past this command's frame in the payload
	hasResponse bool
}

// Request is an append-only pipeline of commands. Once handed to Exec it
// must not be modified.
type Request struct {
	payload []byte
	cmds    []command

	coalesce             bool
	retryOnCancel        bool
	cancelIfNotConnected bool
	helloPriority        bool
}

type RequestOption func(r *Request)

// WithoutCoalescing keeps this request out of multi-request batches: the
// writer hands each of its commands to the outbound writer separately. The
// outbound writer can still flush those commands, together with any other
// pending bytes, in a single socket write.
func WithoutCoalescing() RequestOption {
	return func(r *Request) { r.coalesce = false }
}

// WithRetryOnCancel controls whether the request survives a reconnect while
// it is still unwritten. Written requests are always cancelled.
func WithRetryOnCancel(retry bool) RequestOption {
	return func(r *Request) { r.retryOnCancel = retry }
}

// WithCancelIfNotConnected makes Exec fail fast with ErrNotConnected
// instead of queueing until the engine is running.
func WithCancelIfNotConnected() RequestOption {
	return func(r *Request) { r.cancelIfNotConnected = true }
}

func NewRequest(opts ...RequestOption) *Request {
	r := &Request{
		coalesce:      true,
		retryOnCancel: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Push appends one command. Arguments are serialized as blob strings.
func (r *Request) Push(verb string, args ...any) {
	r.payload = resp3.AppendCommand(r.payload, verb, args...)
	r.record(verb)
}

// PushRange appends one command with a key and a dynamic argument list.
func (r *Request) PushRange(verb, key string, items ...string) {
	r.payload = resp3.AppendHeader(r.payload, resp3.TypeArray, int64(2+len(items)))
	r.payload = resp3.AppendBulk(r.payload, verb)
	r.payload = resp3.AppendBulk(r.payload, key)
	for _, it := range items {
		r.payload = resp3.AppendBulk(r.payload, it)
	}
	r.record(verb)
}

func (r *Request) record(verb string) {
	v := strings.ToUpper(verb)
	_, silent := noResponse[v]
	r.cmds = append(r.cmds, command{
		end:         len(r.payload),
		hasResponse: !silent,
	})
	if v == "HELLO" {
		r.helloPriority = true
	}
}

// Len returns the number of commands.
func (r *Request) Len() int { return len(r.cmds) }

// ResponseCount returns how many in-band replies this request expects.
func (r *Request) ResponseCount() int {
	n := 0
	for _, c := range r.cmds {
		if c.hasResponse {
			n++
		}
	}
	return n
}

// Payload returns the serialized wire bytes of the whole pipeline.
func (r *Request) Payload() []byte { return r.payload }

// Clear drops all commands, preserving allocated storage.
func (r *Request) Clear() {
	r.payload = r.payload[:0]
	r.cmds = r.cmds[:0]
	r.helloPriority = false
}

// Reserve grows the payload capacity.
func (r *Request) Reserve(n int) {
	if free := cap(r.payload) - len(r.payload); free < n {
		p := make([]byte, len(r.payload), len(r.payload)+n)
		copy(p, r.payload)
		r.payload = p
	}
}

// frames splits the payload per command for non-coalesced writes.
func (r *Request) frames() [][]byte {
	out := make([][]byte, 0, len(r.cmds))
	start := 0
	for _, c := range r.cmds {
		out = append(out, r.payload[start:c.end])
		start = c.end
	}
	return out
}
