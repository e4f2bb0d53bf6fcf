// Package fnet holds the socket facing plumbing of the connection engine.
package fnet

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValerySidorin/raiden/internal/pool"
)

const (
	maxBufSize    = 65536
	maxVectorSize = 1024
)

// Stream is the write side of a connection.
type Stream interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
}

// Outbound coalesces pending writes into a vector of buffers and flushes
// them to the stream from a dedicated loop. Everything enqueued between two
// flushes goes out in a single vectored write.
type Outbound struct {
	v      net.Buffers // vector
	wv     net.Buffers // working vector
	wdl    time.Duration
	c      *sync.Cond
	pb     int64 // pending bytes
	mu     sync.Mutex
	str    Stream
	closed atomic.Bool
	werr   atomic.Pointer[error]
	l      *slog.Logger
}

func NewOutbound(str Stream, wdl time.Duration, l *slog.Logger) *Outbound {
	o := &Outbound{
		str: str,
		wdl: wdl,
		l:   l,
	}
	o.c = sync.NewCond(&o.mu)

	return o
}

// WriteLoop flushes enqueued buffers until Close. It is meant to run on its
// own goroutine, one per connection.
func (o *Outbound) WriteLoop() {
	for {
		o.mu.Lock()
		closed := o.isClosed()
		if !closed && o.pb == 0 {
			o.c.Wait()
			closed = o.isClosed()
		}

		if closed {
			o.flushOutbound()
			o.mu.Unlock()
			return
		}

		o.flushOutbound()
		o.mu.Unlock()
	}
}

// Enqueue queues one frame for the next flush.
func (o *Outbound) Enqueue(proto []byte) {
	if o.isClosed() {
		return
	}

	o.mu.Lock()
	o.queueOutbound(proto)
	o.mu.Unlock()
	o.c.Signal()
}

// EnqueueMulti queues several frames atomically so they are flushed as one
// contiguous run.
func (o *Outbound) EnqueueMulti(protos ...[]byte) {
	if o.isClosed() {
		return
	}

	o.mu.Lock()
	for _, proto := range protos {
		o.queueOutbound(proto)
	}
	o.mu.Unlock()
	o.c.Signal()
}

// Err returns the first write error observed by the flush loop.
func (o *Outbound) Err() error {
	if p := o.werr.Load(); p != nil {
		return *p
	}
	return nil
}

// flushOutbound writes the detached vector to the stream. Called with the
// lock held.
func (o *Outbound) flushOutbound() {
	defer func() {
		if o.isClosed() {
			for i := range o.wv {
				pool.Put(o.wv[i])
			}
			o.wv = nil
		}
	}()

	if o.str == nil || o.pb == 0 || o.Err() != nil {
		return
	}

	detached := o.v
	o.v = nil

	o.wv = append(o.wv, detached...)
	var _orig [maxVectorSize][]byte
	orig := append(_orig[:0], o.wv...)

	startOfWv := o.wv[0:]
	start := time.Now()

	var n int64
	for len(o.wv) > 0 {
		wv := o.wv
		if len(wv) > maxVectorSize {
			wv = wv[:maxVectorSize]
		}
		consumed := len(wv)

		_ = o.str.SetWriteDeadline(start.Add(o.wdl))
		wn, err := wv.WriteTo(o.str)
		_ = o.str.SetWriteDeadline(time.Time{})

		n += wn
		o.wv = o.wv[consumed-len(wv):]
		if err != nil {
			o.l.Error("write buffers", "err", err)
			o.werr.CompareAndSwap(nil, &err)
			// A broken stream never recovers; stop the loop so the
			// supervisor can tear the connection down.
			o.closed.Store(true)
			break
		}
	}

	for i := 0; i < len(orig)-len(o.wv); i++ {
		pool.Put(orig[i])
	}

	o.wv = append(startOfWv[:0], o.wv...)

	o.pb -= n
	if o.pb > 0 && o.Err() == nil {
		o.c.Signal()
	}
}

// queueOutbound copies data into pooled buffers at the tail of the vector.
// Called with the lock held.
func (o *Outbound) queueOutbound(data []byte) {
	o.pb += int64(len(data))
	toBuffer := data
	if len(o.v) > 0 {
		last := &o.v[len(o.v)-1]
		if free := cap(*last) - len(*last); free > 0 {
			if l := len(toBuffer); l < free {
				free = l
			}
			*last = append(*last, toBuffer[:free]...)
			toBuffer = toBuffer[free:]
		}
	}

	for len(toBuffer) > 0 {
		buf := pool.Get(min(len(toBuffer), maxBufSize))
		n := copy(buf[:cap(buf)], toBuffer)
		o.v = append(o.v, buf[:n])
		toBuffer = toBuffer[n:]
	}
}

func (o *Outbound) isClosed() bool {
	return o.closed.Load()
}

// Close stops the write loop after a final flush of whatever is pending.
func (o *Outbound) Close() {
	o.closed.Store(true)
	o.c.Broadcast()
}
