package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ValerySidorin/raiden/internal/observability"
	"github.com/ValerySidorin/raiden/resp3"
)

const readChunkSize = 4096

// readBuffer is the reader owned window of unconsumed bytes. It compacts
// and grows on demand up to the configured maximum.
type readBuffer struct {
	b    []byte
	r, w int
	max  int
}

func newReadBuffer(maxSize int) *readBuffer {
	return &readBuffer{
		b:   make([]byte, readChunkSize),
		max: maxSize,
	}
}

func (rb *readBuffer) window() []byte { return rb.b[rb.r:rb.w] }

func (rb *readBuffer) advance(n int) {
	rb.r += n
	if rb.r == rb.w {
		rb.r, rb.w = 0, 0
	}
}

// seed preloads bytes consumed elsewhere, e.g. the tail of the handshake
// read.
func (rb *readBuffer) seed(p []byte) error {
	if err := rb.ensure(len(p)); err != nil {
		return err
	}
	rb.w += copy(rb.b[rb.w:], p)
	return nil
}

// ensure makes room for at least n more bytes past the window.
func (rb *readBuffer) ensure(n int) error {
	if rb.w+n <= len(rb.b) {
		return nil
	}

	need := len(rb.window()) + n
	if need <= len(rb.b) {
		copy(rb.b, rb.window())
		rb.w = len(rb.window())
		rb.r = 0
		return nil
	}

	if rb.max > 0 && need > rb.max {
		return fmt.Errorf("%w: reply needs %d contiguous bytes, limit %d",
			resp3.ErrUnexpectedReadSize, need, rb.max)
	}

	size := len(rb.b) * 2
	for size < need {
		size *= 2
	}
	if rb.max > 0 && size > rb.max {
		size = rb.max
	}

	nb := make([]byte, size)
	copy(nb, rb.window())
	rb.w = len(rb.window())
	rb.r = 0
	rb.b = nb
	return nil
}

// fill reads from conn until at least min new bytes are in the window.
func (rb *readBuffer) fill(c *Connection, conn net.Conn, min int) error {
	if min < 1 {
		min = 1
	}
	if err := rb.ensure(min); err != nil {
		return err
	}

	for got := 0; got < min; {
		n, err := conn.Read(rb.b[rb.w:])
		if n > 0 {
			rb.w += n
			got += n
			c.lastRead.Store(time.Now().UnixNano())
			observability.ObserveRead(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrEOF
			}
			return err
		}
	}

	return nil
}

// readLoop drives the parser against the socket, routing each completed top
// level reply to the oldest written request or to the push channel.
func (c *Connection) readLoop(ctx context.Context, conn net.Conn, rb *readBuffer) error {
	parser := resp3.NewParser(discardAdapter, c.cfg.MaxDepth)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(rb.window()) == 0 {
			if err := rb.fill(c, conn, 1); err != nil {
				return err
			}
		}

		var (
			entry *pending
			flat  *resp3.Flat
		)

		if resp3.Type(rb.window()[0]) == resp3.TypePush {
			flat = &resp3.Flat{}
			parser.Reset(flat)
		} else {
			entry = c.q.headForReply()
			if entry == nil {
				return fmt.Errorf("%w: unsolicited reply", resp3.ErrInvalidType)
			}
			parser.Reset(c.q.adapterFor(entry))
		}

		consumed := 0
		for {
			n, err := parser.Consume(rb.window())
			rb.advance(n)
			consumed += n
			if err != nil {
				return err
			}
			if parser.Done() {
				break
			}

			need := 1
			if nb, ok := parser.NeedsBulk(); ok {
				need = nb + 2 - len(rb.window())
			}
			if err := rb.fill(c, conn, need); err != nil {
				return err
			}
		}

		if flat != nil {
			if err := c.push.send(ctx, Push{Nodes: flat.Nodes}); err != nil {
				return err
			}
			continue
		}

		c.q.onReplyChunk(entry, consumed, parser.SinkErr())
		observability.IncReplies()
	}
}

var discardAdapter = &resp3.Ignore{}
