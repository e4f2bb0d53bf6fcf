package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ValerySidorin/raiden/internal/fnet"
	"github.com/ValerySidorin/raiden/internal/observability"
	"github.com/ValerySidorin/raiden/resp3"
)

// Connection is a self managing, pipelining connection to one RESP3 server.
// It resolves, connects, performs the HELLO handshake, multiplexes
// pipelined requests over one socket, surfaces server pushes out of band
// and reconnects transparently.
//
// Exec and Receive may be called from any goroutine, before or after Run.
// Run drives the engine and returns only on permanent failure or an
// explicit stop.
type Connection struct {
	cfg Config

	l        *slog.Logger
	resolver Resolver
	dialer   Dialer

	q    *requestQueue
	push *pushChannel

	state    atomic.Int32
	running  atomic.Bool
	lastRead atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Connection from cfg. The configuration is defaulted and
// validated; observability is initialized when enabled.
func New(cfg Config, opts ...Option) (*Connection, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:      cfg,
		l:        slog.Default(),
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		q:        newRequestQueue(),
		push:     newPushChannel(cfg.PushBufferSize),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if !cfg.EnablePush {
		// No consumer will ever attach; discard and count from the start.
		c.push.cancel()
	}

	obs := observability.Config{}
	obs.Metrics.Enabled = cfg.Observability.Metrics.Enabled
	obs.Tracing.Enabled = cfg.Observability.Tracing.Enabled
	obs.Tracing.OTLPEndpoint = cfg.Observability.Tracing.OTLPEndpoint
	obs.Tracing.Insecure = cfg.Observability.Tracing.Insecure
	obs.Tracing.SampleRatio = cfg.Observability.Tracing.SampleRatio
	obs.Tracing.Resource.ServiceName = "raiden"
	if err := observability.Setup(context.Background(), obs, nil, c.l); err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	return c, nil
}

// State returns the engine's lifecycle phase.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	c.l.Debug("state", "state", s.String())
}

// PushesDropped returns how many push frames were discarded after push
// reception was cancelled.
func (c *Connection) PushesDropped() uint64 {
	return c.push.Dropped()
}

// Exec submits one pipelined request and blocks until every expected reply
// was parsed into adapter, the context ends, or the request is cancelled.
// It returns the number of reply bytes consumed.
//
// For per command adapters pass a resp3.Composed; a plain adapter receives
// every reply of the pipeline in order.
func (c *Connection) Exec(ctx context.Context, req *Request, adapter resp3.Adapter) (int, error) {
	if req == nil || req.Len() == 0 {
		return 0, ErrEmptyRequest
	}
	if req.cancelIfNotConnected && c.State() != StateRunning {
		return 0, ErrNotConnected
	}
	if adapter == nil {
		adapter = &resp3.Ignore{}
	}

	ctx, span := observability.StartExecSpan(ctx, req.Len())
	defer span.End()

	p := newPending(req, adapter)
	c.q.enqueue(p)
	observability.AddRequestsInFlight(1)
	defer observability.AddRequestsInFlight(-1)

	select {
	case <-ctx.Done():
		c.q.cancelEntry(p)
		return 0, fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
	case err := <-p.done:
		return p.consumed, err
	}
}

// Receive blocks for one server push frame and replays it into adapter. A
// nil adapter drops the frame after receipt.
func (c *Connection) Receive(ctx context.Context, adapter resp3.Adapter) error {
	p, err := c.push.receive(ctx)
	if err != nil {
		return err
	}
	if adapter == nil {
		return nil
	}
	return resp3.ReplayNodes(adapter, p.Nodes)
}

// Cancel aborts the given operation promptly. Cancelling twice is a no-op.
func (c *Connection) Cancel(op Operation) {
	switch op {
	case OpExec:
		c.q.cancelExecs()
	case OpReceivePush:
		c.push.cancel()
	case OpRun:
		c.stopOnce.Do(func() { close(c.stopCh) })
	}
}

// Run drives the engine until a permanent failure, Cancel(OpRun), or ctx
// cancellation. With reconnection enabled every transient failure loops
// back through resolve/connect/handshake with exponential backoff.
func (c *Connection) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := c.newBackoff()

	for {
		err := c.connectAndRun(ctx)
		if c.State() == StateRunning {
			// The last attempt got as far as a live session; start the
			// backoff over for the next one.
			bo = c.newBackoff()
		}

		stopped := ctx.Err() != nil
		fatal := errors.Is(err, ErrHandshake)
		keep := c.cfg.EnableReconnect && !stopped && !fatal

		cause := err
		if stopped || cause == nil {
			cause = ErrCancelled
		}
		c.q.cancelAll(cause, keep)

		if stopped {
			c.setState(StateStopped)
			return ErrCancelled
		}
		if fatal || !c.cfg.EnableReconnect {
			c.setState(StateStopped)
			return err
		}

		c.setState(StateReconnecting)
		observability.IncReconnects()
		c.l.Info("reconnecting", "err", err)

		// The jittered interval may exceed MaxInterval; keep the cap.
		wait := bo.NextBackOff()
		if wait > c.cfg.ReconnectInterval {
			wait = c.cfg.ReconnectInterval
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			c.setState(StateStopped)
			c.q.cancelAll(ErrCancelled, false)
			return ErrCancelled
		}

		c.q.reset()
	}
}

func (c *Connection) newBackoff() *backoff.ExponentialBackOff {
	iv := c.cfg.ReconnectInterval / 8
	if iv <= 0 {
		iv = c.cfg.ReconnectInterval
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     iv,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         c.cfg.ReconnectInterval,
	}
}

// connectAndRun performs one full connection lifetime: resolve, connect,
// handshake, then the four task session until something fails.
func (c *Connection) connectAndRun(ctx context.Context) error {
	c.setState(StateResolving)
	addrs, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx, addrs)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.setState(StateHandshaking)
	rest, err := c.handshake(conn)
	if err != nil {
		return err
	}

	c.setState(StateRunning)
	c.l.Info("connected", "addr", conn.RemoteAddr())

	return c.session(ctx, conn, rest)
}

func (c *Connection) resolve(ctx context.Context) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	defer cancel()

	hosts, err := c.resolver.LookupHost(rctx, c.cfg.Host)
	if err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrResolveTimeout, c.cfg.Host)
		}
		return nil, fmt.Errorf("resolve %s: %w", c.cfg.Host, err)
	}

	addrs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addrs = append(addrs, net.JoinHostPort(h, c.cfg.Port))
	}
	return addrs, nil
}

func (c *Connection) dial(ctx context.Context, addrs []string) (net.Conn, error) {
	var lastErr error
	for _, addr := range addrs {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		conn, err := c.dialer.DialContext(dctx, "tcp", addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		if dctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no addresses", ErrConnectTimeout)
	}
	return nil, lastErr
}

// handshake sends HELLO 3 on the raw socket and parses its reply. Any
// leftover bytes read past the reply are returned for the reader to pick
// up. Handshake failure is fatal: the server either does not speak RESP3
// or rejected us.
func (c *Connection) handshake(conn net.Conn) ([]byte, error) {
	req := NewRequest()
	req.Push("HELLO", 3)

	_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(req.Payload()); err != nil {
		return nil, fmt.Errorf("%w: write hello: %v", ErrHandshake, err)
	}

	ig := &resp3.Ignore{}
	p := resp3.NewParser(ig, c.cfg.MaxDepth)

	var (
		win []byte
		buf [readChunkSize]byte
	)
	for !p.Done() {
		n, err := conn.Read(buf[:])
		if err != nil {
			return nil, fmt.Errorf("%w: read hello reply: %v", ErrHandshake, err)
		}
		win = append(win, buf[:n]...)

		taken, perr := p.Consume(win)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, perr)
		}
		win = win[taken:]
	}

	if ig.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, ig.Err)
	}

	return win, nil
}

// session runs the writer, reader and watchdog tasks plus the outbound
// flush loop under one supervisor. The first task to fail brings the whole
// session down.
func (c *Connection) session(ctx context.Context, conn net.Conn, seed []byte) error {
	c.lastRead.Store(time.Now().UnixNano())

	rb := newReadBuffer(c.cfg.MaxReadSize)
	if len(seed) > 0 {
		if err := rb.seed(seed); err != nil {
			return err
		}
	}

	out := fnet.NewOutbound(conn, c.cfg.WriteDeadline, c.l)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out.WriteLoop()
		return out.Err()
	})
	g.Go(func() error { return c.writeLoop(gctx, out) })
	g.Go(func() error { return c.readLoop(gctx, conn, rb) })
	g.Go(func() error { return c.watchdog(gctx) })

	go func() {
		<-gctx.Done()
		out.Close()
		_ = conn.Close() // unblock the reader
	}()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

// writeLoop stages runs of requests and hands their payloads to the
// outbound coalescer as one contiguous write.
func (c *Connection) writeLoop(ctx context.Context, out *fnet.Outbound) error {
	// Requests may have queued up before this connection existed.
	c.q.notify()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.q.wake:
		}

		for {
			run := c.q.nextToWrite(c.cfg.CoalesceRequests)
			if len(run) == 0 {
				break
			}

			c.q.markWriting(run)

			if len(run) == 1 && !run[0].req.coalesce {
				for _, f := range run[0].req.frames() {
					out.Enqueue(f)
					observability.ObserveWrite(len(f))
				}
			} else {
				frames := make([][]byte, 0, len(run))
				total := 0
				for _, p := range run {
					frames = append(frames, p.req.Payload())
					total += len(p.req.Payload())
				}
				out.EnqueueMulti(frames...)
				observability.ObserveWrite(total)
			}

			c.q.markWritten(run)

			if err := out.Err(); err != nil {
				return err
			}
		}
	}
}

// watchdog enqueues a PING every interval and trips the idle timeout when
// the server has been silent for two intervals.
func (c *Connection) watchdog(ctx context.Context) error {
	if c.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		idle := time.Since(time.Unix(0, c.lastRead.Load()))
		if idle >= 2*c.cfg.PingInterval {
			return fmt.Errorf("%w: no server data for %s", ErrIdleTimeout, idle.Round(time.Millisecond))
		}

		ping := NewRequest()
		ping.Push("PING", c.cfg.HealthCheckID)
		c.q.enqueue(newPending(ping, &resp3.Ignore{}))
	}
}
