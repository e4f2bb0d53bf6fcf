package client_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValerySidorin/raiden/client"
	"github.com/ValerySidorin/raiden/resp3"
)

const helloReply = "%1\r\n$5\r\nproto\r\n:3\r\n"

// srvConn wraps one accepted connection of the scripted test server.
type srvConn struct {
	conn net.Conn
	br   *bufio.Reader
}

// readCommand parses one inbound command array of blob strings.
func (s *srvConn) readCommand() ([]string, error) {
	line, err := s.br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if len(line) < 2 || line[0] != '*' {
		return nil, fmt.Errorf("bad command header %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}

	cmd := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sz, err := s.br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sz = strings.TrimSuffix(strings.TrimSuffix(sz, "\n"), "\r")
		if len(sz) < 2 || sz[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", sz)
		}
		l, err := strconv.Atoi(sz[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, l+2)
		if _, err := ioReadFull(s.br, buf); err != nil {
			return nil, err
		}
		cmd = append(cmd, string(buf[:l]))
	}
	return cmd, nil
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *srvConn) write(raw string) {
	_, _ = s.conn.Write([]byte(raw))
}

func (s *srvConn) bulk(v string) {
	s.write(fmt.Sprintf("$%d\r\n%s\r\n", len(v), v))
}

type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T, handler func(s *srvConn)) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(&srvConn{conn: conn, br: bufio.NewReader(conn)})
			}()
		}
	}()

	return &fakeServer{ln: ln}
}

// echo serves HELLO, PING, SET, GET, QUIT, SUBSCRIBE and NOTIFY until the
// peer goes away.
func echo(s *srvConn) {
	for {
		cmd, err := s.readCommand()
		if err != nil {
			return
		}
		if !serveOne(s, cmd) {
			return
		}
	}
}

func serveOne(s *srvConn, cmd []string) bool {
	switch strings.ToUpper(cmd[0]) {
	case "HELLO":
		s.write(helloReply)
	case "PING":
		if len(cmd) > 1 {
			s.bulk(cmd[1])
		} else {
			s.write("+PONG\r\n")
		}
	case "SET":
		s.write("+OK\r\n")
	case "GET":
		s.bulk("value")
	case "NOTIFY":
		// Inject a push frame ahead of the command's own reply.
		s.write(">2\r\n$7\r\nmessage\r\n$5\r\nhello\r\n")
		s.write("+OK\r\n")
	case "SUBSCRIBE":
		s.write(fmt.Sprintf(">3\r\n$9\r\nsubscribe\r\n$%d\r\n%s\r\n:1\r\n", len(cmd[1]), cmd[1]))
	case "QUIT":
		s.write("+OK\r\n")
		s.conn.Close()
		return false
	default:
		s.write("-ERR unknown command\r\n")
	}
	return true
}

func testConfig(t *testing.T, fs *fakeServer) client.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(fs.ln.Addr().String())
	require.NoError(t, err)

	c := client.DefaultConfig()
	c.Host = host
	c.Port = port
	c.PingInterval = 5 * time.Second // keep the watchdog out of short tests
	c.EnableReconnect = false
	c.ReconnectInterval = 100 * time.Millisecond
	return c
}

func startConn(t *testing.T, cfg client.Config) (*client.Connection, <-chan error) {
	t.Helper()

	conn, err := client.New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background()) }()

	t.Cleanup(func() {
		conn.Cancel(client.OpRun)
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Cancel(OpRun)")
		}
	})

	require.Eventually(t, func() bool {
		return conn.State() == client.StateRunning
	}, 5*time.Second, 5*time.Millisecond, "engine never reached running")

	return conn, runErr
}

func TestExecSimple(t *testing.T) {
	fs := newFakeServer(t, echo)
	conn, _ := startConn(t, testConfig(t, fs))

	req := client.NewRequest()
	req.Push("PING")

	var pong resp3.AsString
	n, err := conn.Exec(context.Background(), req, &pong)
	require.NoError(t, err)
	assert.Equal(t, len("+PONG\r\n"), n)

	v, err := pong.Value()
	require.NoError(t, err)
	assert.Equal(t, "PONG", v)
}

func TestExecComposedPipeline(t *testing.T) {
	fs := newFakeServer(t, echo)
	conn, _ := startConn(t, testConfig(t, fs))

	req := client.NewRequest()
	req.Push("SET", "k", "v")
	req.Push("GET", "k")
	req.Push("PING")

	var status, value, pong resp3.AsString
	_, err := conn.Exec(context.Background(), req, resp3.NewComposed(&status, &value, &pong))
	require.NoError(t, err)

	s, _ := status.Value()
	v, _ := value.Value()
	p, _ := pong.Value()
	assert.Equal(t, []string{"OK", "value", "PONG"}, []string{s, v, p})
}

// Requests enqueued first complete first, even when their replies are
// delayed behind later enqueues.
func TestExecOrderAcrossRequests(t *testing.T) {
	fs := newFakeServer(t, func(s *srvConn) {
		for {
			cmd, err := s.readCommand()
			if err != nil {
				return
			}
			if strings.ToUpper(cmd[0]) == "PING" && len(cmd) > 1 {
				time.Sleep(30 * time.Millisecond)
			}
			if !serveOne(s, cmd) {
				return
			}
		}
	})
	conn, _ := startConn(t, testConfig(t, fs))

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)

	for _, id := range []string{"a", "b", "c"} {
		req := client.NewRequest()
		req.Push("PING", id)

		wg.Add(1)
		go func(id string, req *client.Request) {
			defer wg.Done()
			var got resp3.AsString
			_, err := conn.Exec(context.Background(), req, &got)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(id, req)

		time.Sleep(10 * time.Millisecond) // deterministic enqueue order
	}

	wg.Wait()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPushDuringPipeline(t *testing.T) {
	fs := newFakeServer(t, echo)
	cfg := testConfig(t, fs)
	conn, _ := startConn(t, cfg)

	req := client.NewRequest()
	req.Push("NOTIFY")

	var ok resp3.AsString
	_, err := conn.Exec(context.Background(), req, &ok)
	require.NoError(t, err)

	v, err := ok.Value()
	require.NoError(t, err)
	assert.Equal(t, "OK", v, "reply still matched its request with a push in between")

	flat := &resp3.Flat{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Receive(ctx, flat))

	var leaves []string
	for _, n := range flat.Nodes {
		if !n.Type.IsAggregate() {
			leaves = append(leaves, string(n.Value))
		}
	}
	assert.Equal(t, []string{"message", "hello"}, leaves)
}

func TestSubscribeFireAndForget(t *testing.T) {
	fs := newFakeServer(t, echo)
	conn, _ := startConn(t, testConfig(t, fs))

	req := client.NewRequest()
	req.Push("SUBSCRIBE", "events")

	// No in-band reply: the future resolves once the command is written.
	_, err := conn.Exec(context.Background(), req, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, recvErr := receiveOne(ctx, conn)
	require.NoError(t, recvErr)
	assert.Equal(t, []string{"subscribe", "events", "1"}, p)
}

func receiveOne(ctx context.Context, conn *client.Connection) ([]string, error) {
	flat := &resp3.Flat{}
	if err := conn.Receive(ctx, flat); err != nil {
		return nil, err
	}
	var leaves []string
	for _, n := range flat.Nodes {
		if !n.Type.IsAggregate() {
			leaves = append(leaves, string(n.Value))
		}
	}
	return leaves, nil
}

func TestIdleTimeout(t *testing.T) {
	fs := newFakeServer(t, func(s *srvConn) {
		cmd, err := s.readCommand()
		if err != nil || strings.ToUpper(cmd[0]) != "HELLO" {
			return
		}
		s.write(helloReply)
		// Swallow everything, answer nothing.
		for {
			if _, err := s.readCommand(); err != nil {
				return
			}
		}
	})

	cfg := testConfig(t, fs)
	cfg.PingInterval = 100 * time.Millisecond

	conn, err := client.New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background()) }()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, client.ErrIdleTimeout)
	case <-time.After(3 * time.Second):
		conn.Cancel(client.OpRun)
		t.Fatal("idle timeout did not trip")
	}
	assert.Equal(t, client.StateStopped, conn.State())
}

func TestReconnect(t *testing.T) {
	var conns atomic.Int32
	fs := newFakeServer(t, func(s *srvConn) {
		n := conns.Add(1)
		cmd, err := s.readCommand()
		if err != nil || strings.ToUpper(cmd[0]) != "HELLO" {
			return
		}
		s.write(helloReply)

		if n == 1 {
			// Die on the first command without replying.
			_, _ = s.readCommand()
			s.conn.Close()
			return
		}
		echoAfterHello(s)
	})

	cfg := testConfig(t, fs)
	cfg.EnableReconnect = true

	conn, _ := startConn(t, cfg)

	req := client.NewRequest()
	req.Push("PING")
	_, err := conn.Exec(context.Background(), req, nil)
	require.ErrorIs(t, err, client.ErrEOF, "request written to the dying connection is cancelled, not retried")

	require.Eventually(t, func() bool {
		return conns.Load() >= 2 && conn.State() == client.StateRunning
	}, 5*time.Second, 10*time.Millisecond, "engine did not re-establish the connection")

	req2 := client.NewRequest()
	req2.Push("PING")
	var pong resp3.AsString
	_, err = conn.Exec(context.Background(), req2, &pong)
	require.NoError(t, err)
	v, _ := pong.Value()
	assert.Equal(t, "PONG", v)
}

func echoAfterHello(s *srvConn) {
	for {
		cmd, err := s.readCommand()
		if err != nil {
			return
		}
		if !serveOne(s, cmd) {
			return
		}
	}
}

func TestQuitEOF(t *testing.T) {
	fs := newFakeServer(t, echo)
	cfg := testConfig(t, fs)

	conn, err := client.New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return conn.State() == client.StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	req := client.NewRequest()
	req.Push("QUIT")
	var ok resp3.AsString
	_, err = conn.Exec(context.Background(), req, &ok)
	require.NoError(t, err)
	v, _ := ok.Value()
	assert.Equal(t, "OK", v)

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, client.ErrEOF)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not observe the server close")
	}
}

func TestExecContextCancellation(t *testing.T) {
	fs := newFakeServer(t, func(s *srvConn) {
		cmd, err := s.readCommand()
		if err != nil {
			return
		}
		if strings.ToUpper(cmd[0]) == "HELLO" {
			s.write(helloReply)
		}
		for {
			if _, err := s.readCommand(); err != nil {
				return
			}
		}
	})
	conn, _ := startConn(t, testConfig(t, fs))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := client.NewRequest()
	req.Push("PING")
	_, err := conn.Exec(ctx, req, nil)
	require.ErrorIs(t, err, client.ErrCancelled)
}

func TestCancelExec(t *testing.T) {
	fs := newFakeServer(t, func(s *srvConn) {
		cmd, err := s.readCommand()
		if err != nil {
			return
		}
		if strings.ToUpper(cmd[0]) == "HELLO" {
			s.write(helloReply)
		}
		for {
			if _, err := s.readCommand(); err != nil {
				return
			}
		}
	})
	conn, _ := startConn(t, testConfig(t, fs))

	done := make(chan error, 1)
	go func() {
		req := client.NewRequest()
		req.Push("PING")
		_, err := conn.Exec(context.Background(), req, nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Cancel(client.OpExec)

	select {
	case err := <-done:
		require.ErrorIs(t, err, client.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not observe Cancel(OpExec)")
	}
}

func TestCancelReceivePush(t *testing.T) {
	fs := newFakeServer(t, echo)
	conn, _ := startConn(t, testConfig(t, fs))

	done := make(chan error, 1)
	go func() {
		done <- conn.Receive(context.Background(), nil)
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Cancel(client.OpReceivePush)

	select {
	case err := <-done:
		require.ErrorIs(t, err, client.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not observe Cancel(OpReceivePush)")
	}

	// Pushes arriving after cancellation are discarded but counted.
	req := client.NewRequest()
	req.Push("SUBSCRIBE", "events")
	_, err := conn.Exec(context.Background(), req, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return conn.PushesDropped() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecCancelIfNotConnected(t *testing.T) {
	cfg := client.DefaultConfig()
	cfg.Port = "0" // never dialed

	conn, err := client.New(cfg)
	require.NoError(t, err)

	req := client.NewRequest(client.WithCancelIfNotConnected())
	req.Push("PING")

	_, err = conn.Exec(context.Background(), req, nil)
	require.ErrorIs(t, err, client.ErrNotConnected)
}

func TestRunTwice(t *testing.T) {
	fs := newFakeServer(t, echo)
	conn, _ := startConn(t, testConfig(t, fs))

	err := conn.Run(context.Background())
	require.ErrorIs(t, err, client.ErrRunning)
}

func TestHandshakeFailureIsFatal(t *testing.T) {
	fs := newFakeServer(t, func(s *srvConn) {
		if _, err := s.readCommand(); err != nil {
			return
		}
		s.write("-ERR unsupported protocol version\r\n")
	})

	cfg := testConfig(t, fs)
	cfg.EnableReconnect = true // fatal even with reconnection enabled

	conn, err := client.New(cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background()) }()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, client.ErrHandshake)
	case <-time.After(3 * time.Second):
		conn.Cancel(client.OpRun)
		t.Fatal("handshake failure did not stop the engine")
	}
}
