package client

import "errors"

var (
	// ErrResolveTimeout means host resolution did not finish in time.
	ErrResolveTimeout = errors.New("resolve timeout")

	// ErrConnectTimeout means the TCP connect did not finish in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrIdleTimeout means the server sent nothing for two ping intervals
	// while a health check was outstanding.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrCancelled reports that an operation was cancelled by the caller or
	// by connection teardown. It is not a protocol failure.
	ErrCancelled = errors.New("cancelled")

	// ErrEOF means the server closed the connection. After a QUIT this is
	// the expected termination.
	ErrEOF = errors.New("server closed the connection")

	// ErrConnClosed means the connection engine has been stopped.
	ErrConnClosed = errors.New("connection closed")

	// ErrNotConnected is returned for requests flagged CancelIfNotConnected
	// while the engine is not running.
	ErrNotConnected = errors.New("not connected")

	// ErrHandshake means the HELLO exchange failed. The failure is fatal:
	// no reconnect is attempted.
	ErrHandshake = errors.New("handshake failed")

	// ErrEmptyRequest is returned by Exec for a request with no commands.
	ErrEmptyRequest = errors.New("empty request")

	// ErrRunning is returned by Run when the engine is already running.
	ErrRunning = errors.New("already running")
)
