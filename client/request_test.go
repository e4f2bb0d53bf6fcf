package client

import (
	"strings"
	"testing"
)

func TestRequestPush(t *testing.T) {
	r := NewRequest()
	r.Push("PING")

	want := "*1\r\n$4\r\nPING\r\n"
	if string(r.Payload()) != want {
		t.Errorf("payload = %q, want %q", r.Payload(), want)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.ResponseCount() != 1 {
		t.Errorf("ResponseCount() = %d, want 1", r.ResponseCount())
	}
}

func TestRequestPushRange(t *testing.T) {
	r := NewRequest()
	r.PushRange("HSET", "key", "f1", "v1", "f2", "v2")

	want := "*6\r\n$4\r\nHSET\r\n$3\r\nkey\r\n$2\r\nf1\r\n$2\r\nv1\r\n$2\r\nf2\r\n$2\r\nv2\r\n"
	if string(r.Payload()) != want {
		t.Errorf("payload = %q, want %q", r.Payload(), want)
	}
}

func TestRequestNoResponseCommands(t *testing.T) {
	r := NewRequest()
	r.Push("SUBSCRIBE", "ch1")
	r.Push("subscribe", "ch2") // case insensitive
	r.Push("PING")

	if got := r.ResponseCount(); got != 1 {
		t.Errorf("ResponseCount() = %d, want 1", got)
	}
}

func TestRequestHelloPriority(t *testing.T) {
	r := NewRequest()
	r.Push("GET", "k")
	if r.helloPriority {
		t.Fatal("helloPriority set without HELLO")
	}

	r.Push("HELLO", 3)
	if !r.helloPriority {
		t.Fatal("helloPriority not set")
	}

	r.Clear()
	if r.helloPriority || r.Len() != 0 || len(r.Payload()) != 0 {
		t.Fatal("Clear did not reset the request")
	}
}

func TestRequestFrames(t *testing.T) {
	r := NewRequest(WithoutCoalescing())
	r.Push("PING")
	r.Push("GET", "k")

	frames := r.frames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	joined := string(frames[0]) + string(frames[1])
	if joined != string(r.Payload()) {
		t.Errorf("frames do not cover the payload")
	}
	if !strings.HasPrefix(string(frames[1]), "*2\r\n$3\r\nGET\r\n") {
		t.Errorf("second frame = %q", frames[1])
	}
}

func TestRequestOptions(t *testing.T) {
	r := NewRequest()
	if !r.coalesce || !r.retryOnCancel || r.cancelIfNotConnected {
		t.Fatal("unexpected defaults")
	}

	r = NewRequest(WithoutCoalescing(), WithRetryOnCancel(false), WithCancelIfNotConnected())
	if r.coalesce || r.retryOnCancel || !r.cancelIfNotConnected {
		t.Fatal("options not applied")
	}
}
