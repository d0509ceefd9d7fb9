package outputstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

type fakeHandle struct {
	mu      sync.Mutex
	data    []byte
	running bool
}

func (h *fakeHandle) ID() string { return "fake" }
func (h *fakeHandle) Run(ctx context.Context, cmd string, timeoutMs int64) (sandbox.CommandResult, error) {
	return sandbox.CommandResult{}, nil
}
func (h *fakeHandle) WriteFile(ctx context.Context, path string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append([]byte(nil), data...)
	return nil
}
func (h *fakeHandle) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out, nil
}
func (h *fakeHandle) IsRunning(ctx context.Context) (bool, error) { return h.running, nil }
func (h *fakeHandle) Kill(ctx context.Context) error              { return nil }
func (h *fakeHandle) SetTimeout(ctx context.Context, ms int64) error { return nil }

func (h *fakeHandle) appendData(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, b...)
}

func TestStreamerEmitsChunksAsDataGrows(t *testing.T) {
	handle := &fakeHandle{running: true}
	s := New(handle, "/log", Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	handle.appendData([]byte("hello "))
	var gotHello bool
	deadline := time.After(2 * time.Second)
	for !gotHello {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventChunk && string(ev.Data) == "hello " {
				gotHello = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for first chunk")
		}
	}

	handle.appendData([]byte("world"))
	var gotWorld bool
	deadline = time.After(2 * time.Second)
	for !gotWorld {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventChunk && string(ev.Data) == "world" {
				gotWorld = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for second chunk")
		}
	}

	s.Stop()

	buffered := s.GetBufferedOutput()
	if string(buffered) != "hello world" {
		t.Errorf("expected buffered output %q, got %q", "hello world", string(buffered))
	}
}

func TestStreamerTruncatesOverCeiling(t *testing.T) {
	handle := &fakeHandle{running: true, data: []byte("abcdefghij")}
	s := New(handle, "/log", Config{PollInterval: 10 * time.Millisecond, MaxRemoteBytes: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var chunk []byte
loop:
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventChunk {
				chunk = ev.Data
				break loop
			}
		case <-deadline:
			t.Fatal("timed out waiting for truncated chunk")
		}
	}

	if len(chunk) > 5 {
		t.Errorf("expected truncated chunk of at most 5 bytes, got %d", len(chunk))
	}
	s.Stop()
}

func TestStreamerStopEmitsCompleteAndClosesChannel(t *testing.T) {
	handle := &fakeHandle{running: true}
	s := New(handle, "/log", Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()

	sawComplete := false
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				if !sawComplete {
					t.Fatal("channel closed before a complete event was observed")
				}
				return
			}
			if ev.Kind == EventComplete {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}
