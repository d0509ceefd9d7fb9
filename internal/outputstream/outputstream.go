// Package outputstream implements the Output Streamer (spec.md §4.7): a
// polling reader of a remote log file that maintains a bounded in-memory
// tail and an optional local mirror, re-architected from the source
// design's event-emitter into a Go channel of chunk messages closed by a
// sentinel on Stop.
package outputstream

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

// EventKind distinguishes the three event shapes emitted on the stream
// channel.
type EventKind string

const (
	EventChunk    EventKind = "chunk"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// StreamEvent is sent on Streamer.Events for each poll tick, plus one
// final EventComplete on Stop.
type StreamEvent struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Config tunes the Streamer's poll cadence, truncation ceiling, and
// buffering.
type Config struct {
	PollInterval    time.Duration
	MaxRemoteBytes  int64
	RingBufferBytes int
	LocalMirrorPath string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxRemoteBytes <= 0 {
		c.MaxRemoteBytes = 100 * 1024 * 1024
	}
	if c.RingBufferBytes <= 0 {
		c.RingBufferBytes = 50 * 1024
	}
	return c
}

// Streamer polls a remote log file inside a sandbox and republishes its
// growth as a channel of StreamEvents.
type Streamer struct {
	handle     sandbox.Handle
	remotePath string
	cfg        Config

	mu         sync.Mutex
	offset     int64
	ring       []byte
	mirrorFile *os.File

	events  chan StreamEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	watcher *fsnotify.Watcher

	// FileChanges surfaces local-mirror-file change notifications as an
	// additional, non-required consumption path alongside Events.
	FileChanges <-chan string
	fileChanges chan string
}

// New constructs a Streamer against handle, polling remotePath.
func New(handle sandbox.Handle, remotePath string, cfg Config) *Streamer {
	cfg = cfg.withDefaults()
	fc := make(chan string, 16)
	s := &Streamer{
		handle:      handle,
		remotePath:  remotePath,
		cfg:         cfg,
		events:      make(chan StreamEvent, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		fileChanges: fc,
		FileChanges: fc,
	}
	return s
}

// Events returns the channel StreamEvents are published on. It is closed
// after the final EventComplete.
func (s *Streamer) Events() <-chan StreamEvent { return s.events }

// Start opens the optional local mirror file and watcher, then begins
// the poll loop in a background goroutine.
func (s *Streamer) Start(ctx context.Context) error {
	if s.cfg.LocalMirrorPath != "" {
		f, err := os.OpenFile(s.cfg.LocalMirrorPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("outputstream: open local mirror: %w", err)
		}
		s.mirrorFile = f

		if watcher, err := fsnotify.NewWatcher(); err == nil {
			if err := watcher.Add(s.cfg.LocalMirrorPath); err == nil {
				s.watcher = watcher
				go s.watchMirror()
			} else {
				watcher.Close()
			}
		}
	}

	go s.pollLoop(ctx)
	return nil
}

func (s *Streamer) watchMirror() {
	for {
		select {
		case <-s.doneCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			select {
			case s.fileChanges <- event.Name:
			default:
			}
		case <-s.watcher.Errors:
		}
	}
}

func (s *Streamer) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx)
			return
		case <-s.stopCh:
			s.finish(ctx)
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Streamer) tick(ctx context.Context) {
	running, err := s.handle.IsRunning(ctx)
	if err != nil {
		s.emitError(err)
		return
	}
	if !running {
		return
	}

	data, err := s.handle.ReadFile(ctx, s.remotePath)
	if err != nil {
		s.emitError(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(len(data)) > s.cfg.MaxRemoteBytes {
		dropped := int64(len(data)) - s.cfg.MaxRemoteBytes
		truncated := data[dropped:]
		if writeErr := s.handle.WriteFile(ctx, s.remotePath, truncated); writeErr == nil {
			data = truncated
			s.offset -= dropped
			if s.offset < 0 {
				s.offset = 0
			}
		}
	}

	if int64(len(data)) < s.offset {
		s.offset = 0
	}

	chunk := data[s.offset:]
	s.offset = int64(len(data))
	if len(chunk) == 0 {
		return
	}

	s.appendRing(chunk)
	if s.mirrorFile != nil {
		_, _ = s.mirrorFile.Write(chunk)
	}

	select {
	case s.events <- StreamEvent{Kind: EventChunk, Data: chunk}:
	default:
	}
}

func (s *Streamer) appendRing(chunk []byte) {
	s.ring = append(s.ring, chunk...)
	if len(s.ring) > s.cfg.RingBufferBytes {
		s.ring = s.ring[len(s.ring)-s.cfg.RingBufferBytes:]
	}
}

func (s *Streamer) emitError(err error) {
	select {
	case s.events <- StreamEvent{Kind: EventError, Err: err}:
	default:
	}
}

func (s *Streamer) finish(ctx context.Context) {
	s.tick(ctx)
	s.events <- StreamEvent{Kind: EventComplete}
	close(s.events)
	close(s.doneCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.mirrorFile != nil {
		s.mirrorFile.Close()
	}
}

// Stop signals the poll loop to perform one final tick, emit complete,
// and close Events. Safe to call exactly once.
func (s *Streamer) Stop() {
	close(s.stopCh)
}

// GetBufferedOutput returns the bounded in-memory ring's current
// contents.
func (s *Streamer) GetBufferedOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.ring))
	copy(out, s.ring)
	return out
}

// GetFullOutput reads the local mirror file if one was configured.
func (s *Streamer) GetFullOutput() ([]byte, error) {
	if s.cfg.LocalMirrorPath == "" {
		return nil, fmt.Errorf("outputstream: no local mirror configured")
	}
	return os.ReadFile(s.cfg.LocalMirrorPath)
}
