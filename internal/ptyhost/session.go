// Package ptyhost hosts one PTY-backed child process per pane: spawning it
// (component D's "process" concern, ported from the teacher's
// internal/terminal package), running it through a vt10x virtual terminal,
// and producing the dirty/full-state updates the shim server pushes to its
// attached client.
package ptyhost

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openmux/openmux/internal/archive"
	"github.com/openmux/openmux/internal/wire"
	"github.com/openmux/openmux/internal/workerutil"
)

// State is the PTY lifecycle state from spec §5: none -> running -> dead,
// with running <-> suspended as an independent flag while a session has no
// attached shim client flushing reads.
type State uint8

const (
	StateNone State = iota
	StateRunning
	StateDead
)

// Update is what a Session publishes after processing one chunk of PTY
// output: either an incremental dirty-row set or, when requested, a
// complete snapshot.
type Update struct {
	Cursor    wire.Cursor
	ModeFlags uint8
	Cols      int
	Rows      int
	IsFull    bool
	Dirty     map[int]wire.Row
	Full      *wire.FullState
	Scroll    wire.ScrollState
}

// Config configures a Session's child process and initial geometry.
type Config struct {
	Shell   string
	Args    []string
	Dir     string
	Env     []string
	Columns int
	Rows    int
}

// Session owns one PTY-backed process, its VT emulator, and its scrollback
// archive handle.
type Session struct {
	ID string

	mu    sync.Mutex
	state State

	suspended    bool
	title        string
	scrollOffset int

	proc *process
	emu  *emulator
	arc  *archive.Archive

	onUpdate func(Update)
	onExit   func(error)
	onTitle  func(string)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSession spawns the child process and starts its VT emulator and read
// pump. onUpdate/onTitle are invoked from the read-pump goroutine; callers
// must not block in them for long since doing so stalls PTY draining.
func NewSession(id string, cfg Config, arc *archive.Archive, onUpdate func(Update), onExit func(error), onTitle func(string)) (*Session, error) {
	proc, err := startProcess(ProcessConfig{
		Shell: cfg.Shell, Args: cfg.Args, Dir: cfg.Dir, Env: cfg.Env,
		Columns: cfg.Columns, Rows: cfg.Rows,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:       id,
		state:    StateRunning,
		proc:     proc,
		emu:      newEmulator(cfg.Columns, cfg.Rows),
		arc:      arc,
		onUpdate: onUpdate,
		onExit:   onExit,
		onTitle:  onTitle,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	workerutil.RunWithPanicRecovery(ctx, "ptyhost.readpump."+id, &s.wg, s.pump, workerutil.RecoveryOptions{
		MaxRetries: 1, // a panicked read pump means the PTY fd is in an unknown state; don't retry, surface exit instead
	})
	return s, nil
}

// pump drains PTY output until the process exits or ctx is cancelled.
func (s *Session) pump(ctx context.Context) {
	exitErr := make(chan error, 1)
	go func() {
		s.proc.ReadLoop(s.handleOutput)
		exitErr <- nil
	}()

	select {
	case <-ctx.Done():
	case <-exitErr:
		waitErr := s.proc.Wait()
		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()
		if s.onExit != nil {
			s.onExit(waitErr)
		}
	}
}

func (s *Session) handleOutput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title, ok := scanOSCTitle(data); ok && title != s.title {
		s.title = title
		if s.onTitle != nil {
			s.onTitle(title)
		}
	}

	dirty, scrolled := s.emu.Write(data)

	if len(scrolled) > 0 && s.arc != nil {
		if err := s.arc.Append(scrolled); err != nil {
			slog.Warn("[ptyhost] archive append failed", "ptyId", s.ID, "error", err)
		}
	}

	if s.suspended || len(dirty) == 0 || s.onUpdate == nil {
		return
	}

	full := s.emu.FullState()
	s.onUpdate(Update{
		Cursor:    full.Cursor,
		ModeFlags: full.ModeFlags,
		Cols:      full.Cols,
		Rows:      full.Rows,
		Dirty:     dirty,
		Scroll:    s.scrollStateLocked(),
	})
}

// scrollStateLocked computes the PTY's current scroll position; callers
// must hold s.mu.
func (s *Session) scrollStateLocked() wire.ScrollState {
	length := 0
	if s.arc != nil {
		length = s.arc.Length()
	}
	return wire.ScrollState{
		ViewportOffset:   s.scrollOffset,
		ScrollbackLength: length,
		IsAtBottom:       s.scrollOffset == 0,
	}
}

// ScrollState reports the PTY's current scrollback viewport position.
func (s *Session) ScrollState() wire.ScrollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollStateLocked()
}

// SetScrollOffset moves the scrollback viewport to offset lines back from
// live (0 = bottom), clamped to [0, scrollbackLength], and returns the
// resulting state.
func (s *Session) SetScrollOffset(offset int) wire.ScrollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	length := 0
	if s.arc != nil {
		length = s.arc.Length()
	}
	if offset > length {
		offset = length
	}
	s.scrollOffset = offset
	return s.scrollStateLocked()
}

// WriteInput forwards input bytes to the child process's PTY.
func (s *Session) WriteInput(data []byte) (int, error) {
	return s.proc.Write(data)
}

// Resize updates both the child PTY's window size and the VT emulator's
// dimensions.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
	return s.proc.Resize(cols, rows)
}

// Suspend stops publishing incremental updates (the PTY keeps running and
// its output keeps reaching the VT emulator and archive; only the
// onUpdate callback is paused) — used when no shim client is attached.
func (s *Session) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume re-enables onUpdate delivery and returns a full snapshot so the
// newly (re)attached client can rebuild its state from scratch.
func (s *Session) Resume() wire.FullState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
	return s.emu.FullState()
}

// FullState returns a complete snapshot without changing suspend state.
func (s *Session) FullState() wire.FullState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.FullState()
}

// State reports the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Title returns the most recently observed OSC title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// PID returns the child process's OS process id.
func (s *Session) PID() int {
	return s.proc.PID()
}

// Close terminates the child process and stops the read pump.
func (s *Session) Close() error {
	s.cancel()
	err := s.proc.Close()
	s.wg.Wait()
	s.mu.Lock()
	s.state = StateDead
	s.mu.Unlock()
	return err
}
