package ptyhost

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// ProcessConfig configures the child process backing a pane.
type ProcessConfig struct {
	Shell   string
	Args    []string
	Dir     string
	Env     []string
	Columns int
	Rows    int
}

// process wraps one spawned child: a real PTY when available, falling back
// to plain pipes when the platform PTY call fails.
//
// SECURITY: cfg.Shell and cfg.Args are trusted values assembled by internal
// session-creation code, never raw user input forwarded verbatim.
type process struct {
	mu       sync.RWMutex
	cmd      *exec.Cmd
	ptmx     *os.File
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	closed   bool
	closeErr error
}

func startProcess(cfg ProcessConfig) (*process, error) {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if cfg.Columns <= 0 {
		cfg.Columns = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}

	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Columns),
		Rows: uint16(cfg.Rows),
	})
	if err == nil {
		return &process{cmd: cmd, ptmx: ptmx}, nil
	}
	if !errors.Is(err, pty.ErrUnsupported) {
		return nil, err
	}

	slog.Warn("[ptyhost] PTY unsupported on this platform, falling back to pipes")
	return startPipeProcess(cmd)
}

func startPipeProcess(cmd *exec.Cmd) (*process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, err
	}
	return &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Wait blocks until the child process exits and returns its exit error (nil
// on a clean zero-status exit), mirroring exec.Cmd.Wait's contract.
func (p *process) Wait() error {
	p.mu.RLock()
	cmd := p.cmd
	p.mu.RUnlock()
	if cmd == nil {
		return nil
	}
	return cmd.Wait()
}

func (p *process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *process) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, errors.New("ptyhost: process closed")
	}
	if p.ptmx != nil {
		return p.ptmx.Write(data)
	}
	if p.stdin == nil {
		return 0, errors.New("ptyhost: stdin unavailable")
	}
	return p.stdin.Write(data)
}

func (p *process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errors.New("ptyhost: invalid size")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("ptyhost: process closed")
	}
	if p.ptmx == nil {
		return nil // pipe-mode fallback has no PTY resize
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// ReadLoop blocks, delivering output chunks to onData until the process's
// output stream(s) close. onData must consume the bytes synchronously: the
// backing buffer is reused on the next read.
func (p *process) ReadLoop(onData func([]byte)) {
	p.mu.RLock()
	ptmx := p.ptmx
	stdout := p.stdout
	stderr := p.stderr
	p.mu.RUnlock()

	if ptmx != nil {
		readSource(ptmx, onData)
		return
	}

	var wg sync.WaitGroup
	if stdout != nil {
		wg.Add(1)
		go func() { defer wg.Done(); readSource(stdout, onData) }()
	}
	if stderr != nil {
		wg.Add(1)
		go func() { defer wg.Done(); readSource(stderr, onData) }()
	}
	wg.Wait()
}

func readSource(r io.Reader, onData func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closeErr
	}
	p.closed = true

	var firstErr error
	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("[ptyhost] process kill during close failed", "error", err)
		}
	}
	if p.ptmx != nil {
		if err := p.ptmx.Close(); err != nil {
			firstErr = err
		}
	}
	if p.stdin != nil {
		if err := p.stdin.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.stdout != nil {
		if err := p.stdout.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.stderr != nil {
		if err := p.stderr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closeErr = firstErr
	return firstErr
}
