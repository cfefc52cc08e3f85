// Package terminal provides the "terminal" session kind: a shell running
// on a pseudo-terminal. Output is emitted on pty:output and the shell's
// exit is reported on system:status.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Kind is the registry key for this adapter.
const Kind = "terminal"

const (
	readBufferSize = 4096
	defaultCols    = 80
	defaultRows    = 24
	killGrace      = 2 * time.Second
)

// Adapter spawns shells on a pty.
type Adapter struct {
	Shell  string
	Args   []string
	Env    []string
	logger *slog.Logger
}

// New creates a terminal adapter for shell.
func New(shell string, logger *slog.Logger) *Adapter {
	if shell == "" {
		shell = "/bin/sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{Shell: shell, logger: logger}
}

// Create starts the shell in opts.WorkspacePath.
func (a *Adapter) Create(_ context.Context, opts adapter.CreateOptions) (adapter.Process, error) {
	if opts.Events == nil {
		return nil, errors.New("terminal: event sink is required")
	}

	// The shell outlives the create request, so it must not be bound to ctx.
	cmd := exec.Command(a.Shell, a.Args...)
	cmd.Dir = opts.WorkspacePath
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "DISPATCH_SESSION_ID="+opts.SessionID)
	cmd.Env = append(cmd.Env, a.Env...)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", a.Shell, err)
	}

	p := &Process{
		cmd:    cmd,
		pty:    f,
		events: opts.Events,
		exited: make(chan struct{}),
		logger: a.logger.With("session_id", opts.SessionID, "pid", cmd.Process.Pid),
	}
	go p.readLoop()
	return p, nil
}

// Process is a shell attached to a pty.
type Process struct {
	cmd    *exec.Cmd
	pty    *os.File
	events adapter.Emitter
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	exited    chan struct{}
	exitCode  int
}

// readLoop forwards pty output until the shell exits, then reports the exit.
func (p *Process) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			ev, eerr := domain.NewEventInput(domain.ChannelPTYOutput, domain.EventTypeOutput, buf[:n])
			if eerr == nil {
				p.events.Emit(ev)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("pty read ended", "error", err)
			}
			break
		}
	}

	waitErr := p.cmd.Wait()
	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.exitCode = code
	close(p.exited)

	ev, err := domain.NewEventInput(domain.ChannelSystemStatus, domain.EventTypeExit, domain.StatusPayload{
		Status:   domain.SessionStatusStopped,
		ExitCode: &code,
	})
	if err == nil {
		p.events.Emit(ev)
	}
	p.logger.Info("shell exited", "exit_code", code)
}

// Input writes data to the pty.
func (p *Process) Input(_ context.Context, data string) error {
	select {
	case <-p.exited:
		return errors.New("terminal: shell has exited")
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.pty, data); err != nil {
		return fmt.Errorf("failed to write to pty: %w", err)
	}
	return nil
}

// PerformOperation supports "resize" with [cols, rows].
func (p *Process) PerformOperation(_ context.Context, name string, params []json.RawMessage) (interface{}, error) {
	if name != "resize" {
		return nil, adapter.ErrOperationUnsupported
	}
	if len(params) != 2 {
		return nil, fmt.Errorf("resize expects 2 params, got %d", len(params))
	}
	var cols, rows uint16
	if err := json.Unmarshal(params[0], &cols); err != nil {
		return nil, fmt.Errorf("invalid cols: %w", err)
	}
	if err := json.Unmarshal(params[1], &rows); err != nil {
		return nil, fmt.Errorf("invalid rows: %w", err)
	}
	if err := pty.Setsize(p.pty, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return nil, fmt.Errorf("failed to resize pty: %w", err)
	}
	return map[string]uint16{"cols": cols, "rows": rows}, nil
}

// Close hangs up the shell, killing it if it does not exit promptly.
func (p *Process) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		select {
		case <-p.exited:
			err = p.pty.Close()
			return
		default:
		}

		_ = p.cmd.Process.Signal(syscall.SIGHUP)
		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		select {
		case <-p.exited:
		case <-timer.C:
			if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to kill shell: %w", kerr)
			}
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
		}
		if cerr := p.pty.Close(); cerr != nil && err == nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// ExitCode returns the shell's exit code once it has exited.
func (p *Process) ExitCode() (int, bool) {
	select {
	case <-p.exited:
		return p.exitCode, true
	default:
		return 0, false
	}
}
