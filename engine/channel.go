//go:build !windows

package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitrun/kitrun"
	"github.com/kitrun/kitrun/internal/procutil"
	"github.com/kitrun/kitrun/protocol"
)

// Registrar is the slice of the process registry the channel needs to keep
// the on-disk PID table honest. Satisfied by *registry.Registry.
type Registrar interface {
	Register(pid int, scriptPath string) error
	Unregister(pid int)
}

// Channel owns one running script: the child process, the stdout decode
// loop, the stdin write loop, and the stderr capture. It implements
// kitrun.Channel.
type Channel struct {
	script    kitrun.Script
	sessionID string
	opts      EngineOptions
	reg       Registrar

	cmd   *exec.Cmd
	stdin io.WriteCloser

	inbound  chan protocol.PromptMessage
	outbound chan protocol.Message

	cancelRead context.CancelFunc

	readDone   chan struct{} // closed when the decode loop returns
	stderrDone chan struct{}
	done       chan struct{} // closed exactly once by finish()
	termErr    error         // set by finish(), read after done closes

	stderrMu   sync.Mutex
	stderrTail []byte

	finishMu sync.Mutex
	finished bool
	finishFn func()

	stopping   atomic.Bool
	writeDead  atomic.Bool
	cancelOnce sync.Once
	closeOnce  sync.Once
	finishOnce sync.Once
}

var _ kitrun.Channel = (*Channel)(nil)

// newChannel wires a started command into a Channel and launches its
// loops. The caller has already registered the PID.
func newChannel(
	script kitrun.Script,
	sessionID string,
	opts EngineOptions,
	reg Registrar,
	cmd *exec.Cmd,
	stdin io.WriteCloser,
	stdout, stderr io.ReadCloser,
) *Channel {
	readCtx, cancelRead := context.WithCancel(context.Background())

	c := &Channel{
		script:     script,
		sessionID:  sessionID,
		opts:       opts,
		reg:        reg,
		cmd:        cmd,
		stdin:      stdin,
		inbound:    make(chan protocol.PromptMessage, opts.InboundBuffer),
		outbound:   make(chan protocol.Message, opts.OutboundBuffer),
		cancelRead: cancelRead,
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.captureStderr(stderr)
	go c.writeLoop()
	go c.readLoop(readCtx, stdout)
	return c
}

// Inbound returns the decoded prompt stream. Closed when the session ends.
func (c *Channel) Inbound() <-chan protocol.PromptMessage {
	return c.inbound
}

// PID returns the child's process ID, which is also its group ID.
func (c *Channel) PID() int {
	return c.cmd.Process.Pid
}

// SessionID returns the unique ID assigned to this session at Start.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// Send queues a response for the stdin writer. It never blocks: a full
// queue returns ErrChannelFull and the response is dropped, a finished or
// write-broken session returns ErrDisconnected.
func (c *Channel) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return kitrun.ErrDisconnected
	default:
	}
	if c.writeDead.Load() {
		return kitrun.ErrDisconnected
	}

	select {
	case c.outbound <- msg:
		return nil
	default:
		c.opts.Logger.Warn("outbound queue full, response dropped",
			"script", c.script.Path, "session", c.sessionID)
		return kitrun.ErrChannelFull
	}
}

// Close drops the child's stdin (EOF) and stops the loops. It never kills
// the child; a script that ignores EOF keeps running until Cancel.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close() // Best-effort: pipe may already be closed.
		c.writeDead.Store(true)
		c.cancelRead()
	})
	return nil
}

// Cancel performs the two-phase teardown. Phase one offers the script a
// cooperative exit message and waits up to the grace period for it to
// leave on its own. Phase two kills the process group, unconditionally,
// so a script that ignores the protocol still dies.
//
// Safe to call multiple times. Blocks until the session has ended or ctx
// is done.
func (c *Channel) Cancel(ctx context.Context) error {
	c.cancelOnce.Do(func() {
		c.stopping.Store(true)

		sendErr := c.Send(protocol.ExitMessage(1, "Cancelled by user"))
		if sendErr == nil {
			select {
			case <-c.readDone:
			case <-time.After(c.opts.GracePeriod):
			case <-ctx.Done():
			}
		}

		procutil.KillGroup(c.PID(), c.opts.GracePeriod)

		// Unblock the decode loop if it is parked on a full inbound
		// channel with no consumer left.
		c.cancelRead()
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the session ends. Returns nil on a clean exit.
func (c *Channel) Wait() error {
	<-c.done
	return c.termErr
}

// Err returns the terminal error, or nil while the session is running or
// after a clean exit.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.termErr
	default:
		return nil
	}
}

// OnFinish registers fn to run when the session ends, before Wait
// unblocks. Runs immediately when the session has already ended. The
// engine uses this to free the session slot, so a caller that observes
// Wait returning also observes the slot empty.
func (c *Channel) OnFinish(fn func()) {
	c.finishMu.Lock()
	if c.finished {
		c.finishMu.Unlock()
		fn()
		return
	}
	c.finishFn = fn
	c.finishMu.Unlock()
}

// finish sets the terminal error, runs the finish hook, and closes
// inbound+done. Called exactly once via sync.Once.
func (c *Channel) finish(err error) {
	c.finishOnce.Do(func() {
		c.termErr = err
		c.finishMu.Lock()
		c.finished = true
		fn := c.finishFn
		c.finishMu.Unlock()
		if fn != nil {
			fn()
		}
		close(c.inbound)
		close(c.done)
	})
}

// readLoop scans the child's stdout line by line and pumps decoded prompt
// messages into the inbound channel. It owns the reap: when the scan ends
// it waits on the child, builds the terminal error, and unregisters the
// PID.
func (c *Channel) readLoop(ctx context.Context, stdout io.ReadCloser) {
	scanErr := c.scanLines(ctx, stdout)
	if scanErr != nil {
		// The stream is unusable (read error); the child cannot be
		// allowed to outlive its channel.
		procutil.KillGroup(c.PID(), 0)
	}

	<-c.stderrDone
	waitErr := c.cmd.Wait()

	switch {
	case c.stopping.Load():
		waitErr = kitrun.ErrTerminated
	case scanErr != nil:
		waitErr = scanErr
	default:
		waitErr = c.wrapExit(waitErr)
	}

	c.reg.Unregister(c.PID())
	c.writeDead.Store(true)
	c.finish(waitErr)
	close(c.readDone)
}

// scanLines decodes stdout lines until EOF or ctx cancellation. Lines the
// codec rejects, and lines longer than ScannerBuffer, are logged and
// skipped; the session survives both, since a script mixing diagnostics
// into stdout is stray noise, not a protocol violation. The inbound send
// is deliberately blocking so no prompt is ever dropped: when the
// consumer stalls, the child's stdout backs up instead.
func (c *Channel) scanLines(ctx context.Context, stdout io.ReadCloser) error {
	reader := bufio.NewReaderSize(stdout, min(4096, c.opts.ScannerBuffer))
	line := make([]byte, 0, 256)
	oversized := false

	for {
		chunk, err := reader.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			oversized = len(line) > c.opts.ScannerBuffer
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		if oversized {
			c.opts.Logger.Warn("oversized line skipped",
				"script", c.script.Path, "session", c.sessionID,
				"limit", c.opts.ScannerBuffer)
		} else if trimmed := bytes.TrimRight(line, "\r\n"); len(trimmed) > 0 {
			msg, derr := protocol.DecodeLine(trimmed)
			if derr != nil {
				c.opts.Logger.Warn("undecodable line skipped",
					"script", c.script.Path, "session", c.sessionID, "err", derr)
			} else {
				select {
				case c.inbound <- msg:
				case <-ctx.Done():
					return nil
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		line = line[:0]
		oversized = false
	}
}

// writeLoop drains the outbound queue into the child's stdin. A write
// failure marks the channel disconnected; subsequent Sends fail fast.
func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			data, err := protocol.Encode(msg)
			if err != nil {
				c.opts.Logger.Warn("unencodable response dropped",
					"session", c.sessionID, "err", err)
				continue
			}
			if _, err := c.stdin.Write(data); err != nil {
				c.writeDead.Store(true)
				c.opts.Logger.Debug("stdin write failed",
					"session", c.sessionID, "err", err)
				return
			}
		}
	}
}

// captureStderr keeps the tail of the child's stderr for ExitError.
func (c *Channel) captureStderr(stderr io.ReadCloser) {
	defer close(c.stderrDone)

	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			c.stderrMu.Lock()
			c.stderrTail = append(c.stderrTail, buf[:n]...)
			if over := len(c.stderrTail) - c.opts.StderrLimit; over > 0 {
				c.stderrTail = c.stderrTail[over:]
			}
			c.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *Channel) stderrExcerpt() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return string(c.stderrTail)
}

// wrapExit converts a non-zero *exec.ExitError into *kitrun.ExitError with
// the captured stderr excerpt. nil → nil, non-ExitError → passthrough,
// code 0 → nil.
func (c *Channel) wrapExit(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &kitrun.ExitError{Code: code, Stderr: c.stderrExcerpt(), Err: err}
}
