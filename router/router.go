// Package router turns the raw prompt stream of a script session into a
// small state machine a UI can follow.
//
// A [Router] owns one session. It tracks which prompt is on screen,
// guarantees exactly one response per prompt id, answers the protocol
// handshake itself, and converts every way a session can end (protocol
// exit, crash, broken pipe) into a single terminal event.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kitrun/kitrun"
	"github.com/kitrun/kitrun/protocol"
)

// teardownTimeout bounds the kill triggered by an exit message or a
// broken channel.
const teardownTimeout = 10 * time.Second

// capabilities advertised in the handshake ack.
var capabilities = []string{
	"arg", "select", "path", "env", "editor", "term", "chat", "form", "div", "run",
}

// State is the router's position in the prompt conversation.
type State int

const (
	// Idle: no prompt awaits an answer.
	Idle State = iota
	// Running: a prompt is on screen, identified by Kind and ID.
	Running
)

// EventKind discriminates UI events.
type EventKind int

const (
	// EventPrompt: render the prompt carried in Event.Prompt.
	EventPrompt EventKind = iota
	// EventNotice: show a fire-and-forget notification.
	EventNotice
	// EventEnded: the session is over; the slot is free again.
	EventEnded
)

// Event is one instruction to the UI layer. Events arrive on a channel so
// the UI shares no state with the router goroutine.
type Event struct {
	Kind   EventKind
	Prompt protocol.PromptMessage // EventPrompt
	Notice protocol.Notify        // EventNotice

	// EventEnded fields.
	Code    int
	Message string
}

// Terminator tears down the active session: slot emptied, group killed,
// registry cleaned. Satisfied by the engine facade.
type Terminator interface {
	Cancel(ctx context.Context) error
}

// Router drives one session. Create with New; consume Events until it
// closes.
type Router struct {
	ch     kitrun.Channel
	term   Terminator
	log    *slog.Logger
	events chan Event

	mu       sync.Mutex
	state    State
	kind     protocol.Kind
	id       string
	answered map[string]bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// New wires a router onto an active session and starts its event loop.
func New(ch kitrun.Channel, term Terminator, opts ...Option) *Router {
	r := &Router{
		ch:       ch,
		term:     term,
		log:      slog.Default(),
		events:   make(chan Event, 16),
		answered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Events returns the UI event stream. Closed after EventEnded.
func (r *Router) Events() <-chan Event {
	return r.events
}

// State returns the current state and, when Running, the active prompt's
// kind and id.
func (r *Router) State() (State, protocol.Kind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.kind, r.id
}

// Submit answers the active prompt with value. A prompt id is answered at
// most once: submitting an already-answered id is a no-op. Returns
// ErrChannelFull when the response was dropped (the caller may re-offer)
// and ErrDisconnected when the session is gone, in which case teardown is
// already underway.
func (r *Router) Submit(value string) error {
	return r.respond(func(id string) protocol.Message {
		return protocol.Submit(id, value)
	})
}

// Cancel declines the active prompt with a null-valued response. The
// channel stays open; the script decides what a declined prompt means.
func (r *Router) Cancel() error {
	return r.respond(func(id string) protocol.Message {
		return protocol.Cancel(id)
	})
}

// Stop ends the whole session via the two-phase teardown.
func (r *Router) Stop(ctx context.Context) error {
	return r.term.Cancel(ctx)
}

func (r *Router) respond(build func(id string) protocol.Message) error {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return nil
	}
	id := r.id
	if r.answered[id] {
		r.mu.Unlock()
		return nil
	}
	// Claim the id before sending so concurrent responds for the same
	// prompt cannot both pass the check and answer twice.
	r.answered[id] = true
	r.mu.Unlock()

	err := r.ch.Send(build(id))
	if err != nil {
		// The response never reached the script; give the id back so
		// the caller can retry.
		r.mu.Lock()
		delete(r.answered, id)
		r.mu.Unlock()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kitrun.ErrDisconnected):
		// Equivalent to the script announcing exit; the loop observes
		// the closed inbound stream and finishes the teardown.
		return err
	default:
		return err
	}
}

// loop consumes the inbound stream until the session ends, then performs
// the unconditional teardown and emits the terminal event.
func (r *Router) loop() {
	for msg := range r.ch.Inbound() {
		switch {
		case msg.Type == protocol.KindExit:
			code, _ := msg.ExitCode()
			reason := ""
			if msg.Exit != nil {
				reason = msg.Exit.Message
			}
			r.end(code, reason)
			return

		case msg.Type == protocol.KindHello:
			if err := r.ch.Send(protocol.HelloAck(capabilities...)); err != nil {
				r.log.Warn("handshake ack failed", "err", err)
			}

		case msg.Type == protocol.KindNotify:
			var n protocol.Notify
			if msg.Notify != nil {
				n = *msg.Notify
			}
			r.events <- Event{Kind: EventNotice, Notice: n}

		case msg.RequiresResponse():
			r.mu.Lock()
			// Latest prompt wins: a script that re-prompts before the
			// user answers simply replaces what is on screen.
			r.state = Running
			r.kind = msg.Type
			r.id = msg.ID
			r.mu.Unlock()
			r.events <- Event{Kind: EventPrompt, Prompt: msg}
		}
	}

	// Inbound closed without a protocol exit: crash, kill, or broken
	// pipe. Treated exactly like an exit announcing a closed channel.
	code := 0
	var ee *kitrun.ExitError
	if err := r.ch.Err(); errors.As(err, &ee) {
		code = ee.Code
	} else if err != nil {
		code = 1
	}
	r.end(code, "channel closed")
}

// end performs the unconditional teardown and emits the terminal event.
// By the time EventEnded is delivered the slot is empty and the PID is
// gone from the registry.
func (r *Router) end(code int, message string) {
	r.mu.Lock()
	r.state = Idle
	r.kind = ""
	r.id = ""
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	if err := r.term.Cancel(ctx); err != nil {
		r.log.Warn("session teardown failed", "err", err)
	}
	cancel()

	r.events <- Event{Kind: EventEnded, Code: code, Message: message}
	close(r.events)
}
