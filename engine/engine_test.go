//go:build !windows

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kitrun/kitrun"
	"github.com/kitrun/kitrun/enginetest/scripttest"
	"github.com/kitrun/kitrun/internal/procutil"
	"github.com/kitrun/kitrun/protocol"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// stubRegistry records registration calls; the engine only needs the
// Registrar slice of the real registry.
type stubRegistry struct {
	mu           sync.Mutex
	registered   []int
	unregistered []int
	registerErr  error
}

func (s *stubRegistry) Register(pid int, scriptPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, pid)
	return s.registerErr
}

func (s *stubRegistry) Unregister(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregistered = append(s.unregistered, pid)
}

func (s *stubRegistry) unregisteredPIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.unregistered...)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *stubRegistry) {
	t.Helper()
	reg := &stubRegistry{}
	opts = append([]EngineOption{WithGracePeriod(500 * time.Millisecond)}, opts...)
	return New(reg, opts...), reg
}

// startScript starts body and registers a cleanup cancel so a failing test
// never leaks a child.
func startScript(t *testing.T, eng *Engine, body string) kitrun.Channel {
	t.Helper()
	ch, err := eng.Start(testCtx(t), scripttest.Write(t, body))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ch.Cancel(ctx)
	})
	return ch
}

func recvPrompt(t *testing.T, ch kitrun.Channel) protocol.PromptMessage {
	t.Helper()
	select {
	case msg, open := <-ch.Inbound():
		if !open {
			t.Fatalf("Inbound closed before a prompt arrived: %v", ch.Err())
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for prompt")
	}
	return protocol.PromptMessage{}
}

func waitClosed(t *testing.T, ch kitrun.Channel) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-ch.Inbound():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for Inbound to close")
		}
	}
}

func TestValidate_PinnedShell(t *testing.T) {
	eng, _ := newTestEngine(t, WithInterpreter(scripttest.Shell))
	if err := eng.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate_MissingRuntime(t *testing.T) {
	eng, _ := newTestEngine(t, WithInterpreter("/nonexistent/runtime"))
	if err := eng.Validate(); !errors.Is(err, kitrun.ErrUnavailable) {
		t.Errorf("Validate() error = %v, want ErrUnavailable", err)
	}
}

func TestStart_PromptRoundTrip(t *testing.T) {
	eng, reg := newTestEngine(t)
	ch := startScript(t, eng, scripttest.PromptOnce("p1"))

	msg := recvPrompt(t, ch)
	if msg.Type != protocol.KindArg || msg.ID != "p1" {
		t.Fatalf("prompt = %s/%s, want arg/p1", msg.Type, msg.ID)
	}
	if msg.Arg == nil || msg.Arg.Placeholder != "name?" {
		t.Errorf("Arg payload = %+v", msg.Arg)
	}

	if err := ch.Send(protocol.Submit("p1", "world")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitClosed(t, ch)
	if err := ch.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	if got := reg.unregisteredPIDs(); len(got) != 1 || got[0] != ch.PID() {
		t.Errorf("unregistered = %v, want [%d]", got, ch.PID())
	}
}

func TestStart_SecondSessionRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	startScript(t, eng, scripttest.Stubborn())

	_, err := eng.Start(testCtx(t), scripttest.Write(t, scripttest.Cooperative()))
	if !errors.Is(err, kitrun.ErrOccupied) {
		t.Errorf("second Start() error = %v, want ErrOccupied", err)
	}
}

func TestStart_SlotFreedAfterExit(t *testing.T) {
	eng, _ := newTestEngine(t)
	ch := startScript(t, eng, "exit 0\n")
	if err := ch.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if eng.Running() {
		t.Error("Running() = true after the session exited")
	}

	ch2 := startScript(t, eng, "exit 0\n")
	waitClosed(t, ch2)
}

func TestRunScript_SequentialSessions(t *testing.T) {
	eng, _ := newTestEngine(t)
	script := scripttest.Write(t, "exit 0\n")

	for i := 0; i < 2; i++ {
		if err := kitrun.RunScript(testCtx(t), eng, script, nil); err != nil {
			t.Fatalf("RunScript() run %d error = %v", i+1, err)
		}
	}
	if eng.Running() {
		t.Error("Running() = true after both runs finished")
	}
}

func TestRunScript_CancelFreesSlot(t *testing.T) {
	eng, _ := newTestEngine(t)
	script := scripttest.Write(t, scripttest.PromptOnce("p1"))

	ctx, cancel := context.WithCancel(testCtx(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- kitrun.RunScript(ctx, eng, script,
			func(protocol.PromptMessage) (protocol.Message, bool) {
				cancel() // cancel mid-session, while a prompt is pending
				return protocol.Message{}, false
			})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) && err != nil {
			t.Fatalf("RunScript() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunScript did not return after ctx cancel")
	}
	if eng.Running() {
		t.Error("Running() = true after cancellation")
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	eng, reg := newTestEngine(t)

	// An executable file with no shebang and no ELF header: exec fails
	// with ENOEXEC at Start time.
	bogus := filepath.Join(t.TempDir(), "runtime")
	if err := os.WriteFile(bogus, []byte("not a binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := scripttest.Write(t, "exit 0\n")
	script.Interpreter = bogus

	_, err := eng.Start(testCtx(t), script)
	var se *kitrun.SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("Start() error = %v, want *SpawnError", err)
	}
	if se.Script != script.Path {
		t.Errorf("SpawnError.Script = %q, want %q", se.Script, script.Path)
	}
	if len(reg.registered) != 0 {
		t.Errorf("registered = %v, want none on spawn failure", reg.registered)
	}
}

func TestStart_MissingScript(t *testing.T) {
	eng, reg := newTestEngine(t)
	script := kitrun.Script{Path: filepath.Join(t.TempDir(), "gone.ts"), Interpreter: scripttest.Shell}

	_, err := eng.Start(testCtx(t), script)
	var se *kitrun.SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("Start() error = %v, want *SpawnError", err)
	}
	if len(reg.registered) != 0 {
		t.Errorf("registered = %v, want none", reg.registered)
	}
}

func TestStart_MissingRuntimeNotRegistered(t *testing.T) {
	eng, reg := newTestEngine(t)
	script := scripttest.Write(t, "exit 0\n")
	script.Interpreter = "/nonexistent/runtime"

	_, err := eng.Start(testCtx(t), script)
	if !errors.Is(err, kitrun.ErrUnavailable) {
		t.Fatalf("Start() error = %v, want ErrUnavailable", err)
	}
	if len(reg.registered) != 0 {
		t.Errorf("registered = %v, want none", reg.registered)
	}
}

func TestInbound_SkipsUndecodableLines(t *testing.T) {
	eng, _ := newTestEngine(t)
	ch := startScript(t, eng, `printf 'debug: warming up\n'
printf '{"type":"mystery","id":"x"}\n'
printf '{"type":"arg","id":"p2","placeholder":"name?"}\n'
read -r resp
exit 0
`)

	msg := recvPrompt(t, ch)
	if msg.ID != "p2" {
		t.Errorf("first delivered prompt id = %s, want p2 (junk skipped)", msg.ID)
	}
	ch.Send(protocol.Cancel("p2"))
	waitClosed(t, ch)
}

func TestInbound_SkipsOversizedLines(t *testing.T) {
	eng, _ := newTestEngine(t, WithScannerBuffer(512))
	ch := startScript(t, eng, `printf '%02000d\n' 7
printf '{"type":"arg","id":"p1","placeholder":"still here?"}\n'
read -r resp
exit 0
`)

	msg := recvPrompt(t, ch)
	if msg.ID != "p1" {
		t.Errorf("delivered prompt id = %s, want p1 (oversized line skipped)", msg.ID)
	}
	ch.Send(protocol.Cancel("p1"))
	waitClosed(t, ch)
	if err := ch.Wait(); err != nil {
		t.Errorf("Wait() error = %v, want nil (session survived the oversized line)", err)
	}
}

func TestSend_AfterExitIsDisconnected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ch := startScript(t, eng, "exit 0\n")
	waitClosed(t, ch)

	if err := ch.Send(protocol.Submit("p1", "late")); !errors.Is(err, kitrun.ErrDisconnected) {
		t.Errorf("Send() error = %v, want ErrDisconnected", err)
	}
}

func TestSend_FullQueueIsChannelFull(t *testing.T) {
	eng, _ := newTestEngine(t, WithOutboundBuffer(1))
	ch := startScript(t, eng, scripttest.Stubborn())

	// The script never reads stdin. A payload larger than the pipe
	// buffer wedges the writer, the next message fills the queue, and
	// the one after that must be refused.
	big := strings.Repeat("x", 1<<20)
	ch.Send(protocol.Submit("p1", big))
	ch.Send(protocol.Submit("p2", big))

	deadline := time.Now().Add(5 * time.Second)
	for {
		err := ch.Send(protocol.Submit("p3", "v"))
		if errors.Is(err, kitrun.ErrChannelFull) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Send() error = %v, want ErrChannelFull", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInbound_NoPromptDropped(t *testing.T) {
	eng, _ := newTestEngine(t, WithInboundBuffer(1))
	ch := startScript(t, eng, `i=0
while [ $i -lt 10 ]; do
  printf '{"type":"div","id":"d%d","html":"chunk %d"}\n' $i $i
  i=$((i+1))
done
exit 0
`)

	// A slow consumer stalls the decode loop, not the prompt stream:
	// every message must still arrive, in order.
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		msg := recvPrompt(t, ch)
		want := "d" + strconv.Itoa(i)
		if msg.ID != want {
			t.Fatalf("prompt %d id = %s, want %s", i, msg.ID, want)
		}
	}
	waitClosed(t, ch)
}

func TestWait_ExitError(t *testing.T) {
	eng, _ := newTestEngine(t)
	ch := startScript(t, eng, `printf 'module not found: ./lib\n' >&2
exit 3
`)
	waitClosed(t, ch)

	err := ch.Wait()
	var ee *kitrun.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("Wait() error = %v, want *ExitError", err)
	}
	if ee.Code != 3 {
		t.Errorf("Code = %d, want 3", ee.Code)
	}
	if !strings.Contains(ee.Stderr, "module not found") {
		t.Errorf("Stderr = %q, want captured excerpt", ee.Stderr)
	}
}

func TestCancel_Cooperative(t *testing.T) {
	eng, reg := newTestEngine(t, WithGracePeriod(5*time.Second))
	ch := startScript(t, eng, scripttest.Cooperative())
	pid := ch.PID()

	start := time.Now()
	if err := ch.Cancel(testCtx(t)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	// A cooperating script should leave well inside the grace period.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Cancel took %v, want cooperative exit before the grace period", elapsed)
	}
	if !errors.Is(ch.Err(), kitrun.ErrTerminated) {
		t.Errorf("Err() = %v, want ErrTerminated", ch.Err())
	}
	if got := reg.unregisteredPIDs(); len(got) != 1 || got[0] != pid {
		t.Errorf("unregistered = %v, want [%d]", got, pid)
	}
}

func TestCancel_StubbornScriptIsKilled(t *testing.T) {
	eng, _ := newTestEngine(t, WithGracePeriod(200*time.Millisecond))
	ch := startScript(t, eng, scripttest.Stubborn())
	pid := ch.PID()

	if err := ch.Cancel(testCtx(t)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitGroupGone(t, pid)
}

func TestCancel_KillsWholeGroup(t *testing.T) {
	eng, _ := newTestEngine(t, WithGracePeriod(200*time.Millisecond))
	ch := startScript(t, eng, scripttest.Forker())
	pid := ch.PID()

	// Give the script a moment to fork its helper.
	time.Sleep(200 * time.Millisecond)

	if err := ch.Cancel(testCtx(t)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitGroupGone(t, pid)
}

func TestCancel_Idempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ch := startScript(t, eng, scripttest.Cooperative())

	if err := ch.Cancel(testCtx(t)); err != nil {
		t.Fatalf("first Cancel() error = %v", err)
	}
	if err := ch.Cancel(testCtx(t)); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestEngineCancel_EmptiesSlot(t *testing.T) {
	eng, _ := newTestEngine(t)
	startScript(t, eng, scripttest.Cooperative())

	if err := eng.Cancel(testCtx(t)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if eng.Running() {
		t.Error("Running() = true after Cancel")
	}
	if err := eng.Cancel(testCtx(t)); err != nil {
		t.Errorf("Cancel() on empty slot error = %v", err)
	}
}

func waitGroupGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for procutil.GroupAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("process group %d still alive", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
