package kitrun

import (
	"context"
	"time"

	"github.com/kitrun/kitrun/protocol"
)

// cancelTimeout bounds the teardown triggered by a failed Send or a
// cancelled context.
const cancelTimeout = 10 * time.Second

// Responder answers one prompt message. Returning ok=false declines the
// prompt, which sends a cancellation response so the script can unblock.
type Responder func(protocol.PromptMessage) (resp protocol.Message, ok bool)

// RunScript starts script, answers each prompt with responder, and blocks
// until the script exits. It is the non-interactive driver used for
// headless invocations, where no UI exists to route prompts to.
//
// A nil responder cancels every prompt, so scripts that demand input fall
// through their prompts and run to completion or fail on their own terms.
// Messages that need no response (exit, hello, notify) are not passed to
// the responder.
//
// Context cancellation triggers the channel's two-phase Cancel and returns
// ctx.Err(). Otherwise RunScript returns Wait's result: nil on clean exit,
// an ExitError on failure.
func RunScript(ctx context.Context, eng Engine, script Script, responder Responder, args ...string) error {
	ch, err := eng.Start(ctx, script, args...)
	if err != nil {
		return err
	}

	for {
		select {
		case msg, open := <-ch.Inbound():
			if !open {
				return ch.Wait()
			}
			if msg.Type == protocol.KindHello {
				ch.Send(protocol.HelloAck())
				continue
			}
			if !msg.RequiresResponse() {
				continue
			}
			resp, ok := protocol.Message{}, false
			if responder != nil {
				resp, ok = responder(msg)
			}
			if !ok {
				resp = protocol.Cancel(msg.ID)
			}
			if err := ch.Send(resp); err != nil {
				cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
				ch.Cancel(cancelCtx)
				cancel()
				return err
			}

		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			ch.Cancel(cancelCtx)
			cancel()
			return ctx.Err()
		}
	}
}
