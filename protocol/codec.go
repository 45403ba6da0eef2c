package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// maxLineSize is a sanity cap on decoded line length. Lines beyond it are
// rejected before JSON parsing to bound memory per message.
const maxLineSize = 1 << 20 // 1 MB

// DecodeError describes a line that could not be decoded as a known
// inbound message. Non-fatal by contract: callers log it and drop the
// line, because scripts may write stray diagnostics to stdout.
type DecodeError struct {
	Line string // offending line, truncated for logging
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decodeErr builds a *DecodeError with the line truncated to a loggable size.
func decodeErr(line []byte, err error) *DecodeError {
	const logCap = 200
	s := string(line)
	if len(s) > logCap {
		s = s[:logCap] + "..."
	}
	return &DecodeError{Line: s, Err: err}
}

// DecodeLine decodes one stdout line into a PromptMessage.
//
// The "type" field is peeked first so unknown or malformed lines are
// rejected cheaply without a full unmarshal. Prompt kinds require a
// non-empty "id"; exit, hello, and notify do not.
func DecodeLine(line []byte) (PromptMessage, error) {
	if len(line) == 0 {
		return PromptMessage{}, decodeErr(line, fmt.Errorf("empty line"))
	}
	if len(line) > maxLineSize {
		return PromptMessage{}, decodeErr(line[:64], fmt.Errorf("line exceeds %d bytes", maxLineSize))
	}
	if !gjson.ValidBytes(line) {
		return PromptMessage{}, decodeErr(line, fmt.Errorf("not valid JSON"))
	}

	kind := Kind(gjson.GetBytes(line, "type").String())
	if kind == "" {
		return PromptMessage{}, decodeErr(line, fmt.Errorf("missing type field"))
	}

	msg := PromptMessage{
		Type: kind,
		ID:   gjson.GetBytes(line, "id").String(),
		Raw:  json.RawMessage(append([]byte(nil), line...)),
	}
	if msg.RequiresResponse() && msg.ID == "" {
		return PromptMessage{}, decodeErr(line, fmt.Errorf("%s message missing id", kind))
	}

	var err error
	switch kind {
	case KindArg:
		msg.Arg, err = decodePayload[ArgPrompt](line)
	case KindSelect:
		msg.Select, err = decodePayload[SelectPrompt](line)
	case KindPath:
		msg.Path, err = decodePayload[PathPrompt](line)
	case KindEnv:
		msg.Env, err = decodePayload[EnvPrompt](line)
	case KindEditor:
		msg.Editor, err = decodePayload[EditorPrompt](line)
	case KindTerm:
		msg.Term, err = decodePayload[TermPrompt](line)
	case KindChat:
		msg.Chat, err = decodePayload[ChatPrompt](line)
	case KindForm:
		msg.Form, err = decodePayload[FormPrompt](line)
	case KindDiv:
		msg.Div, err = decodePayload[DivPrompt](line)
	case KindRun:
		msg.Run, err = decodePayload[RunPrompt](line)
	case KindHello:
		msg.Hello, err = decodePayload[Hello](line)
	case KindNotify:
		msg.Notify, err = decodePayload[Notify](line)
	case KindExit:
		msg.Exit, err = decodePayload[Exit](line)
	default:
		return PromptMessage{}, decodeErr(line, fmt.Errorf("unknown type %q", kind))
	}
	if err != nil {
		return PromptMessage{}, decodeErr(line, err)
	}
	return msg, nil
}

// decodePayload unmarshals the whole line into a kind-specific payload.
// Unknown fields are tolerated for forward compatibility.
func decodePayload[T any](line []byte) (*T, error) {
	var p T
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Message is one outbound (host → script) message.
//
// Construct via Submit, Cancel, ExitMessage, or HelloAck; the zero value
// is not a valid message.
type Message struct {
	kind string

	id    string
	value *string // submit payload; nil encodes as null (cancellation)

	code    *int    // exit payload
	message *string // exit payload

	protocol     int      // helloAck payload
	capabilities []string // helloAck payload
}

// Submit answers the prompt with the given id.
func Submit(id, value string) Message {
	return Message{kind: "submit", id: id, value: &value}
}

// Cancel answers the prompt with the given id with a null value. The
// protocol represents per-prompt cancellation as a null-valued submit, not
// as exit: the script stays alive and may show another prompt.
func Cancel(id string) Message {
	return Message{kind: "submit", id: id}
}

// ExitMessage tells the script to terminate.
func ExitMessage(code int, reason string) Message {
	m := Message{kind: "exit", code: &code}
	if reason != "" {
		m.message = &reason
	}
	return m
}

// HelloAck acknowledges a hello handshake with the host's protocol version
// and confirmed capabilities.
func HelloAck(capabilities ...string) Message {
	return Message{kind: "helloAck", protocol: Version, capabilities: capabilities}
}

// IsSubmit reports whether m is a submit message, returning its prompt id.
func (m Message) IsSubmit() (id string, ok bool) {
	if m.kind == "submit" {
		return m.id, true
	}
	return "", false
}

// IsCancel reports whether m is a null-valued submit.
func (m Message) IsCancel() bool { return m.kind == "submit" && m.value == nil }

// IsExit reports whether m is an exit message.
func (m Message) IsExit() bool { return m.kind == "exit" }

// Value returns the submit value, or ("", false) for a cancellation or a
// non-submit message.
func (m Message) Value() (string, bool) {
	if m.kind != "submit" || m.value == nil {
		return "", false
	}
	return *m.value, true
}

// submitWire always carries "value" so cancellation serializes as an
// explicit null rather than an absent field.
type submitWire struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	Value *string `json:"value"`
}

type exitWire struct {
	Type    string  `json:"type"`
	Code    *int    `json:"code,omitempty"`
	Message *string `json:"message,omitempty"`
}

type helloAckWire struct {
	Type         string   `json:"type"`
	Protocol     int      `json:"protocol"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Encode serializes m as a single newline-terminated JSON line.
func Encode(m Message) ([]byte, error) {
	var wire any
	switch m.kind {
	case "submit":
		wire = submitWire{Type: m.kind, ID: m.id, Value: m.value}
	case "exit":
		wire = exitWire{Type: m.kind, Code: m.code, Message: m.message}
	case "helloAck":
		wire = helloAckWire{Type: m.kind, Protocol: m.protocol, Capabilities: m.capabilities}
	default:
		return nil, fmt.Errorf("protocol: encode: invalid message (zero value?)")
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.kind, err)
	}
	return append(data, '\n'), nil
}
