package protocol

import "encoding/json"

// Version is the protocol version negotiated by the hello handshake.
const Version = 1

// Kind identifies an inbound message type.
type Kind string

// Prompt kinds. Every kind except KindExit, KindHello, and KindNotify
// requests interactive input and carries a correlation id the host must
// answer with exactly one submit.
const (
	// KindArg is an argument prompt with filterable choices.
	KindArg Kind = "arg"

	// KindSelect is a selection list, optionally multi-select.
	KindSelect Kind = "select"

	// KindPath is a file/folder path browser.
	KindPath Kind = "path"

	// KindEnv captures an environment variable value, optionally secret.
	KindEnv Kind = "env"

	// KindEditor is a free-form text/code editor prompt.
	KindEditor Kind = "editor"

	// KindTerm is an embedded terminal prompt.
	KindTerm Kind = "term"

	// KindChat is a chat interface prompt.
	KindChat Kind = "chat"

	// KindForm is a multi-field form prompt.
	KindForm Kind = "form"

	// KindDiv is plain output display. It still carries an id: the host
	// answers when the user dismisses it.
	KindDiv Kind = "div"

	// KindRun asks the host to run another script.
	KindRun Kind = "run"

	// KindHello is the optional version handshake sent at session start.
	KindHello Kind = "hello"

	// KindNotify is a fire-and-forget notice. No id, no response.
	KindNotify Kind = "notify"

	// KindExit signals script termination. No response is expected.
	KindExit Kind = "exit"
)

// Choice is a selectable option in arg and select prompts.
type Choice struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Field is a single input in a form prompt.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Value       string `json:"value,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
}

// ChatEntry is one message in a chat prompt's initial history.
type ChatEntry struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// ArgPrompt requests a single argument, optionally constrained to choices.
type ArgPrompt struct {
	Placeholder string   `json:"placeholder,omitempty"`
	Choices     []Choice `json:"choices,omitempty"`
	Hint        string   `json:"hint,omitempty"`
}

// SelectPrompt requests a selection from choices.
type SelectPrompt struct {
	Placeholder string   `json:"placeholder,omitempty"`
	Choices     []Choice `json:"choices"`
	Multiple    bool     `json:"multiple,omitempty"`
}

// PathPrompt requests a filesystem path.
type PathPrompt struct {
	StartDir string `json:"startDir,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// EnvPrompt requests an environment variable value.
type EnvPrompt struct {
	Key    string `json:"key"`
	Secret bool   `json:"secret,omitempty"`
}

// EditorPrompt requests free-form text with an optional initial buffer.
type EditorPrompt struct {
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
	Template string `json:"template,omitempty"`
}

// TermPrompt requests an embedded terminal, optionally seeded with a command.
type TermPrompt struct {
	Command string `json:"command,omitempty"`
}

// ChatPrompt requests a chat interface.
type ChatPrompt struct {
	Placeholder string      `json:"placeholder,omitempty"`
	Messages    []ChatEntry `json:"messages,omitempty"`
}

// FormPrompt requests a multi-field form.
type FormPrompt struct {
	Fields []Field `json:"fields"`
}

// DivPrompt displays plain output (HTML or markdown-ish text).
type DivPrompt struct {
	HTML        string `json:"html"`
	Placeholder string `json:"placeholder,omitempty"`
}

// RunPrompt asks the host to run another script by path or name.
type RunPrompt struct {
	Script string   `json:"script"`
	Args   []string `json:"args,omitempty"`
}

// Hello is the optional protocol handshake (script → host).
type Hello struct {
	Protocol     int      `json:"protocol"`
	SDKVersion   string   `json:"sdkVersion,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Notify is a fire-and-forget notice from the script.
type Notify struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Exit signals script termination (script → host).
type Exit struct {
	Code    *int   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// PromptMessage is one decoded inbound message. Exactly one payload pointer
// is non-nil, matching Type. Adding a new kind is a compile-time-checked
// change: the codec, the router dispatch, and any UI switch all enumerate
// the kinds.
type PromptMessage struct {
	Type Kind
	// ID correlates the prompt with its eventual submit response.
	// Empty only for KindExit, KindHello, and KindNotify.
	ID string

	Arg    *ArgPrompt
	Select *SelectPrompt
	Path   *PathPrompt
	Env    *EnvPrompt
	Editor *EditorPrompt
	Term   *TermPrompt
	Chat   *ChatPrompt
	Form   *FormPrompt
	Div    *DivPrompt
	Run    *RunPrompt
	Hello  *Hello
	Notify *Notify
	Exit   *Exit

	// Raw is the original line, retained for logging and pass-through.
	Raw json.RawMessage
}

// RequiresResponse reports whether the host owes this message exactly one
// submit carrying the same id.
func (m PromptMessage) RequiresResponse() bool {
	switch m.Type {
	case KindExit, KindHello, KindNotify:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code carried by a KindExit message.
// Returns (0, false) when the message is not an exit or carries no code.
func (m PromptMessage) ExitCode() (int, bool) {
	if m.Type != KindExit || m.Exit == nil || m.Exit.Code == nil {
		return 0, false
	}
	return *m.Exit.Code, true
}
