package engine

import (
	"log/slog"
	"time"
)

// Default engine configuration values.
const (
	defaultInboundBuffer  = 100
	defaultOutboundBuffer = 100
	defaultScannerBuffer  = 1 << 20 // 1 MB
	defaultGracePeriod    = 2 * time.Second
	defaultStderrLimit    = 8 << 10 // 8 KB
)

// EngineOptions holds resolved construction-time configuration.
// Use New with EngineOption functions to customize these values.
type EngineOptions struct {
	// InboundBuffer is the channel buffer size for decoded prompt
	// messages. When the buffer fills, the reader blocks and the child's
	// stdout backs up rather than dropping a prompt.
	InboundBuffer int

	// OutboundBuffer is the queue size for responses awaiting the stdin
	// writer. A full queue makes Send fail with ErrChannelFull.
	OutboundBuffer int

	// ScannerBuffer is the maximum line size in bytes for the stdout
	// scanner.
	ScannerBuffer int

	// GracePeriod is the duration to wait after the cooperative exit
	// message (or SIGTERM) before killing the process group.
	GracePeriod time.Duration

	// StderrLimit caps the stderr excerpt captured for ExitError.
	StderrLimit int

	// Logger receives decode failures, dropped responses, and lifecycle
	// events.
	Logger *slog.Logger

	// interpreter and sdkPreload feed runtime resolution at Start time.
	interpreter string
	sdkPreload  string
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*EngineOptions)

// WithInboundBuffer sets the prompt channel buffer size.
// Values <= 0 are ignored.
func WithInboundBuffer(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.InboundBuffer = size
		}
	}
}

// WithOutboundBuffer sets the response queue size.
// Values <= 0 are ignored.
func WithOutboundBuffer(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.OutboundBuffer = size
		}
	}
}

// WithScannerBuffer sets the maximum line size in bytes for the stdout
// scanner. Values <= 0 are ignored.
func WithScannerBuffer(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.ScannerBuffer = size
		}
	}
}

// WithGracePeriod sets the duration between the cooperative exit phase and
// the group kill. Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithStderrLimit caps the captured stderr excerpt. Values <= 0 are ignored.
func WithStderrLimit(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.StderrLimit = size
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithInterpreter pins the JavaScript runtime instead of the bun→node
// fallback chain. The value is a short name or an absolute path.
func WithInterpreter(name string) EngineOption {
	return func(o *EngineOptions) { o.interpreter = name }
}

// WithSDKPreload sets the SDK module preloaded into bun scripts.
func WithSDKPreload(path string) EngineOption {
	return func(o *EngineOptions) { o.sdkPreload = path }
}

func resolveEngineOptions(opts ...EngineOption) EngineOptions {
	o := EngineOptions{
		InboundBuffer:  defaultInboundBuffer,
		OutboundBuffer: defaultOutboundBuffer,
		ScannerBuffer:  defaultScannerBuffer,
		GracePeriod:    defaultGracePeriod,
		StderrLimit:    defaultStderrLimit,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
