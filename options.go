package websock

import "log/slog"

const (
	DefaultReadBufferSize = 4096
	DefaultMaxMessageSize = 1 << 20
)

// Options configure a Resource and the connections it creates.
// The zero value works; missing fields are filled by withDefault.
type Options struct {
	// DefaultOpcode is used by the message adapter for outbound
	// messages. Defaults to OpcodeText.
	DefaultOpcode Opcode

	// ReadBufferSize is the size of the transport read buffer.
	// If not set it defaults to 4096.
	ReadBufferSize int

	// MaxMessageSize bounds both the declared payload length of a
	// single inbound frame and the reassembled size of a fragmented
	// message. A peer that exceeds it is disconnected. Defaults to
	// 1 MiB; set to -1 for no limit.
	MaxMessageSize int

	// MaxFragments bounds how many fragments a single message may be
	// split into before the peer is disconnected. 0 means no limit.
	MaxFragments int

	// Logger receives connection lifecycle and protocol error events.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// Limiter, if set, rate limits inbound data frames per connection.
	// A connection that exceeds the limit is closed.
	Limiter *RateLimiter

	// Manager, if set, tracks every live connection created by the
	// Resource and is told when each one goes away.
	Manager *Manager

	// OnConnect runs after a connection is attached, before any frame
	// is dispatched.
	OnConnect func(conn *Conn)
	// OnDisconnect runs after the transport is fully released.
	OnDisconnect func(conn *Conn)
}

func (opts *Options) withDefault() {
	if opts.DefaultOpcode == OpcodeContinuation {
		opts.DefaultOpcode = OpcodeText
	}
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
}
