package websock

import (
	"bytes"
	"net"
)

// MessageHandler is the application contract for whole-message
// traffic. Fragmented messages are reassembled before delivery, and
// each outbound write becomes a single final frame.
type MessageHandler interface {
	// ConnectionMade runs once the transport is attached. The handler
	// writes back through the Transport it is given.
	ConnectionMade(t Transport)
	// MessageReceived is called with each complete, in-order message.
	MessageReceived(data []byte)
	// ConnectionLost runs once, after the transport is released.
	ConnectionLost(err error)
}

// Transport is the surface a MessageHandler may call on its
// connection. It is deliberately enumerated, rather than exposing the
// Conn itself, to keep the ownership boundary auditable.
type Transport interface {
	// Write sends data as one final frame.
	Write(data []byte) error
	// WriteSequence sends each chunk as an independent final frame.
	WriteSequence(chunks [][]byte) error
	// LoseConnection closes the connection after a best-effort close
	// frame.
	LoseConnection()
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// messageAdapter presents a Conn to a MessageHandler. It implements
// FrameHandler toward the connection and Transport toward the wrapped
// handler.
type messageAdapter struct {
	wrapped      MessageHandler
	opcode       Opcode
	conn         *Conn
	maxSize      int
	maxFragments int

	// fragments accumulates the payload chunks of one in-flight
	// message. It never spans more than one message: it is flushed
	// atomically when a final frame arrives.
	fragments   [][]byte
	accumulated int
}

var _ FrameHandler = (*messageAdapter)(nil)
var _ Transport = (*messageAdapter)(nil)

func newMessageAdapter(wrapped MessageHandler, opts *Options) *messageAdapter {
	maxSize := opts.MaxMessageSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &messageAdapter{
		wrapped:      wrapped,
		opcode:       opts.DefaultOpcode,
		maxSize:      maxSize,
		maxFragments: opts.MaxFragments,
	}
}

func (a *messageAdapter) ConnectionMade(conn *Conn) {
	a.conn = conn
	a.wrapped.ConnectionMade(a)
}

// FrameReceived accumulates data frame payloads, ignoring the opcode,
// and delivers the concatenation as one message when fin is set.
// A message that grows past maxSize, or splits into more than
// maxFragments pieces, disconnects the peer without delivery.
func (a *messageAdapter) FrameReceived(opcode Opcode, payload []byte, fin bool) {
	a.fragments = append(a.fragments, payload)
	a.accumulated += len(payload)
	if (a.maxSize > 0 && a.accumulated > a.maxSize) ||
		(a.maxFragments > 0 && len(a.fragments) > a.maxFragments) {
		a.conn.logger.Warn("inbound message limit exceeded",
			"bytes", a.accumulated, "fragments", len(a.fragments))
		a.fragments = nil
		a.accumulated = 0
		a.conn.LoseConnection()
		return
	}
	if fin {
		content := bytes.Join(a.fragments, nil)
		a.fragments = a.fragments[:0]
		a.accumulated = 0
		a.wrapped.MessageReceived(content)
	}
}

func (a *messageAdapter) ConnectionLost(err error) {
	a.wrapped.ConnectionLost(err)
}

func (a *messageAdapter) Write(data []byte) error {
	return a.conn.SendFrame(a.opcode, data, true)
}

func (a *messageAdapter) WriteSequence(chunks [][]byte) error {
	for _, chunk := range chunks {
		if err := a.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *messageAdapter) LoseConnection() {
	a.conn.LoseConnection()
}

func (a *messageAdapter) LocalAddr() net.Addr { return a.conn.LocalAddr() }

func (a *messageAdapter) RemoteAddr() net.Addr { return a.conn.RemoteAddr() }
