package websock

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a connection lifecycle state.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameHandler is the application contract for raw frame traffic.
// A handler implementing it is attached to the Conn directly; a
// handler implementing MessageHandler instead is wrapped by the
// message adapter at attach time.
type FrameHandler interface {
	// ConnectionMade runs once, after the transport is attached and
	// before any frame is dispatched.
	ConnectionMade(conn *Conn)
	// FrameReceived is called for every data frame, in arrival order.
	FrameReceived(opcode Opcode, payload []byte, fin bool)
	// ConnectionLost runs once, after the transport is released.
	ConnectionLost(err error)
}

// Conn is the per-connection protocol state machine. It exclusively
// owns the raw transport after the upgrade handshake; the HTTP layer
// never touches it again.
//
// All inbound parsing happens on the connection's read loop, so the
// unparsed-byte buffer needs no locking. Writes from the application
// and the read loop's own control replies (PONG, close) are serialized
// by a mutex.
type Conn struct {
	raw         net.Conn
	id          uuid.UUID
	subProtocol string
	handler     FrameHandler
	opts        *Options
	logger      *slog.Logger

	// buf holds bytes received but not yet parsed into frames. After
	// each parse pass it contains at most one partial frame.
	buf []byte

	wmu       sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once

	// cause records why the connection went down when the shutdown was
	// initiated locally (peer close frame, protocol violation). Only
	// the read loop writes it.
	cause error
}

func newConn(raw net.Conn, subProtocol string, handler FrameHandler, opts *Options) *Conn {
	id := uuid.New()
	return &Conn{
		raw:         raw,
		id:          id,
		subProtocol: subProtocol,
		handler:     handler,
		opts:        opts,
		logger:      opts.Logger.With("conn", id),
	}
}

// ID is the connection's unique identity, assigned at attach time.
func (c *Conn) ID() uuid.UUID { return c.id }

// SubProtocol is the negotiated sub-protocol name, or "" for a raw
// connection.
func (c *Conn) SubProtocol() string { return c.subProtocol }

// State reports the connection's lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// LocalAddr returns the transport's local address.
func (c *Conn) LocalAddr() net.Addr { return c.raw.LocalAddr() }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// start attaches the handler and begins reading from the transport.
func (c *Conn) start() {
	c.logger.Info("opening connection", "peer", c.raw.RemoteAddr())
	if c.opts.Manager != nil {
		c.opts.Manager.register(c)
	}
	if c.opts.Limiter != nil {
		c.opts.Limiter.addClient(c.id)
	}
	c.handler.ConnectionMade(c)
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	go c.readLoop()
}

// readLoop pulls bytes off the transport and feeds them to the parser
// until the transport reports disconnection.
func (c *Conn) readLoop() {
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			c.receive(buf[:n])
		}
		if err != nil {
			c.teardown(err)
			return
		}
	}
}

// receive appends data to the connection buffer and dispatches every
// complete frame now available. A protocol error from the codec is
// fatal: it is logged and the transport is dropped without a close
// frame.
func (c *Conn) receive(data []byte) {
	c.buf = append(c.buf, data...)
	maxPayload := c.opts.MaxMessageSize
	if maxPayload < 0 {
		maxPayload = 0
	}
	frames, rest, err := parseFrames(c.buf, true, maxPayload)
	c.buf = rest
	for _, frame := range frames {
		if !c.dispatch(frame) {
			return
		}
	}
	if err != nil {
		c.logger.Error("protocol violation", "err", err)
		c.abort(err)
	}
}

// dispatch routes one decoded frame. It returns false when no further
// frames from the same batch should be processed.
func (c *Conn) dispatch(frame Frame) bool {
	switch frame.Opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary:
		if c.opts.Limiter != nil && !c.opts.Limiter.allow(c.id) {
			c.logger.Warn("inbound rate limit exceeded")
			c.LoseConnection()
			return false
		}
		c.handler.FrameReceived(frame.Opcode, frame.Payload, frame.Fin)
	case OpcodeClose:
		c.logger.Info("peer closed connection",
			"code", frame.Code, "reason", frame.Reason)
		c.cause = ErrConnClosed
		c.setState(StateClosing)
		c.raw.Close()
		return false
	case OpcodePing:
		// 5.5.3: the PONG must carry the payload of the PING that
		// provoked it.
		if err := c.SendFrame(OpcodePong, frame.Payload, true); err != nil {
			c.logger.Error("failed to answer ping", "err", err)
		}
	case OpcodePong:
		// Valid, but no action is mandated.
	}
	return true
}

// SendFrame encodes a single frame and writes it to the transport.
// Server frames are sent unmasked.
func (c *Conn) SendFrame(opcode Opcode, payload []byte, fin bool) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.raw.Write(EncodeFrame(payload, opcode, fin, nil))
	return err
}

// LoseConnection closes the connection, sending a best-effort empty
// close frame first. It is idempotent. The peer's close acknowledgment
// is not waited for: the expected reply is itself just an
// acknowledgment, and waiting would only hang the shutdown path.
func (c *Conn) LoseConnection() {
	c.closeOnce.Do(func() {
		if c.State() == StateOpen {
			c.setState(StateClosing)
			_ = c.SendFrame(OpcodeClose, nil, true)
		}
		c.raw.Close()
	})
}

// abort drops the transport immediately, with no close frame. Used on
// protocol violations, where frame boundaries can no longer be
// trusted.
func (c *Conn) abort(err error) {
	c.cause = err
	c.setState(StateClosing)
	c.raw.Close()
}

// teardown releases the transport and notifies the handler. It runs
// exactly once, when the read loop exits.
func (c *Conn) teardown(readErr error) {
	c.setState(StateClosed)
	c.raw.Close()

	err := c.cause
	if err == nil {
		err = readErr
	}

	if c.opts.Limiter != nil {
		c.opts.Limiter.removeClient(c.id)
	}
	if c.opts.Manager != nil {
		c.opts.Manager.unregister(c.id)
	}

	c.handler.ConnectionLost(err)
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(c)
	}
	c.logger.Info("connection closed", "reason", err)
}
