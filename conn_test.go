package websock

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

// mockConn is an in-memory net.Conn capturing everything written to
// it. The conn tests drive the state machine through receive directly,
// so Read is never exercised.
type mockConn struct {
	mu       sync.Mutex
	writeBuf bytes.Buffer
	closed   bool
}

func (m *mockConn) Read(b []byte) (int, error) {
	return 0, io.EOF
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (m *mockConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// recordHandler is a FrameHandler that records everything it sees.
// done, when set, is closed on ConnectionLost so tests can wait for a
// read loop to finish.
type recordHandler struct {
	conn    *Conn
	frames  []Frame
	lost    bool
	lostErr error
	done    chan struct{}
}

func (h *recordHandler) ConnectionMade(conn *Conn) {
	h.conn = conn
}

func (h *recordHandler) FrameReceived(opcode Opcode, payload []byte, fin bool) {
	h.frames = append(h.frames, Frame{Opcode: opcode, Payload: payload, Fin: fin})
}

func (h *recordHandler) ConnectionLost(err error) {
	h.lost = true
	h.lostErr = err
	if h.done != nil {
		close(h.done)
	}
}

func newTestConn(t *testing.T, handler FrameHandler, opts *Options) (*Conn, *mockConn) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.Logger = slog.New(slog.DiscardHandler)
	opts.withDefault()

	mock := &mockConn{}
	conn := newConn(mock, "", handler, opts)
	handler.ConnectionMade(conn)
	return conn, mock
}

// parseWritten decodes the frames the state machine wrote to the
// transport. Server frames are unmasked.
func parseWritten(t *testing.T, mock *mockConn) []Frame {
	t.Helper()
	frames, rest, err := ParseFrames(mock.written(), false)
	if err != nil {
		t.Fatalf("written bytes do not parse: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("written bytes end in a partial frame (%d bytes)", len(rest))
	}
	return frames
}

func TestConnDispatchesDataFrames(t *testing.T) {
	handler := &recordHandler{}
	conn, _ := newTestConn(t, handler, nil)

	var buf []byte
	buf = append(buf, EncodeFrame([]byte("He"), OpcodeText, false, testMaskKey)...)
	buf = append(buf, EncodeFrame([]byte("llo"), OpcodeContinuation, true, testMaskKey)...)
	conn.receive(buf)

	if len(handler.frames) != 2 {
		t.Fatalf("dispatched %d frames, want 2", len(handler.frames))
	}
	if string(handler.frames[0].Payload) != "He" || handler.frames[0].Fin {
		t.Errorf("frame 0 = (%q, fin=%v)", handler.frames[0].Payload, handler.frames[0].Fin)
	}
	if string(handler.frames[1].Payload) != "llo" || !handler.frames[1].Fin {
		t.Errorf("frame 1 = (%q, fin=%v)", handler.frames[1].Payload, handler.frames[1].Fin)
	}
}

func TestConnBuffersPartialFrames(t *testing.T) {
	handler := &recordHandler{}
	conn, _ := newTestConn(t, handler, nil)

	raw := EncodeFrame([]byte("split"), OpcodeText, true, testMaskKey)
	conn.receive(raw[:3])
	if len(handler.frames) != 0 {
		t.Fatalf("dispatched %d frames from a partial read", len(handler.frames))
	}

	conn.receive(raw[3:])
	if len(handler.frames) != 1 || string(handler.frames[0].Payload) != "split" {
		t.Fatalf("frames after completion = %v", handler.frames)
	}
}

func TestConnPingPong(t *testing.T) {
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, nil)

	conn.receive(EncodeFrame([]byte("ping-data"), OpcodePing, true, testMaskKey))

	out := parseWritten(t, mock)
	if len(out) != 1 {
		t.Fatalf("wrote %d frames, want exactly 1 pong", len(out))
	}
	pong := out[0]
	if pong.Opcode != OpcodePong || !pong.Fin {
		t.Errorf("reply = (%v, fin=%v), want final pong", pong.Opcode, pong.Fin)
	}
	if string(pong.Payload) != "ping-data" {
		t.Errorf("pong payload = %q, want %q", pong.Payload, "ping-data")
	}
	if len(handler.frames) != 0 {
		t.Errorf("control frame leaked to the handler")
	}
}

func TestConnPongIgnored(t *testing.T) {
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, nil)

	conn.receive(EncodeFrame([]byte("late"), OpcodePong, true, testMaskKey))

	if len(handler.frames) != 0 {
		t.Errorf("pong leaked to the handler")
	}
	if len(mock.written()) != 0 {
		t.Errorf("pong provoked a reply")
	}
}

func TestConnCloseFrameStopsBatch(t *testing.T) {
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, nil)

	var buf []byte
	buf = append(buf, EncodeFrame([]byte{0x03, 0xE8}, OpcodeClose, true, testMaskKey)...)
	buf = append(buf, EncodeFrame([]byte("after"), OpcodeText, true, testMaskKey)...)
	conn.receive(buf)

	if !mock.isClosed() {
		t.Error("transport was not closed")
	}
	if conn.State() != StateClosing {
		t.Errorf("state = %v, want closing", conn.State())
	}
	if len(handler.frames) != 0 {
		t.Errorf("frames after the close frame were dispatched")
	}
}

func TestConnProtocolErrorAborts(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"reserved bits", []byte{0xC1, 0x80, 0x12, 0x34, 0x56, 0x78}},
		{"invalid opcode", []byte{0x83, 0x80, 0x12, 0x34, 0x56, 0x78}},
		{"unmasked client frame", EncodeFrame([]byte("bare"), OpcodeText, true, nil)},
		{"overflowing 64-bit length", []byte{0x82, 0xFF,
			0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
			0x12, 0x34, 0x56, 0x78}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordHandler{}
			conn, mock := newTestConn(t, handler, nil)

			conn.receive(tt.raw)

			if !mock.isClosed() {
				t.Error("transport was not closed")
			}
			// Abrupt close: no close frame is owed to a peer that
			// corrupted the stream.
			if len(mock.written()) != 0 {
				t.Errorf("wrote %d bytes after a protocol error", len(mock.written()))
			}
			if !IsProtocolError(conn.cause) {
				t.Errorf("cause = %v, want a protocol error", conn.cause)
			}
		})
	}
}

func TestLoseConnectionIdempotent(t *testing.T) {
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, nil)

	conn.LoseConnection()
	conn.LoseConnection()

	out := parseWritten(t, mock)
	if len(out) != 1 {
		t.Fatalf("wrote %d frames, want exactly 1 close frame", len(out))
	}
	if out[0].Opcode != OpcodeClose || !out[0].Fin || len(out[0].Payload) != 0 {
		t.Errorf("close frame = %+v, want empty final close", out[0])
	}
	if !mock.isClosed() {
		t.Error("transport was not closed")
	}
}

func TestConnTeardown(t *testing.T) {
	manager := NewManager()
	var disconnected *Conn
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, &Options{
		Manager:      manager,
		OnDisconnect: func(c *Conn) { disconnected = c },
	})
	manager.register(conn)

	conn.teardown(io.EOF)

	if !mock.isClosed() {
		t.Error("transport was not closed")
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
	if !handler.lost || handler.lostErr != io.EOF {
		t.Errorf("ConnectionLost = (%v, %v)", handler.lost, handler.lostErr)
	}
	if disconnected != conn {
		t.Error("OnDisconnect hook did not run")
	}
	if manager.Len() != 0 {
		t.Errorf("manager still tracks %d connections", manager.Len())
	}
}

func TestConnMaxMessageSize(t *testing.T) {
	handler := &recordHandler{}
	conn, mock := newTestConn(t, handler, &Options{MaxMessageSize: 16})

	// 0x82 0xFE declares a masked binary frame of 0xFFFF bytes. The
	// connection must drop before buffering any of that payload.
	conn.receive([]byte{0x82, 0xFE, 0xFF, 0xFF})

	if len(handler.frames) != 0 {
		t.Errorf("dispatched %d frames from an oversized frame", len(handler.frames))
	}
	if !mock.isClosed() {
		t.Error("transport was not closed")
	}
	if !IsProtocolError(conn.cause) {
		t.Errorf("cause = %v, want a protocol error", conn.cause)
	}
}

func TestConnMaxMessageSizeUnlimited(t *testing.T) {
	handler := &recordHandler{}
	conn, _ := newTestConn(t, handler, &Options{MaxMessageSize: -1})

	payload := make([]byte, DefaultMaxMessageSize+1)
	conn.receive(EncodeFrame(payload, OpcodeBinary, true, testMaskKey))

	if len(handler.frames) != 1 {
		t.Fatalf("dispatched %d frames, want 1", len(handler.frames))
	}
	if len(handler.frames[0].Payload) != len(payload) {
		t.Errorf("payload length = %d, want %d", len(handler.frames[0].Payload), len(payload))
	}
}

func TestConnRateLimit(t *testing.T) {
	handler := &recordHandler{}
	limiter := NewRateLimiter(1, 1)
	conn, mock := newTestConn(t, handler, &Options{Limiter: limiter})
	limiter.addClient(conn.ID())

	var buf []byte
	buf = append(buf, EncodeFrame([]byte("first"), OpcodeText, true, testMaskKey)...)
	buf = append(buf, EncodeFrame([]byte("second"), OpcodeText, true, testMaskKey)...)
	conn.receive(buf)

	if len(handler.frames) != 1 {
		t.Fatalf("dispatched %d frames, want 1 before the limit hit", len(handler.frames))
	}
	if !mock.isClosed() {
		t.Error("limited connection was not closed")
	}
}

func TestConnReadLoopLifecycle(t *testing.T) {
	server, client := net.Pipe()
	handler := &recordHandler{done: make(chan struct{})}

	opts := &Options{Logger: slog.New(slog.DiscardHandler)}
	opts.withDefault()
	conn := newConn(server, "", handler, opts)
	conn.start()

	if _, err := client.Write(EncodeFrame([]byte("over the wire"), OpcodeBinary, true, testMaskKey)); err != nil {
		t.Fatal(err)
	}
	client.Close()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not finish")
	}

	if len(handler.frames) != 1 || string(handler.frames[0].Payload) != "over the wire" {
		t.Errorf("frames = %v", handler.frames)
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
}
