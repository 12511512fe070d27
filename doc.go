// Package websock is a server-side WebSocket (RFC 6455) library for Go.
//
// It provides the three layers a host HTTP server needs to speak the
// framed protocol: a frame codec, the upgrade handshake, and a
// per-connection state machine that reassembles frames into messages
// and answers control traffic.
//
// # Layers
//
//   - EncodeFrame and ParseFrames work on plain byte slices and carry
//     no I/O or state of their own.
//   - Resource is an http.Handler that validates the handshake,
//     negotiates a sub-protocol through a pluggable lookup, and hands
//     the hijacked transport to a new Conn.
//   - Conn owns the transport after the upgrade. It parses incoming
//     bytes into frames, replies to PINGs, runs the close handshake,
//     and dispatches data frames to the application handler.
//
// Applications implement either FrameHandler, to see raw frames, or
// MessageHandler, to receive whole reassembled messages; in the latter
// case a message adapter is inserted automatically at attach time.
package websock
