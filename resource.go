package websock

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// LookupHandler selects the application handler for an incoming
// connection. It receives the sub-protocol names the client offered,
// in preference order, and the upgrade request. It returns the handler
// and the chosen sub-protocol name; the name, when non-empty, becomes
// the Sec-WebSocket-Protocol response header.
//
// The handler must implement FrameHandler or MessageHandler. A nil or
// unusable handler rejects the connection with status 502 -- a
// negotiation failure, distinct from a handshake validation failure.
type LookupHandler func(protocols []string, r *http.Request) (handler any, name string)

// StaticLookup builds a LookupHandler that ignores the offered
// protocol names and serves every connection with a handler produced
// by factory.
func StaticLookup(factory func(r *http.Request) any) LookupHandler {
	return func(protocols []string, r *http.Request) (any, string) {
		return factory(r), ""
	}
}

// Resource serves an application protocol over WebSockets. It is the
// boundary between HTTP routing and the framed protocol: a request
// that survives handshake validation and protocol negotiation is
// hijacked from the HTTP server and attached to a new Conn.
//
// A Resource has no children in the routing tree. Any path segment
// past it belongs to the WebSocket connection, not to further HTTP
// routing.
type Resource struct {
	lookup LookupHandler
	opts   *Options
}

// NewResource creates a Resource with the given lookup and options.
// A nil opts gets default values.
func NewResource(lookup LookupHandler, opts *Options) *Resource {
	if opts == nil {
		opts = &Options{}
	}
	opts.withDefault()
	return &Resource{lookup: lookup, opts: opts}
}

func (res *Resource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := validateHandshake(r); err != nil {
		if errors.Is(err, ErrMissingVersionHeader) || errors.Is(err, ErrInvalidVersionHeader) {
			// 4.4: advertise the supported version before rejecting.
			w.Header().Set("Sec-WebSocket-Version", "13")
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	handler, name := res.lookup(offeredProtocols(r), r)
	frameHandler := asFrameHandler(handler, res.opts)
	if frameHandler == nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	acceptKey := computeAcceptKey(r.Header.Get("Sec-WebSocket-Key"))

	c, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		// The ResponseWriter is in an unknown state after a failed
		// hijack; do not write to it.
		res.opts.Logger.Error("failed to hijack connection", "err", err)
		return
	}

	p := brw.Writer.AvailableBuffer()
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\n"...)
	p = append(p, "Upgrade: WebSocket\r\n"...)
	p = append(p, "Connection: Upgrade\r\n"...)
	p = append(p, "Sec-WebSocket-Accept: "...)
	p = append(p, acceptKey...)
	p = append(p, "\r\n"...)
	if name != "" {
		p = append(p, "Sec-WebSocket-Protocol: "...)
		p = append(p, name...)
		p = append(p, "\r\n"...)
	}
	p = append(p, "\r\n"...)

	if _, err := c.Write(p); err != nil {
		c.Close()
		return
	}

	// From here the transport belongs exclusively to the Conn; the
	// HTTP layer must not touch it again.
	conn := newConn(&brNetConn{br: brw.Reader, Conn: c}, name, frameHandler, res.opts)
	conn.start()
}

// asFrameHandler resolves the capability of a looked-up handler:
// frame-aware handlers connect directly, message handlers get the
// adapter, anything else is unusable.
func asFrameHandler(handler any, opts *Options) FrameHandler {
	switch h := handler.(type) {
	case FrameHandler:
		return h
	case MessageHandler:
		return newMessageAdapter(h, opts)
	default:
		return nil
	}
}

// brNetConn lets the Conn drain bytes the HTTP server buffered past
// the request before switching to direct transport reads.
// This is from gorilla/websocket.
type brNetConn struct {
	br *bufio.Reader
	net.Conn
}

func (b *brNetConn) Read(p []byte) (n int, err error) {
	if b.br != nil {
		// Limit read to buffered data.
		if n := b.br.Buffered(); len(p) > n {
			p = p[:n]
		}
		n, err = b.br.Read(p)
		if b.br.Buffered() == 0 {
			b.br = nil
		}
		return n, err
	}
	return b.Conn.Read(p)
}
