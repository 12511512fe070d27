package main

import (
	"fmt"
	"net/http"

	websock "github.com/websock-dev/websock"
)

var manager = websock.NewManager()

type chatHandler struct {
	transport websock.Transport
}

func (h *chatHandler) ConnectionMade(t websock.Transport) {
	h.transport = t
	fmt.Println("joined:", t.RemoteAddr())
}

func (h *chatHandler) MessageReceived(data []byte) {
	manager.Broadcast(websock.OpcodeText, data)
}

func (h *chatHandler) ConnectionLost(err error) {
	fmt.Println("left:", h.transport.RemoteAddr())
}

func main() {
	opts := &websock.Options{
		Manager: manager,
		// Drop clients flooding more than 20 frames/s.
		Limiter: websock.NewRateLimiter(20, 40),
	}

	lookup := func(protocols []string, r *http.Request) (any, string) {
		for _, name := range protocols {
			if name == "chat" {
				return &chatHandler{}, "chat"
			}
		}
		// Raw clients are fine too.
		return &chatHandler{}, ""
	}

	http.Handle("/", websock.NewResource(lookup, opts))

	fmt.Println("Server listening on port 8080")
	http.ListenAndServe(":8080", nil)
}
