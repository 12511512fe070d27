package main

import (
	"fmt"
	"net/http"

	websock "github.com/websock-dev/websock"
)

type echoHandler struct {
	transport websock.Transport
}

func (h *echoHandler) ConnectionMade(t websock.Transport) {
	h.transport = t
}

func (h *echoHandler) MessageReceived(data []byte) {
	if err := h.transport.Write(data); err != nil {
		fmt.Println("write error:", err)
		h.transport.LoseConnection()
	}
}

func (h *echoHandler) ConnectionLost(err error) {}

func main() {
	resource := websock.NewResource(websock.StaticLookup(func(r *http.Request) any {
		return &echoHandler{}
	}), nil)

	http.Handle("/", resource)

	fmt.Println("Server listening on port 8080")
	http.ListenAndServe(":8080", nil)
}
