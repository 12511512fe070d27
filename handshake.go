package websock

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
)

// GUID is the fixed value appended to the client's key before hashing,
// from RFC 6455 section 1.3.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// computeAcceptKey builds the Sec-WebSocket-Accept digest for a
// client's Sec-WebSocket-Key: base64(sha1(key + GUID)). The key is
// treated as an opaque string.
func computeAcceptKey(key string) string {
	hashed := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(hashed[:])
}

// validateHandshake checks an inbound upgrade request. Any returned
// error means the request must be rejected with status 400 and an
// empty body.
func validateHandshake(r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrWrongMethod
	}
	if err := validateUpgradeHeader(r); err != nil {
		return err
	}
	if err := validateConnectionHeader(r); err != nil {
		return err
	}
	if err := validateVersionHeader(r); err != nil {
		return err
	}
	if err := validateSecKeyHeader(r); err != nil {
		return err
	}
	return nil
}

func validateUpgradeHeader(r *http.Request) error {
	rawHeader := r.Header.Get("Upgrade")
	if rawHeader == "" {
		return ErrMissingUpgradeHeader
	}
	if !headerContainsToken(rawHeader, "websocket") {
		return ErrInvalidUpgradeHeader
	}
	return nil
}

func validateConnectionHeader(r *http.Request) error {
	rawHeader := r.Header.Get("Connection")
	if rawHeader == "" {
		return ErrMissingConnectionHeader
	}
	if !headerContainsToken(rawHeader, "upgrade") {
		return ErrInvalidConnectionHeader
	}
	return nil
}

func validateVersionHeader(r *http.Request) error {
	header := r.Header.Get("Sec-WebSocket-Version")
	if header == "" {
		return ErrMissingVersionHeader
	}
	if strings.TrimSpace(header) != "13" {
		return ErrInvalidVersionHeader
	}
	return nil
}

func validateSecKeyHeader(r *http.Request) error {
	if strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")) == "" {
		return ErrMissingSecKey
	}
	return nil
}

// headerContainsToken reports whether a comma-separated header value
// contains the given token, case-insensitively.
func headerContainsToken(rawHeader, token string) bool {
	for part := range strings.SplitSeq(strings.ToLower(rawHeader), ",") {
		if strings.TrimSpace(part) == token {
			return true
		}
	}
	return false
}

// offeredProtocols collects the sub-protocol names the client asked
// for, in order, from every Sec-WebSocket-Protocol header line.
func offeredProtocols(r *http.Request) []string {
	var names []string
	for _, rawHeader := range r.Header.Values("Sec-WebSocket-Protocol") {
		for part := range strings.SplitSeq(rawHeader, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
