package websock

import (
	"encoding/binary"
	"math"
	"slices"
)

// Opcode is the 4-bit frame type tag from the frame header.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0 // Continuation frame
	OpcodeText         Opcode = 0x1 // Text frame (UTF-8)
	OpcodeBinary       Opcode = 0x2 // Binary frame
	OpcodeClose        Opcode = 0x8 // Connection close
	OpcodePing         Opcode = 0x9 // Ping
	OpcodePong         Opcode = 0xA // Pong
)

const (
	CloseNormalClosure           uint16 = 1000
	CloseGoingAway               uint16 = 1001
	CloseProtocolError           uint16 = 1002
	CloseUnsupportedData         uint16 = 1003
	CloseInvalidFramePayloadData uint16 = 1007
	ClosePolicyViolation         uint16 = 1008
	CloseMessageTooBig           uint16 = 1009
	CloseMandatoryExtension      uint16 = 1010
	CloseInternalServerErr       uint16 = 1011
)

var allowedCloseCodes = []uint16{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011}

// IsValidCloseCode reports whether code is one of the RFC 6455 close
// codes a peer may put on the wire.
func IsValidCloseCode(code uint16) bool {
	return slices.Contains(allowedCloseCodes, code)
}

func (op Opcode) valid() bool {
	switch op {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// IsControl reports whether the opcode tags a control frame.
func (op Opcode) IsControl() bool {
	return op == OpcodeClose || op == OpcodePing || op == OpcodePong
}

// IsData reports whether the opcode tags a data frame.
func (op Opcode) IsData() bool {
	return op == OpcodeContinuation || op == OpcodeText || op == OpcodeBinary
}

// Frame is one decoded unit of the wire protocol.
//
// For close frames, Code and Reason hold the status code and UTF-8
// reason text decoded from the payload. A close frame whose payload is
// shorter than two bytes decodes to (1000, "No reason given").
type Frame struct {
	Opcode  Opcode
	Payload []byte
	Fin     bool

	Code   uint16
	Reason string
}

// defaultCloseReason is substituted when a close frame carries no
// status code of its own.
const defaultCloseReason = "No reason given"

// EncodeFrame builds a single frame around payload, using the smallest
// length encoding that fits. If maskKey is non-nil it must be exactly
// four bytes; the key is written after the length field and the payload
// is masked with it. Servers send unmasked, so maskKey is nil on the
// server write path.
func EncodeFrame(payload []byte, opcode Opcode, fin bool, maskKey []byte) []byte {
	b0 := byte(opcode) & 0x0F
	if fin {
		b0 |= finBit
	}

	var lengthMask byte
	if maskKey != nil {
		lengthMask = maskBit
	}

	n := len(payload)
	buf := make([]byte, 2, frameSize(n, maskKey != nil))
	buf[0] = b0

	switch {
	case n <= 125:
		buf[1] = lengthMask | byte(n)
	case n <= 0xFFFF:
		buf[1] = lengthMask | 126
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf[1] = lengthMask | 127
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	if maskKey != nil {
		buf = append(buf, maskKey...)
		masked := make([]byte, n)
		copy(masked, payload)
		maskBytes(masked, maskKey)
		buf = append(buf, masked...)
	} else {
		buf = append(buf, payload...)
	}

	return buf
}

// frameSize returns the encoded size of a frame with an n-byte payload.
func frameSize(n int, masked bool) int {
	size := 2 + n
	if masked {
		size += 4
	}
	switch {
	case n <= 125:
	case n <= 0xFFFF:
		size += 2
	default:
		size += 8
	}
	return size
}

// ParseFrames decodes every complete frame at the front of buf and
// returns them in arrival order together with the remaining bytes.
// The remainder is at most one partial frame; callers keep it and
// append the next read to it. A frame is never decoded partially: if
// any part of it is missing, the whole frame stays in the remainder.
//
// requireMask rejects unmasked frames, which a server must do for
// client traffic. Reserved header bits, unknown opcodes, and mask
// violations return a *ProtocolError; frames decoded before the
// violation are still returned, and the caller must treat the error as
// fatal for the connection rather than retry the parse.
func ParseFrames(buf []byte, requireMask bool) ([]Frame, []byte, error) {
	return parseFrames(buf, requireMask, 0)
}

// parseFrames is ParseFrames with an upper bound on the declared payload
// length of a single frame. maxPayload <= 0 means no bound. The bound is
// checked against the length field alone, so an oversized frame is
// rejected before any of its payload has arrived.
func parseFrames(buf []byte, requireMask bool, maxPayload int) ([]Frame, []byte, error) {
	var frames []Frame
	start := 0

loop:
	for {
		if len(buf)-start < 2 {
			break
		}

		header := buf[start]
		if header&rsvBits != 0 {
			return frames, buf[start:], protocolErr("reserved bits set in frame header (0x%02x)", header)
		}
		fin := header&finBit != 0
		opcode := Opcode(header & 0x0F)
		if !opcode.valid() {
			return frames, buf[start:], protocolErr("unknown opcode %d in frame", opcode)
		}

		masked := buf[start+1]&maskBit != 0
		if requireMask && !masked {
			return frames, buf[start:], protocolErr("received unmasked frame from client")
		}

		length := int(buf[start+1] & 0x7F)
		offset := 2

		switch length {
		case 126:
			if len(buf)-start < 4 {
				break loop
			}
			length = int(binary.BigEndian.Uint16(buf[start+2 : start+4]))
			offset += 2
		case 127:
			if len(buf)-start < 10 {
				break loop
			}
			length64 := binary.BigEndian.Uint64(buf[start+2 : start+10])
			if length64 > math.MaxInt {
				return frames, buf[start:], protocolErr("frame payload length %d overflows", length64)
			}
			length = int(length64)
			offset += 8
		}

		if maxPayload > 0 && length > maxPayload {
			return frames, buf[start:], protocolErr("frame payload of %d bytes exceeds limit of %d", length, maxPayload)
		}

		var key []byte
		if masked {
			if len(buf)-start-offset < 4 {
				break loop
			}
			key = buf[start+offset : start+offset+4]
			offset += 4
		}

		if len(buf)-start-offset < length {
			break loop
		}

		payload := make([]byte, length)
		copy(payload, buf[start+offset:start+offset+length])
		if masked {
			maskBytes(payload, key)
		}

		frame := Frame{Opcode: opcode, Payload: payload, Fin: fin}
		if opcode == OpcodeClose {
			if length >= 2 {
				frame.Code = binary.BigEndian.Uint16(payload[:2])
				frame.Reason = string(payload[2:])
			} else {
				frame.Code = CloseNormalClosure
				frame.Reason = defaultCloseReason
			}
		}

		frames = append(frames, frame)
		start += offset + length
	}

	return frames, buf[start:], nil
}

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
)
