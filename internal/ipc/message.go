package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// magic tags a well-formed message header, guarding against a stray
// datagram from something other than a pcd endpoint (spec §4.6).
const magic uint32 = 0x50434431 // "PCD1"

// MaxMessageSize bounds a single message body (spec §4.6: "1024 bytes
// default").
const MaxMessageSize = 1024

const headerSize = 4 + 4 + 4 // magic + size + srcSlot

// Message is one framed datagram: a fixed header plus an opaque body that
// the control plane (C7) interprets.
type Message struct {
	SrcSlot int32
	Body    []byte
}

// encode serializes m into wire form. The returned buffer's ownership
// transfers to the caller of Endpoint.Send on a successful write — per
// spec §9 (open question 3), the original frees its message buffer
// immediately after the kernel accepts a send, relying on the datagram
// having already been copied; this implementation makes that the explicit
// contract of Endpoint.Send rather than an accident of timing.
func encode(m Message) ([]byte, error) {
	if len(m.Body) > MaxMessageSize {
		return nil, fmt.Errorf("message body %d bytes exceeds max %d", len(m.Body), MaxMessageSize)
	}
	buf := make([]byte, headerSize+len(m.Body))
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(m.Body)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.SrcSlot))
	copy(buf[headerSize:], m.Body)
	return buf, nil
}

// decode parses a wire buffer into a Message, validating the magic and
// declared size against what was actually received.
func decode(buf []byte) (Message, error) {
	if len(buf) < headerSize {
		return Message{}, fmt.Errorf("message too short: %d bytes", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != magic {
		return Message{}, fmt.Errorf("bad message magic %#x", got)
	}
	size := binary.LittleEndian.Uint32(buf[4:8])
	srcSlot := int32(binary.LittleEndian.Uint32(buf[8:12]))
	body := buf[headerSize:]
	if int(size) != len(body) {
		return Message{}, fmt.Errorf("message size mismatch: header says %d, got %d", size, len(body))
	}
	return Message{SrcSlot: srcSlot, Body: bytes.Clone(body)}, nil
}
