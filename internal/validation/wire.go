// Package validation implements the PING/PONG address validation
// challenge-response: it binds a plugin-reported address back to a peer
// identity and measures round-trip latency along the way. It rides on top
// of whatever bearer delivered the message, wrapping that bearer's Receive
// upcall rather than introducing a new wire-level message type of its own.
package validation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

// msgType tags a validation payload as it travels inside whatever framing
// the owning bearer already uses for overlay messages.
type msgType uint16

const (
	msgTypePing msgType = 1
	msgTypePong msgType = 2
)

const tagLen = 2

// ErrFrameTooShort indicates a validation payload shorter than its fixed
// fields.
var ErrFrameTooShort = errors.New("validation message shorter than its fixed fields")

// ErrNotAValidationMessage indicates a payload does not carry a recognized
// validation tag; callers use this to fall through to the overlay's own
// Receive handler.
var ErrNotAValidationMessage = errors.New("not a validation message")

const pingFixedLen = tagLen + 4 + peerid.Size + 2 // tag, nonce, target, observed_addr length prefix
const pongFixedLen = tagLen + 4 + 2               // tag, nonce, observer_addr length prefix

// IsValidationMessage reports whether payload carries a recognizable PING
// or PONG tag.
func IsValidationMessage(payload []byte) bool {
	if len(payload) < tagLen {
		return false
	}
	t := msgType(binary.BigEndian.Uint16(payload[0:tagLen]))
	return t == msgTypePing || t == msgTypePong
}

// pingMessage is the decoded PING challenge: a nonce, the identity the
// sender believes it is reaching, the sender's address as it believes the
// target observes it, and a signature over the rest of the fields.
type pingMessage struct {
	Nonce        uint32
	Target       peerid.ID
	ObservedAddr []byte
	Signature    []byte
}

// encodePing serializes a PING message. The signature covers nonce, target
// and observedAddr, so it must already be computed over exactly those
// bytes (see signedPingSpan).
func encodePing(nonce uint32, target peerid.ID, observedAddr, signature []byte) ([]byte, error) {
	if len(observedAddr) > 0xFFFF || len(signature) > 0xFFFF {
		return nil, fmt.Errorf("encode ping: field too large")
	}
	total := pingFixedLen + len(observedAddr) + 2 + len(signature)
	buf := make([]byte, total)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(msgTypePing))
	off += tagLen
	binary.BigEndian.PutUint32(buf[off:], nonce)
	off += 4
	copy(buf[off:off+peerid.Size], target[:])
	off += peerid.Size
	binary.BigEndian.PutUint16(buf[off:], uint16(len(observedAddr)))
	off += 2
	copy(buf[off:off+len(observedAddr)], observedAddr)
	off += len(observedAddr)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(signature)))
	off += 2
	copy(buf[off:off+len(signature)], signature)
	return buf, nil
}

// signedPingSpan returns the byte span a PING's signature is computed over:
// nonce || target || observed_addr, excluding the tag and the signature
// itself.
func signedPingSpan(nonce uint32, target peerid.ID, observedAddr []byte) []byte {
	span := make([]byte, 4+peerid.Size+len(observedAddr))
	binary.BigEndian.PutUint32(span[0:4], nonce)
	copy(span[4:4+peerid.Size], target[:])
	copy(span[4+peerid.Size:], observedAddr)
	return span
}

func decodePing(raw []byte) (pingMessage, error) {
	if len(raw) < pingFixedLen {
		return pingMessage{}, fmt.Errorf("decode ping: %w", ErrFrameTooShort)
	}
	off := tagLen
	if msgType(binary.BigEndian.Uint16(raw[0:tagLen])) != msgTypePing {
		return pingMessage{}, fmt.Errorf("decode ping: %w", ErrNotAValidationMessage)
	}
	var m pingMessage
	m.Nonce = binary.BigEndian.Uint32(raw[off:])
	off += 4
	copy(m.Target[:], raw[off:off+peerid.Size])
	off += peerid.Size
	addrLen := int(binary.BigEndian.Uint16(raw[off:]))
	off += 2
	if len(raw) < off+addrLen+2 {
		return pingMessage{}, fmt.Errorf("decode ping: %w", ErrFrameTooShort)
	}
	m.ObservedAddr = append([]byte(nil), raw[off:off+addrLen]...)
	off += addrLen
	sigLen := int(binary.BigEndian.Uint16(raw[off:]))
	off += 2
	if len(raw) < off+sigLen {
		return pingMessage{}, fmt.Errorf("decode ping: %w", ErrFrameTooShort)
	}
	m.Signature = append([]byte(nil), raw[off:off+sigLen]...)
	return m, nil
}

// pongMessage is the decoded PONG response: the echoed nonce, the address
// the responder actually observed the PING arriving from, and a signature.
type pongMessage struct {
	Nonce        uint32
	ObserverAddr []byte
	Signature    []byte
}

func encodePong(nonce uint32, observerAddr, signature []byte) ([]byte, error) {
	if len(observerAddr) > 0xFFFF || len(signature) > 0xFFFF {
		return nil, fmt.Errorf("encode pong: field too large")
	}
	total := pongFixedLen + len(observerAddr) + 2 + len(signature)
	buf := make([]byte, total)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(msgTypePong))
	off += tagLen
	binary.BigEndian.PutUint32(buf[off:], nonce)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(observerAddr)))
	off += 2
	copy(buf[off:off+len(observerAddr)], observerAddr)
	off += len(observerAddr)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(signature)))
	off += 2
	copy(buf[off:off+len(signature)], signature)
	return buf, nil
}

// signedPongSpan returns the byte span a PONG's signature is computed over:
// nonce || observer_addr.
func signedPongSpan(nonce uint32, observerAddr []byte) []byte {
	span := make([]byte, 4+len(observerAddr))
	binary.BigEndian.PutUint32(span[0:4], nonce)
	copy(span[4:], observerAddr)
	return span
}

func decodePong(raw []byte) (pongMessage, error) {
	if len(raw) < pongFixedLen {
		return pongMessage{}, fmt.Errorf("decode pong: %w", ErrFrameTooShort)
	}
	off := tagLen
	if msgType(binary.BigEndian.Uint16(raw[0:tagLen])) != msgTypePong {
		return pongMessage{}, fmt.Errorf("decode pong: %w", ErrNotAValidationMessage)
	}
	var m pongMessage
	m.Nonce = binary.BigEndian.Uint32(raw[off:])
	off += 4
	addrLen := int(binary.BigEndian.Uint16(raw[off:]))
	off += 2
	if len(raw) < off+addrLen+2 {
		return pongMessage{}, fmt.Errorf("decode pong: %w", ErrFrameTooShort)
	}
	m.ObserverAddr = append([]byte(nil), raw[off:off+addrLen]...)
	off += addrLen
	sigLen := int(binary.BigEndian.Uint16(raw[off:]))
	off += 2
	if len(raw) < off+sigLen {
		return pongMessage{}, fmt.Errorf("decode pong: %w", ErrFrameTooShort)
	}
	m.Signature = append([]byte(nil), raw[off:off+sigLen]...)
	return m, nil
}
