package xu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
)

// messageType is the framed-message type tag carried in the tokenizer
// header for datagrams that are not STUN (§4.2 step 2-3).
type messageType uint16

const (
	// msgTypeXU identifies an envelope-wrapped overlay payload.
	msgTypeXU messageType = 1
	// msgTypeKeepalive identifies the zero-length keepalive frame
	// (§11.3 supplemented feature).
	msgTypeKeepalive messageType = 2
)

// EnvelopeLen is the fixed envelope prefixed to every outbound XU_MESSAGE
// body, after the shared {size,type} tokenizer header: reserved(4) +
// sender PeerIdentity(32).
const (
	reservedLen = 4
	EnvelopeLen = reservedLen + peerid.Size
	headerLen   = 4 // size:u16 | type:u16, owned by the tokenizer
	maxDatagram = 65535
)

// ErrReservedNonZero indicates an inbound envelope's reserved field was
// not zero, a malformed-input case per §7 taxonomy item 2.
var ErrReservedNonZero = errors.New("envelope reserved field must be zero")

// ErrEnvelopeTooShort indicates a datagram body was shorter than the
// fixed envelope prefix.
var ErrEnvelopeTooShort = errors.New("datagram shorter than envelope prefix")

// encodeFrame writes a full {size, type, reserved, sender, payload}
// datagram per §6's "Datagram envelope" wire format. The first four bytes
// (size, type) are the shared tokenizer header; the caller's transport
// sends the whole buffer as one UDP datagram (§4.2: "a single sendto").
func encodeFrame(sender peerid.ID, payload []byte) ([]byte, error) {
	total := headerLen + reservedLen + peerid.Size + len(payload)
	if total > maxDatagram {
		return nil, fmt.Errorf("encode frame: %d bytes: %w", total, plugin.ErrPayloadTooLarge)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	binary.BigEndian.PutUint16(buf[2:4], uint16(msgTypeXU))
	// reserved(4) is left zero.
	copy(buf[headerLen+reservedLen:headerLen+reservedLen+peerid.Size], sender[:])
	copy(buf[headerLen+reservedLen+peerid.Size:], payload)
	return buf, nil
}

// decodedFrame is the parsed view of one received XU_MESSAGE datagram.
type decodedFrame struct {
	Type    messageType
	Sender  peerid.ID
	Payload []byte
}

// decodeFrame validates and parses a datagram that the tokenizer header
// classified as the body after size/type have already been read off by
// the caller (§4.2 step 2). raw excludes the 4-byte {size,type} header.
func decodeFrame(msgType uint16, raw []byte) (decodedFrame, error) {
	if len(raw) < reservedLen+peerid.Size {
		return decodedFrame{}, fmt.Errorf("decode frame: %w", ErrEnvelopeTooShort)
	}

	reserved := binary.BigEndian.Uint32(raw[0:reservedLen])
	if reserved != 0 {
		return decodedFrame{}, fmt.Errorf("decode frame: %w", ErrReservedNonZero)
	}

	sender, err := peerid.FromBytes(raw[reservedLen : reservedLen+peerid.Size])
	if err != nil {
		return decodedFrame{}, fmt.Errorf("decode frame: sender: %w", err)
	}

	payload := raw[reservedLen+peerid.Size:]
	return decodedFrame{Type: messageType(msgType), Sender: sender, Payload: payload}, nil
}
