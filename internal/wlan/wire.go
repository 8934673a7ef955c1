package wlan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

// Message types carried in the first two bytes after size (§4.3).
const (
	msgTypeData     uint16 = 1
	msgTypeFragment uint16 = 2
	msgTypeAck      uint16 = 3
)

// wlanMTU is the link MTU, inclusive of whichever header is in play
// (§4.3: WLAN_MTU = 3000 bytes).
const wlanMTU = 3000

// wlanHeaderLen is {size:u16, type:u16, crc:u32, target:PeerIdentity}.
const wlanHeaderLen = 2 + 2 + 4 + peerid.Size

// fragHeaderLen is {size:u16, type:u16, message_id:u32,
// fragment_index:u16, fragment_crc:u16}.
const fragHeaderLen = 2 + 2 + 4 + 2 + 2

// ackHeaderLen is {size:u16, type:u16, message_id:u32, fragment_index:u16}.
const ackHeaderLen = 2 + 2 + 4 + 2

var (
	// ErrFrameTooShort indicates a frame shorter than its fixed header.
	ErrFrameTooShort = errors.New("wlan frame shorter than its header")
	// ErrDeclaredSizeMismatch indicates the header's size field does not
	// match the number of bytes actually present.
	ErrDeclaredSizeMismatch = errors.New("wlan frame declared size does not match length")
	// ErrUnknownMessageType indicates a type field outside {DATA, FRAGMENT, ACK}.
	ErrUnknownMessageType = errors.New("wlan frame carries an unknown message type")
	// ErrPayloadTooLarge indicates payload plus the unfragmented WlanHeader
	// would exceed wlanMTU.
	ErrPayloadTooLarge = errors.New("wlan payload exceeds link MTU for an unfragmented frame")
)

// crc16CCITT computes the CRC-16/CCITT (polynomial 0x1021) checksum used to
// validate individual fragment payloads (§4.3 step 1).
func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc32IEEE computes the CRC-32/IEEE checksum (polynomial 0xEDB88320,
// crc32.IEEE's reflected form) used to validate a whole reassembled or
// unfragmented frame (§4.3 step 3).
func crc32IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// wlanHeader is the fixed header preceding an unfragmented DATA payload.
type wlanHeader struct {
	Size   uint16
	Type   uint16
	CRC    uint32
	Target peerid.ID
}

// buildWlanBlob assembles the WlanHeader-plus-payload byte string that is
// either sent directly as one unfragmented DATA frame, or sliced into
// fragment-sized pieces for a FRAGMENT-carried message. Reassembly
// reproduces exactly this byte string before validating it, which is how
// a fragmented transfer ends up checked against the same CRC-32 an
// unfragmented one carries inline (§4.3 step 3).
func buildWlanBlob(target peerid.ID, payload []byte) []byte {
	total := wlanHeaderLen + len(payload)
	blob := make([]byte, total)
	binary.BigEndian.PutUint16(blob[0:2], uint16(total))
	binary.BigEndian.PutUint16(blob[2:4], msgTypeData)
	copy(blob[8:wlanHeaderLen], target[:])
	copy(blob[wlanHeaderLen:], payload)
	crc := crc32IEEE(blob[wlanHeaderLen:])
	binary.BigEndian.PutUint32(blob[4:8], crc)
	return blob
}

// encodeDataFrame builds a complete, self-CRC'd unfragmented DATA frame.
// Returns ErrPayloadTooLarge if the payload cannot fit under wlanMTU with
// the header attached; callers are expected to have already decided to
// fragment in that case.
func encodeDataFrame(target peerid.ID, payload []byte) ([]byte, error) {
	if wlanHeaderLen+len(payload) > wlanMTU {
		return nil, fmt.Errorf("encode data frame: %d bytes: %w", wlanHeaderLen+len(payload), ErrPayloadTooLarge)
	}
	return buildWlanBlob(target, payload), nil
}

// maxFragmentPayload is the largest slice of a WlanHeader blob one
// FRAGMENT message can carry under wlanMTU.
const maxFragmentPayload = wlanMTU - fragHeaderLen

// splitIntoFragments slices blob into maxFragmentPayload-sized pieces, in
// order, for transmission as a sequence of FRAGMENT messages.
func splitIntoFragments(blob []byte) [][]byte {
	var out [][]byte
	for off := 0; off < len(blob); off += maxFragmentPayload {
		end := off + maxFragmentPayload
		if end > len(blob) {
			end = len(blob)
		}
		out = append(out, blob[off:end])
	}
	if len(out) == 0 {
		out = [][]byte{{}}
	}
	return out
}

// decodeDataFrame validates and unpacks an unfragmented DATA frame.
// Returns the payload only if the embedded CRC-32 matches.
func decodeDataFrame(raw []byte) (wlanHeader, []byte, error) {
	if len(raw) < wlanHeaderLen {
		return wlanHeader{}, nil, fmt.Errorf("decode data frame: %d bytes: %w", len(raw), ErrFrameTooShort)
	}
	h := wlanHeader{
		Size: binary.BigEndian.Uint16(raw[0:2]),
		Type: binary.BigEndian.Uint16(raw[2:4]),
		CRC:  binary.BigEndian.Uint32(raw[4:8]),
	}
	copy(h.Target[:], raw[8:wlanHeaderLen])
	if int(h.Size) != len(raw) {
		return h, nil, fmt.Errorf("decode data frame: declared %d, got %d: %w", h.Size, len(raw), ErrDeclaredSizeMismatch)
	}
	if h.Type != msgTypeData {
		return h, nil, fmt.Errorf("decode data frame: type %d: %w", h.Type, ErrUnknownMessageType)
	}
	payload := raw[wlanHeaderLen:]
	if crc32IEEE(payload) != h.CRC {
		return h, nil, fmt.Errorf("decode data frame: %w", ErrCRCMismatch)
	}
	return h, payload, nil
}

// ErrCRCMismatch indicates a frame or fragment's checksum did not match
// its carried value.
var ErrCRCMismatch = errors.New("wlan checksum mismatch")

// fragmentHeader is the fixed header preceding one fragment's payload
// slice.
type fragmentHeader struct {
	Size          uint16
	Type          uint16
	MessageID     uint32
	FragmentIndex uint16
	FragmentCRC   uint16
}

// encodeFragment builds one FRAGMENT wire message carrying slice.
func encodeFragment(messageID uint32, fragmentIndex uint16, slice []byte) []byte {
	total := fragHeaderLen + len(slice)
	frame := make([]byte, total)
	binary.BigEndian.PutUint16(frame[0:2], uint16(total))
	binary.BigEndian.PutUint16(frame[2:4], msgTypeFragment)
	binary.BigEndian.PutUint32(frame[4:8], messageID)
	binary.BigEndian.PutUint16(frame[8:10], fragmentIndex)
	crc := crc16CCITT(slice)
	binary.BigEndian.PutUint16(frame[10:12], crc)
	copy(frame[fragHeaderLen:], slice)
	return frame
}

// decodeFragment validates and unpacks a single FRAGMENT wire message.
// The returned slice's per-fragment CRC-16 has already been validated
// against fragmentHeader.FragmentCRC.
func decodeFragment(raw []byte) (fragmentHeader, []byte, error) {
	if len(raw) < fragHeaderLen {
		return fragmentHeader{}, nil, fmt.Errorf("decode fragment: %d bytes: %w", len(raw), ErrFrameTooShort)
	}
	h := fragmentHeader{
		Size:          binary.BigEndian.Uint16(raw[0:2]),
		Type:          binary.BigEndian.Uint16(raw[2:4]),
		MessageID:     binary.BigEndian.Uint32(raw[4:8]),
		FragmentIndex: binary.BigEndian.Uint16(raw[8:10]),
		FragmentCRC:   binary.BigEndian.Uint16(raw[10:12]),
	}
	if int(h.Size) != len(raw) {
		return h, nil, fmt.Errorf("decode fragment: declared %d, got %d: %w", h.Size, len(raw), ErrDeclaredSizeMismatch)
	}
	if h.Type != msgTypeFragment {
		return h, nil, fmt.Errorf("decode fragment: type %d: %w", h.Type, ErrUnknownMessageType)
	}
	slice := raw[fragHeaderLen:]
	if crc16CCITT(slice) != h.FragmentCRC {
		return h, nil, fmt.Errorf("decode fragment: %w", ErrCRCMismatch)
	}
	return h, slice, nil
}

// ackMessage is the selective-acknowledgment wire message for one
// fragment.
type ackMessage struct {
	MessageID     uint32
	FragmentIndex uint16
}

// encodeAck builds one ACK wire message.
func encodeAck(a ackMessage) []byte {
	frame := make([]byte, ackHeaderLen)
	binary.BigEndian.PutUint16(frame[0:2], ackHeaderLen)
	binary.BigEndian.PutUint16(frame[2:4], msgTypeAck)
	binary.BigEndian.PutUint32(frame[4:8], a.MessageID)
	binary.BigEndian.PutUint16(frame[8:10], a.FragmentIndex)
	return frame
}

// decodeAck validates and unpacks an ACK wire message.
func decodeAck(raw []byte) (ackMessage, error) {
	if len(raw) < ackHeaderLen {
		return ackMessage{}, fmt.Errorf("decode ack: %d bytes: %w", len(raw), ErrFrameTooShort)
	}
	size := binary.BigEndian.Uint16(raw[0:2])
	if int(size) != len(raw) {
		return ackMessage{}, fmt.Errorf("decode ack: declared %d, got %d: %w", size, len(raw), ErrDeclaredSizeMismatch)
	}
	msgType := binary.BigEndian.Uint16(raw[2:4])
	if msgType != msgTypeAck {
		return ackMessage{}, fmt.Errorf("decode ack: type %d: %w", msgType, ErrUnknownMessageType)
	}
	return ackMessage{
		MessageID:     binary.BigEndian.Uint32(raw[4:8]),
		FragmentIndex: binary.BigEndian.Uint16(raw[8:10]),
	}, nil
}

// peekMessageType reads the type field without fully decoding, letting the
// plugin dispatch a received frame to the right decoder.
func peekMessageType(raw []byte) (uint16, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("peek message type: %d bytes: %w", len(raw), ErrFrameTooShort)
	}
	return binary.BigEndian.Uint16(raw[2:4]), nil
}
