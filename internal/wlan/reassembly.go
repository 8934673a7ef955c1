package wlan

import (
	"net"
	"time"
)

// reassemblyTimeout bounds how long an incomplete reassembly entry is kept
// before being evicted (§4.3 step 4: "a reassembly entry whose creation
// deadline has passed ... is evicted"). The distilled contract does not
// pin an exact value, so this follows the sender's own FRAGMENT_TIMEOUT
// scaled up by the in-flight bound, giving a sender enough retransmission
// attempts to complete a transfer before the receiver gives up on it.
const reassemblyTimeout = fragmentTimeout * maxInFlight

// reassemblyKey identifies one in-progress reassembly. The wire format has
// no sender-identity field on FRAGMENT messages (§4.3's FragmentationHeader
// carries only message_id and fragment_index), so the source MAC address
// stands in for "sender" here. The bearer does not bind a MAC to a peer
// identity.
type reassemblyKey struct {
	from      [6]byte
	messageID uint32
}

// reassemblyEntry accumulates fragment payload slices for one in-progress
// message.
type reassemblyEntry struct {
	fragments   map[uint16][]byte
	highestSeen uint16
	expected    uint16 // 0 means "not yet known"
	deadline    time.Time
}

func macKey(mac net.HardwareAddr) [6]byte {
	var k [6]byte
	copy(k[:], mac)
	return k
}

// handleFragment processes one inbound FRAGMENT wire message: validates
// the per-fragment CRC (already done by decodeFragment), stores the slice,
// ACKs it, and attempts to complete the reassembly (§4.3 steps 1-3).
func (p *Plugin) handleFragment(from net.HardwareAddr, h fragmentHeader, slice []byte) {
	key := reassemblyKey{from: macKey(from), messageID: h.MessageID}
	entry := p.reassembly[key]
	if entry == nil {
		entry = &reassemblyEntry{
			fragments: make(map[uint16][]byte),
			deadline:  time.Now().Add(reassemblyTimeout),
		}
		p.reassembly[key] = entry
	}

	if _, have := entry.fragments[h.FragmentIndex]; !have {
		stored := make([]byte, len(slice))
		copy(stored, slice)
		entry.fragments[h.FragmentIndex] = stored
	}
	if h.FragmentIndex > entry.highestSeen {
		entry.highestSeen = h.FragmentIndex
	}
	// A short slice can only be the final fragment, since every other
	// fragment is cut at exactly maxFragmentPayload bytes.
	if len(slice) < maxFragmentPayload {
		entry.expected = h.FragmentIndex + 1
	}

	p.sendRawTo(from, encodeAck(ackMessage{MessageID: h.MessageID, FragmentIndex: h.FragmentIndex}))

	if entry.expected == 0 {
		return
	}
	for i := uint16(0); i < entry.expected; i++ {
		if _, have := entry.fragments[i]; !have {
			return
		}
	}

	blob := make([]byte, 0, int(entry.expected)*maxFragmentPayload)
	for i := uint16(0); i < entry.expected; i++ {
		blob = append(blob, entry.fragments[i]...)
	}
	delete(p.reassembly, key)

	wh, payload, err := decodeDataFrame(blob)
	if err != nil {
		if p.env.Stats != nil {
			p.env.Stats.IncCounter(bearerName, "reassembly_failed")
		}
		return
	}
	if p.env.Stats != nil {
		p.env.Stats.IncCounter(bearerName, "reassembly_complete")
	}
	p.deliver(from, wh.Target, payload)
}

// evictExpiredReassemblies drops reassembly entries whose deadline has
// passed without completing. No NACK is generated; the sender's own
// per-fragment retransmission timer is the sole recovery path (§4.3 step
// 4).
func (p *Plugin) evictExpiredReassemblies(now time.Time) {
	for key, entry := range p.reassembly {
		if now.After(entry.deadline) {
			delete(p.reassembly, key)
			if p.env.Stats != nil {
				p.env.Stats.IncCounter(bearerName, "reassembly_evicted")
			}
		}
	}
}
