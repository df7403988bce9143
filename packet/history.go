package packet

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DefaultHistorySize is the number of packets a History retains by default.
const DefaultHistorySize = 1000

// History is a circular buffer of the most recently sent packets, looked up
// by sequence number. Sequence numbers are expected to be consecutive and
// wrap around at 65535. History is not safe for concurrent use.
type History struct {
	packets        [][]byte
	newestSequence uint16
	newestAt       int
	numExisting    int
}

// NewHistory returns a history retaining up to size packets.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		packets:  make([][]byte, size),
		newestAt: size - 1,
	}
}

// PacketSent records a sent packet, overwriting the oldest one when full.
func (h *History) PacketSent(sequence uint16, data []byte) {
	if h.numExisting > 0 && sequence != h.newestSequence+1 {
		logs.WithTag("expected_sequence", h.newestSequence+1).
			WithTag("sequence", sequence).
			Debug("packet history sequence gap")
	}

	h.newestAt = (h.newestAt + 1) % len(h.packets)
	h.newestSequence = sequence
	h.packets[h.newestAt] = append([]byte(nil), data...)
	if h.numExisting < len(h.packets) {
		h.numExisting++
	}
}

// Packet returns the packet sent with the given sequence number, if it is
// still retained.
func (h *History) Packet(sequence uint16) ([]byte, bool) {
	back := int(h.newestSequence - sequence)
	if h.numExisting == 0 || back >= h.numExisting {
		return nil, false
	}

	i := (h.newestAt - back + len(h.packets)) % len(h.packets)
	return h.packets[i], true
}

// Len returns the number of retained packets.
func (h *History) Len() int {
	return h.numExisting
}

// Cap returns the number of packets the history can retain.
func (h *History) Cap() int {
	return len(h.packets)
}
