package protocol

import (
	"encoding/binary"
)

// MaxNacksPerPacket is the number of sequence numbers that fit in a NACK
// packet.
const MaxNacksPerPacket = (MaxPacketSize - HeaderSize - 2) / 2

// MarshalNacks returns the NACK packets asking for the given sequence
// numbers, split to fit the packet size.
func MarshalNacks(sequences []uint16) [][]byte {
	var packets [][]byte
	for len(sequences) > 0 {
		n := min(len(sequences), MaxNacksPerPacket)

		b := make([]byte, 0, HeaderSize+2+2*n)
		b = AppendHeader(b, TypeNack)
		b = binary.LittleEndian.AppendUint16(b, uint16(n))
		for _, s := range sequences[:n] {
			b = binary.LittleEndian.AppendUint16(b, s)
		}

		packets = append(packets, b)
		sequences = sequences[n:]
	}
	return packets
}

// ParseNack parses the payload of a NACK packet.
func ParseNack(payload []byte) ([]uint16, error) {
	r := reader{data: payload}
	count := int(r.uint16("count"))

	sequences := make([]uint16, 0, min(count, MaxNacksPerPacket))
	for i := 0; i < count; i++ {
		s := r.uint16("sequence")
		if r.err != nil {
			return nil, r.err
		}
		sequences = append(sequences, s)
	}
	return sequences, r.err
}
