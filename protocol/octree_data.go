package protocol

import (
	"encoding/binary"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/packet"
)

// DataFlags describe the content of an octree data packet.
type DataFlags byte

const (
	FlagColor DataFlags = 1 << iota
	FlagCompressed
)

func (f DataFlags) Color() bool {
	return f&FlagColor != 0
}

func (f DataFlags) Compressed() bool {
	return f&FlagCompressed != 0
}

// NewDataFlags returns the flags of a packet with the given content.
func NewDataFlags(color, compressed bool) DataFlags {
	var f DataFlags
	if color {
		f |= FlagColor
	}
	if compressed {
		f |= FlagCompressed
	}
	return f
}

const (
	// OctreeDataHeaderSize is the size of the header of an octree data
	// packet: the packet header, flags, sequence and sent time.
	OctreeDataHeaderSize = HeaderSize + 1 + 2 + 8

	// MaxOctreeDataSize is the room left for sections in an octree data
	// packet.
	MaxOctreeDataSize = MaxPacketSize - OctreeDataHeaderSize

	// SectionHeaderSize is the size prefix of a compressed section.
	SectionHeaderSize = 2
)

// AppendOctreeDataHeader appends the header of an octree data packet to b.
func AppendOctreeDataHeader(b []byte, flags DataFlags, sequence uint16, sentAt uint64) []byte {
	b = AppendHeader(b, TypeOctreeData)
	b = append(b, byte(flags))
	b = binary.LittleEndian.AppendUint16(b, sequence)
	return binary.LittleEndian.AppendUint64(b, sentAt)
}

// AppendSection appends the finalized content of a cursor to the sections of
// an octree data packet. Compressed sections are prefixed with their size.
func AppendSection(b []byte, data []byte, compressed bool) []byte {
	if compressed {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	}
	return append(b, data...)
}

// SectionSize returns the room a section of n bytes takes in a packet.
func SectionSize(n int, compressed bool) int {
	if compressed {
		return n + SectionHeaderSize
	}
	return n
}

// OctreeData is a parsed octree data packet.
type OctreeData struct {
	Flags    DataFlags
	Sequence uint16
	SentAt   uint64

	// Sections holds the compressed sections, or a single section with the
	// raw bitstream when the packet is not compressed.
	Sections [][]byte
}

// ParseOctreeData parses the payload of an octree data packet. Sections
// alias the payload.
func ParseOctreeData(payload []byte) (OctreeData, error) {
	r := reader{data: payload}
	d := OctreeData{
		Flags:    DataFlags(r.uint8("flags")),
		Sequence: r.uint16("sequence"),
		SentAt:   r.uint64("sent_at"),
	}
	if r.err != nil {
		return OctreeData{}, r.err
	}

	if !d.Flags.Compressed() {
		if rest := r.rest(); len(rest) != 0 {
			d.Sections = [][]byte{rest}
		}
		return d, nil
	}

	for r.offset < len(r.data) {
		section := r.next(int(r.uint16("section_size")), "section")
		if r.err != nil {
			return OctreeData{}, r.err
		}
		d.Sections = append(d.Sections, section)
	}
	return d, nil
}

// Bitstreams returns the uncompressed bitstreams of the sections.
func (d OctreeData) Bitstreams() ([][]byte, error) {
	if !d.Flags.Compressed() {
		return d.Sections, nil
	}

	bitstreams := make([][]byte, 0, len(d.Sections))
	c := packet.NewCursor(true, MaxPacketSize)
	for i, s := range d.Sections {
		if err := c.LoadFinalizedContent(s); err != nil {
			return nil, errors.New("decompressing section failed").
				WithType(ErrTypeMalformed).
				WithTag("sequence", d.Sequence).
				WithTag("section", i).
				Wrap(err)
		}
		bitstreams = append(bitstreams, append([]byte(nil), c.UncompressedData()...))
	}
	return bitstreams, nil
}
