// Package packet provides the transactional writer used to serialize octree
// bitstreams into packets, and the history of sent packets used to answer
// NACKs.
package packet

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	// ErrTypeCompression is the error type of finalized content that cannot
	// be decompressed.
	ErrTypeCompression = "packet_compression_error"

	// BytesPerColor is the size of a serialized color.
	BytesPerColor = 3

	// MaxPacketSize is the largest packet sent to a client.
	MaxPacketSize = 1450
)

var (
	encoder = mustNewEncoder()
	decoder = mustNewDecoder()
)

func mustNewEncoder() *zstd.Encoder {
	e, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic(errors.New("creating zstd encoder failed").Wrap(err))
	}
	return e
}

func mustNewDecoder() *zstd.Decoder {
	d, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		panic(errors.New("creating zstd decoder failed").Wrap(err))
	}
	return d
}

// Counters attribute the bytes written to a cursor to what they encode.
type Counters struct {
	OctalCodes int
	BitMasks   int
	Color      int
	Values     int
	RawData    int
}

// Level is a checkpoint returned by StartLevel.
type Level struct {
	start    int
	reserved int
	counters Counters
}

// Cursor is an append only buffer limited to a target size. Appends fail
// instead of exceeding the bytes available, and subtrees or levels that do
// not fit can be rolled back.
type Cursor struct {
	compression bool
	targetSize  int

	data           []byte
	bytesAvailable int
	bytesReserved  int

	subTreeAt            int
	subTreeBytesReserved int
	subTreeCounters      Counters

	counters Counters

	compressed []byte
	dirty      bool
}

// NewCursor returns an empty cursor.
func NewCursor(compression bool, targetSize int) *Cursor {
	c := &Cursor{}
	c.ChangeSettings(compression, targetSize)
	return c
}

// ChangeSettings changes the compression and the target size, and resets
// the cursor.
func (c *Cursor) ChangeSettings(compression bool, targetSize int) {
	c.compression = compression
	c.targetSize = targetSize
	c.data = make([]byte, 0, targetSize)
	c.Reset()
}

// Reset empties the cursor.
func (c *Cursor) Reset() {
	c.data = c.data[:0]
	c.bytesAvailable = c.targetSize
	c.bytesReserved = 0
	c.subTreeAt = 0
	c.subTreeBytesReserved = 0
	c.subTreeCounters = Counters{}
	c.counters = Counters{}
	c.compressed = c.compressed[:0]
	c.dirty = false
}

func (c *Cursor) IsCompressed() bool {
	return c.compression
}

func (c *Cursor) TargetSize() int {
	return c.targetSize
}

// BytesAvailable returns the bytes that can still be appended.
func (c *Cursor) BytesAvailable() int {
	return c.bytesAvailable
}

func (c *Cursor) BytesReserved() int {
	return c.bytesReserved
}

func (c *Cursor) Counters() Counters {
	return c.counters
}

// HasContent reports whether anything was appended.
func (c *Cursor) HasContent() bool {
	return len(c.data) > 0
}

// Append appends data if it fits.
func (c *Cursor) Append(data []byte) bool {
	if len(data) > c.bytesAvailable {
		return false
	}

	c.data = append(c.data, data...)
	c.bytesAvailable -= len(data)
	c.dirty = true
	return true
}

// AppendByte appends a single byte if it fits.
func (c *Cursor) AppendByte(b byte) bool {
	if c.bytesAvailable <= 0 {
		return false
	}

	c.data = append(c.data, b)
	c.bytesAvailable--
	c.dirty = true
	return true
}

// AppendBitMask appends a child bit mask.
func (c *Cursor) AppendBitMask(mask byte) bool {
	if !c.AppendByte(mask) {
		return false
	}
	c.counters.BitMasks++
	return true
}

// AppendColor appends a color, all three components or none.
func (c *Cursor) AppendColor(r, g, b byte) bool {
	if c.bytesAvailable < BytesPerColor {
		return false
	}

	c.Append([]byte{r, g, b})
	c.counters.Color += BytesPerColor
	return true
}

func (c *Cursor) appendValue(data []byte) bool {
	if !c.Append(data) {
		return false
	}
	c.counters.Values += len(data)
	return true
}

func (c *Cursor) AppendUint8(v uint8) bool {
	return c.appendValue([]byte{v})
}

func (c *Cursor) AppendBool(v bool) bool {
	if v {
		return c.AppendUint8(1)
	}
	return c.AppendUint8(0)
}

func (c *Cursor) AppendUint16(v uint16) bool {
	return c.appendValue(binary.LittleEndian.AppendUint16(nil, v))
}

func (c *Cursor) AppendUint32(v uint32) bool {
	return c.appendValue(binary.LittleEndian.AppendUint32(nil, v))
}

func (c *Cursor) AppendUint64(v uint64) bool {
	return c.appendValue(binary.LittleEndian.AppendUint64(nil, v))
}

func (c *Cursor) AppendFloat32(v float32) bool {
	return c.appendValue(binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)))
}

func (c *Cursor) AppendVec3(v mgl32.Vec3) bool {
	b := make([]byte, 0, 12)
	for _, f := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return c.appendValue(b)
}

// AppendQuat appends a quaternion as x, y, z, w.
func (c *Cursor) AppendQuat(q mgl32.Quat) bool {
	b := make([]byte, 0, 16)
	for _, f := range [4]float32{q.V.X(), q.V.Y(), q.V.Z(), q.W} {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return c.appendValue(b)
}

func (c *Cursor) AppendUUID(id uuid.UUID) bool {
	return c.appendValue(id[:])
}

// AppendRawData appends opaque bytes.
func (c *Cursor) AppendRawData(data []byte) bool {
	if !c.Append(data) {
		return false
	}
	c.counters.RawData += len(data)
	return true
}

// ReserveBytes sets aside n bytes so that later appends cannot use them.
func (c *Cursor) ReserveBytes(n int) bool {
	if c.bytesAvailable < n {
		return false
	}
	c.bytesReserved += n
	c.bytesAvailable -= n
	return true
}

// ReleaseReservedBytes gives back n reserved bytes.
func (c *Cursor) ReleaseReservedBytes(n int) bool {
	if c.bytesReserved < n {
		return false
	}
	c.bytesReserved -= n
	c.bytesAvailable += n
	return true
}

func (c *Cursor) ReserveBitMask() bool {
	return c.ReserveBytes(1)
}

func (c *Cursor) ReleaseReservedBitMask() bool {
	return c.ReleaseReservedBytes(1)
}

// UpdatePriorBitMask overwrites an already written byte.
func (c *Cursor) UpdatePriorBitMask(offset int, mask byte) bool {
	if offset < 0 || offset >= len(c.data) {
		return false
	}
	c.data[offset] = mask
	c.dirty = true
	return true
}

// UpdatePriorBytes overwrites already written bytes. data may overlap the
// cursor's own buffer.
func (c *Cursor) UpdatePriorBytes(offset int, data []byte) bool {
	if offset < 0 || offset+len(data) > len(c.data) {
		return false
	}
	copy(c.data[offset:], data)
	c.dirty = true
	return true
}

// StartSubTree writes the octal code that starts a subtree. A nil code
// writes the root code.
func (c *Cursor) StartSubTree(code octcode.Code) bool {
	counters := c.counters
	start := len(c.data)

	if code == nil {
		code = octcode.Root()
	}
	n := code.Bytes()
	if !c.Append(code[:n]) {
		return false
	}

	c.subTreeAt = start
	c.subTreeBytesReserved = c.bytesReserved
	c.subTreeCounters = counters
	c.counters.OctalCodes += n
	return true
}

// EndSubTree commits the current subtree.
func (c *Cursor) EndSubTree() {
	c.subTreeAt = len(c.data)
}

// DiscardSubTree rolls back everything written since StartSubTree.
func (c *Cursor) DiscardSubTree() {
	n := len(c.data) - c.subTreeAt
	c.data = c.data[:c.subTreeAt]
	c.counters = c.subTreeCounters

	c.bytesAvailable += n + c.bytesReserved - c.subTreeBytesReserved
	c.bytesReserved = c.subTreeBytesReserved
	c.dirty = true
}

// StartLevel returns a checkpoint to pass to EndLevel or DiscardLevel.
func (c *Cursor) StartLevel() Level {
	return Level{
		start:    len(c.data),
		reserved: c.bytesReserved,
		counters: c.counters,
	}
}

// EndLevel commits a level. It reports false when reserved bytes were left
// unreleased.
func (c *Cursor) EndLevel(l Level) bool {
	if c.bytesReserved != l.reserved {
		logs.Warn(errors.New("level ended with unreleased reserved bytes").
			WithTag("reserved_at_start", l.reserved).
			WithTag("reserved", c.bytesReserved))
		return false
	}
	return true
}

// DiscardLevel rolls back everything written since the matching StartLevel,
// counters included.
func (c *Cursor) DiscardLevel(l Level) {
	n := len(c.data) - l.start
	c.data = c.data[:l.start]
	c.counters = l.counters

	c.bytesAvailable += n + c.bytesReserved - l.reserved
	c.bytesReserved = l.reserved
	c.dirty = true
}

// UncompressedData returns the bytes written so far.
func (c *Cursor) UncompressedData() []byte {
	return c.data
}

func (c *Cursor) UncompressedSize() int {
	return len(c.data)
}

// UncompressedByteOffset returns the offset of the byte written
// offsetFromEnd bytes ago.
func (c *Cursor) UncompressedByteOffset(offsetFromEnd int) int {
	return len(c.data) - offsetFromEnd
}

// FinalizedData returns the content to put in a packet: the written bytes,
// zstd compressed when compression is enabled. The compressed form is
// cached until the next change.
func (c *Cursor) FinalizedData() []byte {
	if !c.compression {
		return c.data
	}

	if c.dirty || (len(c.compressed) == 0 && len(c.data) > 0) {
		c.compressed = encoder.EncodeAll(c.data, c.compressed[:0])
		c.dirty = false
	}
	return c.compressed
}

// FinalizedSize returns the size of FinalizedData.
func (c *Cursor) FinalizedSize() int {
	return len(c.FinalizedData())
}

// LoadFinalizedContent resets the cursor and loads content produced by
// FinalizedData. The target size grows when the content needs it.
func (c *Cursor) LoadFinalizedContent(data []byte) error {
	c.Reset()
	if len(data) == 0 {
		return nil
	}

	content := data
	if c.compression {
		var err error
		if content, err = decoder.DecodeAll(data, nil); err != nil {
			return errors.New("decompressing finalized content failed").
				WithType(ErrTypeCompression).
				WithTag("size", len(data)).
				Wrap(err)
		}
		c.compressed = append(c.compressed[:0], data...)
	}

	if len(content) > c.targetSize {
		c.targetSize = len(content)
		c.bytesAvailable = c.targetSize
	}
	c.data = append(c.data[:0], content...)
	c.bytesAvailable -= len(content)
	return nil
}
