package packet

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aukilabs/octree-server/octcode"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCursorAppend(t *testing.T) {
	c := NewCursor(false, 8)

	require.True(t, c.Append([]byte{1, 2, 3}))
	require.Equal(t, 5, c.BytesAvailable())
	require.False(t, c.Append([]byte{1, 2, 3, 4, 5, 6}))
	require.True(t, c.AppendByte(4))
	require.True(t, c.AppendBitMask(0xFF))
	require.True(t, c.AppendColor(7, 8, 9))
	require.Equal(t, 0, c.BytesAvailable())
	require.False(t, c.AppendByte(1))
	require.False(t, c.AppendColor(1, 2, 3))

	require.Equal(t, []byte{1, 2, 3, 4, 0xFF, 7, 8, 9}, c.UncompressedData())
	require.Equal(t, Counters{BitMasks: 1, Color: 3}, c.Counters())
}

func TestCursorAppendColorAllOrNothing(t *testing.T) {
	c := NewCursor(false, 5)

	require.True(t, c.AppendColor(1, 2, 3))
	require.False(t, c.AppendColor(4, 5, 6))
	require.Equal(t, 3, c.UncompressedSize())
	require.Equal(t, 2, c.BytesAvailable())
}

func TestCursorValues(t *testing.T) {
	c := NewCursor(false, 128)

	require.True(t, c.AppendUint8(1))
	require.True(t, c.AppendBool(true))
	require.True(t, c.AppendUint16(0x0302))
	require.True(t, c.AppendUint32(0x07060504))
	require.True(t, c.AppendUint64(1))
	require.True(t, c.AppendFloat32(1))
	require.True(t, c.AppendVec3(mgl32.Vec3{1, 2, 3}))
	require.True(t, c.AppendQuat(mgl32.QuatIdent()))
	require.True(t, c.AppendUUID(uuid.New()))
	require.True(t, c.AppendRawData([]byte{9, 9}))

	data := c.UncompressedData()
	require.Equal(t, []byte{1, 1, 2, 3, 4, 5, 6, 7}, data[:8])
	require.Equal(t, Counters{Values: 1 + 1 + 2 + 4 + 8 + 4 + 12 + 16 + 16, RawData: 2}, c.Counters())
}

func TestCursorReserve(t *testing.T) {
	c := NewCursor(false, 4)

	require.True(t, c.ReserveBitMask())
	require.Equal(t, 3, c.BytesAvailable())
	require.False(t, c.Append([]byte{1, 2, 3, 4}))
	require.True(t, c.Append([]byte{1, 2, 3}))
	require.False(t, c.AppendByte(4))

	require.True(t, c.ReleaseReservedBitMask())
	require.False(t, c.ReleaseReservedBitMask())
	require.True(t, c.AppendByte(4))
	require.False(t, c.ReserveBytes(1))
}

func TestCursorUpdatePrior(t *testing.T) {
	c := NewCursor(false, 16)
	require.True(t, c.Append([]byte{0, 1, 2, 3}))

	require.True(t, c.UpdatePriorBitMask(c.UncompressedByteOffset(4), 0xAA))
	require.False(t, c.UpdatePriorBitMask(4, 0xAA))
	require.False(t, c.UpdatePriorBitMask(-1, 0xAA))

	require.True(t, c.UpdatePriorBytes(1, c.UncompressedData()[2:4]))
	require.False(t, c.UpdatePriorBytes(3, []byte{1, 2}))
	require.Equal(t, []byte{0xAA, 2, 3, 3}, c.UncompressedData())
}

func TestCursorSubTree(t *testing.T) {
	c := NewCursor(false, 16)

	require.True(t, c.StartSubTree(nil))
	require.True(t, c.AppendBitMask(0))
	c.EndSubTree()
	require.Equal(t, []byte{0, 0}, c.UncompressedData())

	code := octcode.FromSections(1, 2, 3)
	require.True(t, c.StartSubTree(code))
	require.True(t, c.ReserveBitMask())
	require.True(t, c.AppendColor(1, 2, 3))
	require.Equal(t, 1+3, c.Counters().OctalCodes)

	c.DiscardSubTree()
	require.Equal(t, []byte{0, 0}, c.UncompressedData())
	require.Equal(t, 14, c.BytesAvailable())
	require.Zero(t, c.BytesReserved())
	require.Equal(t, Counters{OctalCodes: 1, BitMasks: 1}, c.Counters())

	require.False(t, c.StartSubTree(octcode.FromSections(make([]int, 60)...)))
	require.Equal(t, []byte{0, 0}, c.UncompressedData())
}

func TestCursorLevels(t *testing.T) {
	c := NewCursor(false, 32)
	require.True(t, c.StartSubTree(octcode.FromSections(5)))
	require.True(t, c.AppendBitMask(0x80))

	inUse, available, counters, reserved := c.UncompressedSize(), c.BytesAvailable(), c.Counters(), c.BytesReserved()

	level := c.StartLevel()
	require.True(t, c.AppendBitMask(0x40))
	require.True(t, c.AppendColor(1, 2, 3))
	require.True(t, c.ReserveBytes(2))
	require.True(t, c.AppendUint32(7))
	require.True(t, c.AppendRawData([]byte{1}))
	c.DiscardLevel(level)

	require.Equal(t, inUse, c.UncompressedSize())
	require.Equal(t, available, c.BytesAvailable())
	require.Equal(t, counters, c.Counters())
	require.Equal(t, reserved, c.BytesReserved())

	level = c.StartLevel()
	require.True(t, c.AppendBitMask(0x40))
	require.True(t, c.EndLevel(level))

	level = c.StartLevel()
	require.True(t, c.ReserveBitMask())
	require.False(t, c.EndLevel(level))
}

func TestZstdCodecs(t *testing.T) {
	e := mustNewEncoder()
	defer e.Close()
	d := mustNewDecoder()
	defer d.Close()

	data := []byte("octree octree octree octree")
	decoded, err := d.DecodeAll(e.EncodeAll(data, nil), nil)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestCursorCompression(t *testing.T) {
	c := NewCursor(true, 1500)

	for i := 0; i < 100; i++ {
		require.True(t, c.AppendColor(10, 20, 30))
	}
	raw := bytes.Clone(c.UncompressedData())

	finalized := bytes.Clone(c.FinalizedData())
	require.Less(t, len(finalized), len(raw))
	require.Equal(t, len(finalized), c.FinalizedSize())

	require.True(t, c.AppendByte(1))
	require.NotEqual(t, finalized, c.FinalizedData())

	loaded := NewCursor(true, 16)
	require.NoError(t, loaded.LoadFinalizedContent(finalized))
	require.Equal(t, raw, loaded.UncompressedData())
	require.Equal(t, finalized, loaded.FinalizedData())
	require.Equal(t, len(raw), loaded.TargetSize())

	require.Error(t, loaded.LoadFinalizedContent([]byte{1, 2, 3}))
	require.False(t, loaded.HasContent())
}

func TestCursorWithoutCompression(t *testing.T) {
	c := NewCursor(false, 16)
	require.True(t, c.Append([]byte{1, 2, 3}))
	require.Equal(t, c.UncompressedData(), c.FinalizedData())

	loaded := NewCursor(false, 16)
	require.NoError(t, loaded.LoadFinalizedContent(c.FinalizedData()))
	require.Equal(t, []byte{1, 2, 3}, loaded.UncompressedData())
	require.Equal(t, 13, loaded.BytesAvailable())
}

func TestCursorChangeSettings(t *testing.T) {
	c := NewCursor(false, 16)
	require.True(t, c.Append([]byte{1, 2, 3}))

	c.ChangeSettings(true, 32)
	require.False(t, c.HasContent())
	require.True(t, c.IsCompressed())
	require.Equal(t, 32, c.BytesAvailable())
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)

	_, ok := h.Packet(0)
	require.False(t, ok)

	for seq := uint16(1); seq <= 4; seq++ {
		h.PacketSent(seq, []byte(fmt.Sprintf("packet %d", seq)))
	}

	_, ok = h.Packet(1)
	require.False(t, ok)
	for seq := uint16(2); seq <= 4; seq++ {
		data, ok := h.Packet(seq)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("packet %d", seq), string(data))
	}
	_, ok = h.Packet(5)
	require.False(t, ok)
	require.Equal(t, 3, h.Len())
}

func TestHistoryPartiallyFilled(t *testing.T) {
	h := NewHistory(10)
	h.PacketSent(7, []byte{7})
	h.PacketSent(8, []byte{8})

	_, ok := h.Packet(6)
	require.False(t, ok)

	data, ok := h.Packet(7)
	require.True(t, ok)
	require.Equal(t, []byte{7}, data)
}

func TestHistoryWrapsSequences(t *testing.T) {
	h := NewHistory(4)
	for _, seq := range []uint16{65534, 65535, 0, 1} {
		h.PacketSent(seq, []byte{byte(seq)})
	}

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		data, ok := h.Packet(seq)
		require.True(t, ok, "sequence %d", seq)
		require.Equal(t, []byte{byte(seq)}, data)
	}

	_, ok := h.Packet(65533)
	require.False(t, ok)
}

func TestHistoryCopiesPackets(t *testing.T) {
	h := NewHistory(2)
	data := []byte{1, 2}
	h.PacketSent(1, data)
	data[0] = 9

	stored, ok := h.Packet(1)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, stored)
}
