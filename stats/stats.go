// Package stats implements the per scene encode and bandwidth accounting sent
// to clients alongside octree data.
package stats

import (
	"encoding/binary"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/packet"
)

const (
	// ErrTypeMalformed is the error type of stats messages that cannot be
	// decoded.
	ErrTypeMalformed = "malformed_scene_stats"

	averageSamples = 10
)

// Counter counts elements, split between internal elements and leaves.
type Counter struct {
	Internal uint64 `json:"internal"`
	Leaves   uint64 `json:"leaves"`
}

// Total returns the number of counted elements.
func (c Counter) Total() uint64 {
	return c.Internal + c.Leaves
}

func (c *Counter) count(leaf bool) {
	if leaf {
		c.Leaves++
	} else {
		c.Internal++
	}
}

// Incoming tracks octree packets on the receiving side.
type Incoming struct {
	Packets      uint64  `json:"packets"`
	Bytes        uint64  `json:"bytes"`
	WastedBytes  uint64  `json:"wasted_bytes"`
	OutOfOrder   uint64  `json:"out_of_order"`
	LikelyLost   uint64  `json:"likely_lost"`
	LastSequence uint16  `json:"last_sequence"`
	FlightTimeMs float32 `json:"flight_time_ms"`

	flightTime movingAverage
}

// SceneStats is the accounting of one scene, from the moment the encoder
// starts sending a view to the moment the element bag drains.
type SceneStats struct {
	Start       uint64 `json:"start"`
	End         uint64 `json:"end"`
	Elapsed     uint64 `json:"elapsed"`
	EncodeTime  uint64 `json:"encode_time"`
	IsFullScene bool   `json:"full_scene"`
	IsMoving    bool   `json:"moving"`
	Packets     uint32 `json:"packets"`
	Bytes       uint64 `json:"bytes"`

	TotalElements    Counter `json:"total_elements"`
	Traversed        Counter `json:"traversed"`
	SkippedDistance  Counter `json:"skipped_distance"`
	SkippedOutOfView Counter `json:"skipped_out_of_view"`
	SkippedWasInView Counter `json:"skipped_was_in_view"`
	SkippedNoChange  Counter `json:"skipped_no_change"`
	SkippedOccluded  Counter `json:"skipped_occluded"`
	ColorSent        Counter `json:"color_sent"`
	DidntFit         Counter `json:"didnt_fit"`

	ColorBitsWritten          uint64 `json:"color_bits"`
	ExistsBitsWritten         uint64 `json:"exists_bits"`
	ExistsInPacketBitsWritten uint64 `json:"in_packet_bits"`
	TreesRemoved              uint64 `json:"trees_removed"`

	Jurisdiction *jurisdiction.Map `json:"-"`

	LastFullElapsed    uint64   `json:"last_full_elapsed"`
	LastFullEncodeTime uint64   `json:"last_full_encode_time"`
	Incoming           Incoming `json:"incoming"`

	isStarted     bool
	encodeStart   uint64
	isReadyToSend bool
	message       []byte

	elapsedAverage movingAverage
	bitsPerElement movingAverage
}

// New returns empty scene stats.
func New() *SceneStats {
	return &SceneStats{
		Jurisdiction: jurisdiction.New(nil),
	}
}

// Now returns the current time in microseconds, the time unit of stats and
// packet timestamps.
func Now() uint64 {
	return uint64(time.Now().UnixMicro())
}

// SceneStarted resets the counters and starts a scene.
func (s *SceneStats) SceneStarted(fullScene, moving bool, total Counter, j *jurisdiction.Map) {
	s.reset()
	s.isStarted = true
	s.Start = Now()
	s.TotalElements = total
	s.IsFullScene = fullScene
	s.IsMoving = moving

	if j != nil {
		s.Jurisdiction.CopyContents(j)
	}
}

// SceneCompleted ends the scene and packs the stats message. It does nothing
// when no scene was started.
func (s *SceneStats) SceneCompleted() {
	if !s.isStarted {
		return
	}

	s.End = Now()
	s.Elapsed = s.End - s.Start
	s.elapsedAverage.update(float32(s.Elapsed))

	if s.IsFullScene {
		s.LastFullElapsed = s.Elapsed
		s.LastFullEncodeTime = s.EncodeTime
	}

	s.message = s.Pack(s.message[:0])
	s.isReadyToSend = true
	s.isStarted = false
}

// IsStarted reports whether a scene is in progress.
func (s *SceneStats) IsStarted() bool {
	return s.isStarted
}

// IsReadyToSend reports whether a completed scene message awaits sending.
func (s *SceneStats) IsReadyToSend() bool {
	return s.isReadyToSend
}

// Message returns the packed stats of the last completed scene.
func (s *SceneStats) Message() []byte {
	return s.message
}

// MarkAsSent acknowledges that the message was sent.
func (s *SceneStats) MarkAsSent() {
	s.isReadyToSend = false
}

func (s *SceneStats) EncodeStarted() {
	s.encodeStart = Now()
}

func (s *SceneStats) EncodeStopped() {
	s.EncodeTime += Now() - s.encodeStart
}

// PacketSent accounts for a sent octree data packet.
func (s *SceneStats) PacketSent(bytes int) {
	s.Packets++
	s.Bytes += uint64(bytes)
}

func (s *SceneStats) reset() {
	j := s.Jurisdiction
	if j == nil {
		j = jurisdiction.New(nil)
	}
	j.CopyContents(jurisdiction.New(nil))

	*s = SceneStats{
		Jurisdiction:       j,
		LastFullElapsed:    s.LastFullElapsed,
		LastFullEncodeTime: s.LastFullEncodeTime,
		Incoming:           s.Incoming,
		isReadyToSend:      s.isReadyToSend,
		message:            s.message,
		elapsedAverage:     s.elapsedAverage,
		bitsPerElement:     s.bitsPerElement,
	}
}

func (s *SceneStats) CountTraversed(leaf bool)        { s.Traversed.count(leaf) }
func (s *SceneStats) CountSkippedDistance(leaf bool)  { s.SkippedDistance.count(leaf) }
func (s *SceneStats) CountSkippedOutOfView(leaf bool) { s.SkippedOutOfView.count(leaf) }
func (s *SceneStats) CountSkippedWasInView(leaf bool) { s.SkippedWasInView.count(leaf) }
func (s *SceneStats) CountSkippedNoChange(leaf bool)  { s.SkippedNoChange.count(leaf) }
func (s *SceneStats) CountSkippedOccluded(leaf bool)  { s.SkippedOccluded.count(leaf) }
func (s *SceneStats) CountColorSent(leaf bool)        { s.ColorSent.count(leaf) }
func (s *SceneStats) CountDidntFit(leaf bool)         { s.DidntFit.count(leaf) }

func (s *SceneStats) CountColorBits()          { s.ColorBitsWritten++ }
func (s *SceneStats) CountExistsBits()         { s.ExistsBitsWritten++ }
func (s *SceneStats) CountExistsInPacketBits() { s.ExistsInPacketBitsWritten++ }

// CountChildBitsRemoved takes back the bits of a child subtree that turned
// out to be empty.
func (s *SceneStats) CountChildBitsRemoved(includesExistsBits, includesColors bool) {
	s.ExistsInPacketBitsWritten--
	if includesExistsBits {
		s.ExistsBitsWritten--
	}
	if includesColors {
		s.ColorBitsWritten--
	}
	s.TreesRemoved++
}

// Skipped sums every skip category.
func (s *SceneStats) Skipped() Counter {
	var c Counter
	for _, skipped := range []Counter{
		s.SkippedDistance,
		s.SkippedOutOfView,
		s.SkippedWasInView,
		s.SkippedNoChange,
		s.SkippedOccluded,
	} {
		c.Internal += skipped.Internal
		c.Leaves += skipped.Leaves
	}
	return c
}

// ElementsSent returns the number of elements that made it into packets.
func (s *SceneStats) ElementsSent() uint64 {
	return s.ExistsInPacketBitsWritten + s.ColorSent.Total()
}

// BitsPerElement returns the bandwidth spent per sent element.
func (s *SceneStats) BitsPerElement() float32 {
	total := s.ElementsSent()
	if total == 0 {
		return 0
	}
	return float32(s.Bytes*8) / float32(total)
}

// AverageBitsPerElement returns BitsPerElement averaged over the last
// unpacked scenes.
func (s *SceneStats) AverageBitsPerElement() float32 {
	return s.bitsPerElement.average()
}

// AverageElapsed returns the scene duration in microseconds averaged over
// the last scenes.
func (s *SceneStats) AverageElapsed() float32 {
	return s.elapsedAverage.average()
}

// KBPS returns the bandwidth used by the scene in kilobits per second.
func (s *SceneStats) KBPS() float32 {
	if s.Elapsed == 0 {
		return 0
	}
	seconds := float32(s.Elapsed) / float32(time.Second/time.Microsecond)
	return float32(s.Bytes*8) / seconds / 1000
}

// Pack appends the binary form of the stats to b.
func (s *SceneStats) Pack(b []byte) []byte {
	le := binary.LittleEndian

	b = le.AppendUint64(b, s.Start)
	b = le.AppendUint64(b, s.End)
	b = le.AppendUint64(b, s.Elapsed)
	b = le.AppendUint64(b, s.EncodeTime)
	b = append(b, boolByte(s.IsFullScene), boolByte(s.IsMoving))
	b = le.AppendUint32(b, s.Packets)
	b = le.AppendUint64(b, s.Bytes)

	for _, c := range s.counters() {
		b = le.AppendUint64(b, c.Internal)
		b = le.AppendUint64(b, c.Leaves)
	}

	b = le.AppendUint64(b, s.ColorBitsWritten)
	b = le.AppendUint64(b, s.ExistsBitsWritten)
	b = le.AppendUint64(b, s.ExistsInPacketBitsWritten)
	b = le.AppendUint64(b, s.TreesRemoved)

	return s.Jurisdiction.AppendCodes(b)
}

// Unpack decodes stats produced by Pack. It returns the number of bytes
// read.
func (s *SceneStats) Unpack(data []byte) (int, error) {
	counters := s.counters()
	fixed := 4*8 + 2 + 4 + 8 + len(counters)*16 + 4*8
	if len(data) < fixed {
		return 0, errors.New("scene stats too short").
			WithType(ErrTypeMalformed).
			WithTag("size", len(data)).
			WithTag("expected_size", fixed)
	}

	le := binary.LittleEndian
	offset := 0
	u64 := func() uint64 {
		v := le.Uint64(data[offset:])
		offset += 8
		return v
	}

	s.Start = u64()
	s.End = u64()
	s.Elapsed = u64()
	s.EncodeTime = u64()
	s.IsFullScene = data[offset] != 0
	s.IsMoving = data[offset+1] != 0
	offset += 2
	s.Packets = le.Uint32(data[offset:])
	offset += 4
	s.Bytes = u64()

	for _, c := range counters {
		c.Internal = u64()
		c.Leaves = u64()
	}

	s.ColorBitsWritten = u64()
	s.ExistsBitsWritten = u64()
	s.ExistsInPacketBitsWritten = u64()
	s.TreesRemoved = u64()

	j, n, err := jurisdiction.ReadCodes(data[offset:])
	if err != nil {
		return 0, errors.New("invalid scene stats jurisdiction").
			WithType(ErrTypeMalformed).
			Wrap(err)
	}
	s.Jurisdiction = j
	offset += n

	if s.IsFullScene {
		s.LastFullElapsed = s.Elapsed
		s.LastFullEncodeTime = s.EncodeTime
	}
	s.elapsedAverage.update(float32(s.Elapsed))
	s.bitsPerElement.update(s.BitsPerElement())
	return offset, nil
}

func (s *SceneStats) counters() []*Counter {
	return []*Counter{
		&s.TotalElements,
		&s.Traversed,
		&s.SkippedDistance,
		&s.SkippedOutOfView,
		&s.SkippedWasInView,
		&s.SkippedNoChange,
		&s.SkippedOccluded,
		&s.ColorSent,
		&s.DidntFit,
	}
}

// TrackIncomingPacket accounts for an octree packet received at arrivedAt
// microseconds.
func (s *SceneStats) TrackIncomingPacket(sequence uint16, sentAt, arrivedAt uint64, size int, wasStatsPacket bool) {
	in := &s.Incoming
	in.Packets++
	in.Bytes += uint64(size)
	if !wasStatsPacket && size < packet.MaxPacketSize {
		in.WastedBytes += uint64(packet.MaxPacketSize - size)
	}

	if arrivedAt >= sentAt {
		in.flightTime.update(float32(arrivedAt-sentAt) / 1000)
		in.FlightTimeMs = in.flightTime.average()
	}

	if in.Packets > 1 {
		// Sequences wrap, so order is the sign of the 16 bit difference.
		diff := int16(sequence - in.LastSequence)
		if diff < 0 {
			in.OutOfOrder++
		}
		if diff > 1 {
			in.LikelyLost++
		}
	}
	in.LastSequence = sequence
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

type movingAverage struct {
	samples int
	value   float32
}

func (a *movingAverage) update(sample float32) {
	if a.samples < averageSamples {
		a.samples++
	}
	a.value += (sample - a.value) / float32(a.samples)
}

func (a *movingAverage) average() float32 {
	return a.value
}
