package stats

import (
	"testing"

	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/packet"
	"github.com/stretchr/testify/require"
)

func TestSceneLifecycle(t *testing.T) {
	s := New()
	require.False(t, s.IsStarted())

	s.SceneCompleted()
	require.False(t, s.IsReadyToSend())

	j := jurisdiction.New(octcode.FromSections(1))
	s.SceneStarted(true, false, Counter{Internal: 3, Leaves: 8}, j)
	require.True(t, s.IsStarted())
	require.Equal(t, uint64(11), s.TotalElements.Total())
	require.Equal(t, j.String(), s.Jurisdiction.String())

	s.EncodeStarted()
	s.CountTraversed(false)
	s.CountTraversed(true)
	s.CountColorSent(true)
	s.EncodeStopped()
	s.PacketSent(100)

	s.SceneCompleted()
	require.False(t, s.IsStarted())
	require.True(t, s.IsReadyToSend())
	require.NotEmpty(t, s.Message())
	require.GreaterOrEqual(t, s.End, s.Start)
	require.Equal(t, s.Elapsed, s.LastFullElapsed)

	s.MarkAsSent()
	require.False(t, s.IsReadyToSend())

	s.SceneStarted(false, true, Counter{}, nil)
	require.Zero(t, s.Traversed.Total())
	require.Zero(t, s.Packets)
	require.False(t, s.Jurisdiction.HasRoot())
}

func TestCounters(t *testing.T) {
	s := New()

	s.CountSkippedDistance(true)
	s.CountSkippedOutOfView(false)
	s.CountSkippedWasInView(true)
	s.CountSkippedNoChange(true)
	s.CountSkippedOccluded(false)
	require.Equal(t, Counter{Internal: 2, Leaves: 3}, s.Skipped())

	s.CountColorBits()
	s.CountExistsBits()
	s.CountExistsInPacketBits()
	s.CountExistsInPacketBits()
	s.CountChildBitsRemoved(true, true)
	require.Zero(t, s.ColorBitsWritten)
	require.Zero(t, s.ExistsBitsWritten)
	require.Equal(t, uint64(1), s.ExistsInPacketBitsWritten)
	require.Equal(t, uint64(1), s.TreesRemoved)

	s.PacketSent(10)
	s.CountColorSent(true)
	require.Equal(t, uint64(2), s.ElementsSent())
	require.Equal(t, float32(40), s.BitsPerElement())
}

func TestPackUnpack(t *testing.T) {
	s := New()
	s.SceneStarted(true, true, Counter{Internal: 1, Leaves: 2},
		jurisdiction.New(octcode.FromSections(2), octcode.FromSections(2, 5)))
	s.CountTraversed(true)
	s.CountDidntFit(false)
	s.CountSkippedOccluded(true)
	s.CountColorBits()
	s.PacketSent(1200)
	s.SceneCompleted()

	var decoded SceneStats
	n, err := decoded.Unpack(s.Message())
	require.NoError(t, err)
	require.Equal(t, len(s.Message()), n)

	require.Equal(t, s.Start, decoded.Start)
	require.Equal(t, s.Elapsed, decoded.Elapsed)
	require.True(t, decoded.IsFullScene)
	require.True(t, decoded.IsMoving)
	require.Equal(t, uint32(1), decoded.Packets)
	require.Equal(t, uint64(1200), decoded.Bytes)
	require.Equal(t, s.TotalElements, decoded.TotalElements)
	require.Equal(t, s.Traversed, decoded.Traversed)
	require.Equal(t, s.DidntFit, decoded.DidntFit)
	require.Equal(t, s.SkippedOccluded, decoded.SkippedOccluded)
	require.Equal(t, uint64(1), decoded.ColorBitsWritten)
	require.Equal(t, "0140 - 0254", decoded.Jurisdiction.String())
	require.Equal(t, decoded.Elapsed, decoded.LastFullElapsed)
}

func TestUnpackTruncated(t *testing.T) {
	s := New()
	s.SceneStarted(false, false, Counter{}, nil)
	s.SceneCompleted()
	msg := s.Message()

	var decoded SceneStats
	_, err := decoded.Unpack(msg[:len(msg)-1])
	require.Error(t, err)

	_, err = decoded.Unpack(msg[:10])
	require.Error(t, err)
}

func TestTrackIncomingPacket(t *testing.T) {
	s := New()

	s.TrackIncomingPacket(1, 1000, 3000, 1000, false)
	s.TrackIncomingPacket(2, 1000, 3000, packet.MaxPacketSize, false)
	s.TrackIncomingPacket(5, 1000, 3000, 200, true)
	s.TrackIncomingPacket(4, 1000, 3000, 200, false)

	in := s.Incoming
	require.Equal(t, uint64(4), in.Packets)
	require.Equal(t, uint64(1000+packet.MaxPacketSize+200+200), in.Bytes)
	require.Equal(t, uint64(packet.MaxPacketSize-1000+packet.MaxPacketSize-200), in.WastedBytes)
	require.Equal(t, uint64(1), in.LikelyLost)
	require.Equal(t, uint64(1), in.OutOfOrder)
	require.Equal(t, uint16(4), in.LastSequence)
	require.InDelta(t, 2, in.FlightTimeMs, 0.001)
}

func TestTrackIncomingPacketSequenceWraps(t *testing.T) {
	tests := []struct {
		name       string
		sequences  []uint16
		likelyLost uint64
		outOfOrder uint64
	}{
		{
			name:      "in order across wrap",
			sequences: []uint16{65534, 65535, 0, 1},
		},
		{
			name:       "gap across wrap",
			sequences:  []uint16{65535, 2},
			likelyLost: 1,
		},
		{
			name:       "late packet before wrap",
			sequences:  []uint16{0, 65535},
			outOfOrder: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New()
			for _, seq := range test.sequences {
				s.TrackIncomingPacket(seq, 1000, 3000, packet.MaxPacketSize, false)
			}

			require.Equal(t, test.likelyLost, s.Incoming.LikelyLost)
			require.Equal(t, test.outOfOrder, s.Incoming.OutOfOrder)
		})
	}
}
