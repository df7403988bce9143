package models

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func lookingAtTreeQuery(towards bool) protocol.Query {
	q := protocol.DefaultQuery()
	q.Position = mgl32.Vec3{octree.TreeScale / 2, octree.TreeScale / 2, octree.TreeScale * 2.5}
	q.FarClip = octree.TreeScale * 8
	if !towards {
		q.Orientation = mgl32.QuatRotate(math.Pi, mgl32.Vec3{0, 1, 0})
	}
	return q
}

func TestQueryNodeUpdateCurrentViewFrustum(t *testing.T) {
	n := NewQueryNode(1, 10)
	require.False(t, n.HasQuery())

	n.SetQuery(lookingAtTreeQuery(true))
	require.True(t, n.HasQuery())
	require.True(t, n.UpdateCurrentViewFrustum())
	require.NotNil(t, n.CurrentViewFrustum())
	require.False(t, n.ViewFrustumJustStoppedChanging())

	require.False(t, n.UpdateCurrentViewFrustum())
	require.True(t, n.ViewFrustumJustStoppedChanging())

	n.SetViewSent(true)
	require.True(t, n.ViewSent())
	require.False(t, n.ViewFrustumJustStoppedChanging())

	n.SetQuery(lookingAtTreeQuery(false))
	require.True(t, n.UpdateCurrentViewFrustum())

	q := lookingAtTreeQuery(false)
	q.UsesFrustum = false
	n.SetQuery(q)
	require.True(t, n.UpdateCurrentViewFrustum())
	require.Nil(t, n.CurrentViewFrustum())
	require.False(t, n.UpdateCurrentViewFrustum())
}

func TestQueryNodeHasLODChanged(t *testing.T) {
	n := NewQueryNode(1, 10)
	q := lookingAtTreeQuery(true)
	n.SetQuery(q)
	n.UpdateCurrentViewFrustum()
	require.False(t, n.HasLODChanged())

	q.BoundaryLevelAdjust = 2
	n.SetQuery(q)
	n.UpdateCurrentViewFrustum()
	require.True(t, n.HasLODChanged())

	n.UpdateCurrentViewFrustum()
	require.True(t, n.HasLODChanged())

	n.SetViewSent(true)
	require.False(t, n.HasLODChanged())
}

func TestQueryNodeLastKnownViewFrustum(t *testing.T) {
	n := NewQueryNode(1, 10)
	n.SetQuery(lookingAtTreeQuery(true))
	n.UpdateCurrentViewFrustum()
	require.Nil(t, n.LastKnownViewFrustum())
	require.False(t, n.MoveShouldDump())

	n.UpdateLastKnownViewFrustum()
	require.NotNil(t, n.LastKnownViewFrustum())
	require.True(t, n.LastKnownViewFrustum().Matches(n.CurrentViewFrustum()))
	require.False(t, n.MoveShouldDump())

	q := lookingAtTreeQuery(true)
	q.Position = q.Position.Add(mgl32.Vec3{100, 0, 0})
	n.SetQuery(q)
	n.UpdateCurrentViewFrustum()
	require.True(t, n.MoveShouldDump())
}

func TestQueryNodeDumpOutOfView(t *testing.T) {
	tree := octree.New(false)
	tree.SetVoxel(octcode.FromSections(1, 2), octree.Color{R: 1}, false, uuid.Nil)

	tests := []struct {
		name    string
		towards bool
		remains int
	}{
		{
			name:    "looking at the tree",
			towards: true,
			remains: 2,
		},
		{
			name:    "looking away",
			towards: false,
			remains: 0,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n := NewQueryNode(1, 10)
			n.SetQuery(lookingAtTreeQuery(test.towards))
			n.UpdateCurrentViewFrustum()

			n.Bag.Insert(octcode.Root())
			n.Bag.Insert(octcode.FromSections(1, 2))
			n.Bag.Insert(octcode.FromSections(5, 5))

			removed := n.DumpOutOfView(tree)
			require.Equal(t, 3-test.remains, removed)
			require.Equal(t, test.remains, n.Bag.Len())
			require.False(t, n.Bag.Contains(octcode.FromSections(5, 5)))
		})
	}
}

func TestQueryNodePacket(t *testing.T) {
	n := NewQueryNode(1, 10)
	require.False(t, n.IsPacketWaiting())
	require.True(t, n.PacketIsCompressed())
	require.Equal(t, protocol.MaxOctreeDataSize, n.Available())

	require.True(t, n.WriteToPacket(make([]byte, 100)))
	require.True(t, n.IsPacketWaiting())
	require.Equal(t, protocol.MaxOctreeDataSize-102, n.Available())
	require.False(t, n.WriteToPacket(make([]byte, n.Available()-1)))
	require.True(t, n.WriteToPacket(make([]byte, n.Available()-2)))
	require.Zero(t, n.Available())

	typ, payload, err := protocol.ReadHeader(n.Packet())
	require.NoError(t, err)
	require.Equal(t, protocol.TypeOctreeData, typ)

	d, err := protocol.ParseOctreeData(payload)
	require.NoError(t, err)
	require.True(t, d.Flags.Compressed())
	require.True(t, d.Flags.Color())
	require.NotZero(t, d.SentAt)
	require.Len(t, d.Sections, 2)

	q := protocol.DefaultQuery()
	q.WantCompression = false
	n.SetQuery(q)
	require.False(t, n.PacketFormatMatches())

	n.ResetPacket()
	require.True(t, n.PacketFormatMatches())
	require.False(t, n.IsPacketWaiting())
	require.False(t, n.PacketIsCompressed())
	require.Equal(t, protocol.MaxOctreeDataSize, n.Available())
}

func TestQueryNodeShouldSuppressDuplicatePacket(t *testing.T) {
	n := NewQueryNode(1, 10)
	n.SetQuery(lookingAtTreeQuery(true))
	n.UpdateCurrentViewFrustum()
	n.UpdateCurrentViewFrustum()

	section := []byte{1, 2, 3}

	n.WriteToPacket(section)
	require.False(t, n.ShouldSuppressDuplicatePacket())
	n.PacketSent(n.Packet())
	n.ResetPacket()

	n.WriteToPacket(section)
	require.True(t, n.ShouldSuppressDuplicatePacket())
	n.ResetPacket()

	n.WriteToPacket([]byte{4})
	require.False(t, n.ShouldSuppressDuplicatePacket())
	n.ResetPacket()

	n.SetQuery(lookingAtTreeQuery(false))
	n.UpdateCurrentViewFrustum()
	n.WriteToPacket([]byte{4})
	require.False(t, n.ShouldSuppressDuplicatePacket())
}

func TestQueryNodeNacks(t *testing.T) {
	n := NewQueryNode(1, 2)

	var sent [][]byte
	for i := 0; i < 3; i++ {
		n.WriteToPacket([]byte{byte(i)})
		p := append([]byte(nil), n.Packet()...)
		n.PacketSent(p)
		n.ResetPacket()
		sent = append(sent, p)
	}
	require.Equal(t, uint16(3), n.Sequence())

	p, ok := n.SentPacket(2)
	require.True(t, ok)
	require.Equal(t, sent[2], p)

	_, ok = n.SentPacket(0)
	require.False(t, ok)

	nack := protocol.MarshalNacks([]uint16{0, 1, 2, 99})
	require.Len(t, nack, 1)

	queued, unknown, err := n.ParseNackPacket(nack[0][protocol.HeaderSize:])
	require.NoError(t, err)
	require.Equal(t, 2, queued)
	require.Equal(t, 2, unknown)
	require.True(t, n.HasNackedPackets())

	p, ok = n.NextNackedPacket()
	require.True(t, ok)
	require.Equal(t, sent[1], p)

	p, ok = n.NextNackedPacket()
	require.True(t, ok)
	require.Equal(t, sent[2], p)

	_, ok = n.NextNackedPacket()
	require.False(t, ok)
	require.False(t, n.HasNackedPackets())

	_, _, err = n.ParseNackPacket([]byte{1})
	require.True(t, errors.IsType(err, protocol.ErrTypeMalformed))
}
