package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/featureflag"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/aukilabs/octree-server/stats"
)

const (
	// LowResMovingAdjust is added to the boundary level adjust of clients
	// that want coarser scenes while their view moves.
	LowResMovingAdjust = 1

	// compressPadding is kept free when packing more compressed sections in
	// a packet, since compressing little data can inflate it.
	compressPadding = 15

	// minimumAttemptMorePacking is the room a compressed packet must have
	// left for more sections to be packed in it.
	minimumAttemptMorePacking = protocol.SectionHeaderSize + 40

	reasonablePackingAttempts = 5
)

// Distribute runs an encode pass for the client: it resends the NACKed
// packets, starts a new scene when the view changed or the previous one was
// completely sent, then encodes bagged elements until the bag is empty or
// the packet budget of the interval is spent.
func (h *OctreeHandler) Distribute(ctx context.Context, respond Responder) error {
	n := h.node
	if n == nil || !n.HasQuery() {
		return nil
	}
	if h.IsInitialLoadComplete != nil && !h.IsInitialLoadComplete() {
		return nil
	}

	for {
		p, ok := n.NextNackedPacket()
		if !ok {
			break
		}
		respond.Send(p)
		instrumentResentPacket()
	}

	viewChanged := n.UpdateCurrentViewFrustum()
	q := n.Query()

	isFullScene := ((!viewChanged || !q.WantDelta) && n.ViewFrustumJustStoppedChanging()) || n.HasLODChanged()
	wantDelta := viewChanged && q.WantDelta
	packetsSent := 0

	if !n.PacketFormatMatches() {
		if n.IsPacketWaiting() {
			packetsSent += h.handlePacketSend(respond)
		} else {
			n.ResetPacket()
		}
		h.packingMore = false
		h.cursor.ChangeSettings(n.PacketIsCompressed(), h.targetSize(false))
	}

	if viewChanged || n.Bag.IsEmpty() {
		if viewChanged {
			if n.MoveShouldDump() || n.HasLODChanged() {
				n.DumpOutOfView(h.Tree)
			}
			n.Coverage.Erase()
		}

		if !viewChanged && !q.WantDelta {
			n.SetLastTimeBagEmpty(stats.Now())
		}

		n.Stats.SceneCompleted()
		packetsSent += h.handlePacketSend(respond)

		if isFullScene {
			n.Bag.DeleteAll()
		}
		n.Stats.SceneStarted(isFullScene, viewChanged, h.Tree.CountElements(), h.Jurisdiction)
		n.Bag.Insert(octcode.Root())
	}

	if n.Bag.IsEmpty() {
		return nil
	}

	maxPackets := h.packetsPerInterval(int(q.MaxPacketsPerSecond))
	packingAttempts := 0

	for packetsSent < maxPackets && !n.Bag.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return err
		}

		code, _ := n.Bag.Extract()
		params := h.encodeParams(viewChanged, wantDelta, isFullScene)

		n.Stats.EncodeStarted()
		written := h.Tree.EncodeTreeBitstream(code, h.cursor, n.Bag, &params)
		n.Stats.EncodeStopped()

		completedScene := n.Bag.IsEmpty()
		didntFit := written == 0 && params.StopReason == octree.StopDidntFit
		if h.packingMore {
			packingAttempts++
		} else {
			didntFit = didntFit && h.cursor.HasContent()
		}

		if !completedScene && !didntFit {
			continue
		}

		if h.cursor.HasContent() {
			section := h.cursor.FinalizedData()
			if protocol.SectionSize(len(section), n.PacketIsCompressed()) > n.Available() {
				packetsSent += h.handlePacketSend(respond)
			}

			if !n.WriteToPacket(section) {
				logs.WithTag("client_id", h.clientID).
					WithTag("section_size", len(section)).
					WithTag("available", n.Available()).
					Warn(errors.New("octree section does not fit in an empty packet"))
			}
			packingAttempts = 0
		}

		sendNow := !n.PacketIsCompressed() ||
			n.Available() < minimumAttemptMorePacking ||
			packingAttempts > reasonablePackingAttempts

		if sendNow {
			packetsSent += h.handlePacketSend(respond)
		}
		h.packingMore = !sendNow
		h.cursor.ChangeSettings(n.PacketIsCompressed(), h.targetSize(h.packingMore))
	}

	// A packet still waiting for more sections is sent with the stats of
	// the scene when the next pass completes it.
	if n.Bag.IsEmpty() {
		n.UpdateLastKnownViewFrustum()
		n.SetViewSent(true)
		n.Coverage.Erase()
	}
	return nil
}

// handlePacketSend queues the packet being assembled, preceded by the stats
// of the last scene when they are ready. Duplicates of the last sent packet
// are dropped. It returns the number of queued packets.
func (h *OctreeHandler) handlePacketSend(respond Responder) int {
	n := h.node

	suppress := false
	h.FeatureFlags.IfNotSet(featureflag.FlagDisableDuplicateSuppression, func() {
		suppress = n.ShouldSuppressDuplicatePacket()
	})
	if suppress {
		instrumentSuppressedPacket()
		n.ResetPacket()
		return 0
	}

	sent := 0
	packetWaiting := n.IsPacketWaiting()

	if n.Stats.IsReadyToSend() {
		h.FeatureFlags.IfNotSet(featureflag.FlagDisableStatsPackets, func() {
			respond.Send(protocol.MarshalStats(n.Stats))
			sent++
			packetWaiting = true
		})
		n.Stats.MarkAsSent()
	}

	if !packetWaiting {
		return sent
	}

	p := append([]byte(nil), n.Packet()...)
	respond.Send(p)
	sent++

	n.Stats.PacketSent(len(p))
	n.PacketSent(p)
	n.ResetPacket()
	return sent
}

// encodeParams returns the params of the next encode for the client.
func (h *OctreeHandler) encodeParams(viewChanged, wantDelta, isFullScene bool) octree.EncodeParams {
	n := h.node
	q := n.Query()

	params := octree.DefaultEncodeParams()
	params.Frustum = n.CurrentViewFrustum()
	params.IncludeColor = q.WantColor
	params.IncludeExistsBits = true
	params.DeltaView = wantDelta
	if wantDelta {
		params.LastViewFrustum = n.LastKnownViewFrustum()
	}
	if q.WantOcclusionCulling && params.Frustum != nil {
		params.WantOcclusionCulling = true
		params.Coverage = n.Coverage
	}
	params.SizeScale = q.SizeScale
	params.BoundaryLevelAdjust = int(q.BoundaryLevelAdjust)
	if viewChanged && q.WantLowResMoving {
		params.BoundaryLevelAdjust += LowResMovingAdjust
	}
	params.LastViewFrustumSent = n.LastTimeBagEmpty()
	params.ForceSendScene = isFullScene
	params.Stats = n.Stats
	params.Jurisdiction = h.Jurisdiction
	return params
}

// targetSize returns the size of the bitstream sections written to the
// packet being assembled.
func (h *OctreeHandler) targetSize(packingMore bool) int {
	n := h.node
	if !n.PacketIsCompressed() {
		return n.Available()
	}

	size := n.Available() - protocol.SectionHeaderSize - compressPadding
	if packingMore {
		size -= compressPadding
	}
	return max(size, 1)
}

// packetsPerInterval returns the number of packets the client can receive in
// one encode pass.
func (h *OctreeHandler) packetsPerInterval(clientPacketsPerSecond int) int {
	intervalsPerSecond := max(1, int(time.Second/max(h.ClientSendInterval, time.Millisecond)))

	perInterval := max(1, clientPacketsPerSecond/intervalsPerSecond)
	if h.PacketsPerSecond > 0 {
		perInterval = min(perInterval, max(1, h.PacketsPerSecond/intervalsPerSecond))
	}
	return perInterval
}
