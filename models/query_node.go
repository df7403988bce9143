package models

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/coverage"
	"github.com/aukilabs/octree-server/frustum"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/packet"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/aukilabs/octree-server/stats"
	"github.com/google/uuid"
)

const (
	// DuplicateSuppressionWindow is how long, in microseconds, repeats of
	// the same packet are suppressed before one is sent anyway.
	DuplicateSuppressionWindow = 1000000

	// MaximumMoveWithoutDump is the distance the camera can move before the
	// bagged elements are checked for still being in view.
	MaximumMoveWithoutDump = 0
)

// QueryNode is the encode state of a client: the query it sent, its views,
// the elements waiting to be sent and the packet being assembled.
//
// The query and the NACK queue can be updated from any goroutine. The rest is
// owned by the goroutine that encodes for the client.
type QueryNode struct {
	ID   uint32
	UUID uuid.UUID

	Bag      *octree.Bag
	Stats    *stats.SceneStats
	Coverage *coverage.Map

	mutex    sync.Mutex
	query    protocol.Query
	hasQuery bool
	history  *packet.History
	nacked   [][]byte

	currentView         *frustum.ViewFrustum
	lastKnownView       *frustum.ViewFrustum
	viewChanging        bool
	justStoppedChanging bool
	viewSent            bool
	lastTimeBagEmpty    uint64

	lodInitialized     bool
	lodChanged         bool
	lastSizeScale      float32
	lastBoundaryAdjust int32

	sequence         uint16
	packet           []byte
	packetColor      bool
	packetCompressed bool
	packetWaiting    bool
	lastPacket       []byte
	firstSuppressed  uint64
}

// NewQueryNode returns the encode state of a client that retains up to
// historySize sent packets for resends.
func NewQueryNode(id uint32, historySize int) *QueryNode {
	n := &QueryNode{
		ID:       id,
		UUID:     uuid.New(),
		Bag:      octree.NewBag(),
		Stats:    stats.New(),
		Coverage: coverage.New(),
		query:    protocol.DefaultQuery(),
		history:  packet.NewHistory(historySize),
		packet:   make([]byte, 0, protocol.MaxPacketSize),
	}
	n.ResetPacket()
	return n
}

// SetQuery replaces the query of the client.
func (n *QueryNode) SetQuery(q protocol.Query) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.query = q
	n.hasQuery = true
}

// Query returns the last query of the client.
func (n *QueryNode) Query() protocol.Query {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return n.query
}

// HasQuery reports whether the client sent a query yet.
func (n *QueryNode) HasQuery() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return n.hasQuery
}

// UpdateCurrentViewFrustum recalculates the view from the last query and
// reports whether it changed. The LOD settings of the query are tracked at
// the same time.
func (n *QueryNode) UpdateCurrentViewFrustum() bool {
	q := n.Query()

	changed := false
	if q.UsesFrustum {
		newest := q.Frustum()
		if n.currentView == nil || !n.currentView.IsVerySimilar(newest) {
			n.currentView = newest
			changed = true
		}
	} else if n.currentView != nil {
		n.currentView = nil
		changed = true
	}

	// Just stopped changing stays set until the whole scene was sent.
	if n.viewChanging && !changed {
		n.justStoppedChanging = true
	}
	n.viewChanging = changed

	if !n.lodInitialized {
		n.lodInitialized = true
		n.lastSizeScale = q.SizeScale
		n.lastBoundaryAdjust = q.BoundaryLevelAdjust
	} else if n.lastSizeScale != q.SizeScale || n.lastBoundaryAdjust != q.BoundaryLevelAdjust {
		n.lodChanged = true
		n.lastSizeScale = q.SizeScale
		n.lastBoundaryAdjust = q.BoundaryLevelAdjust
	}

	return changed
}

// CurrentViewFrustum returns the view elements are encoded for. It is nil
// when the client does not use a frustum.
func (n *QueryNode) CurrentViewFrustum() *frustum.ViewFrustum {
	return n.currentView
}

// LastKnownViewFrustum returns the view of the last completely sent scene.
func (n *QueryNode) LastKnownViewFrustum() *frustum.ViewFrustum {
	return n.lastKnownView
}

// UpdateLastKnownViewFrustum records the current view as completely sent.
func (n *QueryNode) UpdateLastKnownViewFrustum() {
	if n.currentView == nil {
		n.lastKnownView = nil
		return
	}
	n.lastKnownView = n.currentView.Clone()
}

// ViewFrustumJustStoppedChanging reports whether the view stopped changing
// since the last completely sent scene.
func (n *QueryNode) ViewFrustumJustStoppedChanging() bool {
	return n.justStoppedChanging
}

// HasLODChanged reports whether the size scale or the boundary level adjust
// of the query changed since the last completely sent scene.
func (n *QueryNode) HasLODChanged() bool {
	return n.lodChanged
}

// MoveShouldDump reports whether the camera moved far enough from the last
// known view for the bagged elements to be checked.
func (n *QueryNode) MoveShouldDump() bool {
	if n.currentView == nil || n.lastKnownView == nil {
		return false
	}
	return n.currentView.Position.Sub(n.lastKnownView.Position).Len() > MaximumMoveWithoutDump
}

// DumpOutOfView removes from the bag the elements that are no longer in the
// current view or no longer exist. It returns the number of removed
// elements.
func (n *QueryNode) DumpOutOfView(t *octree.Tree) int {
	f := n.currentView
	if f == nil {
		return 0
	}

	t.RLock()
	defer t.RUnlock()

	removed := n.Bag.Filter(func(code octcode.Code) bool {
		e, _ := t.ElementForCode(code, octree.NoLock)
		return e != nil && e.IsInView(f)
	})

	if removed > 0 {
		logs.WithTag("client_id", n.UUID).
			WithTag("removed", removed).
			WithTag("still_in_view", n.Bag.Len()).
			Debug("dumped out of view elements")
	}
	return removed
}

func (n *QueryNode) ViewSent() bool {
	return n.viewSent
}

// SetViewSent marks whether the current view was completely sent. A sent
// view clears the just stopped changing and LOD changed states.
func (n *QueryNode) SetViewSent(v bool) {
	n.viewSent = v
	if v {
		n.justStoppedChanging = false
		n.lodChanged = false
	}
}

// LastTimeBagEmpty returns when, in microseconds, the last scene was
// completely sent.
func (n *QueryNode) LastTimeBagEmpty() uint64 {
	return n.lastTimeBagEmpty
}

func (n *QueryNode) SetLastTimeBagEmpty(t uint64) {
	n.lastTimeBagEmpty = t
}

// PacketFormatMatches reports whether the packet being assembled has the
// color and compression settings of the query.
func (n *QueryNode) PacketFormatMatches() bool {
	q := n.Query()
	return n.packetColor == q.WantColor && n.packetCompressed == q.WantCompression
}

// PacketIsCompressed reports whether the packet being assembled carries
// compressed sections.
func (n *QueryNode) PacketIsCompressed() bool {
	return n.packetCompressed
}

// ResetPacket starts a new packet with the format of the query.
func (n *QueryNode) ResetPacket() {
	q := n.Query()
	n.packetColor = q.WantColor
	n.packetCompressed = q.WantCompression
	n.packet = protocol.AppendOctreeDataHeader(n.packet[:0], protocol.NewDataFlags(n.packetColor, n.packetCompressed), n.sequence, 0)
	n.packetWaiting = false
}

// WriteToPacket appends a section to the packet. It returns false when the
// section does not fit.
func (n *QueryNode) WriteToPacket(section []byte) bool {
	if protocol.SectionSize(len(section), n.packetCompressed) > n.Available() {
		return false
	}
	n.packet = protocol.AppendSection(n.packet, section, n.packetCompressed)
	n.packetWaiting = true
	return true
}

// Available returns the room left for sections in the packet.
func (n *QueryNode) Available() int {
	return protocol.MaxPacketSize - len(n.packet)
}

// IsPacketWaiting reports whether the packet has sections to send.
func (n *QueryNode) IsPacketWaiting() bool {
	return n.packetWaiting
}

// Sequence returns the sequence number of the packet being assembled.
func (n *QueryNode) Sequence() uint16 {
	return n.sequence
}

// Packet stamps the packet with the current time and returns it. The
// returned slice is only valid until the next reset.
func (n *QueryNode) Packet() []byte {
	binary.LittleEndian.PutUint64(n.packet[protocol.OctreeDataHeaderSize-8:], stats.Now())
	return n.packet
}

// ShouldSuppressDuplicatePacket reports whether the packet repeats the last
// sent one while the view is unchanged. Repeats are let through once they
// have been suppressed for DuplicateSuppressionWindow.
func (n *QueryNode) ShouldSuppressDuplicatePacket() bool {
	body := n.packet[protocol.OctreeDataHeaderSize:]

	if !n.viewChanging && n.lastPacket != nil && bytes.Equal(body, n.lastPacket) {
		now := stats.Now()
		if n.firstSuppressed == 0 {
			n.firstSuppressed = now
		}
		if now-n.firstSuppressed < DuplicateSuppressionWindow {
			return true
		}
	}

	n.lastPacket = append(n.lastPacket[:0], body...)
	n.firstSuppressed = 0
	return false
}

// PacketSent records the packet in the history and moves to the next
// sequence number.
func (n *QueryNode) PacketSent(data []byte) {
	n.mutex.Lock()
	n.history.PacketSent(n.sequence, data)
	n.mutex.Unlock()

	n.sequence++
}

// SentPacket returns the sent packet with the given sequence number when it
// is still in the history.
func (n *QueryNode) SentPacket(sequence uint16) ([]byte, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return n.history.Packet(sequence)
}

// ParseNackPacket queues for resend the retained packets whose sequence
// numbers are listed in a NACK payload. It returns the number of queued and
// unknown packets.
func (n *QueryNode) ParseNackPacket(payload []byte) (queued, unknown int, err error) {
	sequences, err := protocol.ParseNack(payload)
	if err != nil {
		return 0, 0, err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, s := range sequences {
		p, ok := n.history.Packet(s)
		if !ok {
			unknown++
			continue
		}
		n.nacked = append(n.nacked, p)
		queued++
	}
	return queued, unknown, nil
}

// NextNackedPacket pops the oldest packet queued for resend.
func (n *QueryNode) NextNackedPacket() ([]byte, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if len(n.nacked) == 0 {
		return nil, false
	}
	p := n.nacked[0]
	n.nacked[0] = nil
	n.nacked = n.nacked[1:]
	return p, true
}

// HasNackedPackets reports whether packets are queued for resend.
func (n *QueryNode) HasNackedPackets() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return len(n.nacked) != 0
}
