package websocket

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/featureflag"
	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/models"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/packet"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/aukilabs/octree-server/stats"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the handshake header a client identifies itself with.
const HeaderClientID = "X-Client-ID"

// OctreeHandler serves the octree to a connected client: it keeps the
// client's query, streams the elements the client can see, resends lost
// packets and applies the client's edits.
type OctreeHandler struct {
	// The tree served to clients.
	Tree *octree.Tree

	// The store that contains the encode state of all the clients.
	Sessions *models.SessionStore

	// The part of the tree the server is responsible for. Nil means the
	// whole tree.
	Jurisdiction *jurisdiction.Map

	// The key jurisdiction replies are signed with. Replies are not signed
	// when nil.
	PrivateKey *ecdsa.PrivateKey

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The interval between each encode pass.
	ClientSendInterval time.Duration

	// The maximum number of octree data packets sent per second to a
	// client, whatever the client asks for.
	PacketsPerSecond int

	// The number of packets queued for a client before the oldest are
	// dropped.
	OutboundQueueSize int

	FeatureFlags featureflag.FeatureFlag

	// Reports whether the tree was loaded. Nothing is sent before.
	IsInitialLoadComplete func() bool

	conn     *websocket.Conn
	clientID string
	node     *models.QueryNode
	outbound *models.Outbound
	cursor   *packet.Cursor

	// packingMore is set while compressed sections are added to a packet
	// that still has room.
	packingMore bool
}

func (h *OctreeHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
	h.conn.PayloadType = websocket.BinaryFrame
	h.conn.MaxPayloadBytes = protocol.MaxPacketSize

	h.node = h.Sessions.New()
	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = h.node.UUID.String()
	}

	h.cursor = packet.NewCursor(h.node.PacketIsCompressed(), h.targetSize(false))
}

func (h *OctreeHandler) HandleQuery(ctx context.Context, respond Responder, payload []byte) error {
	q, err := protocol.ParseQuery(payload)
	if err != nil {
		return err
	}

	h.FeatureFlags.IfSet(featureflag.FlagDisableOcclusionCulling, func() {
		q.WantOcclusionCulling = false
	})
	h.FeatureFlags.IfSet(featureflag.FlagDisableLowResMoving, func() {
		q.WantLowResMoving = false
	})

	h.node.SetQuery(q)
	h.Outbound().SetRate(int(q.MaxPacketsPerSecond))
	return nil
}

func (h *OctreeHandler) HandleNack(ctx context.Context, respond Responder, payload []byte) error {
	var err error
	h.FeatureFlags.IfNotSet(featureflag.FlagDisableNackResend, func() {
		var queued, unknown int
		queued, unknown, err = h.node.ParseNackPacket(payload)
		instrumentNacks(queued, unknown)
	})
	return err
}

func (h *OctreeHandler) HandleJurisdictionRequest(ctx context.Context, respond Responder) error {
	j := h.Jurisdiction
	if j == nil {
		j = jurisdiction.New(nil)
	}

	p, err := protocol.MarshalJurisdiction(j, jurisdiction.NodeTypeOctreeServer, h.PrivateKey)
	if err != nil {
		return errors.New("marshaling jurisdiction failed").Wrap(err)
	}
	respond.Send(p)
	return nil
}

func (h *OctreeHandler) HandleEdit(ctx context.Context, respond Responder, t protocol.Type, payload []byte) error {
	var disabled bool
	h.FeatureFlags.IfSet(featureflag.FlagDisableEdits, func() {
		disabled = true
	})
	if disabled {
		logs.WithTag("client_id", h.clientID).
			WithTag("packet_type", t).
			Debug("edit ignored")
		return nil
	}

	e, err := protocol.ParseEdit(t, payload)
	if err != nil {
		return err
	}
	h.node.Stats.TrackIncomingPacket(e.Sequence, e.SentAt, stats.Now(), len(payload), false)

	var applied int
	if t == protocol.TypeEraseVoxel {
		applied, err = h.Tree.ProcessEraseData(e.Records)
	} else {
		applied, err = h.Tree.ProcessEditData(e.Records, e.Destructive(), e.Source)
	}
	if err != nil {
		return errors.New("applying edit failed").
			WithType(protocol.ErrTypeMalformed).
			WithTag("applied", applied).
			Wrap(err)
	}
	return nil
}

func (h *OctreeHandler) HandleDisconnect(err error) {
	if h.node != nil {
		h.Sessions.Remove(h.node)
	}
}

func (h *OctreeHandler) Receiver() Receiver {
	return func() ([]byte, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return nil, 0, err
		}
		return data, len(data), nil
	}
}

func (h *OctreeHandler) Sender() Sender {
	return func(p []byte) (int, error) {
		if err := websocket.Message.Send(h.conn, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
}

func (h *OctreeHandler) Outbound() *models.Outbound {
	if h.outbound == nil {
		h.outbound = models.NewOutbound(h.OutboundQueueSize, protocol.DefaultMaxPacketsPerSecond)
	}
	return h.outbound
}

func (h *OctreeHandler) Close() {
}

func (h *OctreeHandler) SendInterval() time.Duration {
	return h.ClientSendInterval
}

func (h *OctreeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *OctreeHandler) GetClientID() string {
	return h.clientID
}

// QueryNode returns the encode state of the client.
func (h *OctreeHandler) QueryNode() *models.QueryNode {
	return h.node
}
