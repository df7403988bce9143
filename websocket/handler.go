package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/models"
	"github.com/aukilabs/octree-server/protocol"
	"golang.org/x/net/websocket"
)

const (
	receiveChanSize = 64
)

// Receiver reads the next packet from a connection. It returns the number of
// bytes read.
type Receiver func() ([]byte, int, error)

// Sender writes a packet to a connection. It returns the number of bytes
// written.
type Sender func([]byte) (int, error)

// Responder queues packets for the connected client.
type Responder interface {
	Send(packet []byte)
}

// Handler represents an octree server handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a query describing what the client wants to receive.
	HandleQuery(ctx context.Context, respond Responder, payload []byte) error

	// Handles a list of octree data packets the client did not receive.
	HandleNack(ctx context.Context, respond Responder, payload []byte) error

	// Handles a request for the jurisdiction of the server.
	HandleJurisdictionRequest(ctx context.Context, respond Responder) error

	// Handles a set voxel or erase voxel packet.
	HandleEdit(ctx context.Context, respond Responder, t protocol.Type, payload []byte) error

	// Runs an encode pass and queues the resulting packets.
	Distribute(ctx context.Context, respond Responder) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a packet receiver used to receive incoming packets.
	Receiver() Receiver

	// Creates a packet sender used to write queued packets.
	Sender() Sender

	// The queue of packets waiting to be sent to the client.
	Outbound() *models.Outbound

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each encode pass.
	SendInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Get ClientID
	GetClientID() string
}

// Handle handles the given connection.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The octree handler.
	Handler Handler

	outbound       *models.Outbound
	sender         Sender
	receiver       Receiver
	receiveChan    chan []byte
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.outbound = h.Handler.Outbound()
	defer h.outbound.Close()
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan []byte, receiveChanSize)
	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	sendTicker := time.NewTicker(h.Handler.SendInterval())
	defer sendTicker.Stop()

	responder := responseSender{
		outbound: h.outbound,
		clientID: h.Handler.GetClientID(),
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-sendTicker.C:
			if err := h.Handler.Distribute(ctx, responder); err != nil {
				h.disconnect(errors.New("distributing octree data failed").Wrap(err))
			}

		case data := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handlePacket(ctx, data, responder); err != nil {
				h.disconnect(errors.New("handling packet failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) startSending(ctx context.Context) {
	for {
		packet, err := h.outbound.Pop(ctx)
		if err != nil {
			return
		}

		if _, err := h.sender(packet); err != nil {
			h.disconnect(errors.New("sending packet failed").Wrap(err))
			return
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			data, _, err := h.receiver()
			if err != nil {
				h.disconnect(errors.New("receiving packet failed").Wrap(err))
				return
			}

			select {
			case <-ctx.Done():
				return
			case h.receiveChan <- data:
			}
		}
	}
}

// handlePacket dispatches a packet to the handler. Malformed and unknown
// packets are logged and skipped.
func (h *handler) handlePacket(ctx context.Context, data []byte, responder Responder) error {
	t, payload, err := protocol.ReadHeader(data)
	if err == nil {
		switch t {
		case protocol.TypeQuery:
			err = h.Handler.HandleQuery(ctx, responder, payload)

		case protocol.TypeNack:
			err = h.Handler.HandleNack(ctx, responder, payload)

		case protocol.TypeJurisdictionRequest:
			err = h.Handler.HandleJurisdictionRequest(ctx, responder)

		case protocol.TypeSetVoxel, protocol.TypeSetVoxelDestructive, protocol.TypeEraseVoxel:
			err = h.Handler.HandleEdit(ctx, responder, t, payload)

		default:
			err = errors.New("packet type not handled by the server").
				WithType(protocol.ErrTypeUnknownPacket).
				WithTag("type", t)
		}
	}

	switch errors.Type(err) {
	case protocol.ErrTypeMalformed, protocol.ErrTypeUnknownPacket:
		instrumentInvalidPacket(errors.Type(err), t)
		logs.WithTag("client_id", h.Handler.GetClientID()).
			WithTag("packet_type", t).
			Warn(err)
		return nil

	default:
		return err
	}
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	outbound *models.Outbound
	clientID string
}

func (r responseSender) Send(packet []byte) {
	if r.outbound.Push(packet) {
		instrumentDroppedPacket(protocol.PacketType(packet))
		logs.WithTag("client_id", r.clientID).
			WithTag("queue_size", r.outbound.Len()).
			Debug("outbound queue full, oldest packet dropped")
	}
}
