package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel        = "error_type"
	packetTypeLabel     = "packet_type"
	publicEndpointLabel = "public_endpoint"
	resultLabel         = "result"

	// ErrTypeQueueFull is the error type of packets dropped because the
	// outbound queue of a client was full.
	ErrTypeQueueFull = "outbound_queue_full"

	distributePacketType = "distribute"
)

var (
	wsConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	}, []string{
		publicEndpointLabel,
	})

	wsReceivedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_packets",
		Help: "The number of packets received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		packetTypeLabel,
	})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		packetTypeLabel,
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket packet.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
	})

	wsSentPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_packets",
		Help: "The number of packets sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		packetTypeLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		packetTypeLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket packet.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
		packetTypeLabel,
	})

	wsPacketLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_packet_latency",
		Help: "The time to process a WebSocket packet or an encode pass.",
	}, []string{
		publicEndpointLabel,
		packetTypeLabel,
	})

	wsInvalidPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_invalid_packets",
		Help: "The number of malformed or unknown packets skipped.",
	}, []string{
		errTypeLabel,
		packetTypeLabel,
	})

	wsDroppedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_packets",
		Help: "The number of outbound packets dropped.",
	}, []string{
		errTypeLabel,
		packetTypeLabel,
	})

	octreeNacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_nacked_packets",
		Help: "The number of packets clients reported as lost.",
	}, []string{
		resultLabel,
	})

	octreeResentPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octree_resent_packets",
		Help: "The number of octree data packets resent after a NACK.",
	})

	octreeSuppressedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octree_suppressed_packets",
		Help: "The number of duplicate octree data packets not sent.",
	})
)

func instrumentInvalidPacket(errType string, t protocol.Type) {
	wsInvalidPackets.
		With(prometheus.Labels{
			errTypeLabel:    errType,
			packetTypeLabel: t.String(),
		}).
		Inc()
}

func instrumentDroppedPacket(t protocol.Type) {
	wsDroppedPackets.
		With(prometheus.Labels{
			errTypeLabel:    ErrTypeQueueFull,
			packetTypeLabel: t.String(),
		}).
		Inc()
}

func instrumentNacks(queued, unknown int) {
	octreeNacks.With(prometheus.Labels{resultLabel: "queued"}).Add(float64(queued))
	octreeNacks.With(prometheus.Labels{resultLabel: "unknown"}).Add(float64(unknown))
}

func instrumentResentPacket() {
	octreeResentPackets.Inc()
}

func instrumentSuppressedPacket() {
	octreeSuppressedPackets.Inc()
}

func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	publicEndpoint string
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedClients.
		With(prometheus.Labels{
			publicEndpointLabel: h.publicEndpoint,
		}).
		Inc()

	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleQuery(ctx context.Context, respond Responder, payload []byte) error {
	return h.measureLatency(protocol.TypeQuery.String(), func() error {
		return h.Handler.HandleQuery(ctx, respond, payload)
	})
}

func (h *handlerWithMetrics) HandleNack(ctx context.Context, respond Responder, payload []byte) error {
	return h.measureLatency(protocol.TypeNack.String(), func() error {
		return h.Handler.HandleNack(ctx, respond, payload)
	})
}

func (h *handlerWithMetrics) HandleJurisdictionRequest(ctx context.Context, respond Responder) error {
	return h.measureLatency(protocol.TypeJurisdictionRequest.String(), func() error {
		return h.Handler.HandleJurisdictionRequest(ctx, respond)
	})
}

func (h *handlerWithMetrics) HandleEdit(ctx context.Context, respond Responder, t protocol.Type, payload []byte) error {
	return h.measureLatency(t.String(), func() error {
		return h.Handler.HandleEdit(ctx, respond, t, payload)
	})
}

func (h *handlerWithMetrics) Distribute(ctx context.Context, respond Responder) error {
	return h.measureLatency(distributePacketType, func() error {
		return h.Handler.Distribute(ctx, respond)
	})
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedClients.
		With(prometheus.Labels{
			publicEndpointLabel: h.publicEndpoint,
		}).
		Dec()

	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() ([]byte, int, error) {
		data, n, err := receive()
		packetType := protocol.PacketType(data).String()

		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					errTypeLabel:        errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedPackets.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					packetTypeLabel:     packetType,
				}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					packetTypeLabel:     packetType,
				}).
				Add(float64(n))
		}

		return data, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(p []byte) (int, error) {
		packetType := protocol.PacketType(p).String()

		n, err := sender(p)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					packetTypeLabel:     packetType,
					errTypeLabel:        errors.Type(err),
				}).
				Inc()
		}

		if n != 0 {
			wsSentPackets.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					packetTypeLabel:     packetType,
				}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					packetTypeLabel:     packetType,
				}).
				Add(float64(n))
		}

		return n, err
	}
}

func (h *handlerWithMetrics) measureLatency(packetType string, f func() error) error {
	start := time.Now()
	err := f()

	wsPacketLatency.With(prometheus.Labels{
		publicEndpointLabel: h.publicEndpoint,
		packetTypeLabel:     packetType,
	}).Observe(time.Since(start).Seconds())

	return err
}
