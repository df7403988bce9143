package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/protocol"
	"golang.org/x/net/websocket"
)

const (
	headerXForwardedFor = "X-Forwarded-For"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.originalRequest = req

	logs.WithTag("client_id", h.GetClientID()).
		WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     req.UserAgent(),
			XForwardedFor: req.Header.Get(headerXForwardedFor),
		}).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleQuery(ctx context.Context, respond Responder, payload []byte) error {
	if err := h.Handler.HandleQuery(ctx, respond, payload); err != nil {
		return err
	}

	q, _ := protocol.ParseQuery(payload)
	logs.WithTag("client_id", h.GetClientID()).
		WithTag("uses_frustum", q.UsesFrustum).
		WithTag("want_delta", q.WantDelta).
		WithTag("want_compression", q.WantCompression).
		WithTag("max_packets_per_second", q.MaxPacketsPerSecond).
		Debug("query updated")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag("client_id", h.GetClientID())
	if err != nil {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() ([]byte, int, error) {
		data, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.GetClientID()).
				Error(errors.New("receiving packet failed").Wrap(err))
		} else if err == nil {
			packetType := protocol.PacketType(data).String()

			logs.WithTag("client_id", h.GetClientID()).
				WithTag("packet_type", packetType).
				WithTag("size", n).
				Debug("packet received")
			h.incCounter(packetType)
		}
		return data, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(p []byte) (int, error) {
		packetType := protocol.PacketType(p).String()

		n, err := sender(p)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("packet_type", packetType).
				Error(errors.New("sending packet failed").Wrap(err))
		} else if err == nil {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("packet_type", packetType).
				WithTag("size", n).
				Debug("packet sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(packetType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[packetType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithTag("client_id", h.GetClientID()).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound packet summary")
}
