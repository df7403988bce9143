package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/featureflag"
	"github.com/aukilabs/octree-server/models"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Creates a testing environement to unit test handlers. It returns two
// clients connected to a server that serves each of them with a handler
// created by newHandler.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clientA, clientB, close := newTestingEnv(t, newHandler)
	return clientA, clientB, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-For", "192.0.0.0")
		config.Header.Set(HeaderClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}
		conn.PayloadType = websocket.BinaryFrame

		return conn
	}

	clientA := newConn()
	clientB := newConn()

	return clientA, clientB, func() {
		clientA.Close()
		clientB.Close()
		server.Close()
	}
}

type testHandlerConfig struct {
	tree         *octree.Tree
	sessions     *models.SessionStore
	featureFlags featureflag.FeatureFlag
	setup        func(h *OctreeHandler)
}

// newTestHandler returns a function that creates octree handlers serving the
// given tree, decorated with logs and metrics.
func newTestHandler(conf testHandlerConfig) func() Handler {
	if conf.tree == nil {
		conf.tree = octree.New(false)
	}
	if conf.sessions == nil {
		conf.sessions = &models.SessionStore{HistorySize: 100}
	}

	return func() Handler {
		oh := &OctreeHandler{
			Tree:               conf.tree,
			Sessions:           conf.sessions,
			ClientIdleTimeout:  time.Minute,
			ClientSendInterval: time.Millisecond * 10,
			PacketsPerSecond:   1000,
			OutboundQueueSize:  models.DefaultOutboundQueueSize,
			FeatureFlags:       conf.featureFlags,
		}
		if conf.setup != nil {
			conf.setup(oh)
		}

		var h Handler = oh
		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://octree-test.com")
		return h
	}
}

// sendPacket writes a packet to a testing connection.
func sendPacket(t *testing.T, conn *websocket.Conn, p []byte) {
	if err := websocket.Message.Send(conn, p); err != nil {
		t.Fatalf("error sending packet: %s", err)
	}
}

// receivePacket reads packets from a testing connection until one of type
// typ is received or timeout elapses.
func receivePacket(t *testing.T, conn *websocket.Conn, typ protocol.Type, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	defer conn.SetReadDeadline(time.Time{})

	for {
		conn.SetReadDeadline(deadline)

		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			t.Fatalf("error receiving %s packet: %s", typ, err)
		}
		if protocol.PacketType(data) == typ {
			return data
		}
	}
}
