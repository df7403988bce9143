package http

import (
	"context"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/websocket"
	"github.com/segmentio/encoding/json"
	xwebsocket "golang.org/x/net/websocket"
)

// Status is the state of the server served on /status.
type Status struct {
	Version             string `json:"version"`
	PublicEndpoint      string `json:"public_endpoint,omitempty"`
	WalletAddress       string `json:"wallet_address,omitempty"`
	InitialLoadComplete bool   `json:"initial_load_complete"`
	Elements            int64  `json:"elements"`
	Sessions            int    `json:"sessions"`

	// Jurisdiction is the root and end nodes owned by the server, empty when
	// it owns the whole tree.
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleStatus serves the status returned by status as JSON.
func HandleStatus(status func() Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := json.Marshal(status())
		if err != nil {
			logs.Warn(errors.New("encoding status failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

// HandleWithCORS allows the handler to be called from any origin.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// HandleClients serves octree clients over websocket connections. Each
// connection is served by a handler created by newHandler until it
// disconnects or ctx is done.
func HandleClients(ctx context.Context, newHandler func() websocket.Handler) xwebsocket.Server {
	return xwebsocket.Server{
		Handshake: func(c *xwebsocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *xwebsocket.Conn) {
			defer conn.Close()

			h := newHandler()
			defer h.Close()

			websocket.Handle(ctx, conn, h)
		},
	}
}
