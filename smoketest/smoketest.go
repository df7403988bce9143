// Package smoketest probes another octree server the way a client would:
// it asks for its jurisdiction, queries the whole tree and waits for the
// first octree data.
package smoketest

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/protocol"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	// DefaultTimeout is the time a smoke test runs when the request does
	// not specify one.
	DefaultTimeout = time.Second * 10
)

type Options struct {
	// The public endpoint of the server running the smoke tests.
	Endpoint  string
	UserAgent string

	SendResult func(context.Context, Result) error
}

// Request is the body of a smoke test request.
type Request struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Result is the outcome of a smoke test.
type Result struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Jurisdiction    string  `json:"jurisdiction,omitempty"`
	Signer          string  `json:"signer,omitempty"`
	Elements        int64   `json:"elements"`
	Error           string  `json:"error,omitempty"`
}

// HandleSmokeTest starts a smoke test against the endpoint of the request.
// The result is reported to opts.SendResult once the test is over.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			res, err := Run(ctx, opts, req)
			if err != nil {
				logs.WithTag("to_endpoint", req.Endpoint).Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// Run runs a smoke test against the endpoint of req.
func Run(ctx context.Context, opts Options, req Request) (Result, error) {
	res := Result{
		FromEndpoint: opts.Endpoint,
		ToEndpoint:   req.Endpoint,
		Status:       StatusFailed,
	}

	err := run(ctx, opts, req, &res)
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("smoke test failed").
			WithTag("to_endpoint", req.Endpoint).
			Wrap(err)
	}

	res.Status = StatusSuccess
	return res, nil
}

func run(ctx context.Context, opts Options, req Request, res *Result) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	origin := opts.Endpoint
	if origin == "" {
		origin = "http://localhost"
	}
	endpoint := strings.Replace(req.Endpoint, "http", "ws", 1)
	config, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return errors.New("invalid endpoint").Wrap(err)
	}
	config.Dialer = &net.Dialer{Deadline: deadline}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}

	start := time.Now()
	conn, err := websocket.DialConfig(config)
	if err != nil {
		return errors.New("dialing endpoint failed").Wrap(err)
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	if err := websocket.Message.Send(conn, protocol.MarshalJurisdictionRequest()); err != nil {
		return errors.New("sending jurisdiction request failed").Wrap(err)
	}

	payload, err := receive(conn, protocol.TypeJurisdiction)
	if err != nil {
		return err
	}
	res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000

	j, err := protocol.ParseJurisdiction(payload)
	if err != nil {
		return err
	}
	res.Jurisdiction = j.Map.String()
	if j.Signed {
		res.Signer = strings.ToLower(j.Signer.Hex())
	}

	// Uncompressed packets are sent as soon as they are full, so the scene
	// is received before its stats.
	q := protocol.DefaultQuery()
	q.UsesFrustum = false
	q.WantCompression = false
	query, err := protocol.MarshalQuery(q)
	if err != nil {
		return err
	}
	if err := websocket.Message.Send(conn, query); err != nil {
		return errors.New("sending query failed").Wrap(err)
	}

	// An empty tree is answered with a stats packet only.
	tree := octree.New(false)
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return errors.New("receiving octree data failed").Wrap(err)
		}

		t, payload, err := protocol.ReadHeader(data)
		if err != nil {
			return err
		}

		switch t {
		case protocol.TypeOctreeStats:
			res.Elements = tree.ElementCount()
			return nil

		case protocol.TypeOctreeData:
			d, err := protocol.ParseOctreeData(payload)
			if err != nil {
				return err
			}
			bitstreams, err := d.Bitstreams()
			if err != nil {
				return err
			}
			for _, bs := range bitstreams {
				if err := tree.ReadBitstreamToTree(bs, octree.ReadParams{
					IncludeColor:      d.Flags.Color(),
					IncludeExistsBits: true,
				}); err != nil {
					return err
				}
			}
		}
	}
}

func receive(conn *websocket.Conn, typ protocol.Type) ([]byte, error) {
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return nil, errors.New("receiving packet failed").
				WithTag("type", typ).
				Wrap(err)
		}

		t, payload, err := protocol.ReadHeader(data)
		if err != nil {
			return nil, err
		}
		if t == typ {
			return payload, nil
		}
	}
}
