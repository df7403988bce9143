package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/octree-server/featureflag"
	octreehttp "github.com/aukilabs/octree-server/http"
	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/models"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/persist"
	"github.com/aukilabs/octree-server/smoketest"
	"github.com/aukilabs/octree-server/websocket"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The octree server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "octree_server_info",
		Help:        "Octree server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr                 string        `cli:""        env:"OCTREE_ADDR"                   help:"Listening address for client connections."`
	AdminAddr            string        `cli:""        env:"OCTREE_ADMIN_ADDR"             help:"Admin listening address."`
	PublicEndpoint       string        `cli:""        env:"OCTREE_PUBLIC_ENDPOINT"        help:"The public endpoint where this octree server is reachable."`
	PrivateKey           string        `cli:""        env:"OCTREE_PRIVATE_KEY"            help:"The private key jurisdiction replies are signed with. A new key is generated when empty."`
	PrivateKeyFile       string        `cli:""        env:"OCTREE_PRIVATE_KEY_FILE"       help:"The file that contains the private key jurisdiction replies are signed with."`
	LogLevel             string        `cli:""        env:"OCTREE_LOG_LEVEL"              help:"Log level (debug|info|warning|error)."`
	LogIndent            bool          `cli:""        env:"OCTREE_LOG_INDENT"             help:"Indent logs."`
	JurisdictionFile     string        `cli:""        env:"OCTREE_JURISDICTION_FILE"      help:"The .ini or .yaml file that contains the jurisdiction of the server."`
	JurisdictionRoot     string        `cli:""        env:"OCTREE_JURISDICTION_ROOT"      help:"The hex octal code of the jurisdiction root."`
	JurisdictionEndNodes string        `cli:""        env:"OCTREE_JURISDICTION_END_NODES" help:"Comma separated hex octal codes of the jurisdiction end nodes."`
	Persist              bool          `cli:""        env:"OCTREE_PERSIST"                help:"Save the tree to disk and load it at start."`
	PersistFile          string        `cli:""        env:"OCTREE_PERSIST_FILE"           help:"The sqlite database where the tree is saved."`
	PersistInterval      time.Duration `cli:""        env:"OCTREE_PERSIST_INTERVAL"       help:"The duration between each save of a modified tree."`
	PacketsPerSecond     int           `cli:",hidden" env:"OCTREE_PACKETS_PER_SECOND"     help:"The maximum number of octree packets sent per second to a client."`
	SendInterval         time.Duration `cli:",hidden" env:"OCTREE_SEND_INTERVAL"          help:"The duration between each encode pass of a client."`
	ClientIdleTimeout    time.Duration `cli:",hidden" env:"OCTREE_CLIENT_IDLE_TIMEOUT"    help:"Time until an idle client will be disconnected."`
	OutboundQueueSize    int           `cli:",hidden" env:"OCTREE_OUTBOUND_QUEUE_SIZE"    help:"The number of packets queued for a client before the oldest are dropped."`
	SentPacketHistory    int           `cli:",hidden" env:"OCTREE_SENT_PACKET_HISTORY"    help:"The number of sent packets kept by client to answer NACKs."`
	LogSummaryInterval   time.Duration `cli:",hidden" env:"OCTREE_LOG_SUMMARY_INTERVAL"   help:"The duration between each log summary by connection."`
	Events               eventsConfig  `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	FeatureFlags         []string      `cli:",hidden" env:"OCTREE_FEATURE_FLAGS"          help:"Comma separated feature flags."`
	Version              bool          `cli:""        env:"-"                             help:"Show version."`
	Help                 bool          `cli:""        env:"-"                             help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"OCTREE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"OCTREE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"OCTREE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"OCTREE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		Persist:            true,
		PersistFile:        "octree.db",
		PersistInterval:    persist.DefaultInterval,
		PacketsPerSecond:   200,
		SendInterval:       time.Millisecond * 10,
		ClientIdleTimeout:  time.Minute * 5,
		OutboundQueueSize:  models.DefaultOutboundQueueSize,
		SentPacketHistory:  1000,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts an octree server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "octree-server",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	privateKey, err := loadPrivateKey(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}
	walletAddress := strings.ToLower(crypto.PubkeyToAddress(privateKey.PublicKey).Hex())

	j, err := loadJurisdiction(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading jurisdiction").Wrap(err))
	}

	tree := octree.New(true)
	sessions := &models.SessionStore{HistorySize: conf.SentPacketHistory}

	var wg sync.WaitGroup

	isInitialLoadComplete := func() bool { return true }
	if conf.Persist {
		store, err := persist.Open(conf.PersistFile)
		if err != nil {
			logs.Fatal(errors.New("error opening persist file").Wrap(err))
		}
		defer store.Close()

		persister := &persist.Persister{
			Tree:     tree,
			Store:    store,
			Interval: conf.PersistInterval,
		}
		isInitialLoadComplete = persister.IsInitialLoadComplete

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := persister.Load(ctx); err != nil {
				logs.WithTag("file", conf.PersistFile).
					Error(errors.New("loading persisted tree failed").Wrap(err))
			}
			persister.Run(ctx)
		}()
	}

	status := func() octreehttp.Status {
		s := octreehttp.Status{
			Version:             version,
			PublicEndpoint:      conf.PublicEndpoint,
			WalletAddress:       walletAddress,
			InitialLoadComplete: isInitialLoadComplete(),
			Elements:            tree.ElementCount(),
			Sessions:            sessions.Len(),
		}
		if j.HasRoot() {
			s.Jurisdiction = j.String()
		}
		return s
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	var service http.ServeMux
	service.Handle("/health", octreehttp.HandleWithCORS(http.HandlerFunc(octreehttp.HandleHealthCheck)))
	service.Handle("/ready", octreehttp.HandleWithCORS(octreehttp.HandleReadyCheck(isInitialLoadComplete)))
	service.Handle("/version", octreehttp.HandleWithCORS(octreehttp.HandleVersion(version)))
	service.Handle("/status", octreehttp.HandleWithCORS(octreehttp.HandleStatus(status)))
	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("octree-server %s", version),
		SendResult: func(ctx context.Context, res smoketest.Result) error {
			logs.WithTag("to_endpoint", res.ToEndpoint).
				WithTag("status", res.Status).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("jurisdiction", res.Jurisdiction).
				WithTag("elements", res.Elements).
				Info("smoke test completed")
			return nil
		},
	}))

	service.Handle("/", octreehttp.HandleClients(ctx, func() websocket.Handler {
		var h websocket.Handler = &websocket.OctreeHandler{
			Tree:                  tree,
			Sessions:              sessions,
			Jurisdiction:          j,
			PrivateKey:            privateKey,
			ClientIdleTimeout:     conf.ClientIdleTimeout,
			ClientSendInterval:    conf.SendInterval,
			PacketsPerSecond:      conf.PacketsPerSecond,
			OutboundQueueSize:     conf.OutboundQueueSize,
			FeatureFlags:          featureFlags,
			IsInitialLoadComplete: isInitialLoadComplete,
		}
		h = websocket.HandlerWithLogs(h, conf.LogSummaryInterval)
		h = websocket.HandlerWithMetrics(h, conf.PublicEndpoint)
		return h
	}))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", octreehttp.HandleHealthCheck)
	admin.HandleFunc("/ready", octreehttp.HandleReadyCheck(isInitialLoadComplete))
	admin.HandleFunc("/status", octreehttp.HandleStatus(status))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("wallet_address", walletAddress).
		WithTag("jurisdiction", j.String()).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting octree server")

	octreehttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			octreehttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	// Waits for the last save.
	wg.Wait()
}

func loadPrivateKey(conf config) (*ecdsa.PrivateKey, error) {
	privateKey := conf.PrivateKey

	if len(conf.PrivateKeyFile) != 0 {
		privateKeyBytes, err := os.ReadFile(conf.PrivateKeyFile)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithTag("file_name", conf.PrivateKeyFile).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	if len(privateKey) == 0 {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, errors.New("generating ephemeral private key failed").Wrap(err)
		}
		logs.WithTag("wallet_address", strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())).
			Info("no private key configured, using an ephemeral key")
		return key, nil
	}

	return crypto.HexToECDSA(privateKey)
}

func loadJurisdiction(conf config) (*jurisdiction.Map, error) {
	switch {
	case conf.JurisdictionFile != "":
		return jurisdiction.LoadFile(conf.JurisdictionFile)

	case conf.JurisdictionRoot != "":
		return jurisdiction.Parse(conf.JurisdictionRoot, conf.JurisdictionEndNodes)

	default:
		return nil, nil
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return errors.New("have to specify either private key or private key file, not both")
	}

	if len(conf.JurisdictionFile) != 0 &&
		len(conf.JurisdictionRoot) != 0 {
		return errors.New("have to specify either jurisdiction file or jurisdiction root, not both")
	}

	if len(conf.JurisdictionRoot) == 0 &&
		len(conf.JurisdictionEndNodes) != 0 {
		return errors.New("jurisdiction end nodes require a jurisdiction root")
	}

	if conf.SendInterval <= 0 {
		return errors.New("send interval must be positive").
			WithTag("send_interval", conf.SendInterval)
	}

	return nil
}
