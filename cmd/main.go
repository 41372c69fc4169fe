package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/spatial/featureflag"
	spatialhttp "github.com/aukilabs/spatial/http"
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	"github.com/aukilabs/spatial/smoketest"
	swebsocket "github.com/aukilabs/spatial/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The spatial server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "spatial_info",
		Help:        "Spatial server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"SPATIAL_ADDR"                 help:"Listening address for HTTP and viewer connections."`
	AdminAddr          string        `cli:""        env:"SPATIAL_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"SPATIAL_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	LogLevel           string        `cli:""        env:"SPATIAL_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"SPATIAL_LOG_INDENT"           help:"Indent logs."`
	World              worldConfig   `cli:""        env:"-"                            help:"World configuration."`
	ViewerIdleTimeout  time.Duration `cli:",hidden" env:"SPATIAL_VIEWER_IDLE_TIMEOUT"  help:"Time until an idle viewer will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"SPATIAL_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by viewer."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"SPATIAL_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type worldConfig struct {
	X             float64       `cli:""        env:"SPATIAL_WORLD_X"              help:"The left edge of the world."`
	Y             float64       `cli:""        env:"SPATIAL_WORLD_Y"              help:"The top edge of the world."`
	Width         float64       `cli:""        env:"SPATIAL_WORLD_WIDTH"          help:"The width of the world."`
	Height        float64       `cli:""        env:"SPATIAL_WORLD_HEIGHT"         help:"The height of the world."`
	Capacity      int           `cli:""        env:"SPATIAL_WORLD_CAPACITY"       help:"The number of bodies a quadtree node holds before splitting."`
	FrameDuration time.Duration `cli:",hidden" env:"SPATIAL_WORLD_FRAME_DURATION" help:"The duration of a world frame."`
	InitialBodies int           `cli:""        env:"SPATIAL_WORLD_INITIAL_BODIES" help:"The number of random bodies spawned at start."`
	MaxBodySize   float64       `cli:",hidden" env:"SPATIAL_WORLD_MAX_BODY_SIZE"  help:"The maximum width and height of random bodies."`
	MaxBodySpeed  float64       `cli:",hidden" env:"SPATIAL_WORLD_MAX_BODY_SPEED" help:"The maximum speed per axis of random bodies, in units per second."`
	Seed          int64         `cli:",hidden" env:"SPATIAL_WORLD_SEED"           help:"The random seed used to spawn bodies. The current time when 0."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"SPATIAL_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"SPATIAL_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"SPATIAL_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"SPATIAL_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:           ":4000",
		AdminAddr:      ":18190",
		PublicEndpoint: "http://localhost:4000",
		LogLevel:       logs.InfoLevel.String(),
		World: worldConfig{
			Width:         1000,
			Height:        1000,
			Capacity:      quadtree.DefaultCapacity,
			FrameDuration: time.Millisecond * 50,
			InitialBodies: 200,
			MaxBodySize:   10,
			MaxBodySpeed:  20,
		},
		ViewerIdleTimeout:  time.Minute * 5,
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
		Help("Starts a spatial server that simulates moving bodies indexed by a quadtree.").
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
			SDKType:          "spatial",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	world, err := newWorld(conf.World, featureFlags)
	if err != nil {
		logs.Fatal(err)
	}
	defer world.Close()
	go world.StartDispatchFrames()

	var service http.ServeMux
	service.Handle("/health", spatialhttp.HandleWithCORS(http.HandlerFunc(spatialhttp.HandleHealthCheck)))
	service.Handle("/version", spatialhttp.HandleWithCORS(spatialhttp.HandleVersion(version)))
	service.Handle("/query", spatialhttp.HandleWithCORS(spatialhttp.HandleQuery(world)))
	service.Handle("/stats", spatialhttp.HandleWithCORS(spatialhttp.HandleStats(world)))
	service.Handle("/nodes", spatialhttp.HandleWithCORS(spatialhttp.HandleNodes(world)))
	service.Handle("/bodies", spatialhttp.HandleWithCORS(spatialhttp.HandleSpawn(world)))
	service.Handle("/reset", spatialhttp.HandleWithCORS(spatialhttp.HandleReset(world)))

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}
	service.Handle("/ready", spatialhttp.HandleWithCORS(spatialhttp.HandleReadyCheck(readinessCheck)))

	viewer := spatialhttp.HandleWithCORS(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h swebsocket.Handler = &swebsocket.ViewerHandler{
				World:             world,
				ClientIdleTimeout: conf.ViewerIdleTimeout,
				FeatureFlags:      featureFlags,
			}
			h = swebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = swebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			swebsocket.Handle(ctx, conn, h)
		},
	})
	service.Handle("/viewer", viewer)
	service.Handle("/", viewer)

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", spatialhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", spatialhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Spatial %s", version),
		Transport: transport,
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("to_endpoint", res.ToEndpoint).
				WithTag("status", res.Status).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("error", res.Error).
				Info("smoke test result")
			return nil
		},
	}))
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
		WithTag("world_uuid", world.UUID).
		WithTag("world_bounds", world.Bounds()).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting spatial server")

	spatialhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			spatialhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func newWorld(conf worldConfig, featureFlags featureflag.FeatureFlag) (*models.World, error) {
	opts := []quadtree.Option{
		quadtree.WithCapacity(conf.Capacity),
		quadtree.WithMergeOnUpdate(featureFlags.IsSet(featureflag.FlagMergeOnUpdate)),
	}

	world, err := models.NewWorld(
		quadtree.NewRect(conf.X, conf.Y, conf.Width, conf.Height),
		conf.FrameDuration,
		opts...,
	)
	if err != nil {
		return nil, errors.New("creating world failed").Wrap(err)
	}

	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bodies, err := world.SpawnRandom(rand.New(rand.NewSource(seed)),
		conf.InitialBodies,
		conf.MaxBodySize,
		conf.MaxBodySpeed,
	)
	if err != nil {
		world.Close()
		return nil, errors.New("spawning initial bodies failed").Wrap(err)
	}

	logs.WithTag("world_uuid", world.UUID).
		WithTag("bodies", len(bodies)).
		WithTag("seed", seed).
		Info("world created")
	return world, nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if !(conf.World.Width > 0 && conf.World.Height > 0) {
		return errors.New("world width and height must be positive").
			WithTag("width", conf.World.Width).
			WithTag("height", conf.World.Height)
	}

	if conf.World.Capacity <= quadtree.MergeThreshold {
		return errors.New("world capacity must be greater than the quadtree merge threshold").
			WithTag("capacity", conf.World.Capacity).
			WithTag("merge_threshold", quadtree.MergeThreshold)
	}

	if conf.World.FrameDuration <= 0 {
		return errors.New("world frame duration must be positive").
			WithTag("frame_duration", conf.World.FrameDuration)
	}

	if conf.World.InitialBodies < 0 {
		return errors.New("initial bodies can't be negative").
			WithTag("initial_bodies", conf.World.InitialBodies)
	}

	if conf.World.InitialBodies > 0 &&
		(conf.World.MaxBodySize < 1 ||
			conf.World.MaxBodySize > conf.World.Width ||
			conf.World.MaxBodySize > conf.World.Height) {
		return errors.New("max body size must be between 1 and the world size").
			WithTag("max_body_size", conf.World.MaxBodySize)
	}

	if conf.ViewerIdleTimeout <= 0 {
		return errors.New("viewer idle timeout must be positive").
			WithTag("viewer_idle_timeout", conf.ViewerIdleTimeout)
	}

	if conf.LogSummaryInterval <= 0 {
		return errors.New("log summary interval must be positive").
			WithTag("log_summary_interval", conf.LogSummaryInterval)
	}

	return nil
}
