package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/chinmina/oidc-gateway/internal/audit"
	"github.com/chinmina/oidc-gateway/internal/cache"
	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/gate"
	"github.com/chinmina/oidc-gateway/internal/jwt"
	"github.com/chinmina/oidc-gateway/internal/metadata"
	"github.com/chinmina/oidc-gateway/internal/observe"
	"github.com/chinmina/oidc-gateway/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// services are the long lived components the routes are built from.
type services struct {
	manager *metadata.Manager
	gate    *gate.Gate
}

func configureServerRoutes(cfg config.Config, svc services) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	authorizer, err := jwt.Middleware(cfg.OIDC, svc.manager, refreshSigningKeys(svc.manager, svc.gate))
	if err != nil {
		return nil, fmt.Errorf("authorizer configuration failed: %w", err)
	}

	// None of the routes accept a meaningful body.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	authorizedRouteMiddleware := alice.New(requestLimiter, auditor, authorizer)
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /api/test", authorizedRouteMiddleware.Then(handleGetTest()))
	mux.Handle("GET /metadata", authorizedRouteMiddleware.Then(handleGetMetadata(svc.manager)))
	mux.Handle("DELETE /metadata/cache", authorizedRouteMiddleware.Then(handleDeleteMetadataCache(svc.manager, svc.gate)))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()
	hooks := &server.ShutdownHooks{}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	settings, err := configureSettings(ctx, cfg.Server, hooks)
	if err != nil {
		return err
	}

	store, err := cache.NewFromConfig(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache configuration failed: %w", err)
	}
	hooks.AddClose("cache", store)

	svc := configureServices(cfg, store, settings)

	// Warm the configuration so the first requests are not held up by the
	// provider. Failure is not fatal: the next request retries.
	if _, err := svc.manager.GetConfiguration(ctx); err != nil {
		log.Warn().Err(err).Str("address", svc.manager.Address()).Msg("initial metadata retrieval failed")
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(cfg, svc)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	err = server.Serve(ctx, cfg.Server, server.New(cfg.Server, handler), hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureServices(cfg config.Config, store cache.Store, settings gate.Settings) services {
	cacheGate := gate.New(store, settings, log.Logger)

	fetcher := metadata.NewHTTPFetcher(
		&http.Client{
			Transport: http.DefaultTransport,
			Timeout:   time.Duration(cfg.OIDC.FetchTimeoutSeconds) * time.Second,
		},
		cfg.OIDC.RequireHTTPS,
	)

	manager := metadata.NewManager(
		cfg.OIDC.MetadataAddress(),
		metadata.NewRetriever(cacheGate, log.Logger),
		fetcher,
		log.Logger,
		metadata.WithAutomaticRefreshInterval(time.Duration(cfg.OIDC.AutomaticRefreshSeconds)*time.Second),
		metadata.WithRefreshInterval(time.Duration(cfg.OIDC.RefreshSeconds)*time.Second),
	)

	return services{manager: manager, gate: cacheGate}
}

// configureSettings builds the runtime settings. When a settings file is
// configured it is re-read on SIGHUP.
func configureSettings(ctx context.Context, cfg config.ServerConfig, hooks *server.ShutdownHooks) (*config.Settings, error) {
	if cfg.SettingsFile == "" {
		return config.NewSettings(config.RuntimeLookuper(nil)), nil
	}

	file, err := config.NewFileLookuper(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("settings file load failed: %w", err)
	}

	reloadCtx, stop := context.WithCancel(ctx)
	hooks.AddContext("settings-reload", func(context.Context) error {
		stop()
		return nil
	})

	go reloadSettingsOnHangup(reloadCtx, file)

	return config.NewSettings(config.RuntimeLookuper(file)), nil
}

func reloadSettingsOnHangup(ctx context.Context, file *config.FileLookuper) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-hangup:
			if err := file.Reload(); err != nil {
				// previous values remain in effect
				log.Warn().Err(err).Msg("settings reload failed, continuing with previous settings")
				continue
			}
			log.Info().Msg("settings reloaded")
		case <-ctx.Done():
			return
		}
	}
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
