// gobearerd is the bearer daemon: it runs the xu datagram bearer and, when
// a wireless interface is configured, the WLAN fragmentation bearer,
// exposing both behind a JSON control API and a Prometheus metrics
// endpoint.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gobearer/internal/config"
	gobearermetrics "github.com/dantte-lp/gobearer/internal/metrics"
	"github.com/dantte-lp/gobearer/internal/natmap"
	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/server"
	"github.com/dantte-lp/gobearer/internal/validation"
	appversion "github.com/dantte-lp/gobearer/internal/version"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
	"github.com/dantte-lp/gobearer/internal/wlan"
	"github.com/dantte-lp/gobearer/internal/wlanio"
	"github.com/dantte-lp/gobearer/internal/xu"
)

// drainTimeout is the time to wait after disconnecting every peer before
// proceeding with shutdown, giving final teardown frames a chance to reach
// peers.
const drainTimeout = 2 * time.Second

// shutdownTimeout bounds how long HTTP servers get to drain active
// connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	self, err := loadOrCreateIdentity()
	if err != nil {
		logger.Error("failed to establish node identity", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gobearerd starting",
		slog.String("version", appversion.Version),
		slog.String("self", self.String()),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := gobearermetrics.NewCollector(reg)

	if err := runBearers(cfg, self, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("gobearerd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gobearerd stopped")
	return 0
}

// runBearers constructs every configured bearer, mounts their control and
// metrics surfaces, and runs everything under one errgroup until a signal
// arrives.
func runBearers(
	cfg *config.Config,
	self peerid.ID,
	collector *gobearermetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	env := plugin.Environment{
		Self:    self,
		Upcalls: overlayStandIn(logger),
		Stats:   collector,
	}

	natMapper := natmap.NewStubMapper(logger)
	signer := validation.NewStubSigner(logger)

	xuBearer, err := newXUBearer(cfg.Bearers.XU, cfg.NAT, env, natMapper, signer, logger)
	if err != nil {
		return fmt.Errorf("construct xu bearer: %w", err)
	}

	var wlanBearer *wlan.Plugin
	if cfg.Bearers.WLAN.Interface != "" {
		wlanBearer, err = newWLANBearer(cfg.Bearers.WLAN, env, signer, logger)
		if err != nil {
			return fmt.Errorf("construct wlan bearer: %w", err)
		}
	}

	registries := []server.Registry{xuBearer}
	if wlanBearer != nil {
		registries = append(registries, wlanBearer)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	controlSrv := newControlServer(cfg.GRPC, registries, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		xuBearer.Run(gCtx)
		return nil
	})
	if wlanBearer != nil {
		g.Go(func() error {
			wlanBearer.Run(gCtx)
			return nil
		})
	}

	startHTTPServers(gCtx, g, cfg, controlSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, registries, logger, controlSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run bearers: %w", err)
	}
	return nil
}

// overlayStandIn returns the minimal Upcalls this daemon gives every
// bearer: nothing above the bearer layer is implemented here, so incoming
// messages and session lifecycle events are only logged, not dispatched
// further.
func overlayStandIn(logger *slog.Logger) plugin.Upcalls {
	return plugin.Upcalls{
		Receive: func(addr wireaddr.Address, session plugin.Session, msg []byte) time.Duration {
			logger.Debug("received overlay message",
				slog.String("peer", session.Peer().String()),
				slog.Int("bytes", len(msg)),
			)
			return 0
		},
		SessionStart: func(addr wireaddr.Address, session plugin.Session, scope wireaddr.Scope) {
			logger.Info("session started",
				slog.String("peer", session.Peer().String()),
				slog.Int("scope", int(scope)),
			)
		},
		SessionEnd: func(addr wireaddr.Address, session plugin.Session) {
			logger.Info("session ended", slog.String("peer", session.Peer().String()))
		},
		NotifyAddress: func(add bool, addr wireaddr.Address) {
			s, err := wireaddr.ToString(addr)
			if err != nil {
				s = "<unprintable>"
			}
			logger.Info("local address changed", slog.Bool("add", add), slog.String("addr", s))
		},
	}
}

func newXUBearer(cfg config.XUConfig, natCfg config.NATConfig, env plugin.Environment, natMapper natmap.Mapper, signer validation.Signer, logger *slog.Logger) (*xu.Plugin, error) {
	bindAddrs, err := cfg.BindAddrs()
	if err != nil {
		return nil, err
	}
	if len(bindAddrs) == 0 {
		bindAddrs = append(bindAddrs, netip.IPv4Unspecified())
	}

	return xu.New(xu.Config{
		BindAddrs:       bindAddrs,
		Port:            cfg.Port,
		IdleTimeout:     cfg.IdleTimeout,
		KeepaliveFactor: cfg.KeepaliveFactor,
		DisableIPv6:     natCfg.DisableV6,
	}, env, natMapper, signer, logger)
}

func newWLANBearer(cfg config.WLANConfig, env plugin.Environment, signer validation.Signer, logger *slog.Logger) (*wlan.Plugin, error) {
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = 3000
	}

	device, err := wlanio.NewLinuxDevice(cfg.Interface, mtu)
	if err != nil {
		return nil, fmt.Errorf("open wlan device %s: %w", cfg.Interface, err)
	}

	return wlan.New(wlan.Config{
		IdleTimeout:     cfg.IdleTimeout,
		KeepaliveFactor: cfg.KeepaliveFactor,
		IfaceName:       cfg.Interface,
	}, env, device, signer, logger)
}

// startHTTPServers registers the control and metrics HTTP server
// goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	controlSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, controlSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload
// goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval. Exits immediately if no watchdog is
// configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only; bearer sockets are not re-bound
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig re-reads configuration and applies the log level change.
// Bearer socket configuration (ports, bind addresses, interface) requires
// a restart; only the dynamic log level is hot-reloaded.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown disconnects every tracked peer on every bearer, waits
// for final teardown frames to go out, then shuts down the HTTP servers.
func gracefulShutdown(
	ctx context.Context,
	registries []server.Registry,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer drainCancel()
	drainAllPeers(drainCtx, registries, logger)

	time.Sleep(drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// drainAllPeers disconnects every session on every bearer so peers see an
// intentional teardown rather than a silent timeout.
func drainAllPeers(ctx context.Context, registries []server.Registry, logger *slog.Logger) {
	seen := make(map[peerid.ID]struct{})
	for _, reg := range registries {
		for _, sess := range reg.Sessions() {
			peer := sess.Peer()
			if _, ok := seen[peer]; ok {
				continue
			}
			seen[peer] = struct{}{}
			if err := reg.DisconnectPeer(ctx, peer); err != nil {
				logger.Warn("failed to disconnect peer during shutdown",
					slog.String("peer", peer.String()),
					slog.String("bearer", reg.Name()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newControlServer mounts one server.BearerServer per bearer under its own
// name-scoped path prefix, plus a shared gRPC health endpoint, all served
// over plaintext HTTP/2 (h2c) the way the reference daemon mounts its
// ConnectRPC handler.
func newControlServer(cfg config.GRPCConfig, registries []server.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	serviceNames := make([]string, 0, len(registries))
	for _, reg := range registries {
		path, handler := server.New(reg, logger)
		mux.Handle(path, handler)
		serviceNames = append(serviceNames, "bearer."+reg.Name())
	}

	checker := grpchealth.NewStaticChecker(append([]string{grpchealth.HealthV1ServiceName}, serviceNames...)...)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Config / Logger / Identity helpers
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadOrCreateIdentity produces this node's peerid.ID. The cryptographic
// identity layer that would normally mint and persist this value is out
// of scope (see internal/peerid's doc comment), so the daemon generates a
// fresh random identity on every start. A real deployment replaces this
// with a call into whatever keystore backs its actual PKI identity.
func loadOrCreateIdentity() (peerid.ID, error) {
	var id peerid.ID
	if _, err := rand.Read(id[:]); err != nil {
		return peerid.ID{}, fmt.Errorf("generate node identity: %w", err)
	}
	return id, nil
}
