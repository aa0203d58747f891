// Command cachednsd runs the caching iterative DNS resolver: UDP and/or
// TCP listeners backed by a durable SQLite cache, an in-process LRU
// front cache, and a bloom-filter negative cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwalters/cachedns/internal/dns/admin"
	"github.com/mwalters/cachedns/internal/dns/cache"
	"github.com/mwalters/cachedns/internal/dns/common/clock"
	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/config"
	"github.com/mwalters/cachedns/internal/dns/resolver"
	"github.com/mwalters/cachedns/internal/dns/transport"
)

const (
	version = "0.1.0-dev"

	defaultNegativeCacheCapacity = 10000
	defaultNegativeCacheFPRate   = 0.01
	defaultShutdownTimeout       = 10 * time.Second
)

// Application holds every long-lived component cachednsd starts.
type Application struct {
	config    *config.AppConfig
	resolver  *resolver.Resolver
	mailbox   *resolver.Mailbox
	listeners []listener
	admin     *admin.Server
	store     cache.Store
}

type listener interface {
	Start(ctx context.Context, r transport.Resolver) error
	Stop() error
	Address() string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure("prod", cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":        version,
		"log_level":      cfg.LogLevel,
		"protocol":       cfg.Protocol,
		"host":           cfg.Host,
		"port":           cfg.Port,
		"root_servers":   cfg.RootServers,
		"cache_location": cfg.CacheLocation,
		"admin_enabled":  cfg.AdminEnabled,
	}, "starting cachednsd")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "server failed")
	}

	log.Info(nil, "cachednsd stopped gracefully")
}

// metricsAdapter lets the resolver's counters satisfy admin.MetricsSource
// without admin importing the resolver package.
type metricsAdapter struct{ m *resolver.Metrics }

func (a metricsAdapter) Snapshot() admin.Snapshot {
	s := a.m.Snapshot()
	return admin.Snapshot{
		QueriesReceived: s.QueriesReceived,
		CacheHits:       s.CacheHits,
		ProbesSent:      s.ProbesSent,
		ProbeFailures:   s.ProbeFailures,
		GiveUps:         s.GiveUps,
	}
}

// buildApplication wires every component described by the resolver's
// configuration: cache, front cache, negative cache, resolver, mailbox,
// listeners, and the optional admin surface.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	clk := &clock.RealClock{}

	store := cache.NewSQLiteStore(cfg.CacheLocation, logger)

	// front is left a nil interface (not a typed nil *cache.FrontCache)
	// when disabled, so the resolver's "if r.front != nil" checks behave.
	var resolverFront resolver.FrontCache
	var adminFront admin.FrontCache
	if cfg.CacheLRUSize > 0 {
		f, err := cache.NewFrontCache(cfg.CacheLRUSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build front cache: %w", err)
		}
		resolverFront, adminFront = f, f
	}
	negative := cache.NewNegativeCache(defaultNegativeCacheCapacity, defaultNegativeCacheFPRate)

	res := resolver.NewResolver(resolver.Options{
		Store:           store,
		RootServers:     cfg.RootServers,
		UpstreamTimeout: time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
		Clock:           clk,
		Logger:          logger,
		Front:           resolverFront,
		Negative:        negative,
	})
	mailbox := resolver.NewMailbox(res)

	listeners, err := buildListeners(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build listeners: %w", err)
	}

	var adminServer *admin.Server
	if cfg.AdminEnabled {
		adminServer = admin.NewServer(admin.Options{
			Addr:    cfg.AdminAddr,
			Store:   store,
			Metrics: metricsAdapter{res.Metrics()},
			Front:   adminFront,
			Logger:  logger,
		})
	}

	return &Application{
		config:    cfg,
		resolver:  res,
		mailbox:   mailbox,
		listeners: listeners,
		admin:     adminServer,
		store:     store,
	}, nil
}

func buildListeners(cfg *config.AppConfig, logger log.Logger) ([]listener, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var out []listener
	switch transport.Protocol(cfg.Protocol) {
	case transport.ProtocolUDP:
		out = append(out, transport.NewUDPListener(addr, logger))
	case transport.ProtocolTCP:
		out = append(out, transport.NewTCPListener(addr, logger))
	case transport.ProtocolBoth:
		out = append(out, transport.NewUDPListener(addr, logger), transport.NewTCPListener(addr, logger))
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
	return out, nil
}

// Run starts every listener (and the admin surface, if enabled) and
// blocks until ctx is canceled, then shuts everything down within
// defaultShutdownTimeout.
func (app *Application) Run(ctx context.Context) error {
	for _, l := range app.listeners {
		if err := l.Start(ctx, app.mailbox); err != nil {
			return fmt.Errorf("failed to start listener on %s: %w", l.Address(), err)
		}
		log.Info(map[string]any{"address": l.Address()}, "dns listener running")
	}

	if app.admin != nil {
		if err := app.admin.Start(); err != nil {
			return fmt.Errorf("failed to start admin surface: %w", err)
		}
	}

	<-ctx.Done()
	log.Info(nil, "shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	for _, l := range app.listeners {
		if err := l.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error(), "address": l.Address()}, "error stopping listener")
		}
	}
	app.mailbox.Stop()

	if app.admin != nil {
		if err := app.admin.Stop(shutdownCtx); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "error stopping admin surface")
		}
	}

	if err := app.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "error closing cache store")
	}

	select {
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	default:
		log.Info(nil, "graceful shutdown completed")
		return nil
	}
}
