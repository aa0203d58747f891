// Package admin implements the resolver's optional read-only
// introspection HTTP surface: process liveness, resolver/cache
// counters, and a paginated cache dump. It never touches resolution
// behavior and is off by default, bound to a separate address from the
// DNS listeners.
package admin

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mwalters/cachedns/internal/dns/cache"
	"github.com/mwalters/cachedns/internal/dns/common/log"
)

// MetricsSource is the subset of *resolver.Metrics the admin surface
// depends on, narrowed here so this package doesn't import resolver.
type MetricsSource interface {
	Snapshot() Snapshot
}

// Snapshot mirrors resolver.Snapshot's fields without importing the
// resolver package, keeping admin's dependency graph one-directional.
type Snapshot struct {
	QueriesReceived uint64
	CacheHits       uint64
	ProbesSent      uint64
	ProbeFailures   uint64
	GiveUps         uint64
}

// FrontCache is the subset of *cache.FrontCache the admin surface reads.
type FrontCache interface {
	Len() int
}

const defaultCacheDumpLimit = 100
const maxCacheDumpLimit = 1000

// Options configures a Server.
type Options struct {
	Addr    string
	Store   cache.Store
	Metrics MetricsSource
	Front   FrontCache
	Logger  log.Logger
	Now     func() int64
}

// Server is the admin HTTP surface. It owns its own *http.Server,
// entirely separate from the DNS UDP/TCP listeners.
type Server struct {
	httpServer *http.Server
	log        log.Logger
	addr       string
}

// NewServer builds a gin engine exposing /healthz, /stats, and /cache,
// bound to opts.Addr.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{store: opts.Store, metrics: opts.Metrics, front: opts.Front, now: now}
	r.GET("/healthz", h.healthz)
	r.GET("/stats", h.stats)
	r.GET("/cache", h.cacheDump)

	return &Server{
		httpServer: &http.Server{Addr: opts.Addr, Handler: r},
		log:        logger,
	}
}

// Start begins serving in the background. It returns once the socket
// is listening or binding fails.
func (s *Server) Start() error {
	ln, err := newListener(s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind admin socket on %s: %w", s.httpServer.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.log.Info(map[string]any{"address": s.addr}, "admin surface started")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error(map[string]any{"error": err.Error()}, "admin surface stopped unexpectedly")
		}
	}()
	return nil
}

// Address returns the actual bound address once Start has run.
func (s *Server) Address() string {
	return s.addr
}

// Stop gracefully shuts the admin surface down, giving up when ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info(nil, "admin surface stopping")
	return s.httpServer.Shutdown(ctx)
}

type handlers struct {
	store   cache.Store
	metrics MetricsSource
	front   FrontCache
	now     func() int64
}

// healthz reports process liveness plus a host resource snapshot, for
// operators running the resolver on constrained hosts.
func (h *handlers) healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory"] = gin.H{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if avg, err := load.Avg(); err == nil {
		resp["load"] = gin.H{"load1": avg.Load1, "load5": avg.Load5, "load15": avg.Load15}
	}

	c.JSON(http.StatusOK, resp)
}

// stats reports the resolver's atomic counters plus cache occupancy.
func (h *handlers) stats(c *gin.Context) {
	resp := gin.H{}
	if h.metrics != nil {
		resp["resolver"] = h.metrics.Snapshot()
	}
	if h.store != nil {
		if n, err := h.store.Stat(c.Request.Context(), h.now()); err == nil {
			resp["cache_rows"] = n
		}
	}
	if h.front != nil {
		resp["front_cache_entries"] = h.front.Len()
	}
	c.JSON(http.StatusOK, resp)
}

// cacheRow is the JSON projection of a cache.Row for the dump endpoint.
// Data is base64-encoded since it's raw wire bytes.
type cacheRow struct {
	Name          string `json:"name"`
	Type          uint16 `json:"type"`
	TTL           uint32 `json:"ttl"`
	InsertionTime int64  `json:"insertion_time"`
	NS            string `json:"ns,omitempty"`
	Data          string `json:"data"`
}

// cacheDump returns a paginated, read-only view of non-expired cache
// rows for debugging delegation state.
func (h *handlers) cacheDump(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"rows": []cacheRow{}})
		return
	}

	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", defaultCacheDumpLimit)
	if limit <= 0 || limit > maxCacheDumpLimit {
		limit = defaultCacheDumpLimit
	}

	rows, err := h.store.Dump(c.Request.Context(), h.now(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]cacheRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, cacheRow{
			Name:          r.Name,
			Type:          uint16(r.Type),
			TTL:           r.TTL,
			InsertionTime: r.InsertionTime,
			NS:            r.NS,
			Data:          base64.StdEncoding.EncodeToString(r.Data),
		})
	}
	c.JSON(http.StatusOK, gin.H{"offset": offset, "limit": limit, "rows": out})
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}
