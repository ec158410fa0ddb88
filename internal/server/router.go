// Package server exposes the supervisor's administrative HTTP API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hiveagent/warden/internal/monitor"
	"github.com/hiveagent/warden/internal/ports"
	"github.com/hiveagent/warden/internal/process"
	"github.com/hiveagent/warden/internal/registry"
)

// Processes is the read side of the process manager used by the handlers.
type Processes interface {
	IsAlive(name string) bool
	Info(name string) (process.Info, bool)
}

// Deps are the components the handlers operate on.
type Deps struct {
	Registry  *registry.Registry
	Monitor   *monitor.Monitor
	Processes Processes
	Ports     *ports.Allocator
	Persister *registry.Persister
	Log       *slog.Logger
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// Router serves the admin API.
// Endpoints, relative to basePath:
//
//	GET  /healthcheck/basic
//	GET  /status
//	GET  /services
//	GET  /service/:name
//	POST /service/:name/enable
//	POST /service/:name/disable
//	POST /port/allocate          body: {"service_name": "...", "preferred_port": n}
//	GET  /port/check/:port
type Router struct {
	d        Deps
	basePath string
	cors     bool
	log      *slog.Logger
}

func NewRouter(d Deps, basePath string, cors bool) *Router {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Router{d: d, basePath: sanitizeBase(basePath), cors: cors, log: log.With("component", "server")}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), accessLog(r.log))
	if r.cors {
		g.Use(cors())
	}
	if r.d.Metrics != nil {
		g.GET("/metrics", gin.WrapH(r.d.Metrics))
	}
	group := g.Group(r.basePath)
	group.GET("/healthcheck/basic", r.handleHealthcheck)
	group.GET("/status", r.handleStatus)
	group.GET("/services", r.handleServices)
	group.GET("/service/:name", r.handleService)
	group.POST("/service/:name/enable", r.handleEnable)
	group.POST("/service/:name/disable", r.handleDisable)
	group.POST("/port/allocate", r.handleAllocate)
	group.GET("/port/check/:port", r.handlePortCheck)
	g.NoRoute(func(c *gin.Context) { writeError(c, http.StatusNotFound, "route not found") })
	return g
}

// NewServer wraps handler in an http.Server. WriteTimeout must exceed the process stop timeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
