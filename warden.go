// Package warden embeds the supervisor in another program.
package warden

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hiveagent/warden/internal/app"
	cfg "github.com/hiveagent/warden/internal/config"
	"github.com/hiveagent/warden/internal/history"
	"github.com/hiveagent/warden/internal/metrics"
	"github.com/hiveagent/warden/internal/registry"
	"github.com/hiveagent/warden/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Service = registry.Service

type Counts = registry.Counts

type Config = cfg.Config

type Event = history.Event

type HistorySink = history.Sink

type Client = client.Client

type ClientConfig = client.Config

// Supervisor is a thin facade over internal/app.App.
type Supervisor struct{ inner *app.App }

// New assembles a supervisor. exeDir anchors the default registry path and services
// directory; empty means the running binary's directory.
func New(c *Config, exeDir string) (*Supervisor, error) {
	a, err := app.New(c, exeDir)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: a}, nil
}

func (s *Supervisor) Run(ctx context.Context) error { return s.inner.Run(ctx) }
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener) error {
	return s.inner.Serve(ctx, ln)
}
// RunMonitor runs only the health monitor loop, for programs that serve Handler themselves.
func (s *Supervisor) RunMonitor(ctx context.Context) { s.inner.Monitor().Run(ctx) }

func (s *Supervisor) Handler() http.Handler { return s.inner.Handler() }
func (s *Supervisor) Services() []Service   { return s.inner.Registry().List() }
func (s *Supervisor) Counts() Counts        { return s.inner.Registry().Counts() }
func (s *Supervisor) Close()                { s.inner.Close() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }
func DefaultConfig() *Config                  { return cfg.Default() }

func LoadRegistry(path string) ([]Service, error) { return registry.Load(path) }
func SaveRegistry(path string, s []Service) error { return registry.Save(path, s) }

func NewClient(c ClientConfig) *Client { return client.New(c) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
