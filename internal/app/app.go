// Package app assembles the supervisor from its daemon configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hiveagent/warden/internal/config"
	"github.com/hiveagent/warden/internal/env"
	"github.com/hiveagent/warden/internal/health"
	"github.com/hiveagent/warden/internal/history"
	"github.com/hiveagent/warden/internal/history/factory"
	"github.com/hiveagent/warden/internal/metrics"
	"github.com/hiveagent/warden/internal/monitor"
	"github.com/hiveagent/warden/internal/ports"
	"github.com/hiveagent/warden/internal/process"
	"github.com/hiveagent/warden/internal/registry"
	"github.com/hiveagent/warden/internal/server"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// App owns every component of a running supervisor.
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	reg       *registry.Registry
	persister *registry.Persister
	procs     *process.Manager
	mon       *monitor.Monitor
	recorder  *history.Recorder
	handler   http.Handler

	closeOnce sync.Once
}

// New builds the application. exeDir anchors the default registry file and services
// directory; an empty exeDir uses the directory of the running binary.
func New(cfg *config.Config, exeDir string) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exeDir == "" {
		exeDir = process.ExecutableDir()
	}
	log := cfg.Logger().NewSlogger()

	globals, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	path := cfg.RegistryPath(exeDir)
	reg.Seed(loadRegistry(path, log))
	persister := registry.NewPersister(path, reg)

	sinks, err := factory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return nil, fmt.Errorf("history sinks: %w", err)
	}
	recorder := history.NewRecorder(log, sinks...)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("register metrics failed", "error", err)
		} else {
			metricsHandler = metrics.Handler()
		}
	}

	servicesDir := cfg.ServicesDir
	if servicesDir == "" {
		servicesDir = exeDir
	}
	procs := process.NewManager(process.Config{
		ServicesDir: servicesDir,
		Env:         env.FromPairs(globals),
		Output:      cfg.Logger(),
		Log:         log,
		StopGrace:   cfg.Monitor.StopGrace,
		StopTimeout: cfg.Monitor.StopTimeout,
	})

	mon := monitor.New(monitor.Config{
		Interval:         cfg.Monitor.Interval,
		FailureThreshold: cfg.Monitor.FailureThreshold,
		RestartDelay:     cfg.Monitor.RestartDelay,
		StartStagger:     cfg.Monitor.StartStagger,
		SelfName:         cfg.SelfName,
	}, reg, procs, health.NewProber(cfg.Monitor.ProbeTimeout), persister, recorder, log)

	router := server.NewRouter(server.Deps{
		Registry:  reg,
		Monitor:   mon,
		Processes: procs,
		Ports:     ports.New(reg, cfg.Ports.FallbackStart, cfg.Ports.FallbackEnd),
		Persister: persister,
		Log:       log,
		Metrics:   metricsHandler,
	}, cfg.Server.BasePath, cfg.Server.CORS)

	log.Info("warden configured",
		"registry", path,
		"services", reg.Len(),
		"services_dir", servicesDir,
		"history_sinks", len(sinks))

	return &App{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		persister: persister,
		procs:     procs,
		mon:       mon,
		recorder:  recorder,
		handler:   router.Handler(),
	}, nil
}

// loadRegistry treats a missing file as an empty registry and moves a malformed one aside.
func loadRegistry(path string, log *slog.Logger) []registry.Service {
	services, err := registry.Load(path)
	switch {
	case err == nil:
		return services
	case registry.IsMissing(err):
		log.Warn("registry file not found, starting empty", "path", path)
	default:
		log.Error("registry file invalid, starting empty", "path", path, "error", err)
		if dst, qerr := registry.Quarantine(path); qerr != nil {
			log.Error("quarantine registry failed", "path", path, "error", qerr)
		} else {
			log.Warn("invalid registry moved aside", "path", dst)
		}
	}
	return nil
}

func (a *App) Handler() http.Handler          { return a.handler }
func (a *App) Registry() *registry.Registry   { return a.reg }
func (a *App) Monitor() *monitor.Monitor      { return a.mon }
func (a *App) Processes() *process.Manager    { return a.procs }
func (a *App) Logger() *slog.Logger           { return a.log }
func (a *App) Persister() *registry.Persister { return a.persister }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the monitor loop and the admin API on ln. When ctx is cancelled it shuts
// the server down, stops every child, persists the registry and closes history sinks.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.mon.Run(ctx)
	}()

	srv := server.NewServer(ln.Addr().String(), a.handler)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("admin api listening", "addr", ln.Addr().String(), "base_path", a.cfg.Server.BasePath)
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("admin api: %w", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("admin api shutdown", "error", err)
	}
	wg.Wait()
	a.Close()
	return serveErr
}

// Close stops all children, records them as stopped, persists and flushes history.
// It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		names := a.procs.Names()
		a.procs.StopAll()
		for _, name := range names {
			_, _ = a.reg.Update(name, func(s *registry.Service) {
				s.Running = false
				s.Healthy = false
			})
		}
		a.mon.Persist()
		if err := a.recorder.Close(); err != nil {
			a.log.Warn("close history sinks", "error", err)
		}
		a.log.Info("warden stopped", "stopped", len(names))
	})
}
