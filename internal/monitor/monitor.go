// Package monitor runs the control loop that keeps enabled services alive and healthy.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hiveagent/warden/internal/health"
	"github.com/hiveagent/warden/internal/history"
	"github.com/hiveagent/warden/internal/metrics"
	"github.com/hiveagent/warden/internal/process"
	"github.com/hiveagent/warden/internal/registry"
)

// Defaults for Config.
const (
	DefaultInterval         = 10 * time.Second
	DefaultFailureThreshold = 3
	DefaultRestartDelay     = time.Second
	DefaultStartStagger     = 2 * time.Second
	DefaultSelfName         = "hive_agent-warden"
)

// Processes is the slice of the process manager the monitor drives.
type Processes interface {
	Start(name string, port uint16) (process.Info, error)
	Stop(name string) error
	IsAlive(name string) bool
}

// Prober checks a service's health endpoint.
type Prober interface {
	Probe(ctx context.Context, port uint16, path string) error
}

type Config struct {
	Interval         time.Duration
	FailureThreshold int
	RestartDelay     time.Duration
	StartStagger     time.Duration
	// SelfName is the supervisor's own registry record; it is never managed.
	SelfName string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RestartDelay < 0 {
		c.RestartDelay = 0
	}
	if c.StartStagger < 0 {
		c.StartStagger = 0
	}
	if c.SelfName == "" {
		c.SelfName = DefaultSelfName
	}
}

// Monitor applies the restart policy. Its helpers Launch, Halt and ResetFailures are
// shared with the admin API so both paths record the same state transitions.
type Monitor struct {
	cfg       Config
	reg       *registry.Registry
	procs     Processes
	prober    Prober
	persister *registry.Persister
	events    *history.Recorder
	log       *slog.Logger

	mu       sync.Mutex
	failures map[string]int
	tripped  map[string]bool
}

func New(cfg Config, reg *registry.Registry, procs Processes, prober Prober,
	persister *registry.Persister, events *history.Recorder, log *slog.Logger) *Monitor {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		reg:       reg,
		procs:     procs,
		prober:    prober,
		persister: persister,
		events:    events,
		log:       log.With("component", "monitor"),
		failures:  make(map[string]int),
		tripped:   make(map[string]bool),
	}
}

// SelfName returns the record name excluded from supervision.
func (m *Monitor) SelfName() string { return m.cfg.SelfName }

// Failures returns the consecutive probe failures recorded for name.
func (m *Monitor) Failures(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[name]
}

// ResetFailures clears the failure counter and the circuit flag for name.
func (m *Monitor) ResetFailures(name string) {
	m.mu.Lock()
	delete(m.failures, name)
	delete(m.tripped, name)
	m.mu.Unlock()
}

func (m *Monitor) incFailures(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name]++
	return m.failures[name]
}

// trip reports true the first time a service is circuit-broken since its last reset.
func (m *Monitor) trip(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tripped[name] {
		return false
	}
	m.tripped[name] = true
	return true
}

func (m *Monitor) emit(t history.EventType, s registry.Service, pid int, msg string) {
	e := history.NewEvent(t, s.Name)
	e.PID = pid
	e.Port = s.Port
	e.BootAttempts = s.BootAttempts
	e.Message = msg
	m.events.Emit(e)
}

func publish(s registry.Service) {
	metrics.SetState(s.Name, s.Running, s.Healthy, s.Failed)
	metrics.SetBootAttempts(s.Name, s.BootAttempts)
}

// Launch spawns name if it has no live process. A missing or unstartable executable
// marks the record failed. If the record was disabled while the spawn was in flight
// the new process is stopped again.
func (m *Monitor) Launch(name string) error {
	svc, ok := m.reg.Get(name)
	if !ok {
		return registry.ErrNotFound
	}
	info, err := m.procs.Start(name, svc.Port)
	switch {
	case errors.Is(err, process.ErrAlreadyRunning):
		var wanted bool
		s, uerr := m.reg.Update(name, func(s *registry.Service) {
			wanted = s.Enabled
			if wanted {
				s.Running = true
			}
		})
		if uerr == nil && wanted {
			publish(s)
		}
		return nil
	case process.IsLaunchError(err):
		s, _ := m.reg.Update(name, func(s *registry.Service) {
			s.Failed = true
			s.Running = false
			s.Healthy = false
		})
		publish(s)
		metrics.IncLaunchFailure(name)
		m.emit(history.EventLaunchFailed, s, 0, err.Error())
		m.log.Error("service launch failed", "service", name, "error", err)
		return err
	case err != nil:
		m.log.Warn("service start failed", "service", name, "error", err)
		return err
	}

	var wanted bool
	s, err := m.reg.Update(name, func(s *registry.Service) {
		wanted = s.Enabled
		if wanted {
			s.Running = true
		}
	})
	if err != nil || !wanted {
		_ = m.procs.Stop(name)
		return err
	}
	publish(s)
	metrics.IncStart(name)
	m.emit(history.EventStart, s, info.PID, "")
	return nil
}

// Halt stops name and records it as not running.
func (m *Monitor) Halt(name, reason string) error {
	if err := m.procs.Stop(name); err != nil {
		return err
	}
	m.ResetFailures(name)
	s, err := m.reg.Update(name, func(s *registry.Service) {
		s.Running = false
		s.Healthy = false
	})
	if err != nil {
		return err
	}
	publish(s)
	metrics.IncStop(name)
	m.emit(history.EventStop, s, 0, reason)
	return nil
}

// Persist saves the registry, logging failures.
func (m *Monitor) Persist() {
	if err := m.persister.Persist(); err != nil {
		m.log.Error("persist registry failed", "path", m.persister.Path(), "error", err)
	}
}

// StartAll launches every enabled service once at startup, pausing StartStagger
// between spawns. It returns early if ctx is cancelled.
func (m *Monitor) StartAll(ctx context.Context) {
	first := true
	for _, s := range m.reg.Enabled(m.cfg.SelfName) {
		if s.Failed {
			continue
		}
		if !first && !sleepCtx(ctx, m.cfg.StartStagger) {
			return
		}
		first = false
		m.log.Info("starting service", "service", s.Name, "port", s.Port)
		_ = m.Launch(s.Name)
	}
	m.Persist()
}

// Run starts enabled services and then ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.StartAll(ctx)
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	m.log.Info("monitor running", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one pass over every enabled service and persists the registry.
func (m *Monitor) Tick(ctx context.Context) {
	begin := time.Now()
	for _, s := range m.reg.Enabled(m.cfg.SelfName) {
		if ctx.Err() != nil {
			return
		}
		m.check(ctx, s)
	}
	m.Persist()
	metrics.ObserveTick(time.Since(begin).Seconds())
}

func (m *Monitor) check(ctx context.Context, svc registry.Service) {
	defer func() {
		// one misbehaving service must never stop supervision of the others
		if r := recover(); r != nil {
			m.log.Error("monitor check panicked", "service", svc.Name, "panic", r)
		}
	}()

	if !m.procs.IsAlive(svc.Name) {
		s, err := m.reg.Update(svc.Name, func(s *registry.Service) {
			s.Running = false
			s.Healthy = false
		})
		if err != nil {
			return
		}
		publish(s)
		if s.ShouldRun() {
			m.log.Info("service not running, starting", "service", s.Name)
			_ = m.Launch(s.Name)
		}
		return
	}

	perr := m.prober.Probe(ctx, svc.Port, svc.ProbePath())
	// the record may have been disabled while the probe was in flight
	var was, enabled bool
	s, err := m.reg.Update(svc.Name, func(s *registry.Service) {
		enabled = s.Enabled
		if !enabled {
			return
		}
		was = s.Healthy
		s.Running = true
		s.Healthy = perr == nil
	})
	if err != nil || !enabled {
		return
	}
	publish(s)

	if perr == nil {
		m.ResetFailures(s.Name)
		if !was {
			m.emit(history.EventHealthChanged, s, 0, "healthy")
		}
		return
	}

	metrics.IncProbeFailure(s.Name)
	n := m.incFailures(s.Name)
	if was {
		m.emit(history.EventHealthChanged, s, 0, "unhealthy")
	}
	m.log.Warn("health probe failed", "service", s.Name, "failures", n, "error", perr)
	if n < m.cfg.FailureThreshold {
		return
	}
	if s.BootAttempts == 0 {
		if m.trip(s.Name) {
			metrics.IncCircuitOpen(s.Name)
			m.emit(history.EventCircuitOpen, s, 0, "boot attempts exhausted")
			m.log.Error("service unhealthy with no boot attempts left", "service", s.Name)
		}
		return
	}
	m.restart(ctx, s.Name, n)
}

// restart stops name, waits RestartDelay, spends one boot attempt and starts it again.
func (m *Monitor) restart(ctx context.Context, name string, failures int) {
	m.log.Warn("restarting unhealthy service", "service", name, "failures", failures)
	if err := m.procs.Stop(name); err != nil {
		m.log.Warn("stop before restart failed", "service", name, "error", err)
	}
	m.ResetFailures(name)
	var enabled bool
	s, err := m.reg.Update(name, func(s *registry.Service) {
		enabled = s.Enabled
		s.Running = false
		s.Healthy = false
		if enabled && s.BootAttempts > 0 {
			s.BootAttempts--
		}
	})
	if err != nil {
		return
	}
	if !enabled {
		publish(s)
		return
	}
	publish(s)
	metrics.IncRestart(name)
	m.emit(history.EventRestart, s, 0, "consecutive failed health probes")

	if !sleepCtx(ctx, m.cfg.RestartDelay) {
		return
	}
	if cur, ok := m.reg.Get(name); !ok || !cur.ShouldRun() {
		return
	}
	_ = m.Launch(name)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Prober = (*health.Prober)(nil)
var _ Processes = (*process.Manager)(nil)
