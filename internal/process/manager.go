// Package process spawns and terminates managed service executables.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hiveagent/warden/internal/env"
	"github.com/hiveagent/warden/internal/logger"
)

// Defaults for Stop.
const (
	DefaultStopGrace   = 100 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second
)

// Config configures a Manager.
type Config struct {
	// ServicesDir holds the service executables; defaults to the supervisor binary's directory.
	ServicesDir string
	Env         *env.Env
	// Output routes child stdout/stderr to rotated files when Output.File.Dir is set;
	// otherwise lines are forwarded to Log.
	Output      logger.Config
	Log         *slog.Logger
	StopGrace   time.Duration
	StopTimeout time.Duration
}

// Manager owns the name to process handle table. At most one handle exists per name.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	mu      sync.Mutex
	handles map[string]*handle
}

func NewManager(cfg Config) *Manager {
	if cfg.ServicesDir == "" {
		cfg.ServicesDir = ExecutableDir()
	}
	if cfg.Env == nil {
		cfg.Env = env.New()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		cfg:     cfg,
		log:     cfg.Log.With("component", "process"),
		handles: make(map[string]*handle),
	}
}

// ExecutableDir returns the directory containing the running binary, or "." if unknown.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if r, err := filepath.EvalSymlinks(exe); err == nil {
		exe = r
	}
	return filepath.Dir(exe)
}

// ExecutablePath resolves the executable for a service name.
func (m *Manager) ExecutablePath(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", &LaunchError{Name: name, Err: err}
	}
	return filepath.Join(m.cfg.ServicesDir, name+exeSuffix), nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.New("invalid service name")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return errors.New("service name must not contain path elements")
	}
	return nil
}

// Start spawns name with --port and the assigned-port environment variables.
// It fails with ErrAlreadyRunning if a live handle exists, and with *LaunchError if the
// executable is missing or cannot be started.
func (m *Manager) Start(name string, port uint16) (Info, error) {
	path, err := m.ExecutablePath(name)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	if old, ok := m.handles[name]; ok && old.alive() {
		m.mu.Unlock()
		return Info{}, ErrAlreadyRunning
	}
	h := &handle{name: name, port: port, spawning: true, done: make(chan struct{})}
	m.handles[name] = h
	m.mu.Unlock()

	cmd, err := m.spawn(h, path)
	if err != nil {
		m.mu.Lock()
		if m.handles[name] == h {
			delete(m.handles, name)
		}
		m.mu.Unlock()
		return Info{}, err
	}

	m.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.spawning = false
	still := m.handles[name] == h
	info := h.info()
	m.mu.Unlock()

	go m.wait(h)

	if !still {
		m.terminate(h)
		return Info{}, ErrStoppedDuringStart
	}
	m.log.Info("service started", "service", name, "pid", info.PID, "port", port)
	return info, nil
}

func (m *Manager) spawn(h *handle, path string) (*exec.Cmd, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, &LaunchError{Name: h.name, Path: path, Err: err}
	}
	if !st.Mode().IsRegular() {
		return nil, &LaunchError{Name: h.name, Path: path, Err: errors.New("not a regular file")}
	}

	p := strconv.Itoa(int(h.port))
	// #nosec G204 path is confined to the services directory
	cmd := exec.Command(path, "--port", p)
	cmd.Env = m.cfg.Env.Merge([]string{"SERVICE_PORT=" + p, "WARDEN_ASSIGNED_PORT=" + p})
	configureSysProcAttr(cmd)

	stdout, stderr, err := m.outputs(h.name)
	if err != nil {
		return nil, &LaunchError{Name: h.name, Path: path, Err: err}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Writers that are not *os.File make exec copy through pipes; bound how long
	// Wait may block on descendants that keep the pipes open.
	cmd.WaitDelay = m.cfg.StopTimeout
	h.closers = []io.Closer{stdout, stderr}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, &LaunchError{Name: h.name, Path: path, Err: err}
	}
	return cmd, nil
}

func (m *Manager) outputs(name string) (io.WriteCloser, io.WriteCloser, error) {
	if m.cfg.Output.File.Dir != "" {
		out, errW, err := m.cfg.Output.ProcessWriters(name)
		if err != nil {
			return nil, nil, fmt.Errorf("service logs: %w", err)
		}
		return out, errW, nil
	}
	l := m.cfg.Log.With("service", name)
	return logger.NewLineWriter(l.With("stream", "stdout"), slog.LevelInfo),
		logger.NewLineWriter(l.With("stream", "stderr"), slog.LevelWarn), nil
}

// wait reaps the child and closes its output writers.
func (m *Manager) wait(h *handle) {
	err := h.cmd.Wait()
	h.exitErr = err
	h.closeWriters()
	close(h.done)
	if err != nil {
		m.log.Warn("service exited", "service", h.name, "pid", h.pid, "error", err)
	} else {
		m.log.Info("service exited", "service", h.name, "pid", h.pid)
	}
}

// Stop removes the handle for name and terminates the process. It is a no-op when
// no handle exists. The handle leaves the table before the blocking wait so
// concurrent callers never see a process that is being torn down.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	h, ok := m.handles[name]
	if ok {
		delete(m.handles, name)
	}
	m.mu.Unlock()
	if !ok || h.spawning {
		// an in-flight Start notices the removal and terminates its child
		return nil
	}
	m.terminate(h)
	return nil
}

// terminate sends SIGTERM to the process group, waits for the grace period and
// then for the child to be reaped, escalating to SIGKILL after the stop timeout.
func (m *Manager) terminate(h *handle) {
	select {
	case <-h.done:
		return
	default:
	}
	if err := signalGroup(h.pid, sigTerm); err != nil {
		m.log.Debug("terminate signal failed", "service", h.name, "pid", h.pid, "error", err)
	}
	time.Sleep(m.cfg.StopGrace)
	select {
	case <-h.done:
		m.log.Info("service stopped", "service", h.name, "pid", h.pid)
		return
	case <-time.After(m.cfg.StopTimeout):
	}
	m.log.Warn("service ignored terminate, killing", "service", h.name, "pid", h.pid)
	_ = signalGroup(h.pid, sigKill)
	select {
	case <-h.done:
	case <-time.After(m.cfg.StopTimeout):
		m.log.Error("service not reaped after kill", "service", h.name, "pid", h.pid)
	}
}

// IsAlive reports, without blocking, whether name has a live handle.
func (m *Manager) IsAlive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[name]
	return ok && h.alive()
}

// Info returns the handle details for name.
func (m *Manager) Info(name string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[name]
	if !ok || h.spawning {
		return Info{}, false
	}
	return h.info(), true
}

// Names returns the names that currently have a handle.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for n := range m.handles {
		out = append(out, n)
	}
	return out
}

// StopAll stops every handle concurrently and waits for all of them.
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, n := range m.Names() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = m.Stop(name)
		}(n)
	}
	wg.Wait()
}
