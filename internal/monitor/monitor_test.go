package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveagent/warden/internal/history"
	"github.com/hiveagent/warden/internal/process"
	"github.com/hiveagent/warden/internal/registry"
)

type fakeProcs struct {
	mu      sync.Mutex
	alive   map[string]bool
	starts  map[string]int
	stops   map[string]int
	missing map[string]bool
	onStart func(name string)
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{
		alive:   map[string]bool{},
		starts:  map[string]int{},
		stops:   map[string]int{},
		missing: map[string]bool{},
	}
}

func (f *fakeProcs) Start(name string, port uint16) (process.Info, error) {
	f.mu.Lock()
	if f.missing[name] {
		f.mu.Unlock()
		return process.Info{}, &process.LaunchError{Name: name, Err: errors.New("no such file")}
	}
	if f.alive[name] {
		f.mu.Unlock()
		return process.Info{}, process.ErrAlreadyRunning
	}
	f.alive[name] = true
	f.starts[name]++
	hook := f.onStart
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return process.Info{Name: name, PID: 1000 + int(port), Port: port, Alive: true}, nil
}

func (f *fakeProcs) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive[name] {
		f.stops[name]++
	}
	delete(f.alive, name)
	return nil
}

func (f *fakeProcs) IsAlive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *fakeProcs) kill(name string) {
	f.mu.Lock()
	delete(f.alive, name)
	f.mu.Unlock()
}

func (f *fakeProcs) startCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[name]
}

type fakeProber struct {
	mu      sync.Mutex
	healthy map[uint16]bool
	// gate, when set, runs before the result is returned
	gate func()
}

func (p *fakeProber) set(port uint16, ok bool) {
	p.mu.Lock()
	p.healthy[port] = ok
	p.mu.Unlock()
}

func (p *fakeProber) Probe(_ context.Context, port uint16, _ string) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		gate()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy[port] {
		return nil
	}
	return errors.New("probe failed")
}

type eventSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *eventSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) count(t history.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	reg    *registry.Registry
	procs  *fakeProcs
	prober *fakeProber
	sink   *eventSink
	rec    *history.Recorder
	mon    *Monitor
	path   string
}

func newFixture(t *testing.T, services ...registry.Service) *fixture {
	t.Helper()
	f := &fixture{
		reg:    registry.New(),
		procs:  newFakeProcs(),
		prober: &fakeProber{healthy: map[uint16]bool{}},
		sink:   &eventSink{},
		path:   filepath.Join(t.TempDir(), "deps", "core_microservices.json"),
	}
	f.reg.Seed(services)
	f.rec = history.NewRecorder(nil, f.sink)
	f.mon = New(Config{RestartDelay: 0, StartStagger: 0}, f.reg, f.procs, f.prober,
		registry.NewPersister(f.path, f.reg), f.rec, nil)
	return f
}

// flush delivers queued history events.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.rec.Close())
}

func svc(name string, port uint16, enabled bool, budget uint32) registry.Service {
	return registry.Service{Name: name, Port: port, Enabled: enabled, BootAttempts: budget}
}

func get(t *testing.T, reg *registry.Registry, name string) registry.Service {
	t.Helper()
	s, ok := reg.Get(name)
	require.True(t, ok)
	return s
}

func TestStartAllLaunchesOnlyEnabledServices(t *testing.T) {
	failed := svc("broken", 7003, true, 1)
	failed.Failed = true
	f := newFixture(t,
		svc("A", 7001, true, 2),
		svc("B", 7002, false, 2),
		failed,
		svc(DefaultSelfName, 6080, true, 0),
	)
	f.mon.StartAll(context.Background())

	assert.Equal(t, 1, f.procs.startCount("A"))
	assert.Equal(t, 0, f.procs.startCount("B"))
	assert.Equal(t, 0, f.procs.startCount("broken"))
	assert.Equal(t, 0, f.procs.startCount(DefaultSelfName))
	assert.True(t, get(t, f.reg, "A").Running)
	assert.FileExists(t, f.path)
}

func TestThreeFailuresRestartExactlyOnce(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	ctx := context.Background()
	f.mon.StartAll(ctx)

	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	assert.Equal(t, 2, f.mon.Failures("A"))
	assert.Equal(t, 1, f.procs.startCount("A"))
	assert.False(t, get(t, f.reg, "A").Healthy)

	f.mon.Tick(ctx)
	a := get(t, f.reg, "A")
	assert.Equal(t, 2, f.procs.startCount("A"), "restarted once")
	assert.Equal(t, uint32(1), a.BootAttempts)
	assert.Equal(t, 0, f.mon.Failures("A"))
	assert.True(t, a.Running)

	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	assert.Equal(t, 2, f.procs.startCount("A"))
	assert.Equal(t, 2, f.mon.Failures("A"))

	f.flush(t)
	assert.Equal(t, 1, f.sink.count(history.EventRestart))
}

func TestExhaustedBudgetNeverRespawns(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 0))
	ctx := context.Background()
	f.mon.StartAll(ctx)

	for i := 0; i < 9; i++ {
		f.mon.Tick(ctx)
	}
	assert.Equal(t, 1, f.procs.startCount("A"))
	assert.Equal(t, uint32(0), get(t, f.reg, "A").BootAttempts)
	assert.False(t, get(t, f.reg, "A").Healthy)

	f.flush(t)
	assert.Equal(t, 1, f.sink.count(history.EventCircuitOpen))
}

func TestHealthyProbeResetsCounter(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	ctx := context.Background()
	f.mon.StartAll(ctx)

	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	f.prober.set(7001, true)
	f.mon.Tick(ctx)
	a := get(t, f.reg, "A")
	assert.True(t, a.Healthy)
	assert.True(t, a.Running)
	assert.Equal(t, 0, f.mon.Failures("A"))

	f.prober.set(7001, false)
	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	assert.Equal(t, 1, f.procs.startCount("A"))

	f.flush(t)
	assert.Equal(t, 2, f.sink.count(history.EventHealthChanged))
}

func TestDeadProcessIsRelaunched(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 0))
	ctx := context.Background()
	f.mon.StartAll(ctx)

	f.procs.kill("A")
	f.mon.Tick(ctx)
	assert.Equal(t, 2, f.procs.startCount("A"))
	assert.True(t, get(t, f.reg, "A").Running)
}

func TestLaunchErrorMarksFailed(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 3))
	f.procs.missing["A"] = true
	ctx := context.Background()
	f.mon.StartAll(ctx)

	a := get(t, f.reg, "A")
	assert.True(t, a.Failed)
	assert.False(t, a.Running)

	f.procs.mu.Lock()
	f.procs.missing["A"] = false
	f.procs.mu.Unlock()
	f.mon.Tick(ctx)
	assert.Equal(t, 0, f.procs.startCount("A"), "failed services wait for an explicit enable")

	f.flush(t)
	assert.Equal(t, 1, f.sink.count(history.EventLaunchFailed))
}

func TestHaltStopsAndRecords(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	ctx := context.Background()
	f.mon.StartAll(ctx)
	f.mon.Tick(ctx)
	require.Equal(t, 1, f.mon.Failures("A"))

	require.NoError(t, f.mon.Halt("A", "test"))
	a := get(t, f.reg, "A")
	assert.False(t, a.Running)
	assert.False(t, a.Healthy)
	assert.False(t, f.procs.IsAlive("A"))
	assert.Equal(t, 0, f.mon.Failures("A"))

	assert.ErrorIs(t, f.mon.Halt("ghost", ""), registry.ErrNotFound)
}

func TestLaunchStopsProcessIfDisabledMeanwhile(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	f.procs.onStart = func(name string) {
		_, _ = f.reg.Update(name, func(s *registry.Service) { s.Enabled = false })
	}
	require.NoError(t, f.mon.Launch("A"))
	assert.False(t, f.procs.IsAlive("A"))
	assert.False(t, get(t, f.reg, "A").Running)
}

func TestLaunchAlreadyRunning(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	require.NoError(t, f.mon.Launch("A"))
	require.NoError(t, f.mon.Launch("A"))
	assert.Equal(t, 1, f.procs.startCount("A"))
	assert.ErrorIs(t, f.mon.Launch("ghost"), registry.ErrNotFound)
}

func TestTickPersistsRegistry(t *testing.T) {
	f := newFixture(t, svc("B", 7002, true, 1), svc("A", 7001, true, 1))
	f.prober.set(7001, true)
	ctx := context.Background()
	f.mon.StartAll(ctx)
	f.mon.Tick(ctx)

	loaded, err := registry.Load(f.path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "A", loaded[0].Name)
	assert.True(t, loaded[0].Healthy)
	assert.False(t, loaded[1].Healthy)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mon.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.procs.IsAlive("A") }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestDisableDuringProbeIsNotOverwritten(t *testing.T) {
	f := newFixture(t, svc("A", 7001, true, 2))
	ctx := context.Background()
	f.mon.StartAll(ctx)
	f.mon.Tick(ctx)
	f.mon.Tick(ctx)
	require.Equal(t, 2, f.mon.Failures("A"))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.prober.mu.Lock()
	f.prober.gate = func() {
		close(entered)
		<-release
	}
	f.prober.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.mon.Tick(ctx)
		close(done)
	}()
	<-entered

	// same steps as the admin disable handler
	_, err := f.reg.Update("A", func(s *registry.Service) {
		s.Enabled = false
		s.Running = false
		s.Healthy = false
	})
	require.NoError(t, err)
	require.NoError(t, f.mon.Halt("A", "disabled"))
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not finish")
	}

	a := get(t, f.reg, "A")
	assert.False(t, a.Enabled)
	assert.False(t, a.Running)
	assert.False(t, a.Healthy)
	assert.False(t, f.procs.IsAlive("A"))
	assert.Equal(t, 1, f.procs.startCount("A"))
	assert.Equal(t, uint32(2), a.BootAttempts)
	assert.Equal(t, 0, f.mon.Failures("A"))

	saved, err := registry.Load(f.path)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.False(t, saved[0].Running)
}

func TestAlreadyRunningDoesNotMarkDisabledRunning(t *testing.T) {
	f := newFixture(t, svc("A", 7001, false, 1))
	_, err := f.procs.Start("A", 7001)
	require.NoError(t, err)

	require.NoError(t, f.mon.Launch("A"))
	assert.False(t, get(t, f.reg, "A").Running)
}
