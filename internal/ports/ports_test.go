package ports

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/hiveagent/warden/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen binds an ephemeral loopback port and returns it with its listener.
func listen(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestIsFreeTracksListener(t *testing.T) {
	ln, port := listen(t)
	assert.False(t, IsFree(port), "port held by listener must be in use")
	require.NoError(t, ln.Close())
	assert.True(t, IsFree(port), "port must be free after release")
}

func TestAllocatePreferredWhenFree(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())

	reg := registry.New()
	a := New(reg, 0, 0)
	res, err := a.Allocate("svc", port)
	require.NoError(t, err)
	assert.Equal(t, port, res.Port)
	assert.False(t, res.Reassigned)
	assert.Contains(t, reg.Claimed(), port)
}

func TestAllocateReassignsBusyPort(t *testing.T) {
	ln, busy := listen(t)
	defer func() { _ = ln.Close() }()

	free, other := listen(t)
	require.NoError(t, free.Close())

	reg := registry.New()
	a := New(reg, other, other)
	res, err := a.Allocate("svc", busy)
	require.NoError(t, err)
	assert.True(t, res.Reassigned)
	assert.Equal(t, busy, res.Requested)
	assert.Equal(t, other, res.Port)
	owner, ok := reg.ClaimedBy(other)
	require.True(t, ok)
	assert.Equal(t, "svc", owner)
}

func TestAllocateSkipsPortsClaimedByOthers(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())

	reg := registry.New()
	reg.Claim(port, "first")
	a := New(reg, port, port)

	_, err := a.Allocate("second", port)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, port, ae.Start)

	res, err := a.Allocate("first", port)
	require.NoError(t, err)
	assert.Equal(t, port, res.Port)
}

func TestFindFreeExhausted(t *testing.T) {
	ln, port := listen(t)
	defer func() { _ = ln.Close() }()
	a := New(nil, 0, 0)
	_, err := a.FindFree(port, port)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Error(), "no available ports")
}

func TestNewDefaultsRange(t *testing.T) {
	s, e := New(nil, 0, 0).Range()
	assert.Equal(t, DefaultFallbackStart, s)
	assert.Equal(t, DefaultFallbackEnd, e)
}

func TestConcurrentAllocateNeverSharesAPort(t *testing.T) {
	ln, start := listen(t)
	require.NoError(t, ln.Close())
	if start > 65000 {
		start = 40000
	}

	reg := registry.New()
	a := New(reg, start, start+31)

	var (
		mu   sync.Mutex
		got  = map[uint16]string{}
		wg   sync.WaitGroup
		errs int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := a.Allocate(name, 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs++
				return
			}
			if owner, dup := got[res.Port]; dup {
				t.Errorf("port %d given to %s and %s", res.Port, owner, name)
			}
			got[res.Port] = name
		}(fmt.Sprintf("svc-%d", i))
	}
	wg.Wait()
	assert.NotEmpty(t, got)
	assert.Equal(t, 16, len(got)+errs)
}
