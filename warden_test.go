package warden

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveagent/warden/internal/logger"
)

func TestRegistryFacadeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core_microservices.json")
	in := []Service{
		{Name: "b", Port: 7002},
		{Name: "a", Port: 7001, Enabled: true, BootAttempts: 2},
	}
	require.NoError(t, SaveRegistry(path, in))
	out, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Name)
	assert.Equal(t, "healthcheck/basic", out[0].HealthPath)
}

func TestSupervisorFacade(t *testing.T) {
	dir := t.TempDir()
	c := DefaultConfig()
	c.Registry = filepath.Join(dir, "core_microservices.json")
	c.ServicesDir = dir
	c.Metrics.Enabled = false
	c.Log.Level = logger.LevelError
	require.NoError(t, SaveRegistry(c.Registry, []Service{{Name: "idle", Port: 7101}}))

	s, err := New(c, dir)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Counts().Services)
	assert.Len(t, s.Services(), 1)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	cl := NewClient(ClientConfig{BaseURL: ts.URL + c.Server.BasePath})
	assert.True(t, cl.IsReachable(context.Background()))

	resp, err := http.Get(ts.URL + c.Server.BasePath + "/services")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
