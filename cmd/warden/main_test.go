package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveagent/warden/pkg/client"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func fakeDaemon(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/warden/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Status{Status: "operational", Services: 2, Running: 1})
	})
	mux.HandleFunc("POST /api/v1/warden/service/{name}/enable", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if name == "broken" {
			_ = json.NewEncoder(w).Encode(client.ServiceResult{Status: "launch_failed", Message: "broken enabled but failed to start"})
			return
		}
		_ = json.NewEncoder(w).Encode(client.ServiceResult{Status: "success", Service: client.Service{Name: name, Enabled: true}})
	})
	mux.HandleFunc("GET /api/v1/warden/service/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":"error","message":"Service ghost not found"}`)
	})
	mux.HandleFunc("POST /api/v1/warden/port/allocate", func(w http.ResponseWriter, r *http.Request) {
		var req client.AllocateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(client.Allocation{Status: "success", Service: req.ServiceName, Port: req.PreferredPort})
	})
	mux.HandleFunc("GET /api/v1/warden/port/check/{port}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"port":`+r.PathValue("port")+`,"in_use":false}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL + "/api/v1/warden"
}

func TestHelpMentionsWarden(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "warden")
	assert.Contains(t, out, "serve")
}

func TestStatusCommand(t *testing.T) {
	url := fakeDaemon(t)
	out, err := run(t, "status", "--api-url", url)
	require.NoError(t, err)
	var st client.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "operational", st.Status)
	assert.Equal(t, 1, st.Running)
}

func TestEnableCommand(t *testing.T) {
	url := fakeDaemon(t)
	out, err := run(t, "enable", "cam", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"enabled": true`)

	_, err = run(t, "enable", "broken", "--api-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestServiceNotFound(t *testing.T) {
	url := fakeDaemon(t)
	_, err := run(t, "service", "ghost", "--api-url", url)
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
}

func TestPortCommands(t *testing.T) {
	url := fakeDaemon(t)
	out, err := run(t, "port", "allocate", "--service", "tts", "--preferred", "7003", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"port": 7003`)

	_, err = run(t, "port", "allocate", "--service", "tts", "--api-url", url)
	require.Error(t, err)

	out, err = run(t, "port", "check", "6001", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"in_use": false`)

	_, err = run(t, "port", "check", "99999", "--api-url", url)
	require.Error(t, err)
}

func TestLoadServeConfigOverrides(t *testing.T) {
	cfg, err := loadServeConfig(&ServeFlags{Listen: "127.0.0.1:0", Registry: "/tmp/reg.json", ServicesDir: "/opt/agents"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
	assert.Equal(t, "/tmp/reg.json", cfg.Registry)
	assert.Equal(t, "/opt/agents", cfg.ServicesDir)

	_, err = loadServeConfig(&ServeFlags{ConfigPath: "/nonexistent/warden.yaml"})
	require.Error(t, err)
}
