// Package health probes the HTTP health endpoint of managed services.
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of a health response is read.
const maxBody = 4 << 10

// ProbeFailure explains why a probe did not pass. It never leaves the monitor.
type ProbeFailure struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (f *ProbeFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("probe %s: %v", f.URL, f.Err)
	}
	return fmt.Sprintf("probe %s: status %d body %q", f.URL, f.Status, f.Body)
}

func (f *ProbeFailure) Unwrap() error { return f.Err }

// Prober issues health GETs against 127.0.0.1.
type Prober struct {
	client *http.Client
	host   string
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
				Proxy:             nil,
			},
		},
		host: "127.0.0.1",
	}
}

// URL builds the probe URL for a port and path.
func (p *Prober) URL(port uint16, path string) string {
	return "http://" + net.JoinHostPort(p.host, strconv.Itoa(int(port))) + "/" + strings.TrimLeft(path, "/")
}

// Probe passes when the endpoint answers 200 with a body of "true" (surrounding
// whitespace ignored). Every other outcome is a *ProbeFailure.
func (p *Prober) Probe(ctx context.Context, port uint16, path string) error {
	url := p.URL(port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ProbeFailure{URL: url, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &ProbeFailure{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return &ProbeFailure{URL: url, Status: resp.StatusCode, Err: err}
	}
	if len(b) > maxBody {
		return &ProbeFailure{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", maxBody)}
	}
	body := strings.TrimSpace(string(b))
	if resp.StatusCode != http.StatusOK || body != "true" {
		return &ProbeFailure{URL: url, Status: resp.StatusCode, Body: body}
	}
	return nil
}
