package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hiveagent/warden/pkg/client"
)

const (
	defaultAPIURL     = client.DefaultBaseURL
	defaultAPITimeout = 10 * time.Second
)

// command runs client subcommands against a supervisor's admin API.
type command struct {
	api *APIFlags
}

func (c command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.api.URL, Timeout: c.api.Timeout})
}

func (c command) Status(ctx context.Context, w io.Writer) error {
	st, err := c.client().Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(w, st)
}

func (c command) Services(ctx context.Context, w io.Writer) error {
	list, err := c.client().Services(ctx)
	if err != nil {
		return err
	}
	return printJSON(w, list)
}

func (c command) Service(ctx context.Context, w io.Writer, name string) error {
	d, err := c.client().Service(ctx, name)
	if err != nil {
		return err
	}
	return printJSON(w, d)
}

func (c command) Enable(ctx context.Context, w io.Writer, name string) error {
	r, err := c.client().Enable(ctx, name)
	if err != nil {
		return err
	}
	if err := printJSON(w, r); err != nil {
		return err
	}
	if r.Status == "launch_failed" {
		return fmt.Errorf("%s", r.Message)
	}
	return nil
}

func (c command) Disable(ctx context.Context, w io.Writer, name string) error {
	r, err := c.client().Disable(ctx, name)
	if err != nil {
		return err
	}
	return printJSON(w, r)
}

func (c command) AllocatePort(ctx context.Context, w io.Writer, f AllocateFlags) error {
	a, err := c.client().AllocatePort(ctx, client.AllocateRequest{ServiceName: f.Service, PreferredPort: f.Preferred})
	if err != nil {
		return err
	}
	return printJSON(w, a)
}

func (c command) CheckPort(ctx context.Context, w io.Writer, arg string) error {
	n, err := strconv.ParseUint(arg, 10, 16)
	if err != nil || n == 0 {
		return fmt.Errorf("invalid port %q: must be between 1 and 65535", arg)
	}
	pc, err := c.client().CheckPort(ctx, uint16(n))
	if err != nil {
		return err
	}
	return printJSON(w, pc)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
