package process

import (
	"io"
	"os/exec"
	"time"
)

// Info describes a live or last-known child process.
type Info struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Port      uint16    `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Alive     bool      `json:"alive"`
}

// handle is the table entry for one spawned service.
// While spawning is true the entry only reserves the name.
type handle struct {
	name      string
	port      uint16
	spawning  bool
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	closers   []io.Closer
	// done is closed by the waiter goroutine once the child is reaped; exitErr is
	// written before the close.
	done    chan struct{}
	exitErr error
}

func (h *handle) alive() bool {
	if h.spawning {
		return true
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *handle) info() Info {
	return Info{
		Name:      h.name,
		PID:       h.pid,
		Port:      h.port,
		StartedAt: h.startedAt,
		Alive:     h.alive(),
	}
}

func (h *handle) closeWriters() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}
