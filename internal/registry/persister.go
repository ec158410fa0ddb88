package registry

import "sync"

// Persister writes registry snapshots to a single file.
// Snapshots are taken inside the persister lock so an older snapshot can never be
// written after a newer one.
type Persister struct {
	mu   sync.Mutex
	path string
	reg  *Registry
}

func NewPersister(path string, reg *Registry) *Persister {
	return &Persister{path: path, reg: reg}
}

// Path returns the registry file location.
func (p *Persister) Path() string { return p.path }

// Persist saves the current registry content.
func (p *Persister) Persist() error {
	if p == nil || p.path == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Save(p.path, p.reg.List())
}
