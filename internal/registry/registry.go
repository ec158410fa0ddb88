package registry

import (
	"errors"
	"sync"
)

// ErrNotFound is returned for operations on a name the registry does not hold.
var ErrNotFound = errors.New("service not found")

// Registry is the in-memory service table shared by the monitor loop and the admin API.
//
// A single mutex covers the whole map, the claimed-ports log and the boot budget
// baselines. Callers never receive pointers into the map; Update runs the whole
// read-modify-write of a record inside the critical section.
type Registry struct {
	mu       sync.Mutex
	services map[string]*Service
	claimed  []uint16
	owners   map[uint16]string
	budgets  map[string]uint32
}

func New() *Registry {
	return &Registry{
		services: make(map[string]*Service),
		owners:   make(map[uint16]string),
		budgets:  make(map[string]uint32),
	}
}

// Seed replaces the registry content with services loaded from disk.
// Ports of records that are enabled or were running are claimed on behalf of their service.
func (r *Registry) Seed(services []Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*Service, len(services))
	r.claimed = nil
	r.owners = make(map[uint16]string)
	r.budgets = make(map[string]uint32, len(services))
	for _, s := range services {
		c := s.clone()
		r.services[s.Name] = &c
		r.budgets[s.Name] = s.BootAttempts
		if s.Enabled || s.Running {
			r.claimLocked(s.Port, s.Name)
		}
	}
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[name]
	if !ok {
		return Service{}, false
	}
	return s.clone(), true
}

// List returns copies of all records sorted by port.
func (r *Registry) List() []Service {
	r.mu.Lock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s.clone())
	}
	r.mu.Unlock()
	SortByPort(out)
	return out
}

// Enabled returns copies of enabled records except the one named exclude.
func (r *Registry) Enabled(exclude string) []Service {
	r.mu.Lock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		if s.Enabled && s.Name != exclude {
			out = append(out, s.clone())
		}
	}
	r.mu.Unlock()
	SortByPort(out)
	return out
}

// Update applies fn to the named record atomically and returns the resulting copy.
func (r *Registry) Update(name string, fn func(s *Service)) (Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[name]
	if !ok {
		return Service{}, ErrNotFound
	}
	fn(s)
	return s.clone(), nil
}

// Baseline returns the boot budget the record had when the registry was seeded.
func (r *Registry) Baseline(name string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budgets[name]
}

// Claim appends port to the claimed-ports log on behalf of service.
func (r *Registry) Claim(port uint16, service string) {
	r.mu.Lock()
	r.claimLocked(port, service)
	r.mu.Unlock()
}

func (r *Registry) claimLocked(port uint16, service string) {
	r.claimed = append(r.claimed, port)
	r.owners[port] = service
}

// ClaimedBy returns the service that most recently claimed port.
func (r *Registry) ClaimedBy(port uint16) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.owners[port]
	return s, ok
}

// Claimed returns the claimed-ports log in claim order.
// The log only ever grows; released ports are not removed.
func (r *Registry) Claimed() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16{}, r.claimed...)
}

// Counts aggregates the current records.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Counts{Services: len(r.services)}
	for _, s := range r.services {
		if s.Enabled {
			c.Enabled++
		}
		if s.Running {
			c.Running++
		}
		if s.Healthy {
			c.Healthy++
		}
		if s.Failed {
			c.Failed++
		}
	}
	return c
}
