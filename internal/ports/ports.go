// Package ports arbitrates TCP port assignment for managed services.
package ports

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Default fallback range scanned when a preferred port is taken.
const (
	DefaultFallbackStart uint16 = 6000
	DefaultFallbackEnd   uint16 = 7000
)

// AllocationError reports an exhausted fallback range.
type AllocationError struct {
	Start, End uint16
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("no available ports in range %d-%d", e.Start, e.End)
}

// Claims is the advisory claimed-ports log the allocator records into.
type Claims interface {
	Claim(port uint16, service string)
	ClaimedBy(port uint16) (string, bool)
}

// Allocation is the outcome of Allocate.
type Allocation struct {
	Service    string `json:"service"`
	Requested  uint16 `json:"requested_port"`
	Port       uint16 `json:"port"`
	Reassigned bool   `json:"reassigned"`
}

// Allocator hands out ports. It holds no listeners between calls.
// Scan and claim happen under one lock so concurrent calls never share a port.
type Allocator struct {
	mu         sync.Mutex
	claims     Claims
	start, end uint16
	host       string
}

func New(claims Claims, start, end uint16) *Allocator {
	if start == 0 {
		start = DefaultFallbackStart
	}
	if end == 0 || end < start {
		end = DefaultFallbackEnd
	}
	return &Allocator{claims: claims, start: start, end: end, host: "127.0.0.1"}
}

// Range returns the fallback range.
func (a *Allocator) Range() (uint16, uint16) { return a.start, a.end }

// IsFree reports whether a listener can be bound on the loopback address at port.
// The probe listener is closed before returning.
func IsFree(port uint16) bool {
	return isFree("127.0.0.1", port)
}

func isFree(host string, port uint16) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindFree scans [start, end] ascending and returns the first bindable port
// that has not been claimed.
func (a *Allocator) FindFree(start, end uint16) (uint16, error) {
	for p := uint32(start); p <= uint32(end); p++ {
		port := uint16(p)
		if port == 0 {
			continue
		}
		if a.claims != nil {
			if _, taken := a.claims.ClaimedBy(port); taken {
				continue
			}
		}
		if isFree(a.host, port) {
			return port, nil
		}
	}
	return 0, &AllocationError{Start: start, End: end}
}

// Allocate assigns a port to service, preferring preferred when it is bindable and
// not claimed by another service. The assigned port is recorded in the claims log.
func (a *Allocator) Allocate(service string, preferred uint16) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := Allocation{Service: service, Requested: preferred}
	if preferred != 0 && a.available(service, preferred) {
		res.Port = preferred
		a.claim(preferred, service)
		return res, nil
	}
	port, err := a.FindFree(a.start, a.end)
	if err != nil {
		return res, err
	}
	res.Port = port
	res.Reassigned = true
	a.claim(port, service)
	return res, nil
}

func (a *Allocator) available(service string, port uint16) bool {
	if a.claims != nil {
		if owner, ok := a.claims.ClaimedBy(port); ok && owner != service {
			return false
		}
	}
	return isFree(a.host, port)
}

func (a *Allocator) claim(port uint16, service string) {
	if a.claims != nil {
		a.claims.Claim(port, service)
	}
}
