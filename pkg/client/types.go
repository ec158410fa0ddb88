package client

import "time"

// Service mirrors a registry record as returned by the admin API.
type Service struct {
	Name                        string  `json:"name"`
	UUID                        *string `json:"uuid"`
	Enabled                     bool    `json:"enabled"`
	Running                     bool    `json:"running"`
	Healthy                     bool    `json:"healthy"`
	Failed                      bool    `json:"failed"`
	BootAttempts                uint32  `json:"boot_attempts"`
	BootTimeoutMillisecs        uint64  `json:"boot_timeout_millisecs"`
	HealthcheckAttempts         uint32  `json:"healthcheck_attempts"`
	HealthcheckTimeoutMillisecs uint64  `json:"healthcheck_timeout_millisecs"`
	Port                        uint16  `json:"port"`
	Version                     string  `json:"version"`
	HealthPath                  string  `json:"health_path"`
}

// Status is the fleet summary returned by GET status.
type Status struct {
	Status     string   `json:"status"`
	Services   int      `json:"services_count"`
	Enabled    int      `json:"enabled_count"`
	Running    int      `json:"running_count"`
	Healthy    int      `json:"healthy_count"`
	Failed     int      `json:"failed_count"`
	PortsInUse []uint16 `json:"ports_in_use"`
	Timestamp  string   `json:"timestamp"`
}

// Usage is a resource sample of a live service process.
type Usage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	MemoryVMS  uint64  `json:"memory_vms"`
	NumThreads int32   `json:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty"`
}

type Runtime struct {
	Alive               bool       `json:"alive"`
	PID                 int        `json:"pid,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Usage               *Usage     `json:"usage,omitempty"`
}

// ServiceDetail is returned by GET service/{name}.
type ServiceDetail struct {
	Service Service `json:"service"`
	Runtime Runtime `json:"runtime"`
}

// ServiceResult is returned by enable and disable.
// Status is "success", or "launch_failed" when an enabled service could not be started.
type ServiceResult struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Service Service `json:"service"`
}

// AllocateRequest asks for a port for a service.
type AllocateRequest struct {
	ServiceName   string `json:"service_name"`
	PreferredPort uint16 `json:"preferred_port"`
}

// Allocation is the outcome of a port allocation. Status is "success" or "reassigned".
type Allocation struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Port          uint16 `json:"port"`
	RequestedPort uint16 `json:"requested_port,omitempty"`
	AssignedPort  uint16 `json:"assigned_port,omitempty"`
}

type PortCheck struct {
	Port  uint16 `json:"port"`
	InUse bool   `json:"in_use"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
