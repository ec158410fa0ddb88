package registry

import "strings"

// DefaultHealthPath is probed when a record does not set health_path.
const DefaultHealthPath = "healthcheck/basic"

// Service is one entry of the service registry file.
// Field names on disk follow the existing registry format (snake_case).
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

// ProbePath returns the health path without a leading slash, falling back to the default.
func (s Service) ProbePath() string {
	p := strings.TrimLeft(strings.TrimSpace(s.HealthPath), "/")
	if p == "" {
		return DefaultHealthPath
	}
	return p
}

// ShouldRun reports whether the supervisor is expected to keep this service alive.
func (s Service) ShouldRun() bool { return s.Enabled && !s.Failed }

func (s Service) clone() Service {
	c := s
	if s.UUID != nil {
		u := *s.UUID
		c.UUID = &u
	}
	return c
}

// Counts aggregates the observed state of the fleet.
type Counts struct {
	Services int `json:"services_count"`
	Enabled  int `json:"enabled_count"`
	Running  int `json:"running_count"`
	Healthy  int `json:"healthy_count"`
	Failed   int `json:"failed_count"`
}
