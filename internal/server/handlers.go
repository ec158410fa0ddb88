package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hiveagent/warden/internal/metrics"
	"github.com/hiveagent/warden/internal/ports"
	"github.com/hiveagent/warden/internal/registry"
)

type statusResp struct {
	Status string `json:"status"`
	registry.Counts
	PortsInUse []uint16 `json:"ports_in_use"`
	Timestamp  string   `json:"timestamp"`
}

type serviceResp struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Service registry.Service `json:"service"`
}

type runtimeInfo struct {
	Alive               bool           `json:"alive"`
	PID                 int            `json:"pid,omitempty"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Usage               *metrics.Usage `json:"usage,omitempty"`
}

type serviceDetailResp struct {
	Service registry.Service `json:"service"`
	Runtime runtimeInfo      `json:"runtime"`
}

type allocateReq struct {
	ServiceName   *string `json:"service_name"`
	PreferredPort *uint16 `json:"preferred_port"`
}

type allocateResp struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Port          uint16 `json:"port"`
	RequestedPort uint16 `json:"requested_port,omitempty"`
	AssignedPort  uint16 `json:"assigned_port,omitempty"`
}

type portCheckResp struct {
	Port  uint16 `json:"port"`
	InUse bool   `json:"in_use"`
}

func (r *Router) handleHealthcheck(c *gin.Context) {
	c.String(http.StatusOK, "true")
}

func (r *Router) handleStatus(c *gin.Context) {
	claimed := r.d.Registry.Claimed()
	if claimed == nil {
		claimed = []uint16{}
	}
	writeJSON(c, http.StatusOK, statusResp{
		Status:     "operational",
		Counts:     r.d.Registry.Counts(),
		PortsInUse: claimed,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

func (r *Router) handleServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.d.Registry.List())
}

func (r *Router) notFound(c *gin.Context, name string) {
	writeError(c, http.StatusNotFound, fmt.Sprintf("Service %s not found", name))
}

func (r *Router) handleService(c *gin.Context) {
	name := c.Param("name")
	s, ok := r.d.Registry.Get(name)
	if !ok {
		r.notFound(c, name)
		return
	}
	rt := runtimeInfo{ConsecutiveFailures: r.d.Monitor.Failures(name)}
	if info, ok := r.d.Processes.Info(name); ok {
		rt.Alive = info.Alive
		rt.PID = info.PID
		started := info.StartedAt
		rt.StartedAt = &started
		if info.Alive && info.PID > 0 {
			if u, err := metrics.SampleUsage(c.Request.Context(), info.PID); err == nil {
				rt.Usage = &u
			}
		}
	}
	writeJSON(c, http.StatusOK, serviceDetailResp{Service: s, Runtime: rt})
}

// handleEnable marks the service enabled, clears failed, restores the boot budget
// loaded at startup and starts the process right away if none is alive.
func (r *Router) handleEnable(c *gin.Context) {
	name := c.Param("name")
	baseline := r.d.Registry.Baseline(name)
	_, err := r.d.Registry.Update(name, func(s *registry.Service) {
		s.Enabled = true
		s.Failed = false
		if s.BootAttempts < baseline {
			s.BootAttempts = baseline
		}
	})
	if errors.Is(err, registry.ErrNotFound) {
		r.notFound(c, name)
		return
	}
	r.d.Monitor.ResetFailures(name)
	r.persist()

	resp := serviceResp{Status: "success", Message: name + " enabled"}
	if !r.d.Processes.IsAlive(name) {
		if err := r.d.Monitor.Launch(name); err != nil {
			resp.Status = "launch_failed"
			resp.Message = fmt.Sprintf("%s enabled but failed to start: %v", name, err)
		}
		r.persist()
	}
	resp.Service, _ = r.d.Registry.Get(name)
	r.log.Info("service enabled", "service", name, "status", resp.Status)
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleDisable(c *gin.Context) {
	name := c.Param("name")
	_, err := r.d.Registry.Update(name, func(s *registry.Service) {
		s.Enabled = false
		s.Running = false
		s.Healthy = false
	})
	if errors.Is(err, registry.ErrNotFound) {
		r.notFound(c, name)
		return
	}
	if err := r.d.Monitor.Halt(name, "disabled via admin api"); err != nil {
		r.log.Warn("stop on disable failed", "service", name, "error", err)
	}
	r.persist()
	s, _ := r.d.Registry.Get(name)
	r.log.Info("service disabled", "service", name)
	writeJSON(c, http.StatusOK, serviceResp{Status: "success", Message: name + " disabled", Service: s})
}

func (r *Router) persist() {
	if err := r.d.Persister.Persist(); err != nil {
		r.log.Error("persist registry failed", "error", err)
	}
}

func (r *Router) handleAllocate(c *gin.Context) {
	var req allocateReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ServiceName == nil || req.PreferredPort == nil {
		writeError(c, http.StatusBadRequest, "Missing required fields: service_name, preferred_port")
		return
	}
	if !isSafeName(*req.ServiceName) {
		writeError(c, http.StatusBadRequest, "invalid service_name: allowed [A-Za-z0-9._-] and no '..'")
		return
	}
	res, err := r.d.Ports.Allocate(*req.ServiceName, *req.PreferredPort)
	if err != nil {
		var ae *ports.AllocationError
		if errors.As(err, &ae) {
			metrics.IncPortAllocation("exhausted")
			writeError(c, http.StatusInternalServerError, "No available ports found")
			return
		}
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Reassigned {
		metrics.IncPortAllocation("preferred")
		writeJSON(c, http.StatusOK, allocateResp{Status: "success", Service: res.Service, Port: res.Port})
		return
	}
	metrics.IncPortAllocation("reassigned")
	r.log.Info("port reassigned", "service", res.Service, "requested", res.Requested, "assigned", res.Port)
	writeJSON(c, http.StatusOK, allocateResp{
		Status:        "reassigned",
		Service:       res.Service,
		Port:          res.Port,
		RequestedPort: res.Requested,
		AssignedPort:  res.Port,
	})
}

func (r *Router) handlePortCheck(c *gin.Context) {
	n, err := strconv.ParseUint(c.Param("port"), 10, 16)
	if err != nil || n == 0 {
		writeError(c, http.StatusBadRequest, "port must be an integer between 1 and 65535")
		return
	}
	port := uint16(n)
	writeJSON(c, http.StatusOK, portCheckResp{Port: port, InUse: !ports.IsFree(port)})
}
