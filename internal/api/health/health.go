// Package health provides health check functionality for API components.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Port       int                        `json:"port"`
	Uptime     string                     `json:"uptime"`
}

// MonitorInfo reports the console monitor's attachment state.
type MonitorInfo interface {
	Attached() bool
	BufferLen() int
}

// Checker aggregates component health for the health endpoint.
type Checker struct {
	monitor   MonitorInfo
	version   string
	port      int
	startTime time.Time
}

// NewChecker creates a new health checker.
func NewChecker(monitor MonitorInfo, version string, port int) *Checker {
	return &Checker{
		monitor:   monitor,
		version:   version,
		port:      port,
		startTime: time.Now(),
	}
}

// Check performs all health checks and returns the aggregated response.
// A detached monitor degrades the instance rather than failing it: the
// bridge endpoints will refuse calls, but discovery and cache reads still
// work.
func (c *Checker) Check() *Response {
	components := make(map[string]ComponentStatus)

	if c.monitor == nil || !c.monitor.Attached() {
		components["monitor"] = ComponentStatus{
			Status:  StatusDegraded,
			Message: "no debugging session attached",
		}
	} else {
		components["monitor"] = ComponentStatus{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("attached, %d buffered entries", c.monitor.BufferLen()),
		}
	}

	overallStatus := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		}
		if comp.Status == StatusDegraded {
			overallStatus = StatusDegraded
		}
	}

	return &Response{
		Status:     overallStatus,
		Components: components,
		Version:    c.version,
		Port:       c.port,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check()

		w.Header().Set("Content-Type", "application/json")

		switch response.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		case StatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}
