// Package services holds application services that sit between the HTTP
// transport and the license subsystem.
package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"marslog/internal/license"
)

// Health states.
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusDegraded = "degraded"
	StatusAlive    = "alive"
)

// InfoSource provides the diagnostic snapshot readiness is derived from.
type InfoSource interface {
	Info(ctx context.Context) license.Info
}

// HealthService answers liveness, readiness and version probes.
type HealthService struct {
	version   string
	source    InfoSource
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual component health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service reporting on source.
func NewHealthService(version string, source InfoSource, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		source:    source,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck reports whether the license subsystem can serve requests.
// A missing validation delegate degrades the service but keeps it ready,
// since verdicts then fall back to the trial path.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]ServiceHealth, 3),
	}

	if hs.source == nil {
		status.Status = StatusNotReady
		status.Services["license"] = ServiceHealth{Status: StatusNotReady, Message: "license subsystem not initialized"}
		return status
	}

	info := hs.source.Info(ctx)
	status.Services["license"] = ServiceHealth{Status: StatusReady, Message: string(info.Verdict.Status)}

	if info.SystemInfo.TrialWritable {
		status.Services["trial_store"] = ServiceHealth{Status: StatusReady, Message: info.SystemInfo.TrialFile}
	} else {
		status.Services["trial_store"] = ServiceHealth{Status: StatusNotReady, Message: "no writable location for the trial record"}
	}

	if info.SystemInfo.DelegateAvailable {
		status.Services["delegate"] = ServiceHealth{Status: StatusReady}
	} else {
		status.Services["delegate"] = ServiceHealth{Status: StatusDegraded, Message: "validation delegate unavailable"}
	}

	for name, sh := range status.Services {
		if sh.Status == StatusNotReady {
			status.Status = StatusNotReady
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("service", name),
				slog.String("message", sh.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]any{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]any {
	return map[string]any{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
}
