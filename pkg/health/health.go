// Package health tracks process-level liveness for the ops API, separate
// from the per-transaction counters in pkg/ops. Adapted from the teacher's
// health-check/watchdog loop.
package health

import (
	"sync"
	"time"
)

// Check monitors process health.
type Check struct {
	config    *Config
	status    *Status
	lastCheck time.Time
	mu        sync.RWMutex
}

// Config holds health-check configuration.
type Config struct {
	CheckInterval    time.Duration
	WatchdogEnabled  bool
	WatchdogTimeout  time.Duration
	RestartOnFailure bool
}

// Status is the current process health snapshot.
type Status struct {
	Healthy              bool
	Timestamp            time.Time
	UptimeSeconds        int64
	TransactionsHandled  int64
	ErrorCount           int64
	LastError            string
	ComponentStatus      map[string]ComponentStatus
}

// ComponentStatus is the health of one dependency (store, audit sink, ...).
type ComponentStatus struct {
	Name      string
	Healthy   bool
	Message   string
	LastCheck time.Time
}

// New creates a Check and starts its background loops.
func New(config *Config) *Check {
	h := &Check{
		config: config,
		status: &Status{
			Healthy:         true,
			Timestamp:       time.Now(),
			ComponentStatus: make(map[string]ComponentStatus),
		},
		lastCheck: time.Now(),
	}

	if config.CheckInterval > 0 {
		go h.checkLoop()
	}
	if config.WatchdogEnabled {
		go h.watchdogLoop()
	}

	return h
}

// GetStatus returns a defensive copy of the current health status.
func (h *Check) GetStatus() *Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statusCopy := *h.status
	statusCopy.ComponentStatus = make(map[string]ComponentStatus, len(h.status.ComponentStatus))
	for k, v := range h.status.ComponentStatus {
		statusCopy.ComponentStatus[k] = v
	}
	return &statusCopy
}

// UpdateComponentStatus records the health of one dependency.
func (h *Check) UpdateComponentStatus(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.status.ComponentStatus[name] = ComponentStatus{
		Name:      name,
		Healthy:   healthy,
		Message:   message,
		LastCheck: time.Now(),
	}
	h.updateOverallHealth()
}

// RecordTransaction increments the transaction counter.
func (h *Check) RecordTransaction() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.TransactionsHandled++
}

// RecordError increments the error counter and records the last error.
func (h *Check) RecordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.ErrorCount++
	h.status.LastError = err.Error()
}

func (h *Check) checkLoop() {
	ticker := time.NewTicker(h.config.CheckInterval)
	defer ticker.Stop()

	startTime := time.Now()
	for range ticker.C {
		h.mu.Lock()
		h.status.Timestamp = time.Now()
		h.status.UptimeSeconds = int64(time.Since(startTime).Seconds())
		h.lastCheck = time.Now()
		h.updateOverallHealth()
		h.mu.Unlock()
	}
}

func (h *Check) watchdogLoop() {
	ticker := time.NewTicker(h.config.WatchdogTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		since := time.Since(h.lastCheck)
		h.mu.RUnlock()

		if since > h.config.WatchdogTimeout && h.config.RestartOnFailure {
			panic("health: watchdog timeout, process not responding")
		}
	}
}

func (h *Check) updateOverallHealth() {
	h.status.Healthy = true
	for _, component := range h.status.ComponentStatus {
		if !component.Healthy {
			h.status.Healthy = false
			break
		}
	}
}

// IsHealthy reports the current overall health.
func (h *Check) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status.Healthy
}
