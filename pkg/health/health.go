package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"private-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	checks       map[string]registration
	components   map[string]*Component
	checkPeriod  time.Duration
	checkTimeout time.Duration
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registration),
		components:   make(map[string]*Component),
		checkPeriod:  checkPeriod,
		checkTimeout: 5 * time.Second,
		log:          log,
	}
}

// RegisterCheck registers a new health check. A critical component that is
// down makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RegisterPingCheck registers a check that is up when ping succeeds
func (c *Checker) RegisterPingCheck(name string, critical bool, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, name + " is unreachable", err
		}
		return StatusUp, name + " is reachable", nil
	})
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mutex.RUnlock()

	for name, reg := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		status, description, err := reg.check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		} else {
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(status),
			)
		}
	}
}

// Start runs checks immediately and then periodically until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Handler serves the health report
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		status, code := "ok", http.StatusOK
		if !c.IsSystemHealthy() {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"version":    os.Getenv("APP_VERSION"),
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": c.GetStatus(),
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}
}
