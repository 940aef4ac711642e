package health

import (
	"net/http"
	"sync"
	"time"

	"cabm-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component is one health-checked part of the system.
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one component.
type Check func() (Status, string, error)

// Checker runs registered health checks periodically.
type Checker struct {
	checks      map[string]Check
	components  map[string]*Component
	critical    map[string]bool
	checkPeriod time.Duration
	mu          sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a health checker.
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	c := &Checker{
		checks:      make(map[string]Check),
		components:  make(map[string]*Component),
		critical:    map[string]bool{"database": true},
		checkPeriod: checkPeriod,
		log:         log,
	}

	c.Register("self", func() (Status, string, error) {
		return StatusUp, "health checker is running", nil
	})
	return c
}

// Register adds a health check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = check
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "not checked yet",
	}
}

// RegisterDatabaseCheck registers a database connectivity check.
func (c *Checker) RegisterDatabaseCheck(ping func() error) {
	c.Register("database", func() (Status, string, error) {
		if err := ping(); err != nil {
			return StatusDown, "database connection failed", err
		}
		return StatusUp, "database connection is established", nil
	})
}

// RegisterCacheCheck registers a Redis connectivity check. The cache is
// optional, so failures degrade rather than take the service down.
func (c *Checker) RegisterCacheCheck(ping func() error) {
	c.Register("cache", func() (Status, string, error) {
		if err := ping(); err != nil {
			return StatusDegraded, "cache unavailable", err
		}
		return StatusUp, "cache is reachable", nil
	})
}

// RunChecks executes all registered checks once.
func (c *Checker) RunChecks() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, check := range c.checks {
		status, description, err := check()

		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		component.Error = ""

		if err != nil {
			component.Error = err.Error()
			c.log.Error("health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		}
	}
}

// Start begins periodic health checks.
func (c *Checker) Start() {
	go func() {
		c.RunChecks()

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()
		for range ticker.C {
			c.RunChecks()
		}
	}()
}

// Snapshot returns a copy of the current component states.
func (c *Checker) Snapshot() map[string]*Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		cp := *v
		result[k] = &cp
	}
	return result
}

// Healthy reports whether all critical components are up.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, component := range c.components {
		if component.Status == StatusDown && c.critical[name] {
			return false
		}
	}
	return true
}

// Handler returns a Gin handler exposing the health snapshot.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		if !c.Healthy() {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, gin.H{
			"status":     map[bool]string{true: "ok", false: "degraded"}[c.Healthy()],
			"timestamp":  time.Now(),
			"components": c.Snapshot(),
		})
	}
}
