package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/metrics"
)

// Connection health states.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ConnectionHealth tracks the health status of a single database connection.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ConnectionHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	LastError        error     // Error of the last failed check, nil after a success
	Connection       string    // Connection name as used by shard targets
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// CheckFunc checks one connection.
type CheckFunc func(ctx context.Context, connection string) error

// HealthMonitor periodically pings every connection of a pool and tracks which
// ones answer. It does not reroute writes: shard maps are static, so an
// unhealthy connection is reported (log, metric, callback) and writes to it
// keep failing with gateway errors until it recovers.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	connections map[string]*ConnectionHealth // Current health status per connection
	checkFunc   CheckFunc                    // Function to perform health check
	onUnhealthy func(connection string)      // Callback when a connection becomes unhealthy
	logger      *zap.Logger
	metrics     *metrics.Collector
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	interval    time.Duration      // How often to check connections
	timeout     time.Duration      // Deadline of a single check
	mu          sync.RWMutex       // Protects connections map
	wg          sync.WaitGroup     // Wait group for graceful shutdown
	maxFailures int                // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor for the connections of pool.
// Each connection is pinged every interval and marked unhealthy after 3
// consecutive failures.
//
// Parameters:
//   - pool: Connections to check; may be nil when SetCheckFunction is used
//   - interval: How often to perform health checks (recommended: 5s)
//   - logger: Destination for state changes; nil discards them
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(pool, 5*time.Second, logger)
//	go monitor.Start(ctx, pool.Names)
func NewHealthMonitor(pool *cluster.Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	h := &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		connections: make(map[string]*ConnectionHealth),
		logger:      logging.OrNop(logger).Named("health"),
		ctx:         ctx,
		cancel:      cancel,
	}
	if pool != nil {
		h.checkFunc = pool.Ping
	}
	return h
}

// SetOnUnhealthy sets the callback invoked when a connection becomes unhealthy.
// The callback runs on its own goroutine.
//
// Example:
//
//	monitor.SetOnUnhealthy(func(connection string) {
//	    alerts.Page("database " + connection + " is down")
//	})
func (h *HealthMonitor) SetOnUnhealthy(callback func(connection string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the check, which defaults to pinging through
// the pool. Useful for tests and for checks that run a real query.
func (h *HealthMonitor) SetCheckFunction(checkFunc CheckFunc) {
	h.checkFunc = checkFunc
}

// SetMaxFailures sets the number of consecutive failures before a connection
// is marked unhealthy. Values below 1 are ignored.
func (h *HealthMonitor) SetMaxFailures(n int) {
	if n > 0 {
		h.maxFailures = n
	}
}

// SetTimeout sets the deadline of a single check.
func (h *HealthMonitor) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// SetMetrics reports every check result to c.
func (h *HealthMonitor) SetMetrics(c *metrics.Collector) {
	h.metrics = c
}

// Start begins the health monitoring process in the current goroutine.
// It checks the connections returned by provider immediately and then every
// interval. This method blocks until ctx or the monitor is stopped.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's internal context)
//   - provider: Function that returns the current connection names
//
// Example:
//
//	go monitor.Start(ctx, pool.Names)
func (h *HealthMonitor) Start(ctx context.Context, provider func() []string) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))

	h.CheckAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx, provider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", zap.String("reason", "context cancelled"))
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping", zap.String("reason", "stopped"))
			return
		}
	}
}

// Stop gracefully shuts down the health monitor.
// It cancels the monitoring goroutine and waits for it to complete.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// CheckAll checks every named connection once and forgets connections that
// are no longer listed.
func (h *HealthMonitor) CheckAll(ctx context.Context, connections []string) {
	current := make(map[string]bool, len(connections))

	for _, name := range connections {
		current[name] = true
		h.checkConnection(ctx, name)
	}

	h.mu.Lock()
	for name := range h.connections {
		if !current[name] {
			delete(h.connections, name)
			h.logger.Info("connection removed from health monitoring", zap.String("connection", name))
		}
	}
	h.mu.Unlock()
}

// checkConnection performs a health check on a single connection.
//
// Implementation:
//  1. Get or create health record for the connection
//  2. Run the check with the per-check timeout
//  3. Update status and consecutive failures
//  4. Trigger unhealthy callback on the transition
func (h *HealthMonitor) checkConnection(ctx context.Context, name string) {
	h.mu.Lock()
	health, exists := h.connections[name]
	if !exists {
		health = &ConnectionHealth{
			Connection:  name,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.connections[name] = health
	}
	h.mu.Unlock()

	err := h.check(ctx, name)
	h.metrics.SetHealthy(name, err == nil)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		health.LastError = err
		h.logger.Warn("health check failed",
			zap.String("connection", name),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max_failures", h.maxFailures),
			zap.Error(err))

		if health.ConsecutiveFails >= h.maxFailures {
			previousStatus := health.Status
			health.Status = StatusUnhealthy

			if previousStatus != StatusUnhealthy {
				h.logger.Error("connection marked unhealthy",
					zap.String("connection", name),
					zap.Int("failures", health.ConsecutiveFails))
				if h.onUnhealthy != nil {
					go h.onUnhealthy(name)
				}
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.logger.Info("connection recovered", zap.String("connection", name))
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastError = nil
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) check(ctx context.Context, name string) error {
	if h.checkFunc == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.checkFunc(cctx, name)
}

// GetConnectionHealth returns a copy of the health record of a connection,
// or nil if it is not monitored.
func (h *HealthMonitor) GetConnectionHealth(name string) *ConnectionHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.connections[name]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllConnectionHealth returns copies of every health record, keyed by
// connection name.
func (h *HealthMonitor) GetAllConnectionHealth() map[string]*ConnectionHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*ConnectionHealth, len(h.connections))
	for name, health := range h.connections {
		c := *health
		result[name] = &c
	}
	return result
}

// IsHealthy returns whether a connection is currently healthy.
// Returns false if the connection is not being monitored.
func (h *HealthMonitor) IsHealthy(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.connections[name]
	if !exists {
		return false
	}
	return health.Status == StatusHealthy
}
