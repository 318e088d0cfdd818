package directory

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Health states reported by Monitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health is a snapshot of the remote directory's health.
type Health struct {
	LastCheck        time.Time // Timestamp of the last probe attempt
	LastHealthy      time.Time // Timestamp of the last successful probe
	Status           string    // StatusUnknown, StatusHealthy or StatusUnhealthy
	ConsecutiveFails int       // Probes failed in a row
}

// Monitor periodically probes a remote directory's /health endpoint and
// tracks whether it is reachable.
// Thread-safe: All methods are safe for concurrent access.
type Monitor struct {
	addr        string
	health      Health
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onChange    func(status string)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewMonitor creates a monitor for the directory at addr. The directory is
// marked unhealthy after 3 consecutive failed probes.
//
// Example:
//
//	monitor := directory.NewMonitor("http://localhost:8081", 5*time.Second)
//	monitor.Run(ctx)
//	defer monitor.Stop()
func NewMonitor(addr string, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		addr:        normalizeAddr(addr),
		interval:    interval,
		maxFailures: 3,
		health:      Health{Status: StatusUnknown},
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetCheckFunction overrides the HTTP probe. Must be called before Start.
func (m *Monitor) SetCheckFunction(fn func(ctx context.Context, addr string) error) {
	m.checkFunc = fn
}

// SetOnChange registers a callback invoked (in its own goroutine) whenever
// the status changes. Must be called before Start.
func (m *Monitor) SetOnChange(fn func(status string)) {
	m.onChange = fn
}

// Start probes immediately and then every interval. It blocks until ctx is
// canceled or Stop is called. Use Run to start the loop in the background.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()
	m.loop(ctx)
}

// Run starts the probe loop in its own goroutine and returns. The loop is
// registered with Stop before Run returns.
func (m *Monitor) Run(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

func (m *Monitor) loop(ctx context.Context) {
	if ctx == nil {
		ctx = m.ctx
	}
	if m.checkFunc == nil {
		m.checkFunc = m.defaultCheck
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("Directory monitor started for %s with interval %v", m.addr, m.interval)
	m.check(ctx)

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			log.Println("Directory monitor stopping due to context cancellation")
			return
		case <-m.ctx.Done():
			log.Println("Directory monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	log.Println("Directory monitor stopped")
}

// Status returns a copy of the current health record.
func (m *Monitor) Status() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Unhealthy reports whether the failure threshold has been reached.
func (m *Monitor) Unhealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health.Status == StatusUnhealthy
}

func (m *Monitor) check(ctx context.Context) {
	err := m.checkFunc(ctx, m.addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.health.Status
	m.health.LastCheck = time.Now()

	if err != nil {
		m.health.ConsecutiveFails++
		log.Printf("Directory health check failed (attempt %d/%d): %v",
			m.health.ConsecutiveFails, m.maxFailures, err)
		if m.health.ConsecutiveFails >= m.maxFailures {
			m.health.Status = StatusUnhealthy
		}
	} else {
		if previous == StatusUnhealthy {
			log.Printf("Directory %s recovered and is now healthy", m.addr)
		}
		m.health.Status = StatusHealthy
		m.health.ConsecutiveFails = 0
		m.health.LastHealthy = m.health.LastCheck
	}

	if m.health.Status != previous {
		if m.health.Status == StatusUnhealthy {
			log.Printf("Directory %s marked as unhealthy after %d failures", m.addr, m.health.ConsecutiveFails)
		}
		if m.onChange != nil {
			go m.onChange(m.health.Status)
		}
	}
}

func (m *Monitor) defaultCheck(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
