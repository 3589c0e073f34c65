// Package gateway watches backend availability for the sync daemon. The
// monitor polls the gateway health endpoint and reports transitions;
// reconnect hooks let the daemon kick off a queue drain the moment the
// backend comes back.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/helix-desktop/helix-sync/internal/config"
)

// Status is the gateway connection state.
type Status string

const (
	// StatusUnknown means no health check has completed yet.
	StatusUnknown Status = "unknown"
	// StatusOnline means the gateway is reachable and healthy.
	StatusOnline Status = "online"
	// StatusOffline means the gateway failed enough consecutive checks.
	StatusOffline Status = "offline"
)

// Event is delivered to status subscribers on every transition.
type Event struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// HTTPClient is an interface for making HTTP requests
// This allows us to mock HTTP calls in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type subscriber struct {
	id int
	fn func(Event)
}

// Monitor polls a health endpoint and tracks gateway connectivity.
type Monitor struct {
	// Client may be replaced in tests.
	Client HTTPClient

	healthURL string
	interval  time.Duration
	threshold int
	logger    *slog.Logger

	mu        sync.Mutex
	status    Status
	failures  int
	subs      []subscriber
	nextSubID int
	onReconn  []func()
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a monitor from config.
func New(cfg config.GatewayConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	threshold := cfg.UnhealthyThreshold
	if threshold <= 0 {
		threshold = 3
	}

	return &Monitor{
		Client:    &http.Client{Timeout: 10 * time.Second},
		healthURL: cfg.HealthURL,
		interval:  interval,
		threshold: threshold,
		logger:    logger.With("component", "gateway"),
		status:    StatusUnknown,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the health check loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}
	if m.healthURL == "" {
		return fmt.Errorf("health URL is required")
	}
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("gateway monitor started",
		"health_url", m.healthURL,
		"interval", m.interval,
		"unhealthy_threshold", m.threshold)
	return nil
}

// Stop shuts down the health check loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	// First check immediately so the daemon knows where it stands.
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one health check and returns the resulting status.
func (m *Monitor) Check(ctx context.Context) Status {
	healthy, msg := m.probe(ctx)

	m.mu.Lock()
	prev := m.status
	if healthy {
		m.failures = 0
		m.status = StatusOnline
	} else {
		m.failures++
		// A single blip is not an outage; wait for the threshold.
		if m.failures >= m.threshold || m.status == StatusUnknown {
			m.status = StatusOffline
		}
	}
	cur := m.status

	var notify []subscriber
	var hooks []func()
	if cur != prev {
		notify = append(notify, m.subs...)
		if cur == StatusOnline && prev == StatusOffline {
			hooks = append(hooks, m.onReconn...)
		}
	}
	m.mu.Unlock()

	if cur != prev {
		m.logger.Info("gateway status changed", "from", prev, "to", cur, "message", msg)
		ev := Event{Status: cur, Message: msg, Timestamp: time.Now().UnixMilli()}
		for _, s := range notify {
			s.fn(ev)
		}
		for _, fn := range hooks {
			fn()
		}
	}
	return cur
}

// probe performs the HTTP health request.
func (m *Monitor) probe(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	}
	return true, ""
}

// Status returns the current connectivity status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatusChange registers a subscriber for status transitions. Returns an
// unsubscribe function.
func (m *Monitor) OnStatusChange(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// OnReconnect registers a hook fired on every offline-to-online transition.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconn = append(m.onReconn, fn)
}
