package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ApiKeyMissing is returned by Create when the configured provider API key
// environment variable is unset.
var ApiKeyMissing = errors.New("sandbox: provider API key is not set")

// SandboxCreationFailed wraps a provider failure to create a sandbox.
type SandboxCreationFailed struct{ Err error }

func (e *SandboxCreationFailed) Error() string { return fmt.Sprintf("sandbox: create failed: %v", e.Err) }
func (e *SandboxCreationFailed) Unwrap() error  { return e.Err }

// SandboxNotHealthy is returned by MonitorHealth when a sandbox can't be
// reached or reports itself as not running.
type SandboxNotHealthy struct{ SandboxID string }

func (e *SandboxNotHealthy) Error() string {
	return fmt.Sprintf("sandbox: %s is not healthy", e.SandboxID)
}

// WarningLevel distinguishes soft notifications from the hard kill.
type WarningLevel string

const (
	WarningSoft WarningLevel = "soft"
	WarningHard WarningLevel = "hard"
)

// TimeoutWarning is returned by EnforceTimeout when a threshold is
// crossed.
type TimeoutWarning struct {
	Level          WarningLevel
	ElapsedMinutes float64
	EstimatedCost  float64
	BudgetLevel    string // "", "80pct", "100pct" when a budget threshold also crossed
}

// HealthStatus is the result of MonitorHealth.
type HealthStatus struct {
	IsHealthy bool
	Message   string
	Err       error
}

// TerminateResult is the result of Terminate.
type TerminateResult struct {
	Success   bool
	CleanedUp bool
}

type sandboxEntry struct {
	handle             Handle
	sessionID          string
	createdAt          time.Time
	softWarningsSent   map[int]bool
	budgetLimitUSD     float64
	estimatedCostUSD   float64
	budgetWarningsSent map[string]bool
	credentials        *CredentialSet
}

// Config configures timeout thresholds and cost estimation for the
// Manager (spec.md §4.4, defaults soft=[30,50] hard=60).
type Config struct {
	SoftWarningMinutes []int
	HardTimeoutMinutes int
	CostPerMinuteUSD   float64
	ProviderAPIKeyEnv  string
	BaseImage          string
	Template           string

	// CredentialDurationSeconds is how long each sandbox's minted STS
	// credentials are valid for. Only consulted when a CredentialProvider
	// is passed to NewManager; defaults to 3600 (1h).
	CredentialDurationSeconds int32
}

// Manager owns the process-wide sandboxId -> handle map and enforces
// timeout/budget policy. Grounded on internal/agent/timeout.go's
// mutex-guarded timer-map pattern (generalized from per-agent soft/hard
// timeout to per-sandbox elapsed-minute tracking) and
// internal/orchestrator/budget.go's BudgetStatus tri-state, generalized
// to a per-sandbox USD ceiling instead of a token budget.
type Manager struct {
	provider Provider
	cfg      Config

	mu      sync.Mutex
	entries map[string]*sandboxEntry

	metrics *Metrics
	creds   *CredentialProvider
}

// Metrics holds the prometheus collectors exported by the Manager.
type Metrics struct {
	ElapsedMinutes  *prometheus.GaugeVec
	EstimatedCost   *prometheus.GaugeVec
	ActiveSandboxes prometheus.Gauge
}

// NewMetrics constructs and registers sandbox metrics against reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ElapsedMinutes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_sandbox_elapsed_minutes",
			Help: "Elapsed minutes since sandbox creation.",
		}, []string{"sandbox_id"}),
		EstimatedCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_sandbox_estimated_cost_usd",
			Help: "Estimated cost in USD for a sandbox.",
		}, []string{"sandbox_id"}),
		ActiveSandboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_sandbox_active_count",
			Help: "Number of sandboxes currently tracked by the manager.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ElapsedMinutes, m.EstimatedCost, m.ActiveSandboxes)
	}
	return m
}

// NewManager constructs a Manager bound to a provider and policy config.
// creds is optional; when non-nil, Create provisions scoped AWS STS
// credentials for every sandbox and Terminate/CleanupAll wipe them.
func NewManager(provider Provider, cfg Config, metrics *Metrics, creds *CredentialProvider) *Manager {
	if len(cfg.SoftWarningMinutes) == 0 {
		cfg.SoftWarningMinutes = []int{30, 50}
	}
	if cfg.HardTimeoutMinutes == 0 {
		cfg.HardTimeoutMinutes = 60
	}
	if cfg.CostPerMinuteUSD == 0 {
		cfg.CostPerMinuteUSD = 0.02
	}
	if cfg.CredentialDurationSeconds == 0 {
		cfg.CredentialDurationSeconds = 3600
	}
	return &Manager{
		provider: provider,
		cfg:      cfg,
		entries:  make(map[string]*sandboxEntry),
		metrics:  metrics,
		creds:    creds,
	}
}

// CreateResult is returned by Create.
type CreateResult struct {
	SandboxID string
	Status    string
}

// Create validates the provider API key is present, requests a sandbox
// from the provider, and tracks it.
func (m *Manager) Create(ctx context.Context, sessionID string) (*CreateResult, error) {
	if m.cfg.ProviderAPIKeyEnv != "" && os.Getenv(m.cfg.ProviderAPIKeyEnv) == "" {
		return nil, ApiKeyMissing
	}

	handle, err := m.provider.Create(ctx, m.cfg.BaseImage, CreateOptions{
		Template:  m.cfg.Template,
		TimeoutMs: int64(m.cfg.HardTimeoutMinutes) * 60_000,
	})
	if err != nil {
		return nil, &SandboxCreationFailed{Err: err}
	}

	var creds *CredentialSet
	if m.creds != nil {
		creds, err = m.creds.Provision(ctx, handle.ID(), m.cfg.CredentialDurationSeconds)
		if err != nil {
			_ = handle.Kill(ctx)
			return nil, &SandboxCreationFailed{Err: fmt.Errorf("provision credentials: %w", err)}
		}
	}

	m.mu.Lock()
	m.entries[handle.ID()] = &sandboxEntry{
		handle:             handle,
		sessionID:          sessionID,
		createdAt:          time.Now(),
		softWarningsSent:   make(map[int]bool),
		budgetWarningsSent: make(map[string]bool),
		credentials:        creds,
	}
	count := len(m.entries)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(float64(count))
	}

	return &CreateResult{SandboxID: handle.ID(), Status: string(sandboxInitializing)}, nil
}

type sandboxStatus string

const sandboxInitializing sandboxStatus = "INITIALIZING"

// estimateCost computes linear cost at the configured per-minute rate; the
// same function feeds both the warning path and the final report.
func (m *Manager) estimateCost(elapsedMinutes float64) float64 {
	return elapsedMinutes * m.cfg.CostPerMinuteUSD
}

// EnforceTimeout checks elapsed time and budget against configured
// thresholds, emitting at most one warning per call.
func (m *Manager) EnforceTimeout(ctx context.Context, sandboxID string) (*TimeoutWarning, error) {
	m.mu.Lock()
	entry, ok := m.entries[sandboxID]
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}

	elapsed := time.Since(entry.createdAt)
	elapsedMinutes := elapsed.Minutes()
	cost := m.estimateCost(elapsedMinutes)
	entry.estimatedCostUSD = cost

	if m.metrics != nil {
		m.metrics.ElapsedMinutes.WithLabelValues(sandboxID).Set(elapsedMinutes)
		m.metrics.EstimatedCost.WithLabelValues(sandboxID).Set(cost)
	}

	if int(elapsedMinutes) >= m.cfg.HardTimeoutMinutes {
		handle := entry.handle
		delete(m.entries, sandboxID)
		count := len(m.entries)
		m.mu.Unlock()

		_ = handle.Kill(ctx)
		if m.metrics != nil {
			m.metrics.ActiveSandboxes.Set(float64(count))
		}
		return &TimeoutWarning{Level: WarningHard, ElapsedMinutes: elapsedMinutes, EstimatedCost: cost}, nil
	}

	var budgetLevel string
	if entry.budgetLimitUSD > 0 {
		ratio := cost / entry.budgetLimitUSD
		if ratio >= 1.0 && !entry.budgetWarningsSent["100pct"] {
			entry.budgetWarningsSent["100pct"] = true
			budgetLevel = "100pct"
		} else if ratio >= 0.8 && !entry.budgetWarningsSent["80pct"] {
			entry.budgetWarningsSent["80pct"] = true
			budgetLevel = "80pct"
		}
	}

	for _, threshold := range m.cfg.SoftWarningMinutes {
		if entry.softWarningsSent[threshold] {
			continue
		}
		if int(elapsedMinutes) >= threshold {
			entry.softWarningsSent[threshold] = true
			m.mu.Unlock()
			return &TimeoutWarning{Level: WarningSoft, ElapsedMinutes: elapsedMinutes, EstimatedCost: cost, BudgetLevel: budgetLevel}, nil
		}
	}

	m.mu.Unlock()

	if budgetLevel != "" {
		return &TimeoutWarning{Level: WarningSoft, ElapsedMinutes: elapsedMinutes, EstimatedCost: cost, BudgetLevel: budgetLevel}, nil
	}
	return nil, nil
}

// MonitorHealth checks whether a tracked sandbox is still running.
func (m *Manager) MonitorHealth(ctx context.Context, sandboxID string, reconnect bool) (*HealthStatus, error) {
	m.mu.Lock()
	entry, ok := m.entries[sandboxID]
	m.mu.Unlock()

	if !ok {
		if !reconnect {
			return &HealthStatus{IsHealthy: false, Err: &SandboxNotHealthy{SandboxID: sandboxID}}, nil
		}
		// Reconnect is attempted by the caller supplying a fresh handle via
		// Track; the manager itself has no out-of-band id->handle lookup.
		return &HealthStatus{IsHealthy: false, Message: "not tracked; reconnect required"}, nil
	}

	running, err := entry.handle.IsRunning(ctx)
	if err != nil {
		return &HealthStatus{IsHealthy: false, Err: err}, nil
	}
	if !running {
		return &HealthStatus{IsHealthy: false, Err: &SandboxNotHealthy{SandboxID: sandboxID}}, nil
	}
	return &HealthStatus{IsHealthy: true}, nil
}

// SetBudgetLimit records a soft USD cap for a sandbox.
func (m *Manager) SetBudgetLimit(sandboxID string, amountUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sandboxID]
	if !ok {
		return fmt.Errorf("sandbox: %s not tracked", sandboxID)
	}
	entry.budgetLimitUSD = amountUSD
	return nil
}

// Terminate idempotently kills a sandbox and removes it from tracking.
func (m *Manager) Terminate(ctx context.Context, sandboxID string) (*TerminateResult, error) {
	m.mu.Lock()
	entry, ok := m.entries[sandboxID]
	if !ok {
		m.mu.Unlock()
		return &TerminateResult{Success: true, CleanedUp: false}, nil
	}
	delete(m.entries, sandboxID)
	count := len(m.entries)
	m.mu.Unlock()

	_ = entry.handle.Kill(ctx)
	entry.credentials.Wipe()

	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(float64(count))
		m.metrics.ElapsedMinutes.DeleteLabelValues(sandboxID)
		m.metrics.EstimatedCost.DeleteLabelValues(sandboxID)
	}

	return &TerminateResult{Success: true, CleanedUp: true}, nil
}

// CleanupAll best-effort terminates every tracked sandbox; used on
// process exit and fail-fast cancellation.
func (m *Manager) CleanupAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_, _ = m.Terminate(ctx, id)
	}
}

// ActiveCount returns the number of sandboxes currently tracked.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Handle returns the tracked Handle for a sandbox id, for callers (like
// the File Sync and Execution Driver components) that need direct access
// to the capability set.
func (m *Manager) Handle(sandboxID string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[sandboxID]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}
