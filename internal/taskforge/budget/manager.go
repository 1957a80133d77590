package budget

import "time"

// Manager pairs an accumulator with an optional tier configuration.
type Manager struct {
	scope string
	state *State
	tiers *TierConfig
}

// NewManager builds a manager. scope labels errors ("run", "task").
func NewManager(scope string, state *State, tiers *TierConfig) *Manager {
	return &Manager{scope: scope, state: state, tiers: tiers}
}

func (m *Manager) State() *State { return m.state }

func (m *Manager) Tiers() *TierConfig { return m.tiers }

// Preflight fails if adding est would take usage past a simple limit.
func (m *Manager) Preflight(est Usage) error {
	u := m.state.Usage()
	u.USD += est.USD
	u.Tokens += est.Tokens
	u.WallTime += est.WallTime
	u.Iterations += est.Iterations
	if metric, over := exceeded(u, m.state.Limits()); over {
		return &ExceededError{Scope: m.scope, Metric: metric}
	}
	return nil
}

// CheckHardCap returns an ExhaustedError once the tiered hard cap is reached.
func (m *Manager) CheckHardCap() error {
	if m.tiers == nil {
		return nil
	}
	if GetStatus(m.state.Usage(), m.tiers).IsAtHardCap {
		return &ExhaustedError{Reason: "Hard cap reached"}
	}
	return nil
}

func (m *Manager) RecordIteration(wall time.Duration) {
	m.state.Add(Usage{WallTime: wall, Iterations: 1})
}

func (m *Manager) RecordBackendUsage(usd float64, tokens int64) {
	m.state.Add(Usage{USD: usd, Tokens: tokens})
}

func (m *Manager) Tier() Tier {
	return GetTier(m.state.Usage(), m.tiers)
}

// Status reports false when the manager has no tier configuration.
func (m *Manager) Status() (Status, bool) {
	if m.tiers == nil {
		return Status{}, false
	}
	return GetStatus(m.state.Usage(), m.tiers), true
}
