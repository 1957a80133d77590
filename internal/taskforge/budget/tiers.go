package budget

import (
	"time"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

type Tier string

const (
	TierOptimal Tier = "optimal"
	TierWarning Tier = "warning"
	TierHard    Tier = "hard"
)

type Threshold struct {
	USD         *float64
	Tokens      *int64
	TimeMinutes *float64
}

func (t Threshold) wallTime() *time.Duration {
	if t.TimeMinutes == nil {
		return nil
	}
	d := time.Duration(*t.TimeMinutes * float64(time.Minute))
	return &d
}

// met reports whether any configured metric is at or above its threshold.
func (t Threshold) met(u Usage) bool {
	if t.USD != nil && u.USD >= *t.USD {
		return true
	}
	if t.Tokens != nil && u.Tokens >= *t.Tokens {
		return true
	}
	if d := t.wallTime(); d != nil && u.WallTime >= *d {
		return true
	}
	return false
}

type TierConfig struct {
	Optimal Threshold
	Warning Threshold
	Hard    Threshold
	// MaxIterations is the hard iteration cap; zero means no cap.
	MaxIterations int
}

// TierConfigFrom converts an effective task budget. It returns nil when no
// tier is declared.
func TierConfigFrom(b *spec.TaskBudget) *TierConfig {
	if b == nil || (b.Optimal == nil && b.Warning == nil && b.Hard == nil) {
		return nil
	}
	cfg := &TierConfig{
		Optimal: thresholdFrom(b.Optimal),
		Warning: thresholdFrom(b.Warning),
		Hard:    thresholdFrom(b.Hard),
	}
	if b.Hard != nil && b.Hard.MaxIterations != nil {
		cfg.MaxIterations = *b.Hard.MaxIterations
	}
	return cfg
}

func thresholdFrom(t *spec.BudgetTier) Threshold {
	if t == nil {
		return Threshold{}
	}
	return Threshold{USD: t.USD, Tokens: t.Tokens, TimeMinutes: t.TimeMinutes}
}

// HardLimits expresses the hard tier as simple limits for preflight checks.
func (c *TierConfig) HardLimits() Limits {
	if c == nil {
		return Limits{}
	}
	l := Limits{USD: c.Hard.USD, Tokens: c.Hard.Tokens, WallTime: c.Hard.wallTime()}
	if c.MaxIterations > 0 {
		n := c.MaxIterations
		l.MaxIterations = &n
	}
	return l
}

func (c *TierConfig) iterationCapReached(u Usage) bool {
	return c.MaxIterations > 0 && u.Iterations >= c.MaxIterations
}

// GetTier checks hard first, then treats crossing either the optimal or the
// warning threshold as entering warning.
func GetTier(u Usage, c *TierConfig) Tier {
	if c == nil {
		return TierOptimal
	}
	if c.iterationCapReached(u) || c.Hard.met(u) {
		return TierHard
	}
	if c.Optimal.met(u) || c.Warning.met(u) {
		return TierWarning
	}
	return TierOptimal
}

type Status struct {
	Tier           Tier     `json:"tier"`
	UsedUSD        float64  `json:"used_usd"`
	UsedTokens     int64    `json:"used_tokens"`
	UsedTimeMS     int64    `json:"used_time_ms"`
	UsedIterations int      `json:"used_iterations"`
	USDPctOptimal  *float64 `json:"usd_pct_of_optimal"`
	USDPctHard     *float64 `json:"usd_pct_of_hard"`
	TokPctOptimal  *float64 `json:"tokens_pct_of_optimal"`
	TokPctHard     *float64 `json:"tokens_pct_of_hard"`
	TimePctOptimal *float64 `json:"time_pct_of_optimal"`
	TimePctHard    *float64 `json:"time_pct_of_hard"`
	IsInWarning    bool     `json:"is_in_warning"`
	IsAtHardCap    bool     `json:"is_at_hard_cap"`
}

func GetStatus(u Usage, c *TierConfig) Status {
	if c == nil {
		c = &TierConfig{}
	}
	tier := GetTier(u, c)
	st := Status{
		Tier:           tier,
		UsedUSD:        u.USD,
		UsedTokens:     u.Tokens,
		UsedTimeMS:     u.WallTimeMS(),
		UsedIterations: u.Iterations,
		USDPctOptimal:  pct(u.USD, c.Optimal.USD),
		USDPctHard:     pct(u.USD, c.Hard.USD),
		TokPctOptimal:  pct(float64(u.Tokens), int64ToFloat(c.Optimal.Tokens)),
		TokPctHard:     pct(float64(u.Tokens), int64ToFloat(c.Hard.Tokens)),
		TimePctOptimal: pct(float64(u.WallTime), durationToFloat(c.Optimal.wallTime())),
		TimePctHard:    pct(float64(u.WallTime), durationToFloat(c.Hard.wallTime())),
		IsInWarning:    tier == TierWarning,
	}
	st.IsAtHardCap = tier == TierHard || c.iterationCapReached(u) || c.Hard.met(u)
	return st
}

// pct is nil for an unconfigured limit. A zero limit reads as fully used as
// soon as anything is used.
func pct(used float64, limit *float64) *float64 {
	if limit == nil {
		return nil
	}
	var v float64
	switch {
	case *limit == 0 && used > 0:
		v = 1
	case *limit == 0:
		v = 0
	default:
		v = used / *limit
	}
	return &v
}

func int64ToFloat(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func durationToFloat(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	f := float64(*d)
	return &f
}
