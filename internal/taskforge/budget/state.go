// Package budget tracks spend against simple limits and three-tier task budgets.
package budget

import (
	"sync"
	"time"
)

// Usage is a point-in-time reading of an accumulator.
type Usage struct {
	USD        float64       `json:"usd"`
	Tokens     int64         `json:"tokens"`
	WallTime   time.Duration `json:"-"`
	Iterations int           `json:"iterations"`
}

// WallTimeMS is the wall time in whole milliseconds.
func (u Usage) WallTimeMS() int64 { return u.WallTime.Milliseconds() }

// Limits are simple, untiered caps. Nil fields are unconfigured.
type Limits struct {
	USD           *float64
	Tokens        *int64
	WallTime      *time.Duration
	MaxIterations *int
}

// State accumulates usage for one run or one task. Usage only grows; a new
// run or task gets a new State.
type State struct {
	mu     sync.Mutex
	usage  Usage
	limits Limits
}

func NewState(limits Limits) *State {
	return &State{limits: limits}
}

// Add folds a delta into the accumulator. Negative components are ignored.
func (s *State) Add(d Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.USD > 0 {
		s.usage.USD += d.USD
	}
	if d.Tokens > 0 {
		s.usage.Tokens += d.Tokens
	}
	if d.WallTime > 0 {
		s.usage.WallTime += d.WallTime
	}
	if d.Iterations > 0 {
		s.usage.Iterations += d.Iterations
	}
}

func (s *State) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *State) Limits() Limits {
	return s.limits
}

// ExceededHardLimit reports the first configured limit that usage strictly
// exceeds, in the order usd, tokens, wall_time, iterations.
func (s *State) ExceededHardLimit() (metric string, over bool) {
	return exceeded(s.Usage(), s.limits)
}

func exceeded(u Usage, l Limits) (string, bool) {
	if l.USD != nil && u.USD > *l.USD {
		return MetricUSD, true
	}
	if l.Tokens != nil && u.Tokens > *l.Tokens {
		return MetricTokens, true
	}
	if l.WallTime != nil && u.WallTime > *l.WallTime {
		return MetricWallTime, true
	}
	if l.MaxIterations != nil && u.Iterations > *l.MaxIterations {
		return MetricIterations, true
	}
	return "", false
}

const (
	MetricUSD        = "usd"
	MetricTokens     = "tokens"
	MetricWallTime   = "wall_time"
	MetricIterations = "iterations"
)
