package budget

import "fmt"

// ExceededError is returned by preflight when a simple limit would be passed.
type ExceededError struct {
	Scope  string
	Metric string
}

func (e *ExceededError) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("budget limit exceeded (%s)", e.Metric)
	}
	return fmt.Sprintf("%s budget limit exceeded (%s)", e.Scope, e.Metric)
}

// ExhaustedError means the task's hard cap is reached and no further
// iteration may start.
type ExhaustedError struct {
	Reason string
}

func (e *ExhaustedError) Error() string {
	return e.Reason
}
