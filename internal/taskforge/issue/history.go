package issue

// DefaultHistoryCap bounds the rolling signature history.
const DefaultHistoryCap = 50

// StuckMinIteration is the first iteration at which stuck detection applies.
const StuckMinIteration = 3

// History is a bounded window of recent issue signatures for one task.
type History struct {
	cap  int
	sigs []string
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{cap: capacity}
}

// Observe records one iteration's signature set and reports whether the
// task is stuck: from StuckMinIteration on, every current signature already
// appears within the last 3*len(current) signatures recorded before it.
func (h *History) Observe(iteration int, current []string) bool {
	stuck := h.repeats(iteration, current)
	h.sigs = append(h.sigs, current...)
	if over := len(h.sigs) - h.cap; over > 0 {
		h.sigs = append([]string(nil), h.sigs[over:]...)
	}
	return stuck
}

func (h *History) repeats(iteration int, current []string) bool {
	if iteration < StuckMinIteration || len(current) == 0 {
		return false
	}
	window := 3 * len(current)
	start := len(h.sigs) - window
	if start < 0 {
		start = 0
	}
	recent := make(map[string]bool, window)
	for _, s := range h.sigs[start:] {
		recent[s] = true
	}
	for _, s := range current {
		if !recent[s] {
			return false
		}
	}
	return true
}

func (h *History) Len() int { return len(h.sigs) }
