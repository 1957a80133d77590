package ledger

// Usage is the payload of a KindUsage event: the increment spent by one
// iteration.
type Usage struct {
	USD        float64 `json:"usd"`
	Tokens     int64   `json:"tokens"`
	WallTimeMS int64   `json:"wall_time_ms"`
	Iterations int     `json:"iterations"`
	Backend    string  `json:"backend,omitempty"`
	// PhaseMS splits WallTimeMS by the phase that spent it. Backend spend
	// (USD, tokens) always belongs to EXEC.
	PhaseMS map[Phase]int64 `json:"phase_ms,omitempty"`
}

// Spend is one aggregated line of a SpendReport.
type Spend struct {
	USD        float64 `json:"usd"`
	Tokens     int64   `json:"tokens"`
	WallTimeMS int64   `json:"wall_time_ms"`
	Iterations int     `json:"iterations"`
}

func (s *Spend) add(u Usage) {
	s.USD += u.USD
	s.Tokens += u.Tokens
	s.WallTimeMS += u.WallTimeMS
	s.Iterations += u.Iterations
}

type SpendReport struct {
	Total     Spend            `json:"total"`
	ByTask    map[string]Spend `json:"by_task"`
	ByBackend map[string]Spend `json:"by_backend"`
	ByPhase   map[Phase]Spend  `json:"by_phase"`
	// Tasks, Backends and Phases list keys in the order they first spent
	// anything.
	Tasks    []string `json:"tasks"`
	Backends []string `json:"backends"`
	Phases   []Phase  `json:"phases"`
}

// AggregateSpend folds the usage events of a run into totals. Events that
// do not name a backend are charged to backendID, normally the run's.
// Events of other kinds and undecodable payloads are skipped.
func AggregateSpend(events []Event, backendID string) SpendReport {
	rep := SpendReport{
		ByTask:    map[string]Spend{},
		ByBackend: map[string]Spend{},
		ByPhase:   map[Phase]Spend{},
	}
	for _, ev := range events {
		if ev.Kind != KindUsage {
			continue
		}
		var u Usage
		if err := ev.Decode(&u); err != nil {
			continue
		}
		rep.Total.add(u)
		if ev.TaskID != "" {
			rep.Tasks = addTo(rep.ByTask, rep.Tasks, ev.TaskID, u)
		}
		be := u.Backend
		if be == "" {
			be = backendID
		}
		if be != "" {
			rep.Backends = addTo(rep.ByBackend, rep.Backends, be, u)
		}
		for _, p := range splitPhases(u) {
			rep.Phases = addTo(rep.ByPhase, rep.Phases, p.phase, p.usage)
		}
	}
	return rep
}

func addTo[K comparable](m map[K]Spend, order []K, key K, u Usage) []K {
	cur, seen := m[key]
	if !seen {
		order = append(order, key)
	}
	cur.add(u)
	m[key] = cur
	return order
}

type phaseUsage struct {
	phase Phase
	usage Usage
}

// splitPhases breaks u into per-phase parts. The iteration count and backend
// spend go to EXEC; other phases carry wall time only. Payloads without a
// split are charged to EXEC whole.
func splitPhases(u Usage) []phaseUsage {
	if len(u.PhaseMS) == 0 {
		return []phaseUsage{{PhaseExec, u}}
	}
	parts := []phaseUsage{{PhaseExec, Usage{
		USD:        u.USD,
		Tokens:     u.Tokens,
		WallTimeMS: u.PhaseMS[PhaseExec],
		Iterations: u.Iterations,
	}}}
	for _, p := range phaseOrder {
		if ms, ok := u.PhaseMS[p]; ok && p != PhaseExec {
			parts = append(parts, phaseUsage{p, Usage{WallTimeMS: ms}})
		}
	}
	return parts
}

var phaseOrder = []Phase{PhasePlan, PhasePrep, PhaseExec, PhaseValidate, PhaseDiagnose, PhaseRepair, PhaseCheckpoint, PhaseDone}
