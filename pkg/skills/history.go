package skills

import (
	"sort"
	"time"
)

// Record is one entry of the execution history.
type Record struct {
	Skill         string        `json:"skill"`
	Version       string        `json:"version,omitempty"`
	Status        Status        `json:"status"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	SpanID        string        `json:"span_id"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Stats summarizes the recorded executions of one skill. PARTIAL results are
// counted apart and do not contribute to SuccessRate.
type Stats struct {
	Skill        string        `json:"skill"`
	Total        int           `json:"total"`
	Success      int           `json:"success"`
	Failure      int           `json:"failure"`
	Partial      int           `json:"partial"`
	SuccessRate  float64       `json:"success_rate"`
	AvgExecution time.Duration `json:"avg_execution_time"`
	LastError    string        `json:"last_error,omitempty"`
	LastFinished time.Time     `json:"last_finished_at"`
}

// History returns the retained executions of name, oldest first. An empty
// name returns every skill's executions.
func (e *Executor) History(name string) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, 0, len(e.history))
	for i := range e.history {
		idx := i
		if len(e.history) == e.historySize {
			idx = (e.next + i) % e.historySize
		}
		rec := e.history[idx]
		if name == "" || rec.Skill == name {
			out = append(out, rec)
		}
	}
	return out
}

// Stats returns per-skill statistics over the retained history, sorted by
// skill name.
func (e *Executor) Stats() []Stats {
	bySkill := make(map[string]*Stats)
	total := make(map[string]time.Duration)
	for _, rec := range e.History("") {
		st, ok := bySkill[rec.Skill]
		if !ok {
			st = &Stats{Skill: rec.Skill}
			bySkill[rec.Skill] = st
		}
		st.Total++
		switch rec.Status {
		case StatusSuccess:
			st.Success++
		case StatusPartial:
			st.Partial++
		default:
			st.Failure++
		}
		if rec.Error != "" {
			st.LastError = rec.Error
		}
		st.LastFinished = rec.FinishedAt
		total[rec.Skill] += rec.ExecutionTime
	}

	out := make([]Stats, 0, len(bySkill))
	for name, st := range bySkill {
		st.SuccessRate = float64(st.Success) / float64(st.Total)
		st.AvgExecution = total[name] / time.Duration(st.Total)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill < out[j].Skill })
	return out
}
