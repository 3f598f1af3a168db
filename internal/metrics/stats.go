package metrics

import (
	"sort"
	"sync"
	"time"
)

// OpStats aggregates every record for one (type, name) pair.
type OpStats struct {
	Type       ResourceType  `json:"type"`
	Name       string        `json:"name"`
	Count      uint64        `json:"count"`
	Errors     uint64        `json:"errors"`
	TotalQueue time.Duration `json:"total_queue"`
	TotalExec  time.Duration `json:"total_exec"`
	MaxQueue   time.Duration `json:"max_queue"`
	MaxExec    time.Duration `json:"max_exec"`
}

func (s OpStats) AvgExec() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalExec / time.Duration(s.Count)
}

func (s OpStats) AvgQueue() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalQueue / time.Duration(s.Count)
}

type opKey struct {
	rt   ResourceType
	name string
}

// Stats keeps in-memory aggregates.
type Stats struct {
	mu  sync.Mutex
	ops map[opKey]*OpStats
}

func NewStats() *Stats { return &Stats{ops: map[opKey]*OpStats{}} }

func (s *Stats) entry(rt ResourceType, name string) *OpStats {
	k := opKey{rt, name}
	st := s.ops[k]
	if st == nil {
		st = &OpStats{Type: rt, Name: name}
		s.ops[k] = st
	}
	return st
}

func (s *Stats) RecordOperation(rt ResourceType, name string, queue, exec time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(rt, name)
	st.Count++
	st.TotalQueue += queue
	st.TotalExec += exec
	if queue > st.MaxQueue {
		st.MaxQueue = queue
	}
	if exec > st.MaxExec {
		st.MaxExec = exec
	}
}

func (s *Stats) RecordError(rt ResourceType, name string) {
	s.mu.Lock()
	s.entry(rt, name).Errors++
	s.mu.Unlock()
}

// Get returns the aggregate for one operation.
func (s *Stats) Get(rt ResourceType, name string) (OpStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.ops[opKey{rt, name}]
	if !ok {
		return OpStats{}, false
	}
	return *st, true
}

// Snapshot returns all aggregates sorted by type then name.
func (s *Stats) Snapshot() []OpStats {
	s.mu.Lock()
	out := make([]OpStats, 0, len(s.ops))
	for _, st := range s.ops {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}
