package medallion

import (
	"sort"
	"sync"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// Memory is the in-memory medallion store.
type Memory struct {
	mu     sync.RWMutex
	silver map[string]*truthstate.TruthState // (key, compile_time) -> state
	byKey  map[string][]*truthstate.TruthState
	gold   map[string]*truthstate.TruthState
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		silver: map[string]*truthstate.TruthState{},
		byKey:  map[string][]*truthstate.TruthState{},
		gold:   map[string]*truthstate.TruthState{},
	}
}

func (m *Memory) Put(state *truthstate.TruthState) error {
	if err := validate(state); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sk := silverKey(state.TruthKey, state.CompileInputs.CompileTime)
	if existing, ok := m.silver[sk]; ok {
		if existing.Security.StateHash == state.Security.StateHash {
			return nil
		}
		return fault.Newf(fault.SignalOrderingViolation,
			"silver already holds a different state for %s", sk)
	}

	m.silver[sk] = state
	m.byKey[state.TruthKey] = append(m.byKey[state.TruthKey], state)

	if current, ok := m.gold[state.TruthKey]; !ok || supersedes(state, current) {
		m.gold[state.TruthKey] = state
	}
	return nil
}

func (m *Memory) History(truthKey string) ([]*truthstate.TruthState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*truthstate.TruthState, len(m.byKey[truthKey]))
	copy(entries, m.byKey[truthKey])
	sort.Slice(entries, func(i, j int) bool {
		return supersedes(entries[j], entries[i])
	})
	return entries, nil
}

func (m *Memory) Latest(truthKey string) (*truthstate.TruthState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.gold[truthKey]
	return s, ok, nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.gold))
	for k := range m.gold {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
