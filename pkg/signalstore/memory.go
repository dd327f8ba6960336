package signalstore

import (
	"sync"
	"time"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/signal"
)

// Memory is the in-memory reference store. Multi-reader single-writer:
// writers serialize on Append, readers see a consistent prefix.
type Memory struct {
	mu      sync.RWMutex
	signals []signal.Signal
	byID    map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]int)}
}

func (m *Memory) Append(sig signal.Signal) error {
	if err := sig.VerifyID(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.byID[sig.SignalID]; ok {
		// Identical content hashes to an identical id, so an id hit with
		// matching type and time is the idempotent case.
		existing := m.signals[idx]
		if existing.SignalType == sig.SignalType && existing.Time.Equal(sig.Time) {
			return nil
		}
		return fault.Newf(fault.SignalOrderingViolation, "signal id %s already appended with different content", sig.SignalID)
	}

	m.signals = append(m.signals, sig)
	m.byID[sig.SignalID] = len(m.signals) - 1
	sortCanonical(m.signals)
	for i := range m.signals {
		m.byID[m.signals[i].SignalID] = i
	}
	return nil
}

func (m *Memory) All() ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]signal.Signal, len(m.signals))
	copy(out, m.signals)
	return out, nil
}

func (m *Memory) ForAgent(agentID string) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterSignals(m.signals, func(s *signal.Signal) bool {
		return s.AgentID == agentID || s.ObjectID == agentID
	}), nil
}

func (m *Memory) Since(t time.Time) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterSignals(m.signals, func(s *signal.Signal) bool {
		return !s.Time.Before(t)
	}), nil
}

func (m *Memory) ByType(signalType string) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterSignals(m.signals, func(s *signal.Signal) bool {
		return s.SignalType == signalType
	}), nil
}

func (m *Memory) Window(windowID string) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterSignals(m.signals, func(s *signal.Signal) bool {
		return s.ObjectID == windowID
	}), nil
}

func (m *Memory) PolicyVersionAt(t time.Time) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := policyVersionAt(m.signals, t)
	if v == "" {
		return "", fault.Newf(fault.PolicyUnknown, "no policy active at %s", t.UTC().Format(time.RFC3339))
	}
	return v, nil
}

// Len reports the number of stored signals.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signals)
}
