// Package snapshot defines the frozen trust snapshot handed to the truth
// compiler. A snapshot is hash-identified over a canonical projection of
// its agent entries and is immutable after construction; the compiler
// verifies the hash before trusting any effective power in it.
package snapshot

import (
	"sort"
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
)

// Flags a snapshot entry can carry.
const (
	FlagIsolation   = "ISOLATION_FLAG"
	FlagSelfDealing = "SELF_DEALING"
	FlagDormant     = "DORMANT"
	FlagGrounded    = "GROUNDED"
)

// AgentTrust is the context-local trust of one agent at snapshot time.
type AgentTrust struct {
	AgentID          string             `json:"agent_id"`
	EffectivePower   float64            `json:"effective_power"`
	Standing         float64            `json:"standing"`
	DerivedClass     string             `json:"derived_class"`
	Flags            []string           `json:"flags"`
	ContextModifiers map[string]float64 `json:"context_modifiers,omitempty"`
}

func (a AgentTrust) canonical() (map[string]any, error) {
	power, err := canonical.Quantize(a.EffectivePower)
	if err != nil {
		return nil, err
	}
	standing, err := canonical.Quantize(a.Standing)
	if err != nil {
		return nil, err
	}
	mods := map[string]any{}
	for name, v := range a.ContextModifiers {
		q, err := canonical.Quantize(v)
		if err != nil {
			return nil, err
		}
		mods[strings.ToLower(name)] = q
	}
	return map[string]any{
		"agent_id":          strings.ToLower(a.AgentID),
		"effective_power":   power,
		"standing":          standing,
		"derived_class":     strings.ToLower(a.DerivedClass),
		"flags":             canonical.SortedStrings(a.Flags),
		"context_modifiers": mods,
	}, nil
}

// Snapshot is the frozen map of effective powers for one compile.
type Snapshot struct {
	SnapshotID    string                `json:"snapshot_id"`
	SnapshotTime  time.Time             `json:"snapshot_time"`
	PolicyID      string                `json:"policy_id"`
	PolicyVersion string                `json:"policy_version"`
	AgentTrusts   map[string]AgentTrust `json:"agent_trusts"`
	SnapshotHash  string                `json:"snapshot_hash"`
}

// New assembles and freezes a snapshot, computing its hash.
func New(id string, at time.Time, policyID, policyVersion string, trusts map[string]AgentTrust) (*Snapshot, error) {
	s := &Snapshot{
		SnapshotID:    id,
		SnapshotTime:  at.UTC(),
		PolicyID:      policyID,
		PolicyVersion: policyVersion,
		AgentTrusts:   trusts,
	}
	hash, err := s.ComputeHash()
	if err != nil {
		return nil, err
	}
	s.SnapshotHash = hash
	return s, nil
}

// ComputeHash hashes the canonical projection: entries sorted by agent
// id, floats quantized, flags sorted, classes lowercased.
func (s *Snapshot) ComputeHash() (string, error) {
	ids := make([]string, 0, len(s.AgentTrusts))
	for id := range s.AgentTrusts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		c, err := s.AgentTrusts[id].canonical()
		if err != nil {
			return "", err
		}
		entries = append(entries, c)
	}

	return canonical.Hash(map[string]any{
		"policy_id":      strings.ToLower(s.PolicyID),
		"policy_version": s.PolicyVersion,
		"agent_trusts":   entries,
	})
}

// Verify recomputes the hash and compares it with the frozen one.
func (s *Snapshot) Verify() error {
	got, err := s.ComputeHash()
	if err != nil {
		return err
	}
	if got != s.SnapshotHash {
		return fault.Newf(fault.TrustSnapshotHashMismatch,
			"snapshot %s hash %s does not match recorded %s", s.SnapshotID, got, s.SnapshotHash)
	}
	return nil
}

// Power returns the effective power of an agent, zero when absent.
func (s *Snapshot) Power(agentID string) float64 {
	if t, ok := s.AgentTrusts[agentID]; ok {
		return t.EffectivePower
	}
	return 0
}

// Standing returns the global standing recorded for an agent, zero when
// absent.
func (s *Snapshot) Standing(agentID string) float64 {
	if t, ok := s.AgentTrusts[agentID]; ok {
		return t.Standing
	}
	return 0
}

// HasFlag reports whether an agent entry carries the given flag.
func (s *Snapshot) HasFlag(agentID, flag string) bool {
	t, ok := s.AgentTrusts[agentID]
	if !ok {
		return false
	}
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
