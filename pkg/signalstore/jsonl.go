package signalstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/signal"
)

// JSONL is a line-delimited JSON signal log for simple deployments.
// The file only ever grows; canonical order is applied at read time.
type JSONL struct {
	mu   sync.Mutex
	path string
	ids  map[string]bool
}

// OpenJSONL opens (or creates) a JSONL log at path.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("signalstore: create dir: %w", err)
	}
	j := &JSONL{path: path, ids: make(map[string]bool)}

	signals, err := j.readAll()
	if err != nil {
		return nil, err
	}
	for i := range signals {
		j.ids[signals[i].SignalID] = true
	}
	return j, nil
}

func (j *JSONL) Append(sig signal.Signal) error {
	if err := sig.VerifyID(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ids[sig.SignalID] {
		return nil
	}

	line, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("signalstore: marshal signal: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("signalstore: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("signalstore: append: %w", err)
	}
	j.ids[sig.SignalID] = true
	return nil
}

func (j *JSONL) All() ([]signal.Signal, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	signals, err := j.readAll()
	if err != nil {
		return nil, err
	}
	sortCanonical(signals)
	return signals, nil
}

func (j *JSONL) ForAgent(agentID string) ([]signal.Signal, error) {
	all, err := j.All()
	if err != nil {
		return nil, err
	}
	return filterSignals(all, func(s *signal.Signal) bool {
		return s.AgentID == agentID || s.ObjectID == agentID
	}), nil
}

func (j *JSONL) Since(t time.Time) ([]signal.Signal, error) {
	all, err := j.All()
	if err != nil {
		return nil, err
	}
	return filterSignals(all, func(s *signal.Signal) bool {
		return !s.Time.Before(t)
	}), nil
}

func (j *JSONL) ByType(signalType string) ([]signal.Signal, error) {
	all, err := j.All()
	if err != nil {
		return nil, err
	}
	return filterSignals(all, func(s *signal.Signal) bool {
		return s.SignalType == signalType
	}), nil
}

func (j *JSONL) Window(windowID string) ([]signal.Signal, error) {
	all, err := j.All()
	if err != nil {
		return nil, err
	}
	return filterSignals(all, func(s *signal.Signal) bool {
		return s.ObjectID == windowID
	}), nil
}

func (j *JSONL) PolicyVersionAt(t time.Time) (string, error) {
	all, err := j.All()
	if err != nil {
		return "", err
	}
	v := policyVersionAt(all, t)
	if v == "" {
		return "", fault.Newf(fault.PolicyUnknown, "no policy active at %s", t.UTC().Format(time.RFC3339))
	}
	return v, nil
}

func (j *JSONL) readAll() ([]signal.Signal, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("signalstore: open log: %w", err)
	}
	defer f.Close()

	var out []signal.Signal
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s signal.Signal
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("signalstore: corrupt line: %w", err)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("signalstore: scan: %w", err)
	}
	return out, nil
}
