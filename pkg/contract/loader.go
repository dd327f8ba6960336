package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/verity-protocol/verity/pkg/fault"
)

// Loader loads ClaimType contracts from YAML files and caches them by
// (id, hash). A released contract never changes, so cache entries are
// valid for the life of the process.
type Loader struct {
	mu  sync.RWMutex
	dir string
	// id -> loaded contract and its hash
	byID map[string]*loaded
}

type loaded struct {
	ct   *ClaimType
	hash string
}

// NewLoader creates a loader rooted at the given contract directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, byID: make(map[string]*loaded)}
}

// Load returns the contract with the given id, reading
// <dir>/<id>.yaml on first use.
func (l *Loader) Load(id string) (*ClaimType, error) {
	l.mu.RLock()
	if entry, ok := l.byID[id]; ok {
		l.mu.RUnlock()
		return entry.ct, nil
	}
	l.mu.RUnlock()

	path := filepath.Join(l.dir, id+".yaml")
	ct, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if ct.ID != id {
		return nil, fault.Newf(fault.ContractMissing, "file %s declares id %q, expected %q", path, ct.ID, id)
	}

	hash, err := ct.Hash()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.byID[id] = &loaded{ct: ct, hash: hash}
	l.mu.Unlock()
	return ct, nil
}

// LoadPinned loads a contract and verifies it against a pinned hash, the
// way a compile request pins its contract version.
func (l *Loader) LoadPinned(id, wantHash string) (*ClaimType, error) {
	ct, err := l.Load(id)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	got := l.byID[id].hash
	l.mu.RUnlock()
	if got != wantHash {
		return nil, fault.Newf(fault.ContractHashMismatch, "contract %s hash %s does not match pinned %s", id, got, wantHash)
	}
	return ct, nil
}

// LoadFile parses and validates a single contract file.
func LoadFile(path string) (*ClaimType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("contract: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML contract body, applies defaults, and validates.
func Parse(data []byte) (*ClaimType, error) {
	var ct ClaimType
	if err := yaml.Unmarshal(data, &ct); err != nil {
		return nil, fault.Wrap(fault.ContractMissing, err, "unparseable contract body")
	}
	ct.Default()
	if err := ct.Validate(); err != nil {
		return nil, err
	}
	return &ct, nil
}
