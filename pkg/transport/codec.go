// Package transport provides the CBOR wire codec for signals and truth
// states. Canonical JSON remains the only serialization used for
// hashing and signing: every decode re-verifies content hashes through
// the canonical path, so a CBOR round trip can never alter identity.
package transport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

var encMode cbor.EncMode

func init() {
	// Core deterministic encoding keeps wire bytes stable across peers.
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor enc mode: %v", err))
	}
}

// EncodeSignal serializes a sealed signal for transport.
func EncodeSignal(s *signal.Signal) ([]byte, error) {
	if s.SignalID == "" {
		return nil, fault.New(fault.NonCanonicalInput, "refusing to encode an unsealed signal")
	}
	out, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("transport: encode signal: %w", err)
	}
	return out, nil
}

// DecodeSignal deserializes and re-verifies the signal id through the
// canonical JSON path.
func DecodeSignal(data []byte) (*signal.Signal, error) {
	var s signal.Signal
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("transport: decode signal: %w", err)
	}
	if err := s.VerifyID(); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeState serializes a truth state for transport.
func EncodeState(st *truthstate.TruthState) ([]byte, error) {
	out, err := encMode.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("transport: encode state: %w", err)
	}
	return out, nil
}

// DecodeState deserializes a truth state and re-verifies both digests
// against the canonical projection.
func DecodeState(data []byte) (*truthstate.TruthState, error) {
	var st truthstate.TruthState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("transport: decode state: %w", err)
	}

	semantic, err := st.SemanticHash()
	if err != nil {
		return nil, err
	}
	state, err := st.StateHash()
	if err != nil {
		return nil, err
	}
	if semantic != st.Security.SemanticHash || state != st.Security.StateHash {
		return nil, fault.New(fault.NonCanonicalInput, "transported state does not match its recorded hashes")
	}
	return &st, nil
}
