// Package state holds the register-level state of the emulated MIPS thread
// context and its commitment encodings.
package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/okx/xlayer-fpvm/core/memory"
)

// HeapStart is where mmap allocations begin.
const HeapStart = 0x20_00_00_00

// State is the full state of the emulated thread context. It is mutated
// only by the interpreter and serializes to the snapshot JSON format.
type State struct {
	Memory *memory.Memory `json:"memory"`

	PreimageKey    common.Hash `json:"preimageKey"`
	PreimageOffset uint32      `json:"preimageOffset"` // cursor into the preimage of PreimageKey

	PC     uint32 `json:"pc"`
	NextPC uint32 `json:"nextPc"`

	LO uint32 `json:"lo"`
	HI uint32 `json:"hi"`

	Heap uint32 `json:"heap"` // heap top pointer for mmap

	ExitCode uint8 `json:"exitCode"`
	Exited   bool  `json:"exited"`

	Step uint64 `json:"step"`

	Registers [32]uint32 `json:"registers"`

	// LastHint buffers partially written hint frames until a full
	// length-prefixed hint can be delivered to the oracle.
	LastHint hexutil.Bytes `json:"lastHint,omitempty"`
}

// New returns a state with empty memory and the heap pointer at HeapStart.
func New() *State {
	return &State{
		Memory: memory.New(),
		Heap:   HeapStart,
	}
}

// EncodeWitness encodes the state into the fixed 226-byte witness blob.
func (s *State) EncodeWitness() (StateWitness, error) {
	out := make([]byte, 0, StateWitnessSize)
	memRoot, err := s.Memory.MerkleRoot()
	if err != nil {
		return nil, err
	}
	out = append(out, memRoot[:]...)
	out = append(out, s.PreimageKey.Bytes()...)
	out = beAppendUint32(out, s.PreimageOffset)
	out = beAppendUint32(out, s.PC)
	out = beAppendUint32(out, s.NextPC)
	out = beAppendUint32(out, s.LO)
	out = beAppendUint32(out, s.HI)
	out = beAppendUint32(out, s.Heap)
	out = append(out, s.ExitCode)
	if s.Exited {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = beAppendUint64(out, s.Step)
	for _, r := range s.Registers {
		out = beAppendUint32(out, r)
	}
	return out, nil
}

func beAppendUint32(out []byte, v uint32) []byte {
	return append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func beAppendUint64(out []byte, v uint64) []byte {
	return append(out,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
