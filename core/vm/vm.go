package vm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okx/xlayer-fpvm/core/memory"
	"github.com/okx/xlayer-fpvm/core/state"
)

// PreimageOracle is the capability the interpreter holds on the host:
// advisory hints and synchronous preimage fetches. Both calls block; the
// host must have the answer ready or the step fails.
type PreimageOracle interface {
	Hint(v []byte) error
	GetPreimage(k common.Hash) ([]byte, error)
}

// VM executes the MIPS thread context one instruction at a time, producing
// a step witness on demand.
type VM struct {
	state *state.State

	stdOut io.Writer
	stdErr io.Writer

	lastMemAccess   uint32
	memProofEnabled bool
	memProof        [memory.MemProofSize]byte

	preimageOracle PreimageOracle

	// cache of the last preimage fetched, so consecutive fd-5 reads within
	// one preimage don't go back to the oracle
	lastPreimage       []byte
	lastPreimageKey    common.Hash
	lastPreimageOffset uint32

	// strictSyscalls turns unknown syscall numbers into errors instead of
	// the silent register-clearing no-op of the on-chain interpreter.
	strictSyscalls bool
}

// New wires a VM around the given state. Writes of the emulated program to
// stdout/stderr are sunk into the given writers.
func New(st *state.State, po PreimageOracle, stdOut, stdErr io.Writer) *VM {
	return &VM{
		state:          st,
		stdOut:         stdOut,
		stdErr:         stdErr,
		preimageOracle: po,
	}
}

// State returns the state owned by the VM.
func (m *VM) State() *state.State {
	return m.state
}

// SetStrictSyscalls toggles erroring on unknown syscall numbers.
func (m *VM) SetStrictSyscalls(strict bool) {
	m.strictSyscalls = strict
}

// LastPreimage returns the key and value (with length prefix) of the most
// recently fetched preimage, and the offset read from it during the last
// step; the offset is ^uint32(0) when the last step read no preimage data.
func (m *VM) LastPreimage() (common.Hash, []byte, uint32) {
	return m.lastPreimageKey, m.lastPreimage, m.lastPreimageOffset
}

// Step executes a single instruction. When proof is set, the returned
// witness carries the pre-state encoding, the instruction-fetch and
// data-access merkle proofs, and the preimage request of the step, if any.
func (m *VM) Step(proof bool) (*state.StepWitness, error) {
	m.memProofEnabled = proof
	m.lastMemAccess = ^uint32(0)
	m.lastPreimageOffset = ^uint32(0)
	m.memProof = [memory.MemProofSize]byte{}

	var wit *state.StepWitness
	if proof {
		encoded, err := m.state.EncodeWitness()
		if err != nil {
			return nil, err
		}
		insnProof, err := m.state.Memory.MerkleProof(m.state.PC)
		if err != nil {
			return nil, err
		}
		wit = &state.StepWitness{
			State:    encoded,
			MemProof: insnProof[:],
		}
	}

	if err := m.mipsStep(); err != nil {
		return nil, err
	}

	if proof {
		wit.MemProof = append(wit.MemProof, m.memProof[:]...)
		if m.lastPreimageOffset != ^uint32(0) {
			wit.PreimageKey = m.lastPreimageKey
			wit.PreimageValue = m.lastPreimage
			wit.PreimageOffset = m.lastPreimageOffset
		}
	}
	return wit, nil
}

// trackMemAccess records the merkle proof of the single data access a step
// is allowed to make beyond the instruction fetch.
func (m *VM) trackMemAccess(effAddr uint32) error {
	if !m.memProofEnabled || m.lastMemAccess == effAddr {
		return nil
	}
	if m.lastMemAccess != ^uint32(0) {
		return fmt.Errorf("%w: already have access at %#08x buffered, new access at %#08x",
			ErrConflictingMemAccess, m.lastMemAccess, effAddr)
	}
	m.lastMemAccess = effAddr
	proof, err := m.state.Memory.MerkleProof(effAddr)
	if err != nil {
		return err
	}
	m.memProof = proof
	return nil
}

// readPreimage returns up to 32 bytes of the preimage for key starting at
// offset, fetching and caching the length-prefixed preimage on key change.
func (m *VM) readPreimage(key common.Hash, offset uint32) (dat [32]byte, datLen uint32, err error) {
	pre := m.lastPreimage
	if key != m.lastPreimageKey {
		data, err := m.preimageOracle.GetPreimage(key)
		if err != nil {
			return dat, 0, fmt.Errorf("%w: get %s: %v", ErrOracle, key, err)
		}
		m.lastPreimageKey = key
		// cache with the 8-byte big-endian length prefix
		pre = make([]byte, 0, 8+len(data))
		pre = binary.BigEndian.AppendUint64(pre, uint64(len(data)))
		pre = append(pre, data...)
		m.lastPreimage = pre
	}
	m.lastPreimageOffset = offset
	if offset >= uint32(len(pre)) {
		return dat, 0, fmt.Errorf("%w: preimage offset %d out of bounds (%d bytes)", ErrOracle, offset, len(pre))
	}
	datLen = uint32(copy(dat[:], pre[offset:]))
	return dat, datLen, nil
}
