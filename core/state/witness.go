package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okx/xlayer-fpvm/preimage"
)

// StateWitnessSize is the size of the encoded state witness in bytes.
const StateWitnessSize = 226

// VM status byte, stamped over the first byte of the state hash.
const (
	VMStatusValid      = 0
	VMStatusInvalid    = 1
	VMStatusPanic      = 2
	VMStatusUnfinished = 3
)

// VMStatus derives the status byte from the exit flags.
func VMStatus(exited bool, exitCode uint8) uint8 {
	if !exited {
		return VMStatusUnfinished
	}
	switch exitCode {
	case 0:
		return VMStatusValid
	case 1:
		return VMStatusInvalid
	default:
		return VMStatusPanic
	}
}

// StateWitness is the fixed 226-byte encoding of a State.
type StateWitness []byte

const (
	exitCodeWitnessOffset = 32*2 + 4*6
	exitedWitnessOffset   = exitCodeWitnessOffset + 1
)

// StateHash hashes the witness and stamps the VM status over byte 0.
func (sw StateWitness) StateHash() (common.Hash, error) {
	if len(sw) != StateWitnessSize {
		return common.Hash{}, fmt.Errorf("invalid witness length %d, expected %d", len(sw), StateWitnessSize)
	}
	hash := crypto.Keccak256Hash(sw)
	exitCode := sw[exitCodeWitnessOffset]
	exited := sw[exitedWitnessOffset] == 1
	hash[0] = VMStatus(exited, exitCode)
	return hash, nil
}

// StepWitness is everything a verifier needs to replay one instruction:
// the pre-state witness, the memory proofs touched by the step, and the
// preimage request if the step read from the oracle.
type StepWitness struct {
	// State is the encoded state witness captured before the step.
	State StateWitness

	// MemProof is the instruction-fetch proof followed by the data-access
	// proof; the second half is zero-filled when no data was accessed.
	MemProof []byte

	PreimageKey    common.Hash // zeroed when no preimage was accessed
	PreimageValue  []byte      // including the 8-byte length prefix
	PreimageOffset uint32
}

// HasPreimage reports whether the step consumed oracle data.
func (wit *StepWitness) HasPreimage() bool {
	return wit.PreimageKey != (common.Hash{})
}

var (
	bytesType, _   = abi.NewType("bytes", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)

	stepArgs = abi.Arguments{
		{Type: bytesType},
		{Type: bytesType},
	}
	loadLocalDataArgs = abi.Arguments{
		{Type: uint256Type},
		{Type: bytes32Type},
		{Type: uint256Type},
		{Type: uint256Type},
	}
	loadKeccak256PreimagePartArgs = abi.Arguments{
		{Type: uint256Type},
		{Type: bytesType},
	}

	stepSelector                      = crypto.Keccak256([]byte("step(bytes,bytes)"))[:4]
	loadLocalDataSelector             = crypto.Keccak256([]byte("loadLocalData(uint256,bytes32,uint256,uint256)"))[:4]
	loadKeccak256PreimagePartSelector = crypto.Keccak256([]byte("loadKeccak256PreimagePart(uint256,bytes)"))[:4]
)

// EncodeStepInput ABI-encodes the calldata for the on-chain single-step
// function, step(bytes stateData, bytes proof).
func (wit *StepWitness) EncodeStepInput() ([]byte, error) {
	packed, err := stepArgs.Pack([]byte(wit.State), wit.MemProof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack step input: %w", err)
	}
	return append(append([]byte{}, stepSelector...), packed...), nil
}

// EncodePreimageOracleInput ABI-encodes the calldata that loads the step's
// preimage into the on-chain oracle ahead of the step call.
func (wit *StepWitness) EncodePreimageOracleInput() ([]byte, error) {
	if !wit.HasPreimage() {
		return nil, fmt.Errorf("step witness has no preimage to prove")
	}
	switch preimage.KeyType(wit.PreimageKey[0]) {
	case preimage.LocalKeyType:
		if len(wit.PreimageValue) > 32+8 {
			return nil, fmt.Errorf("local preimage exceeds 32 bytes, key %s", wit.PreimageKey)
		}
		var part [32]byte
		copy(part[:], wit.PreimageValue[8:])
		packed, err := loadLocalDataArgs.Pack(
			new(big.Int).SetBytes(wit.PreimageKey.Bytes()),
			part,
			big.NewInt(int64(len(wit.PreimageValue)-8)),
			big.NewInt(int64(wit.PreimageOffset)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to pack local preimage input: %w", err)
		}
		return append(append([]byte{}, loadLocalDataSelector...), packed...), nil
	case preimage.Keccak256KeyType:
		packed, err := loadKeccak256PreimagePartArgs.Pack(
			big.NewInt(int64(wit.PreimageOffset)),
			wit.PreimageValue[8:],
		)
		if err != nil {
			return nil, fmt.Errorf("failed to pack keccak256 preimage input: %w", err)
		}
		return append(append([]byte{}, loadKeccak256PreimagePartSelector...), packed...), nil
	default:
		return nil, fmt.Errorf("unsupported preimage key type %d, key %s offset %d",
			wit.PreimageKey[0], wit.PreimageKey, wit.PreimageOffset)
	}
}
