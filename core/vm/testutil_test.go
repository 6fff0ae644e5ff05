package vm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-fpvm/core/state"
	"github.com/okx/xlayer-fpvm/preimage"
)

// instruction encoders

func encodeRType(fun, rs, rt, rd, shamt uint32) uint32 {
	return rs<<21 | rt<<16 | rd<<11 | shamt<<6 | fun
}

func encodeSpecial2(fun, rs, rt, rd uint32) uint32 {
	return 0x1C<<26 | rs<<21 | rt<<16 | rd<<11 | fun
}

func encodeIType(opcode, rs, rt, imm uint32) uint32 {
	return opcode<<26 | rs<<21 | rt<<16 | imm&0xFFFF
}

func encodeJType(opcode, target uint32) uint32 {
	return opcode<<26 | target&0x03FF_FFFF
}

const syscallInsn = uint32(0x0000_000C)

// testState returns a state with the given instructions loaded at pc.
func testState(t *testing.T, pc uint32, insns ...uint32) *state.State {
	st := state.New()
	st.PC = pc
	st.NextPC = pc + 4
	for i, insn := range insns {
		require.NoError(t, st.Memory.SetMemory(pc+uint32(i)*4, insn))
	}
	return st
}

// testOracle is an in-process PreimageOracle for unit tests.
type testOracle struct {
	hint        func(v []byte) error
	getPreimage func(k common.Hash) ([]byte, error)
}

func (t *testOracle) Hint(v []byte) error {
	if t.hint == nil {
		return nil
	}
	return t.hint(v)
}

func (t *testOracle) GetPreimage(k common.Hash) ([]byte, error) {
	if t.getPreimage == nil {
		return nil, fmt.Errorf("no preimage for %s", k)
	}
	return t.getPreimage(k)
}

func staticOracle(preimageData []byte) *testOracle {
	return &testOracle{
		getPreimage: func(k common.Hash) ([]byte, error) {
			if k != preimage.Keccak256Key(crypto.Keccak256Hash(preimageData)).PreimageKey() {
				return nil, fmt.Errorf("no preimage for %s", k)
			}
			return preimageData, nil
		},
	}
}

// testVM builds a VM over the given state with output buffers attached.
func testVM(st *state.State, po PreimageOracle) (*VM, *bytes.Buffer, *bytes.Buffer) {
	var stdOut, stdErr bytes.Buffer
	if po == nil {
		po = &testOracle{}
	}
	return New(st, po, &stdOut, &stdErr), &stdOut, &stdErr
}

func encodeU64(x uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, x)
}

// claimTestOracle serves the inputs of the claim example program:
// S = 1000, A = 3, B = 4, with the pre-state, diff and operand preimages
// prepared on hint.
func claimTestOracle(t *testing.T) (po PreimageOracle, stdOut string, stdErr string) {
	s := uint64(1000)
	a := uint64(3)
	b := uint64(4)

	var diff []byte
	diff = append(diff, crypto.Keccak256(encodeU64(a))...)
	diff = append(diff, crypto.Keccak256(encodeU64(b))...)

	preHash := crypto.Keccak256Hash(encodeU64(s))
	diffHash := crypto.Keccak256Hash(diff)

	images := make(map[common.Hash][]byte)
	images[preimage.LocalIndexKey(0).PreimageKey()] = preHash[:]
	images[preimage.LocalIndexKey(1).PreimageKey()] = diffHash[:]
	images[preimage.LocalIndexKey(2).PreimageKey()] = encodeU64(s*a + b)

	oracle := &testOracle{
		hint: func(v []byte) error {
			parts := strings.Split(string(v), " ")
			require.Len(t, parts, 2)
			p, err := hex.DecodeString(parts[1])
			require.NoError(t, err)
			require.Len(t, p, 32)
			h := common.BytesToHash(p)
			switch parts[0] {
			case "fetch-state":
				require.Equal(t, preHash, h, "expecting request for pre-state preimage")
				images[preimage.Keccak256Key(preHash).PreimageKey()] = encodeU64(s)
			case "fetch-diff":
				require.Equal(t, diffHash, h, "expecting request for diff preimages")
				images[preimage.Keccak256Key(diffHash).PreimageKey()] = diff
				images[preimage.Keccak256Key(crypto.Keccak256Hash(encodeU64(a))).PreimageKey()] = encodeU64(a)
				images[preimage.Keccak256Key(crypto.Keccak256Hash(encodeU64(b))).PreimageKey()] = encodeU64(b)
			default:
				t.Fatalf("unexpected hint type %q", parts[0])
			}
			return nil
		},
		getPreimage: func(k common.Hash) ([]byte, error) {
			p, ok := images[k]
			if !ok {
				return nil, fmt.Errorf("missing preimage %s", k)
			}
			return p, nil
		},
	}

	return oracle,
		fmt.Sprintf("computing %d * %d + %d\nclaim %d is good!\n", s, a, b, s*a+b),
		"started!"
}
