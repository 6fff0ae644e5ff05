package vm

import (
	"bytes"
	"debug/elf"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-fpvm/core/program"
	"github.com/okx/xlayer-fpvm/core/state"
)

// loadTestELF loads and patches an example binary, skipping the test when
// the fixture has not been built (see testdata/example).
func loadTestELF(t *testing.T, path string) *state.State {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skipf("example binary %s not built", path)
	}
	f, err := elf.Open(path)
	require.NoError(t, err)
	defer f.Close()

	st, err := program.LoadELF(f)
	require.NoError(t, err)
	require.NoError(t, program.PatchGo(f, st))
	require.NoError(t, program.SetupStack(st))
	return st
}

func TestHelloProgram(t *testing.T) {
	st := loadTestELF(t, "../../testdata/example/bin/hello.elf")
	m, stdOut, stdErr := testVM(st, nil)

	for i := 0; i < 400_000; i++ {
		if st.Exited {
			break
		}
		_, err := m.Step(false)
		require.NoError(t, err)
	}
	require.True(t, st.Exited, "must complete program")
	require.Equal(t, uint8(0), st.ExitCode, "exit with 0")
	require.Equal(t, "hello world!\n", stdOut.String())
	require.Equal(t, "", stdErr.String())
}

func TestClaimProgram(t *testing.T) {
	st := loadTestELF(t, "../../testdata/example/bin/claim.elf")
	oracle, expectedStdOut, expectedStdErr := claimTestOracle(t)
	var stdOut, stdErr bytes.Buffer
	m := New(st, oracle, &stdOut, &stdErr)

	for i := 0; i < 2_000_000; i++ {
		if st.Exited {
			break
		}
		_, err := m.Step(false)
		require.NoError(t, err)
	}
	require.True(t, st.Exited, "must complete program")
	require.Equal(t, uint8(0), st.ExitCode, "exit with 0")
	require.Equal(t, expectedStdOut, stdOut.String())
	require.Equal(t, expectedStdErr, stdErr.String())
}

func TestHelloProgramWithWitness(t *testing.T) {
	st := loadTestELF(t, "../../testdata/example/bin/hello.elf")
	m, stdOut, _ := testVM(st, nil)

	// capture a witness every step for a while; execution must be
	// unaffected by instrumentation
	for i := 0; i < 2_000; i++ {
		wit, err := m.Step(true)
		require.NoError(t, err)
		require.NotNil(t, wit)
		_, err = wit.State.StateHash()
		require.NoError(t, err)
	}
	for i := 0; i < 400_000 && !st.Exited; i++ {
		_, err := m.Step(false)
		require.NoError(t, err)
	}
	require.True(t, st.Exited)
	require.Equal(t, "hello world!\n", stdOut.String())
}
