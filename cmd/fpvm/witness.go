package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fpvm/core/state"
)

// WitnessOutput is the JSON summary printed by the witness subcommand.
type WitnessOutput struct {
	WitnessHash common.Hash `json:"witnessHash"`
	Step        uint64      `json:"step"`
	Exited      bool        `json:"exited"`
	ExitCode    uint8       `json:"exitCode"`
}

var WitnessCommand = &cli.Command{
	Name:  "witness",
	Usage: "Compute the witness hash of a state snapshot",
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:     "input",
			Usage:    "Path of the input JSON state",
			Required: true,
			EnvVars:  []string{"FPVM_INPUT"},
		},
		&cli.PathFlag{
			Name:    "output",
			Usage:   "Path to write the raw 226-byte witness to",
			EnvVars: []string{"FPVM_WITNESS_OUTPUT"},
		},
	},
	Action: Witness,
}

func Witness(cliCtx *cli.Context) error {
	st, err := loadJSON[state.State](cliCtx.Path("input"))
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	witness, err := st.EncodeWitness()
	if err != nil {
		return fmt.Errorf("failed to encode witness: %w", err)
	}
	h, err := witness.StateHash()
	if err != nil {
		return fmt.Errorf("failed to hash witness: %w", err)
	}
	if output := cliCtx.Path("output"); output != "" {
		if err := os.WriteFile(output, witness, 0o644); err != nil {
			return fmt.Errorf("failed to write witness to %q: %w", output, err)
		}
	}
	return writeJSON("-", &WitnessOutput{
		WitnessHash: h,
		Step:        st.Step,
		Exited:      st.Exited,
		ExitCode:    st.ExitCode,
	})
}
