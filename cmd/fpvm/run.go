package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fpvm/core/state"
	"github.com/okx/xlayer-fpvm/core/vm"
	"github.com/okx/xlayer-fpvm/host"
)

// Proof is the per-step proof artifact written at --proof-at steps.
type Proof struct {
	Step uint64 `json:"step"`

	Pre  common.Hash `json:"pre"`
	Post common.Hash `json:"post"`

	StateData hexutil.Bytes `json:"stateData"`
	ProofData hexutil.Bytes `json:"proofData"`
	StepInput hexutil.Bytes `json:"stepInput"`

	OracleKey    hexutil.Bytes `json:"oracleKey,omitempty"`
	OracleValue  hexutil.Bytes `json:"oracleValue,omitempty"`
	OracleOffset uint32        `json:"oracleOffset,omitempty"`
	OracleInput  hexutil.Bytes `json:"oracleInput,omitempty"`
}

var RunCommand = &cli.Command{
	Name:  "run",
	Usage: "Run a program snapshot until it exits or hits --stop-at",
	Flags: append([]cli.Flag{
		&cli.PathFlag{
			Name:    "input",
			Usage:   "Path of the input JSON state",
			Value:   "state.json.gz",
			EnvVars: []string{"FPVM_INPUT"},
		},
		&cli.PathFlag{
			Name:    "output",
			Usage:   "Path of the output JSON state, or - for stdout",
			Value:   "out.json.gz",
			EnvVars: []string{"FPVM_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "proof-at",
			Usage:   "Step pattern to emit proofs at: never, always, =N, %N",
			EnvVars: []string{"FPVM_PROOF_AT"},
		},
		&cli.StringFlag{
			Name:    "proof-format",
			Usage:   "Format string for proof file names, with %d for the step",
			Value:   "%d.json.gz",
			Aliases: []string{"proof-fmt"},
			EnvVars: []string{"FPVM_PROOF_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "snapshot-at",
			Usage:   "Step pattern to write state snapshots at",
			EnvVars: []string{"FPVM_SNAPSHOT_AT"},
		},
		&cli.StringFlag{
			Name:    "snapshot-format",
			Usage:   "Format string for snapshot file names, with %d for the step",
			Value:   "%d.json.gz",
			Aliases: []string{"snapshot-fmt"},
			EnvVars: []string{"FPVM_SNAPSHOT_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "stop-at",
			Usage:   "Step pattern to stop at without executing the step",
			EnvVars: []string{"FPVM_STOP_AT"},
		},
		&cli.StringFlag{
			Name:    "info-at",
			Usage:   "Step pattern to log progress at",
			EnvVars: []string{"FPVM_INFO_AT"},
		},
		&cli.StringFlag{
			Name:    "preimage-server",
			Usage:   "Command to spawn as the preimage oracle server, with inherited channel fds",
			EnvVars: []string{"FPVM_PREIMAGE_SERVER"},
		},
	}, oplog.CLIFlags("FPVM")...),
	Action: Run,
}

func Run(cliCtx *cli.Context) error {
	logger := oplog.NewLogger(oplog.AppOut(cliCtx), oplog.ReadCLIConfig(cliCtx))

	stopAt, err := MatcherFromPattern(cliCtx.String("stop-at"))
	if err != nil {
		return err
	}
	proofAt, err := MatcherFromPattern(cliCtx.String("proof-at"))
	if err != nil {
		return err
	}
	snapshotAt, err := MatcherFromPattern(cliCtx.String("snapshot-at"))
	if err != nil {
		return err
	}
	infoAt, err := MatcherFromPattern(cliCtx.String("info-at"))
	if err != nil {
		return err
	}
	proofFmt := cliCtx.String("proof-format")
	snapshotFmt := cliCtx.String("snapshot-format")

	st, err := loadJSON[state.State](cliCtx.Path("input"))
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	po, closeOracle, err := buildOracle(cliCtx.String("preimage-server"), logger)
	if err != nil {
		return err
	}
	defer closeOracle()

	m := vm.New(st, po, os.Stdout, os.Stderr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	start := time.Now()
	startStep := st.Step

	for !st.Exited {
		step := st.Step

		if infoAt(step) {
			insn, err := st.Memory.GetMemory(st.PC)
			if err != nil {
				return err
			}
			delta := time.Since(start)
			logger.Info("processing",
				"step", step,
				"pc", fmt.Sprintf("%#08x", st.PC),
				"insn", fmt.Sprintf("%#08x", insn),
				"ips", float64(step-startStep)/delta.Seconds(),
				"pages", st.Memory.PageCount(),
				"mem", st.Memory.Usage(),
			)
		}

		if stopAt(step) {
			break
		}

		if snapshotAt(step) {
			if err := writeJSON(fmt.Sprintf(snapshotFmt, step), st); err != nil {
				return fmt.Errorf("failed to write snapshot at step %d: %w", step, err)
			}
		}

		if proofAt(step) {
			if err := emitProof(m, step, proofFmt); err != nil {
				return err
			}
		} else {
			if _, err := m.Step(false); err != nil {
				return fmt.Errorf("failed at step %d: %w", step, err)
			}
		}

		select {
		case <-stop:
			logger.Info("interrupt received, stopping", "step", st.Step)
			return writeJSON(cliCtx.Path("output"), st)
		default:
		}
	}

	logger.Info("execution done",
		"exited", st.Exited, "exitCode", st.ExitCode, "step", st.Step)
	return writeJSON(cliCtx.Path("output"), st)
}

// emitProof captures pre/post state hashes around a witnessed step and
// writes the proof artifact.
func emitProof(m *vm.VM, step uint64, proofFmt string) error {
	st := m.State()
	preWitness, err := st.EncodeWitness()
	if err != nil {
		return err
	}
	preStateHash, err := preWitness.StateHash()
	if err != nil {
		return fmt.Errorf("invalid pre-state witness at step %d: %w", step, err)
	}

	wit, err := m.Step(true)
	if err != nil {
		return fmt.Errorf("failed at proof step %d: %w", step, err)
	}

	postWitness, err := st.EncodeWitness()
	if err != nil {
		return err
	}
	postStateHash, err := postWitness.StateHash()
	if err != nil {
		return fmt.Errorf("invalid post-state witness at step %d: %w", step, err)
	}

	stepInput, err := wit.EncodeStepInput()
	if err != nil {
		return err
	}
	proof := &Proof{
		Step:      step,
		Pre:       preStateHash,
		Post:      postStateHash,
		StateData: hexutil.Bytes(wit.State),
		ProofData: wit.MemProof,
		StepInput: stepInput,
	}
	if wit.HasPreimage() {
		oracleInput, err := wit.EncodePreimageOracleInput()
		if err != nil {
			return fmt.Errorf("failed to encode preimage oracle input at step %d: %w", step, err)
		}
		proof.OracleInput = oracleInput
		proof.OracleKey = wit.PreimageKey.Bytes()
		proof.OracleValue = wit.PreimageValue
		proof.OracleOffset = wit.PreimageOffset
	}
	// proof files are plain JSON, whatever the extension of proofFmt
	dat, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("failed to encode proof at step %d: %w", step, err)
	}
	if err := os.WriteFile(fmt.Sprintf(proofFmt, step), dat, 0o644); err != nil {
		return fmt.Errorf("failed to write proof at step %d: %w", step, err)
	}
	return nil
}

// buildOracle spawns the configured preimage server, or falls back to an
// empty in-process store when none is given.
func buildOracle(serverCmd string, logger log.Logger) (vm.PreimageOracle, func(), error) {
	if serverCmd == "" {
		logger.Warn("no preimage server configured, using empty in-process store")
		return host.NewPreimageServer(logger), func() {}, nil
	}
	fields := strings.Fields(serverCmd)
	proc, err := host.NewProcessOracle(fields[0], fields[1:]...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start preimage server: %w", err)
	}
	return proc, func() {
		if err := proc.Close(); err != nil {
			logger.Error("failed to stop preimage server", "err", err)
		}
	}, nil
}
