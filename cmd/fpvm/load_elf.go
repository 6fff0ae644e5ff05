package main

import (
	"debug/elf"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/okx/xlayer-fpvm/core/program"
)

var LoadELFCommand = &cli.Command{
	Name:  "load-elf",
	Usage: "Load a MIPS ELF binary into an initial state snapshot",
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:     "path",
			Usage:    "Path of the ELF binary to load",
			Required: true,
			EnvVars:  []string{"FPVM_ELF_PATH"},
		},
		&cli.PathFlag{
			Name:    "out",
			Usage:   "Path of the output JSON state",
			Value:   "state.json.gz",
			EnvVars: []string{"FPVM_ELF_OUT"},
		},
		&cli.StringSliceFlag{
			Name:    "patch",
			Usage:   "Patches to apply after loading: go, stack",
			Value:   cli.NewStringSlice("go", "stack"),
			EnvVars: []string{"FPVM_ELF_PATCH"},
		},
	},
	Action: LoadELF,
}

func LoadELF(cliCtx *cli.Context) error {
	elfPath := cliCtx.Path("path")
	elfProgram, err := elf.Open(elfPath)
	if err != nil {
		return fmt.Errorf("failed to open ELF file %q: %w", elfPath, err)
	}
	defer elfProgram.Close()
	if elfProgram.Machine != elf.EM_MIPS {
		return fmt.Errorf("ELF is not big-endian MIPS R3000, but got %q", elfProgram.Machine)
	}

	st, err := program.LoadELF(elfProgram)
	if err != nil {
		return fmt.Errorf("failed to load ELF data into memory: %w", err)
	}

	for _, p := range cliCtx.StringSlice("patch") {
		switch p {
		case "go":
			if err := program.PatchGo(elfProgram, st); err != nil {
				return fmt.Errorf("failed to apply Go runtime patches: %w", err)
			}
		case "stack":
			if err := program.SetupStack(st); err != nil {
				return fmt.Errorf("failed to set up program stack: %w", err)
			}
		default:
			return fmt.Errorf("unknown patch type %q", p)
		}
	}

	return writeJSON(cliCtx.Path("out"), st)
}
