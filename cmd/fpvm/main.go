package main

import (
	"fmt"
	"os"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/urfave/cli/v2"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	oplog.SetupDefaults()
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "fpvm"
	app.Usage = "Fault-proof MIPS virtual machine"
	app.Description = "Deterministic single-step MIPS emulator producing cryptographic state commitments for interactive dispute games"
	app.Commands = []*cli.Command{
		RunCommand,
		WitnessCommand,
		LoadELFCommand,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
