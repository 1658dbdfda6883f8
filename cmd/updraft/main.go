// Command updraft is the unattended update engine for the managed agent
// service. It is normally invoked by a scheduled task; the run, reconcile
// and history subcommands map onto one update run, a standalone trigger
// repair, and the recorded run history.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes the scheduled task and installer discriminate on.
const (
	exitOK            = 0
	exitFailed        = 1
	exitLockContended = 2
)

func main() {
	app := cli.App{
		Name:      "updraft",
		HelpName:  "updraft",
		Usage:     "unattended self-update engine for the managed agent service",
		Version:   fmt.Sprintf("%s (%s)", version, commit),
		UsageText: "updraft <command> [arguments...]",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "config, c",
				Usage: "path to the engine config file",
				Value: defaultConfigPath(),
			},
			cli.BoolFlag{
				Name:  "console",
				Usage: "echo log output to the console as well as the run log",
			},
		},
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "perform one full update run",
				Action: runUpdate,
			},
			{
				Name:   "reconcile",
				Usage:  "repair the scheduled task's trigger set without updating",
				Action: runReconcile,
			},
			{
				Name:  "history",
				Usage: "show recorded update runs",
				Flags: []cli.Flag{
					cli.IntFlag{
						Name:  "limit, n",
						Usage: "maximum runs to show",
						Value: 20,
					},
				},
				Action: runHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrors already carry their code; anything else is a plain
		// failure.
		if _, ok := err.(cli.ExitCoder); !ok {
			log.Printf("updraft: %v", err)
			os.Exit(exitFailed)
		}
		cli.HandleExitCoder(err)
	}
}
