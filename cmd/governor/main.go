package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:                 "Governor",
		Usage:                "Token weighted proposal and voting engine",
		Compiled:             time.Now(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Usage:   "Governor repo path, defaults to $GOVERNOR_PATH or ~/.governor",
				EnvVars: []string{"GOVERNOR_PATH"},
			},
		},
		Commands: []*cli.Command{
			configCMD,
			{
				Name:   "start",
				Usage:  "Start the engine with its keeper and HTTP API",
				Action: start,
			},
			signCMD,
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "Governor version",
				Action: func(ctx *cli.Context) error {
					printVersion()
					return nil
				},
			},
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
