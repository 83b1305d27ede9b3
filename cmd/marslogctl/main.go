// Command marslogctl inspects and administers the MARSLOG license state
// without going through the web server.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"marslog/internal/app"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "marslogctl",
		Usage:   "Inspect and administer the MARSLOG license and trial state",
		Version: app.VERSION,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"MARSLOG_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level for diagnostics written to stderr",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			infoCommand(),
			statusCommand(),
			trialCommand(),
			checkPageCommand(),
			limitsCommand(),
			hashTokenCommand(),
		},
	}
}
