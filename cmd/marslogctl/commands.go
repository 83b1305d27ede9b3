package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"marslog/internal/app"
	"marslog/internal/config"
	"marslog/internal/infrastructure"
	"marslog/internal/license"
)

// withStack loads configuration, builds the license subsystem and hands it
// to fn. Diagnostics go to stderr so stdout stays machine readable.
func withStack(c *cli.Context, fn func(*app.LicenseStack) error) error {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		base, dirErr := config.ExecutableDir()
		if dirErr != nil {
			return dirErr
		}
		cfg, err = config.LoadFrom(path, base)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logCfg := config.LoggingConfig{Level: c.String("log-level"), Output: "console"}
	logger, _, err := infrastructure.NewLoggerTo(logCfg, errWriter(c))
	if err != nil {
		return err
	}

	stack, err := app.BuildLicenseStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(stack)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Print the verdict, trial state and system capabilities",
		Action: func(c *cli.Context) error {
			return withStack(c, func(s *app.LicenseStack) error {
				return printJSON(c.App.Writer, s.Validator.Info(c.Context))
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the current license verdict",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit with status 2 when the verdict is not valid",
			},
		},
		Action: func(c *cli.Context) error {
			return withStack(c, func(s *app.LicenseStack) error {
				v := s.Validator.Validate(c.Context)
				if err := printJSON(c.App.Writer, v); err != nil {
					return err
				}
				if c.Bool("strict") && !v.Valid {
					return cli.Exit("", 2)
				}
				return nil
			})
		},
	}
}

func trialCommand() *cli.Command {
	return &cli.Command{
		Name:  "trial",
		Usage: "Inspect or manage the trial period",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the trial state",
				Action: func(c *cli.Context) error {
					return withStack(c, func(s *app.LicenseStack) error {
						return printJSON(c.App.Writer, s.Validator.TrialState(c.Context))
					})
				},
			},
			{
				Name:  "start",
				Usage: "Start the trial period if it has never been started",
				Action: func(c *cli.Context) error {
					return withStack(c, func(s *app.LicenseStack) error {
						res := s.Validator.ActivateTrial(c.Context)
						if err := printJSON(c.App.Writer, res); err != nil {
							return err
						}
						if !res.Success && res.Message != license.MsgTrialAlreadyStarted {
							return cli.Exit(res.Message, 1)
						}
						return nil
					})
				},
			},
			{
				Name:  "reset",
				Usage: "Delete the trial record so a new trial can be started",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the reset",
					},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") {
						return cli.Exit("refusing to reset the trial without --yes", 1)
					}
					return withStack(c, func(s *app.LicenseStack) error {
						res := s.Validator.ResetTrial(c.Context)
						if err := printJSON(c.App.Writer, res); err != nil {
							return err
						}
						if !res.Success {
							return cli.Exit(res.Message, 1)
						}
						return nil
					})
				},
			},
		},
	}
}

func checkPageCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-page",
		Usage:     "Evaluate the access guard for a page path",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session identifier used for warning deduplication",
				Value: "marslogctl",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("check-page requires exactly one path argument", 1)
			}
			return withStack(c, func(s *app.LicenseStack) error {
				d := s.Guard.CheckPath(c.Context, c.String("session"), c.Args().First())
				if err := printJSON(c.App.Writer, d); err != nil {
					return err
				}
				if !d.Allow {
					return cli.Exit("", 3)
				}
				return nil
			})
		},
	}
}

type limitsOutput struct {
	license.Limits
	Current      *int  `json:"current,omitempty"`
	CanAddDevice *bool `json:"can_add_device,omitempty"`
}

func limitsCommand() *cli.Command {
	return &cli.Command{
		Name:  "limits",
		Usage: "Print the effective device and EPS limits",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "current",
				Usage: "Current device count to check against the device limit",
				Value: -1,
			},
		},
		Action: func(c *cli.Context) error {
			current := c.Int("current")
			if c.IsSet("current") && current < 0 {
				return cli.Exit("--current must not be negative", 1)
			}
			return withStack(c, func(s *app.LicenseStack) error {
				out := limitsOutput{Limits: s.Validator.Limits(c.Context)}
				if c.IsSet("current") {
					can := s.Guard.CanAddDevice(c.Context, current)
					out.Current = &current
					out.CanAddDevice = &can
				}
				return printJSON(c.App.Writer, out)
			})
		},
	}
}

func hashTokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-token",
		Usage:     "Hash an admin token for security.admin_token_hash",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "cost",
				Usage: "bcrypt cost",
				Value: bcrypt.DefaultCost,
			},
		},
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			if token == "" {
				return cli.Exit("hash-token requires a token argument", 1)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(token), c.Int("cost"))
			if err != nil {
				if errors.Is(err, bcrypt.ErrPasswordTooLong) {
					return cli.Exit("token is longer than 72 bytes", 1)
				}
				return fmt.Errorf("failed to hash token: %w", err)
			}
			_, err = fmt.Fprintln(c.App.Writer, string(hash))
			return err
		},
	}
}

// errWriter falls back to stderr for apps built without one.
func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
