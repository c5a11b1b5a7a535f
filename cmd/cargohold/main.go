// cmd/cargohold/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cargohold/cargohold/internal/logger"
	"github.com/cargohold/cargohold/internal/status"
	"github.com/cargohold/cargohold/internal/version"
	"github.com/cargohold/cargohold/pkg/resgroup"
)

func main() {
	app := &cli.Command{
		Name:    "cargohold",
		Usage:   "Manage versioned, content-addressed resource groups",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: pretty, text, json",
				Value: "pretty",
			},
			&cli.IntFlag{
				Name:    "verbosity",
				Aliases: []string{"v"},
				Usage:   "Progress nesting depth to report (-1 for everything, 0 for none)",
				Value:   1,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			createCmd(),
			exportCmd(),
			mergeCmd(),
			diffCmd(),
			removeCmd(),
			inspectCmd(),
			bundleCmd(),
			unbundleCmd(),
			patchCmd(),
			applyCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger from the global flags.
func newLogger(cmd *cli.Command) logger.Logger {
	level := logger.ParseLevel(cmd.String("log-level"))
	switch cmd.String("log-format") {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}

// statusSettings wires engine progress updates into the logger.
func statusSettings(cmd *cli.Command, log logger.Logger) status.Settings {
	verbosity := int(cmd.Int("verbosity"))
	if verbosity == 0 {
		return status.Settings{}
	}
	return status.Settings{
		Verbosity: verbosity,
		Callback: func(t status.ProgressType, process, overall, sizeOfJob float64, nesting int, info string) {
			switch t {
			case status.Warning:
				log.Warn(info)
			default:
				log.Debug(info,
					"type", t.String(),
					"progress", process,
					"overall", overall,
					"level", nesting,
				)
			}
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("cargohold %s\n", version.String())
			if info.Date != "" {
				fmt.Printf("built %s\n", info.Date)
			}
			fmt.Printf("document schema %s\n", resgroup.CurrentDocVersion)
			return nil
		},
	}
}

// loadGroupAuto imports a manifest, probing the group kind from the document.
func loadGroupAuto(path string, settings status.Settings) (*resgroup.Group, error) {
	for _, g := range []*resgroup.Group{resgroup.NewGroup(), resgroup.NewBundleGroup(), resgroup.NewPatchGroup()} {
		err := g.ImportFromFile(resgroup.ImportFromFileParams{Filename: path, Status: settings})
		if err == nil {
			return g, nil
		}
		if resgroup.CodeOf(err) != resgroup.CodeFileTypeMismatch {
			return nil, err
		}
	}
	return nil, fmt.Errorf("unrecognised group document: %s", path)
}
