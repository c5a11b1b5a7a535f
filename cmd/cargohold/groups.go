package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/cargohold/cargohold/pkg/resgroup"
)

func createCmd() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a resource group from a directory",
		ArgsUsage: "<input-directory>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output-filename",
				Aliases: []string{"o"},
				Usage:   "Filename for the created resource group",
				Value:   "ResourceGroup.yaml",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Logical namespace prefix recorded on every resource",
			},
			&cli.BoolFlag{
				Name:  "skip-compression",
				Usage: "Skip computing per-resource compressed sizes",
			},
			&cli.UintFlag{
				Name:  "stream-threshold",
				Usage: "File size in bytes beyond which payloads are streamed",
			},
			&cli.StringFlag{
				Name:  "export-to",
				Usage: "Also copy every file into this CDN base directory",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one input directory")
			}
			log := newLogger(cmd)
			cfg := loadConfig(log)
			settings := statusSettings(cmd, log)

			params := resgroup.CreateFromDirectoryParams{
				Directory:             cmd.Args().First(),
				Prefix:                stringOr(cmd, "prefix", cfg.Prefix),
				StreamThreshold:       uint64(cmd.Uint("stream-threshold")),
				CalculateCompressions: !cmd.Bool("skip-compression"),
				Status:                settings,
			}
			if params.StreamThreshold == 0 {
				params.StreamThreshold = cfg.StreamThreshold
			}
			if dest := cmd.String("export-to"); dest != "" {
				params.ExportResources = true
				params.ExportDestination = resgroup.DestinationSettings{
					Type:     resgroup.DestLocalCDN,
					BasePath: dest,
				}
			}

			group := resgroup.NewGroup()
			if err := group.CreateFromDirectory(params); err != nil {
				return err
			}
			if err := group.ExportToFile(resgroup.ExportToFileParams{
				Filename:              cmd.String("output-filename"),
				OutputDocumentVersion: resgroup.CurrentDocVersion,
				Status:                settings,
			}); err != nil {
				return err
			}
			log.Info("created resource group",
				"resources", group.Len(),
				"uncompressed", group.TotalUncompressed(),
				"output", cmd.String("output-filename"),
			)
			return nil
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Re-export a group document at another version (0.0.0 selects legacy CSV)",
		ArgsUsage: "<group-file> <output-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "document-version",
				Usage: "Output document version",
				Value: resgroup.CurrentDocVersion.String(),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected <group-file> <output-file>")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			outVersion, err := resgroup.ParseVersion(cmd.String("document-version"))
			if err != nil {
				return err
			}
			group, err := loadGroupAuto(cmd.Args().Get(0), settings)
			if err != nil {
				return err
			}
			return group.ExportToFile(resgroup.ExportToFileParams{
				Filename:              cmd.Args().Get(1),
				OutputDocumentVersion: outVersion,
				Status:                settings,
			})
		},
	}
}

func mergeCmd() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge two resource groups into a union group",
		ArgsUsage: "<group-file> <other-group-file> <output-file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return fmt.Errorf("expected <group-file> <other-group-file> <output-file>")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			left := resgroup.NewGroup()
			if err := left.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}
			right := resgroup.NewGroup()
			if err := right.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(1), Status: settings}); err != nil {
				return err
			}
			merged := resgroup.NewGroup()
			if err := left.Merge(resgroup.MergeParams{Other: right, Target: merged, Status: settings}); err != nil {
				return err
			}
			if err := merged.ExportToFile(resgroup.ExportToFileParams{
				Filename:              cmd.Args().Get(2),
				OutputDocumentVersion: resgroup.CurrentDocVersion,
				Status:                settings,
			}); err != nil {
				return err
			}
			log.Info("merged resource groups", "resources", merged.Len())
			return nil
		},
	}
}

func diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "List paths added and removed between two groups",
		ArgsUsage: "<group-file> <previous-group-file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected <group-file> <previous-group-file>")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			next := resgroup.NewGroup()
			if err := next.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}
			previous := resgroup.NewGroup()
			if err := previous.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(1), Status: settings}); err != nil {
				return err
			}
			result, err := next.Diff(resgroup.DiffParams{Other: previous, Status: settings})
			if err != nil {
				return err
			}
			for _, p := range result.Additions {
				fmt.Printf("+ %s\n", p)
			}
			for _, p := range result.Removals {
				fmt.Printf("- %s\n", p)
			}
			return nil
		},
	}
}

func removeCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove resources from a group by relative path",
		ArgsUsage: "<group-file> <relative-path>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ignore-missing",
				Usage: "Do not fail when a path is not in the group",
			},
			&cli.StringFlag{
				Name:    "output-filename",
				Aliases: []string{"o"},
				Usage:   "Output filename (defaults to rewriting the input)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 {
				return fmt.Errorf("expected <group-file> and at least one path")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			group := resgroup.NewGroup()
			if err := group.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}
			if err := group.RemoveResources(resgroup.RemoveResourcesParams{
				RelativePaths:   cmd.Args().Slice()[1:],
				ErrorIfNotFound: !cmd.Bool("ignore-missing"),
				Status:          settings,
			}); err != nil {
				return err
			}
			output := cmd.String("output-filename")
			if output == "" {
				output = cmd.Args().Get(0)
			}
			return group.ExportToFile(resgroup.ExportToFileParams{
				Filename:              output,
				OutputDocumentVersion: resgroup.CurrentDocVersion,
				Status:                settings,
			})
		},
	}
}

// inspectSummary is the JSON shape of `inspect --json`.
type inspectSummary struct {
	Type              string `json:"type"`
	Version           string `json:"version"`
	NumberOfResources int    `json:"numberOfResources"`
	TotalUncompressed uint64 `json:"totalUncompressed"`
	TotalCompressed   uint64 `json:"totalCompressed"`
	ChunkSize         uint64 `json:"chunkSize,omitempty"`
	RemovedResources  int    `json:"removedResources,omitempty"`
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print a summary of a group document",
		ArgsUsage: "<group-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Emit the summary as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one group file")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			group, err := loadGroupAuto(cmd.Args().First(), settings)
			if err != nil {
				return err
			}
			summary := inspectSummary{
				Type:              groupTypeName(group),
				Version:           group.Version().String(),
				NumberOfResources: group.Len(),
				TotalUncompressed: group.TotalUncompressed(),
				TotalCompressed:   group.TotalCompressed(),
				ChunkSize:         group.ChunkSize(),
				RemovedResources:  len(group.RemovedResources()),
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Printf("%s %s: %d resources, %d bytes uncompressed, %d bytes compressed\n",
				summary.Type, summary.Version, summary.NumberOfResources,
				summary.TotalUncompressed, summary.TotalCompressed)
			return nil
		},
	}
}

func groupTypeName(g *resgroup.Group) string {
	switch g.Kind() {
	case resgroup.GroupBundle:
		return resgroup.TypeIDBundle
	case resgroup.GroupPatch:
		return resgroup.TypeIDPatch
	default:
		return resgroup.TypeIDPlain
	}
}

func stringOr(cmd *cli.Command, flag, fallback string) string {
	if v := cmd.String(flag); v != "" {
		return v
	}
	return fallback
}
