package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/cargohold/cargohold/pkg/resgroup"
)

func patchCmd() *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "Compute a binary patch between two resource groups",
		ArgsUsage: "<next-group-file> <previous-group-file> <next-directory> <previous-directory> <output-directory>",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "max-chunk-size",
				Usage: "Window size in bytes for matching and delta generation",
			},
			&cli.BoolFlag{
				Name:  "skip-compression",
				Usage: "Skip computing compressed sizes for delta payloads",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 5 {
				return fmt.Errorf("expected <next-group-file> <previous-group-file> <next-directory> <previous-directory> <output-directory>")
			}
			log := newLogger(cmd)
			cfg := loadConfig(log)
			settings := statusSettings(cmd, log)

			next := resgroup.NewGroup()
			if err := next.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}
			previous := resgroup.NewGroup()
			if err := previous.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(1), Status: settings}); err != nil {
				return err
			}

			windowSize := uint64(cmd.Uint("max-chunk-size"))
			if windowSize == 0 {
				windowSize = cfg.MaxInputChunkSize
			}
			outputDir := cmd.Args().Get(4)

			indexDir, err := os.MkdirTemp("", "cargohold-index-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(indexDir)

			groupName := filepath.Base(cmd.Args().Get(0))
			patch, err := next.CreatePatch(resgroup.CreatePatchParams{
				Previous:          previous,
				MaxInputChunkSize: windowSize,
				SourcePrevious: resgroup.SourceSettings{
					Type:      resgroup.SourceLocalRelative,
					BasePaths: []string{cmd.Args().Get(3)},
				},
				SourceNext: resgroup.SourceSettings{
					Type:      resgroup.SourceLocalRelative,
					BasePaths: []string{cmd.Args().Get(2)},
				},
				PatchPayloadDestination:  resgroup.DestinationSettings{Type: resgroup.DestLocalRelative, BasePath: outputDir},
				PatchManifestDestination: resgroup.DestinationSettings{Type: resgroup.DestLocalRelative, BasePath: outputDir},
				GroupRelativePath:        groupName,
				PatchRelativePath:        patchManifestName(groupName),
				PatchFilePrefix:          "patch",
				IndexDir:                 indexDir,
				CalculateCompressions:    !cmd.Bool("skip-compression"),
				Status:                   settings,
			})
			if err != nil {
				return err
			}
			log.Info("created patch",
				"records", patch.Len(),
				"removed", len(patch.RemovedResources()),
				"output", outputDir,
			)
			return nil
		},
	}
}

func applyCmd() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Apply a patch to a previous group's files",
		ArgsUsage: "<patch-file> <patch-directory> <previous-directory> <destination-directory>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 4 {
				return fmt.Errorf("expected <patch-file> <patch-directory> <previous-directory> <destination-directory>")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			patch := resgroup.NewPatchGroup()
			if err := patch.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}
			if err := patch.Apply(resgroup.ApplyPatchParams{
				PatchSource: resgroup.SourceSettings{
					Type:      resgroup.SourceLocalRelative,
					BasePaths: []string{cmd.Args().Get(1)},
				},
				PreviousBase: cmd.Args().Get(2),
				Destination: resgroup.DestinationSettings{
					Type:     resgroup.DestLocalRelative,
					BasePath: cmd.Args().Get(3),
				},
				Status: settings,
			}); err != nil {
				return err
			}
			log.Info("applied patch", "destination", cmd.Args().Get(3))
			return nil
		},
	}
}

func patchManifestName(groupName string) string {
	ext := filepath.Ext(groupName)
	return groupName[:len(groupName)-len(ext)] + "Patch" + ext
}
