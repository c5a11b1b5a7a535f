package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/cargohold/cargohold/pkg/resgroup"
)

func bundleCmd() *cli.Command {
	return &cli.Command{
		Name:      "bundle",
		Usage:     "Pack a resource group's payloads into fixed-size chunks",
		ArgsUsage: "<group-file> <resource-directory> <output-directory>",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "chunk-size",
				Usage: "Chunk payload size in bytes",
			},
			&cli.BoolFlag{
				Name:  "cdn-layout",
				Usage: "Publish chunks under the sharded CDN layout instead of flat files",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return fmt.Errorf("expected <group-file> <resource-directory> <output-directory>")
			}
			log := newLogger(cmd)
			cfg := loadConfig(log)
			settings := statusSettings(cmd, log)

			groupFile := cmd.Args().Get(0)
			resourceDir := cmd.Args().Get(1)
			outputDir := cmd.Args().Get(2)

			group := resgroup.NewGroup()
			if err := group.ImportFromFile(resgroup.ImportFromFileParams{Filename: groupFile, Status: settings}); err != nil {
				return err
			}

			chunkSize := uint64(cmd.Uint("chunk-size"))
			if chunkSize == 0 {
				chunkSize = cfg.ChunkSize
			}
			destType := resgroup.DestLocalRelative
			if cmd.Bool("cdn-layout") {
				destType = resgroup.DestLocalCDN
			}

			workDir, err := os.MkdirTemp("", "cargohold-bundle-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(workDir)

			groupName := filepath.Base(groupFile)
			bundle, err := group.CreateBundle(resgroup.CreateBundleParams{
				ChunkSize:         chunkSize,
				FileReadChunkSize: cfg.StreamThreshold,
				Source: resgroup.SourceSettings{
					Type:      resgroup.SourceLocalRelative,
					BasePaths: []string{resourceDir},
				},
				ChunkDestination:          resgroup.DestinationSettings{Type: destType, BasePath: outputDir},
				BundleManifestDestination: resgroup.DestinationSettings{Type: resgroup.DestLocalRelative, BasePath: outputDir},
				GroupRelativePath:         groupName,
				BundleRelativePath:        bundleManifestName(groupName),
				WorkDir:                   workDir,
				Status:                    settings,
			})
			if err != nil {
				return err
			}
			log.Info("created bundle",
				"chunks", bundle.Len(),
				"chunkSize", bundle.ChunkSize(),
				"output", outputDir,
			)
			return nil
		},
	}
}

func unbundleCmd() *cli.Command {
	return &cli.Command{
		Name:      "unbundle",
		Usage:     "Rebuild a resource group's files from a bundle",
		ArgsUsage: "<bundle-file> <chunk-directory> <destination-directory>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "cdn-layout",
				Usage: "Read chunks from the sharded CDN layout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return fmt.Errorf("expected <bundle-file> <chunk-directory> <destination-directory>")
			}
			log := newLogger(cmd)
			settings := statusSettings(cmd, log)

			bundle := resgroup.NewBundleGroup()
			if err := bundle.ImportFromFile(resgroup.ImportFromFileParams{Filename: cmd.Args().Get(0), Status: settings}); err != nil {
				return err
			}

			srcType := resgroup.SourceLocalRelative
			if cmd.Bool("cdn-layout") {
				srcType = resgroup.SourceLocalCDN
			}
			if err := bundle.Unpack(resgroup.UnpackParams{
				ChunkSource: resgroup.SourceSettings{
					Type:      srcType,
					BasePaths: []string{cmd.Args().Get(1)},
				},
				Destination: resgroup.DestinationSettings{
					Type:     resgroup.DestLocalRelative,
					BasePath: cmd.Args().Get(2),
				},
				Status: settings,
			}); err != nil {
				return err
			}
			log.Info("unpacked bundle", "destination", cmd.Args().Get(2))
			return nil
		},
	}
}

// bundleManifestName derives the bundle manifest filename from the group
// manifest filename.
func bundleManifestName(groupName string) string {
	ext := filepath.Ext(groupName)
	return groupName[:len(groupName)-len(ext)] + "Bundle" + ext
}
