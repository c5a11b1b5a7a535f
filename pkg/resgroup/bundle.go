package resgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cargohold/cargohold/internal/chunk"
	"github.com/cargohold/cargohold/internal/status"
	"github.com/cargohold/cargohold/internal/stream"
)

// CreateBundleParams configure CreateBundle.
type CreateBundleParams struct {
	// ChunkSize is the fixed chunk payload size.
	ChunkSize uint64

	// FileReadChunkSize bounds per-read buffers when streaming resources.
	FileReadChunkSize uint64

	// Source locates the member payloads.
	Source SourceSettings

	// ChunkDestination receives the chunk payloads and the embedded group
	// manifest payload.
	ChunkDestination DestinationSettings

	// BundleManifestDestination receives the bundle manifest payload.
	BundleManifestDestination DestinationSettings

	// GroupRelativePath names the embedded group manifest; its base name
	// (extension stripped) prefixes every chunk name.
	GroupRelativePath string

	// BundleRelativePath names the bundle manifest.
	BundleRelativePath string

	// WorkDir stages chunk artifacts; it must be writable.
	WorkDir string

	Status status.Settings
}

// CreateBundle packs the group's payloads into fixed-size chunks and returns
// the bundle group describing them. The source group itself is embedded in
// the bundle manifest so the bundle is self-describing.
func (g *Group) CreateBundle(params CreateBundleParams) (*Group, error) {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 5, "Creating Bundle")

	bundle := NewBundleGroup()
	if err := bundle.SetChunkSize(params.ChunkSize); err != nil {
		return nil, err
	}

	chunkBaseName := strings.TrimSuffix(filepath.Base(params.GroupRelativePath), filepath.Ext(params.GroupRelativePath))

	out, err := chunk.NewStreamOut(params.ChunkSize, params.WorkDir)
	if err != nil {
		return nil, errc(CodeInvalidChunkSize)
	}

	scope.Update(status.Percentage, 5, 40, "Generating Chunks")

	numberOfChunks := 0
	nested := scope.Nest(45, 35, "Generating Chunks")

	step := 100.0
	if n := len(g.resources); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, r := range g.resources {
		if nested.Active() {
			message := "Processing: " + r.RelativePath
			if r.Location == "" {
				message = "No file to process: " + r.RelativePath
			}
			nested.Update(status.Percentage, step*float64(i), step, message)
		}
		if r.Location == "" {
			continue
		}

		getParams := GetDataParams{Source: params.Source}
		err := r.GetDataStream(getParams, int(params.FileReadChunkSize), func(data []byte) error {
			out.Push(data)
			for {
				staged, outOfChunks, err := out.Pull(false)
				if err != nil {
					return errc(CodeFailedToReadFromStream)
				}
				if outOfChunks {
					return nil
				}
				err = bundle.addChunk(staged, chunkBaseName, numberOfChunks, params.ChunkDestination)
				staged.Remove()
				if err != nil {
					return err
				}
				numberOfChunks++
			}
		})
		if err != nil {
			nested.Close()
			return nil, err
		}
	}
	nested.Close()

	// Flush the tail chunk.
	staged, outOfChunks, err := out.Pull(true)
	if err != nil {
		return nil, errc(CodeFailedToReadFromStream)
	}
	if !outOfChunks && staged != nil {
		err = bundle.addChunk(staged, chunkBaseName, numberOfChunks, params.ChunkDestination)
		staged.Remove()
		if err != nil {
			return nil, err
		}
	}

	// Embed the source group manifest and publish it with the chunks.
	export := scope.Nest(80, 10, "Exporting ResourceGroups")
	embedded, err := g.publishEmbeddedManifest(params.GroupRelativePath, params.ChunkDestination)
	export.Close()
	if err != nil {
		return nil, err
	}
	bundle.embedded = embedded

	// Publish the bundle manifest itself.
	manifest := scope.Nest(90, 10, "Exporting ResourceGroups")
	defer manifest.Close()
	bundleData, err := bundle.ExportToData(bundle.version)
	if err != nil {
		return nil, err
	}
	bundleResource := &Resource{RelativePath: params.BundleRelativePath, Kind: ResourceGroupEmbedded}
	if err := bundleResource.SetFromData(bundleData, true); err != nil {
		return nil, err
	}
	if err := bundleResource.PutData(PutDataParams{Destination: params.BundleManifestDestination}, bundleData); err != nil {
		return nil, err
	}
	return bundle, nil
}

// addChunk hashes a staged chunk, publishes the artifact the destination kind
// requires, and records the chunk row on the bundle manifest.
func (g *Group) addChunk(staged *chunk.Staged, chunkBaseName string, index int, dest DestinationSettings) error {
	name := fmt.Sprintf("%s%d.chunk", chunkBaseName, index)
	r := &Resource{
		RelativePath:     name,
		Checksum:         stream.Md5Hex(staged.Data),
		UncompressedSize: staged.UncompressedSize,
		CompressedSize:   staged.CompressedSize,
		Kind:             ResourceChunk,
	}
	r.Location = MakeLocation(r.Prefix, r.RelativePath, r.Checksum)

	source := staged.UncompressedPath
	if dest.Type == DestRemoteCDN {
		source = staged.CompressedPath
	}
	target := r.destinationPath(dest)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errf(CodeFailedToSaveFile, "%s", target)
	}
	if err := copyFile(source, target); err != nil {
		return errf(CodeFailedToSaveFile, "%s", target)
	}

	g.AddResource(r)
	return nil
}

// publishEmbeddedManifest exports the group manifest, wraps it in a
// GroupEmbedded row, and publishes the payload to the destination.
func (g *Group) publishEmbeddedManifest(relativePath string, dest DestinationSettings) (*Resource, error) {
	data, err := g.ExportToData(g.version)
	if err != nil {
		return nil, err
	}
	r := &Resource{RelativePath: relativePath, Kind: ResourceGroupEmbedded}
	if err := r.SetFromData(data, true); err != nil {
		return nil, err
	}
	if err := r.PutData(PutDataParams{Destination: dest}, data); err != nil {
		return nil, err
	}
	return r, nil
}

func copyFile(source, target string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

// UnpackParams configure Unpack.
type UnpackParams struct {
	// ChunkSource locates the chunk payloads and the embedded manifest.
	ChunkSource SourceSettings

	// Destination receives the rebuilt files and a copy of the embedded
	// group manifest.
	Destination DestinationSettings

	Status status.Settings
}

// Unpack rebuilds every file of the embedded group from the bundle's chunk
// sequence, verifying chunk and file checksums along the way.
func (g *Group) Unpack(params UnpackParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Rebuilding resources.")

	if g.kind != GroupBundle {
		return errc(CodeFileTypeMismatch)
	}
	if g.embedded == nil {
		return errc(CodeResourceGroupNotSet)
	}

	// Load and verify the embedded group manifest.
	groupData, err := g.embedded.GetData(GetDataParams{
		Source:           params.ChunkSource,
		ExpectedChecksum: g.embedded.Checksum,
	})
	if err != nil {
		if CodeOf(err) == CodeFileNotFound {
			return errf(CodeOf(err), "failed to import resource group data from the following paths: %q",
				params.ChunkSource.BasePaths)
		}
		return err
	}

	inner := NewGroup()
	{
		parse := scope.Nest(20, 20, "Rebuilding resources.")
		err = inner.ImportFromData(groupData)
		parse.Close()
		if err != nil {
			return err
		}
	}

	in := chunk.NewStreamIn()
	chunkCursor := 0

	rebuild := scope.Nest(40, 40, "Rebuilding resources.")

	step := 100.0
	if n := inner.Len(); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, r := range inner.resources {
		if rebuild.Active() {
			message := "Rebuilding: " + r.RelativePath
			if r.Location == "" {
				message = "Nothing to rebuild: " + r.RelativePath
			}
			rebuild.Update(status.Percentage, step*float64(i), step, message)
		}
		if r.Location == "" {
			continue
		}

		// Feed chunks until the cache covers this resource.
		for in.CacheSize() < r.UncompressedSize {
			if chunkCursor >= len(g.resources) {
				rebuild.Close()
				return errc(CodeUnexpectedEndOfChunks)
			}
			chunkRow := g.resources[chunkCursor]
			chunkData, err := chunkRow.GetData(GetDataParams{
				Source:           params.ChunkSource,
				ExpectedChecksum: chunkRow.Checksum,
			})
			if err != nil {
				rebuild.Close()
				return err
			}
			in.Push(chunkData)
			chunkCursor++
		}

		data, err := in.PullFile(r.UncompressedSize)
		if err != nil {
			rebuild.Close()
			return errc(CodeFailedToRetrieveChunkData)
		}
		if stream.Md5Hex(data) != r.Checksum {
			rebuild.Close()
			return errf(CodeUnexpectedChunkChecksum, "%s", r.RelativePath)
		}
		if err := r.PutData(PutDataParams{Destination: params.Destination}, data); err != nil {
			rebuild.Close()
			return err
		}
	}
	rebuild.Close()

	// Write the embedded manifest file into the destination.
	export := scope.Nest(80, 20, "Exporting data.")
	defer export.Close()
	manifestPath := filepath.Join(params.Destination.BasePath, filepath.FromSlash(g.embedded.RelativePath))
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return errf(CodeFailedToSaveFile, "%s", manifestPath)
	}
	if err := os.WriteFile(manifestPath, groupData, 0o644); err != nil {
		return errf(CodeFailedToSaveFile, "%s", manifestPath)
	}
	return nil
}
