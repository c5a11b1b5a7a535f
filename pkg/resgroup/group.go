package resgroup

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cargohold/cargohold/internal/status"
	"github.com/cargohold/cargohold/internal/stream"
)

// GroupKind discriminates the group variants.
type GroupKind int

const (
	GroupPlain GroupKind = iota
	GroupBundle
	GroupPatch
)

// Document type ids, written to the Type tag.
const (
	TypeIDPlain  = "ResourceGroup"
	TypeIDBundle = "BundleGroup"
	TypeIDPatch  = "PatchGroup"
)

func (k GroupKind) typeID() string {
	switch k {
	case GroupBundle:
		return TypeIDBundle
	case GroupPatch:
		return TypeIDPatch
	default:
		return TypeIDPlain
	}
}

// DefaultChunkSize is the bundle chunk size used when none is configured.
const DefaultChunkSize = 1000

// Group is a manifest of resources plus the derived aggregates. Resources
// keep insertion order for serialization; set operations treat them as a set
// keyed by (relativePath, checksum).
type Group struct {
	kind    GroupKind
	version Version

	resources         []*Resource
	totalUncompressed uint64
	totalCompressed   uint64
	compressedValid   bool

	// bundle extension
	embedded  *Resource
	chunkSize uint64

	// patch extension
	maxInputChunkSize uint64
	removed           []string
}

// NewGroup returns an empty plain group at the current document version.
func NewGroup() *Group {
	return &Group{kind: GroupPlain, version: CurrentDocVersion, compressedValid: true}
}

// NewBundleGroup returns an empty bundle group with the default chunk size.
func NewBundleGroup() *Group {
	g := NewGroup()
	g.kind = GroupBundle
	g.chunkSize = DefaultChunkSize
	return g
}

// NewPatchGroup returns an empty patch group.
func NewPatchGroup() *Group {
	g := NewGroup()
	g.kind = GroupPatch
	return g
}

// Kind returns the group variant.
func (g *Group) Kind() GroupKind { return g.kind }

// Version returns the document schema version.
func (g *Group) Version() Version { return g.version }

// Resources returns the manifest rows in insertion order. The slice is the
// group's own backing store; callers must not mutate it.
func (g *Group) Resources() []*Resource { return g.resources }

// Len returns the number of manifest rows.
func (g *Group) Len() int { return len(g.resources) }

// TotalUncompressed returns the summed uncompressed size.
func (g *Group) TotalUncompressed() uint64 { return g.totalUncompressed }

// TotalCompressed returns the summed compressed size, or 0 when any member's
// compressed size is unknown.
func (g *Group) TotalCompressed() uint64 {
	if !g.compressedValid {
		return 0
	}
	return g.totalCompressed
}

// ChunkSize returns the bundle chunk size.
func (g *Group) ChunkSize() uint64 { return g.chunkSize }

// SetChunkSize configures the bundle chunk size.
func (g *Group) SetChunkSize(size uint64) error {
	if size == 0 {
		return errc(CodeInvalidChunkSize)
	}
	g.chunkSize = size
	return nil
}

// EmbeddedGroup returns the embedded parent-group row of a bundle or patch
// group, or nil.
func (g *Group) EmbeddedGroup() *Resource { return g.embedded }

// RemovedResources returns the relative paths a patch deletes on apply.
func (g *Group) RemovedResources() []string { return g.removed }

// MaxInputChunkSize returns the patch window size.
func (g *Group) MaxInputChunkSize() uint64 { return g.maxInputChunkSize }

// AddResource appends a row and updates the aggregates.
func (g *Group) AddResource(r *Resource) {
	g.resources = append(g.resources, r)
	g.totalUncompressed += r.UncompressedSize
	if r.hasCompressedSize() {
		g.totalCompressed += r.CompressedSize
	} else {
		g.compressedValid = false
	}
}

// findByPath returns the first row with the given relative path, checksum
// ignored.
func (g *Group) findByPath(relativePath string) int {
	for i, r := range g.resources {
		if r.RelativePath == relativePath {
			return i
		}
	}
	return -1
}

// removeAt drops the row at index i and updates the aggregates.
func (g *Group) removeAt(i int) {
	r := g.resources[i]
	g.totalUncompressed -= r.UncompressedSize
	if r.hasCompressedSize() {
		g.totalCompressed -= r.CompressedSize
	}
	g.resources = append(g.resources[:i], g.resources[i+1:]...)
}

// RemoveResourcesParams configure RemoveResources.
type RemoveResourcesParams struct {
	// RelativePaths lists the rows to remove, matched by path only.
	RelativePaths []string

	// ErrorIfNotFound makes a missing path fail with RESOURCE_NOT_FOUND.
	ErrorIfNotFound bool

	Status status.Settings
}

// RemoveResources removes rows by relative path.
func (g *Group) RemoveResources(params RemoveResourcesParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 5, "Removing resources from Resource Group")

	if params.RelativePaths == nil {
		return errc(CodeResourceListNotSet)
	}

	nested := scope.Nest(5, 95, "Removing resources from Resource Group")
	defer nested.Close()

	step := 100.0 / float64(len(params.RelativePaths))
	for i, relativePath := range params.RelativePaths {
		if nested.Active() {
			nested.Update(status.Percentage, step*float64(i), step, "Removing resource: "+relativePath)
		}
		idx := g.findByPath(relativePath)
		if idx < 0 {
			if params.ErrorIfNotFound {
				return errf(CodeResourceNotFound, "%s", relativePath)
			}
			continue
		}
		g.removeAt(idx)
	}
	return nil
}

// CreateFromDirectoryParams configure CreateFromDirectory.
type CreateFromDirectoryParams struct {
	Directory string

	// Prefix is the logical namespace recorded on every row.
	Prefix string

	// StreamThreshold is the file size beyond which payloads are streamed
	// instead of loaded whole.
	StreamThreshold uint64

	// CalculateCompressions computes per-row compressed sizes. When false the
	// group's aggregate compressed size resets to zero.
	CalculateCompressions bool

	// ExportResources additionally copies every file to ExportDestination.
	ExportResources   bool
	ExportDestination DestinationSettings

	// OutputDocumentVersion overrides the group's document version.
	OutputDocumentVersion Version

	Status status.Settings
}

// CreateFromDirectory walks dir recursively and adds a row per regular file.
func (g *Group) CreateFromDirectory(params CreateFromDirectoryParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 10, "Creating resource group from directory: "+params.Directory)

	st, err := os.Stat(params.Directory)
	if err != nil || !st.IsDir() {
		return errf(CodeInputDirectoryDoesntExist, "%s", params.Directory)
	}

	if !params.OutputDocumentVersion.IsZero() {
		if CurrentDocVersion.Less(params.OutputDocumentVersion) {
			return errc(CodeDocumentVersionUnsupported)
		}
		g.version = params.OutputDocumentVersion
	}

	threshold := params.StreamThreshold
	if threshold == 0 {
		threshold = 1 << 20
	}

	nested := scope.Nest(10, 90, "Processing Files")
	defer nested.Close()

	walkErr := filepath.WalkDir(params.Directory, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(params.Directory, p)
		if err != nil {
			return errc(CodeFail)
		}
		rel = filepath.ToSlash(rel)
		nested.Update(status.Unbounded, 0, 0, "Processing File: "+p)

		info, err := d.Info()
		if err != nil {
			return errc(CodeFailedToOpenFile)
		}
		if uint64(info.Size()) < threshold {
			return g.addSmallFile(p, rel, params)
		}
		return g.addStreamedFile(p, rel, uint64(info.Size()), threshold, params, nested)
	})
	if walkErr != nil {
		return walkErr
	}

	if !params.CalculateCompressions {
		g.totalCompressed = 0
		g.compressedValid = false
	}
	return nil
}

// addSmallFile loads the whole payload, fills the row from it, and optionally
// exports it.
func (g *Group) addSmallFile(absPath, rel string, params CreateFromDirectoryParams) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return errf(CodeFailedToOpenFile, "%s", absPath)
	}
	r := &Resource{
		RelativePath:    rel,
		Prefix:          params.Prefix,
		BinaryOperation: binaryOperationFor(rel),
	}
	if err := r.SetFromData(data, params.CalculateCompressions); err != nil {
		return err
	}
	g.AddResource(r)

	if params.ExportResources {
		if err := r.PutData(PutDataParams{Destination: params.ExportDestination}, data); err != nil {
			return err
		}
	}
	return nil
}

// addStreamedFile runs the payload once through parallel checksum and
// compression accumulators, then re-streams it for export when requested.
func (g *Group) addStreamedFile(absPath, rel string, size, threshold uint64, params CreateFromDirectoryParams, scope *status.Scope) error {
	in, err := stream.OpenFileIn(absPath, int(threshold))
	if err != nil {
		return errc(CodeFailedToOpenFileStream)
	}
	defer in.Close()

	checksum := stream.NewMd5Stream()
	var gz stream.GzipStream
	var compressedSize uint64
	if params.CalculateCompressions {
		if err := gz.Start(); err != nil {
			return errc(CodeFailedToCompressData)
		}
	}

	for !in.Finished() {
		if scope.Active() {
			step := 100.0 / float64(in.Size())
			scope.Update(status.Percentage, float64(in.Position())*step, step, "Percentage Update")
		}
		data, err := in.Read()
		if err != nil {
			return errc(CodeFailedToReadFromStream)
		}
		if err := checksum.Push(data); err != nil {
			return errc(CodeFailedToGenerateChecksum)
		}
		if params.CalculateCompressions {
			if err := gz.Push(data); err != nil {
				return errc(CodeFailedToCompressData)
			}
			compressedSize += uint64(len(gz.Drain()))
		}
	}
	if params.CalculateCompressions {
		if err := gz.Finish(); err != nil {
			return errc(CodeFailedToCompressData)
		}
		compressedSize += uint64(len(gz.Drain()))
	}
	sum, err := checksum.Finish()
	if err != nil {
		return errc(CodeFailedToGenerateChecksum)
	}

	r := &Resource{
		RelativePath:     rel,
		Prefix:           params.Prefix,
		Checksum:         sum,
		UncompressedSize: size,
		CompressedSize:   compressedSize,
		BinaryOperation:  binaryOperationFor(rel),
	}
	r.Location = MakeLocation(r.Prefix, r.RelativePath, r.Checksum)
	g.AddResource(r)

	if params.ExportResources {
		return g.exportStreamedFile(absPath, threshold, r, params.ExportDestination)
	}
	return nil
}

// exportStreamedFile re-streams a large file into the export destination.
// The payload is read twice: the checksum pass must finish before the
// destination path is known.
func (g *Group) exportStreamedFile(absPath string, threshold uint64, r *Resource, dest DestinationSettings) error {
	out, err := r.openPutStream(dest)
	if err != nil {
		return errc(CodeFailedToSaveToStream)
	}
	in, err := stream.OpenFileIn(absPath, int(threshold))
	if err != nil {
		out.Finish()
		return errc(CodeFailedToOpenFileStream)
	}
	defer in.Close()
	for !in.Finished() {
		data, err := in.Read()
		if err != nil {
			out.Finish()
			return errc(CodeFailedToReadFromStream)
		}
		if err := out.Write(data); err != nil {
			out.Finish()
			return errc(CodeFailedToSaveToStream)
		}
	}
	if err := out.Finish(); err != nil {
		return errc(CodeFailedToSaveToStream)
	}
	return nil
}

// binaryOperationFor derives the opaque per-extension tag recorded on rows.
func binaryOperationFor(rel string) uint32 {
	switch filepath.Ext(rel) {
	case ".gz", ".zip", ".png", ".jpg", ".webm":
		// Already-compressed formats gain nothing from transport compression.
		return 1
	default:
		return 0
	}
}
