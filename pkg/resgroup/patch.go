package resgroup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/cargohold/cargohold/internal/chunk"
	"github.com/cargohold/cargohold/internal/status"
	"github.com/cargohold/cargohold/internal/stream"
)

// CreatePatchParams configure CreatePatch.
type CreatePatchParams struct {
	// Previous is the group clients already hold.
	Previous *Group

	// MaxInputChunkSize is the window size for matching and delta
	// generation.
	MaxInputChunkSize uint64

	// SourcePrevious and SourceNext locate the payloads of the two groups.
	SourcePrevious SourceSettings
	SourceNext     SourceSettings

	// PatchPayloadDestination receives delta payloads and the embedded next
	// group manifest payload.
	PatchPayloadDestination DestinationSettings

	// PatchManifestDestination receives the patch manifest payload.
	PatchManifestDestination DestinationSettings

	// GroupRelativePath names the embedded next-group manifest.
	GroupRelativePath string

	// PatchRelativePath names the patch manifest.
	PatchRelativePath string

	// PatchFilePrefix prefixes every patch record name: <prefix>.<id>.
	PatchFilePrefix string

	// IndexDir hosts the chunk-index folders; removal after the build is the
	// caller's responsibility.
	IndexDir string

	// CalculateCompressions computes compressed sizes for delta payloads.
	CalculateCompressions bool

	Status status.Settings
}

// CreatePatch computes a binary delta from params.Previous to the receiver
// and returns the patch group describing it.
func (g *Group) CreatePatch(params CreatePatchParams) (*Group, error) {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Creating Patch")

	if params.Previous == nil {
		return nil, errc(CodeResourceGroupNotSet)
	}
	if params.Previous.kind != g.kind {
		return nil, errc(CodePatchResourceListMismatch)
	}
	if params.MaxInputChunkSize == 0 {
		return nil, errc(CodeInvalidChunkSize)
	}

	patch := NewPatchGroup()
	patch.maxInputChunkSize = params.MaxInputChunkSize

	sub := SubtractionParams{
		Other:    params.Previous,
		Previous: NewGroup(),
		Next:     NewGroup(),
	}
	{
		diffScope := scope.Nest(20, 20, "Creating Patch")
		err := g.Subtraction(&sub)
		diffScope.Close()
		if err != nil {
			return nil, err
		}
	}
	if sub.Previous.Len() != sub.Next.Len() {
		return nil, errc(CodeUnexpectedPatchDiffEncountered)
	}

	patchID := 0
	build := scope.Nest(40, 20, "Generating Patches")
	step := 100.0
	if n := sub.Next.Len(); n > 0 {
		step = 100.0 / float64(n)
	}
	for i := range sub.Next.resources {
		prevRow := sub.Previous.resources[i]
		nextRow := sub.Next.resources[i]
		if build.Active() {
			build.Update(status.Percentage, step*float64(i), step, "Creating patch for: "+nextRow.RelativePath)
		}
		n, err := patch.patchOneResource(prevRow, nextRow, patchID, &params, build)
		if err != nil {
			build.Close()
			return nil, err
		}
		patchID = n
	}
	build.Close()

	patch.removed = append(patch.removed, sub.Removed...)

	// Embed the next-diff group manifest and publish it with the payloads.
	{
		export := scope.Nest(60, 20, "Export ResourceGroups.")
		embedded, err := sub.Next.publishEmbeddedManifest(params.GroupRelativePath, params.PatchPayloadDestination)
		export.Close()
		if err != nil {
			return nil, err
		}
		patch.embedded = embedded
	}

	// Publish the patch manifest itself.
	manifest := scope.Nest(80, 20, "Export ResourceGroups.")
	defer manifest.Close()
	patchData, err := patch.ExportToData(patch.version)
	if err != nil {
		return nil, err
	}
	patchResource := &Resource{RelativePath: params.PatchRelativePath, Kind: ResourceGroupEmbedded}
	if err := patchResource.SetFromData(patchData, true); err != nil {
		return nil, err
	}
	if err := patchResource.PutData(PutDataParams{Destination: params.PatchManifestDestination}, patchData); err != nil {
		return nil, err
	}
	return patch, nil
}

// patchOneResource walks one changed resource and appends its patch records,
// returning the next free patch id.
func (patch *Group) patchOneResource(prevRow, nextRow *Resource, patchID int, params *CreatePatchParams, scope *status.Scope) (int, error) {
	windowSize := params.MaxInputChunkSize

	// A dummy previous row marks a new file: one record carries the whole
	// payload verbatim.
	if prevRow.IsDummy() {
		data, err := nextRow.GetData(GetDataParams{Source: params.SourceNext, ExpectedChecksum: nextRow.Checksum})
		if err != nil {
			return patchID, err
		}
		if err := patch.addDeltaRecord(nextRow.RelativePath, 0, 0, data, patchID, params); err != nil {
			return patchID, err
		}
		return patchID + 1, nil
	}

	prevPath, prevCleanup, err := materializeSource(prevRow, params.SourcePrevious, params.IndexDir)
	if err != nil {
		return patchID, err
	}
	defer prevCleanup()
	nextPath, nextCleanup, err := materializeSource(nextRow, params.SourceNext, params.IndexDir)
	if err != nil {
		return patchID, err
	}
	defer nextCleanup()

	prevSize := prevRow.UncompressedSize
	nextSize := nextRow.UncompressedSize

	index := chunk.NewIndex(prevPath, windowSize, filepath.Join(params.IndexDir, uuid.NewString()))
	if err := index.GenerateChecksumFilter(nextPath); err != nil {
		return patchID, errc(CodeFailedToRetrieveChunkData)
	}
	if err := index.Generate(); err != nil {
		scope.Update(status.Warning, 0, 0, "Index generation failed for "+nextRow.RelativePath)
	}

	var patchSourceOffset uint64
	for dataOffset := uint64(0); dataOffset < nextSize; {
		nextWindow, err := readWindowAt(nextPath, dataOffset, windowSize)
		if err != nil {
			return patchID, errc(CodeFailedToRetrieveChunkData)
		}
		prevWindow, err := readWindowAt(prevPath, patchSourceOffset, windowSize)
		if err != nil {
			return patchID, errc(CodeFailedToRetrieveChunkData)
		}

		// The index covers the whole previous file, so a match is possible
		// even when the moving source cursor has run past its end; matching
		// by content rewinds the cursor instead of degrading to raw data.
		matchOffset, found, err := index.FindMatchingChunk(nextWindow)
		if err != nil {
			return patchID, errc(CodeFailedToRetrieveChunkData)
		}
		if found {
			run, err := chunk.CountMatchingChunks(
				nextPath, int64(dataOffset)+int64(len(nextWindow)),
				prevPath, matchOffset+int64(windowSize), windowSize)
			if err != nil {
				return patchID, errc(CodeFailedToRetrieveChunkData)
			}
			matchSize := windowSize * (1 + run)
			if remaining := prevSize - uint64(matchOffset); matchSize > remaining {
				matchSize = remaining
			}
			// A short final window only proves equality for its own length.
			if remaining := nextSize - dataOffset; matchSize > remaining {
				matchSize = remaining
			}

			identityPrefix := dataOffset == 0 && matchOffset == 0
			if !identityPrefix {
				if err := patch.addCopyRecord(nextRow.RelativePath, dataOffset, uint64(matchOffset), matchSize, prevPath, patchID, params); err != nil {
					return patchID, err
				}
				patchID++
			}
			dataOffset += matchSize
			patchSourceOffset = uint64(matchOffset) + matchSize
			continue
		}

		// No match: delta the next window against the previous window at the
		// moving source offset. An exhausted previous means the window is all
		// new data, stored verbatim.
		payload := nextWindow
		if len(prevWindow) > 0 {
			payload, err = makeDelta(prevWindow, nextWindow)
			if err != nil {
				return patchID, err
			}
		}
		if err := patch.addDeltaRecord(nextRow.RelativePath, dataOffset, patchSourceOffset, payload, patchID, params); err != nil {
			return patchID, err
		}
		patchID++
		dataOffset += uint64(len(nextWindow))
		if len(prevWindow) > 0 {
			patchSourceOffset += uint64(len(prevWindow))
		} else {
			patchSourceOffset += uint64(len(nextWindow))
		}
	}
	return patchID, nil
}

// addDeltaRecord publishes a delta payload and appends its record row.
func (patch *Group) addDeltaRecord(target string, dataOffset, sourceOffset uint64, delta []byte, patchID int, params *CreatePatchParams) error {
	r := &Resource{
		RelativePath: fmt.Sprintf("%s.%d", params.PatchFilePrefix, patchID),
		Kind:         ResourcePatch,
		Patch: &PatchInfo{
			TargetRelativePath: target,
			DataOffset:         dataOffset,
			SourceOffset:       sourceOffset,
		},
	}
	if err := r.SetFromData(delta, params.CalculateCompressions); err != nil {
		return err
	}
	if err := r.PutData(PutDataParams{Destination: params.PatchPayloadDestination}, delta); err != nil {
		return err
	}
	patch.AddResource(r)
	return nil
}

// addCopyRecord appends a pure copy record; no payload is published. The
// matched source region is hashed so the row still satisfies the
// location/checksum invariants.
func (patch *Group) addCopyRecord(target string, dataOffset, sourceOffset, matchLength uint64, prevPath string, patchID int, params *CreatePatchParams) error {
	checksum, err := md5OfFileRange(prevPath, sourceOffset, matchLength)
	if err != nil {
		return errc(CodeFailedToGenerateChecksum)
	}
	r := &Resource{
		RelativePath:     fmt.Sprintf("%s.%d", params.PatchFilePrefix, patchID),
		Checksum:         checksum,
		UncompressedSize: matchLength,
		Kind:             ResourcePatch,
		Patch: &PatchInfo{
			TargetRelativePath: target,
			DataOffset:         dataOffset,
			SourceOffset:       sourceOffset,
			MatchLength:        matchLength,
		},
	}
	r.Location = MakeLocation(r.Prefix, r.RelativePath, r.Checksum)
	patch.AddResource(r)
	return nil
}

// materializeSource returns a local file path for the resource payload,
// downloading remote payloads into workDir.
func materializeSource(r *Resource, src SourceSettings, workDir string) (string, func(), error) {
	if src.Type != SourceRemoteCDN {
		var firstErr error
		for _, base := range src.BasePaths {
			p := r.sourcePath(src.Type, base)
			if _, err := os.Stat(p); err == nil {
				return p, func() {}, nil
			} else if firstErr == nil {
				firstErr = errf(CodeFileNotFound, "%s", p)
			}
		}
		if firstErr == nil {
			firstErr = errc(CodeRequiredInputParameterNotSet)
		}
		return "", func() {}, firstErr
	}
	data, err := r.GetData(GetDataParams{Source: src, ExpectedChecksum: r.Checksum})
	if err != nil {
		return "", func() {}, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", func() {}, errc(CodeFailedToSaveFile)
	}
	p := filepath.Join(workDir, uuid.NewString())
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", func() {}, errc(CodeFailedToSaveFile)
	}
	return p, func() { os.Remove(p) }, nil
}

// readWindowAt reads up to windowSize bytes at offset; past end of file it
// returns an empty slice.
func readWindowAt(path string, offset, windowSize uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset >= uint64(st.Size()) {
		return nil, nil
	}
	n := windowSize
	if remaining := uint64(st.Size()) - offset; remaining < n {
		n = remaining
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// md5OfFileRange hashes length bytes of path starting at offset.
func md5OfFileRange(path string, offset, length uint64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return "", err
	}
	sum := stream.NewMd5Stream()
	buf := make([]byte, 64*1024)
	remaining := length
	for remaining > 0 {
		n := uint64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return "", err
		}
		if err := sum.Push(buf[:n]); err != nil {
			return "", err
		}
		remaining -= n
	}
	return sum.Finish()
}

// ApplyPatchParams configure Apply.
type ApplyPatchParams struct {
	// PatchSource locates delta payloads and the embedded next manifest.
	PatchSource SourceSettings

	// PreviousBase is the directory holding the previous group's files.
	PreviousBase string

	// Destination receives the patched files and the next group manifest.
	Destination DestinationSettings

	Status status.Settings
}

// Apply reconstructs the next group's changed files from the previous files
// and the patch records, deletes removed paths, and writes the next group
// manifest into the destination.
func (g *Group) Apply(params ApplyPatchParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 10, "Applying Patch")

	if g.kind != GroupPatch {
		return errc(CodeFileTypeMismatch)
	}
	if g.embedded == nil {
		return errc(CodeResourceGroupNotSet)
	}

	// Removed paths go first so a renamed file never collides.
	for _, rel := range g.removed {
		os.Remove(filepath.Join(params.Destination.BasePath, filepath.FromSlash(rel)))
	}

	// Load and verify the embedded next manifest.
	groupData, err := g.embedded.GetData(GetDataParams{
		Source:           params.PatchSource,
		ExpectedChecksum: g.embedded.Checksum,
	})
	if err != nil {
		return err
	}
	next := NewGroup()
	if err := next.ImportFromData(groupData); err != nil {
		return err
	}
	nextByPath := make(map[string]*Resource, next.Len())
	for _, r := range next.resources {
		nextByPath[r.RelativePath] = r
	}

	// Group records by target, ordered by data offset. A target with no
	// records is a file whose suppressed identity prefix covered it whole;
	// it is rebuilt entirely from the previous payload.
	records := make(map[string][]*Resource)
	for _, r := range g.resources {
		if r.Kind != ResourcePatch || r.Patch == nil {
			return errc(CodeMalformedResourceGroup)
		}
		target := r.Patch.TargetRelativePath
		if _, ok := nextByPath[target]; !ok {
			return errf(CodeUnexpectedPatchDiffEncountered, "no manifest row for patch target %s", target)
		}
		records[target] = append(records[target], r)
	}
	for target := range records {
		sort.SliceStable(records[target], func(i, j int) bool {
			return records[target][i].Patch.DataOffset < records[target][j].Patch.DataOffset
		})
	}

	rebuild := scope.Nest(10, 80, "Applying Patch")
	step := 100.0
	if n := next.Len(); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, expected := range next.resources {
		if rebuild.Active() {
			rebuild.Update(status.Percentage, step*float64(i), step, "Patching: "+expected.RelativePath)
		}
		if err := g.applyTarget(expected.RelativePath, records[expected.RelativePath], expected, &params); err != nil {
			rebuild.Close()
			return err
		}
	}
	rebuild.Close()

	export := scope.Nest(90, 10, "Exporting data.")
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

// applyTarget rebuilds one file from its record sequence.
func (g *Group) applyTarget(target string, recs []*Resource, expected *Resource, params *ApplyPatchParams) error {
	prevPath := filepath.Join(params.PreviousBase, filepath.FromSlash(target))
	var prevSize uint64
	if st, err := os.Stat(prevPath); err == nil {
		prevSize = uint64(st.Size())
	}

	outRow := &Resource{RelativePath: target, Location: expected.Location, Checksum: expected.Checksum}
	out, err := outRow.openPutStream(params.Destination)
	if err != nil {
		return errc(CodeFailedToSaveToStream)
	}
	checksum := stream.NewMd5Stream()

	write := func(data []byte) error {
		if err := checksum.Push(data); err != nil {
			return errc(CodeFailedToGenerateChecksum)
		}
		if err := out.Write(data); err != nil {
			return errc(CodeFailedToSaveToStream)
		}
		return nil
	}

	// pos tracks how much of the target is rebuilt. Regions no record covers
	// are identity regions suppressed at creation time; they copy through
	// from the previous file at the same offsets.
	windowSize := g.maxInputChunkSize
	var pos uint64
	fillGap := func(until uint64) error {
		if until <= pos {
			return nil
		}
		data, err := readFileRange(prevPath, pos, until-pos)
		if err != nil {
			return errc(CodeFailedToReadFromStream)
		}
		pos = until
		return write(data)
	}

	for _, rec := range recs {
		p := rec.Patch
		if err := fillGap(p.DataOffset); err != nil {
			out.Finish()
			return err
		}
		if p.MatchLength > 0 {
			data, err := readFileRange(prevPath, p.SourceOffset, p.MatchLength)
			if err != nil {
				out.Finish()
				return errc(CodeFailedToReadFromStream)
			}
			if err := write(data); err != nil {
				out.Finish()
				return err
			}
			pos += p.MatchLength
			continue
		}

		payload, err := rec.GetData(GetDataParams{Source: params.PatchSource, ExpectedChecksum: rec.Checksum})
		if err != nil {
			out.Finish()
			return err
		}
		// A record whose source offset lies past the previous file carries
		// its output verbatim; otherwise the payload is a delta against the
		// previous window.
		data := payload
		if prevSize > p.SourceOffset {
			prevWindow, werr := readWindowAt(prevPath, p.SourceOffset, windowSize)
			if werr != nil {
				out.Finish()
				return errc(CodeFailedToReadFromStream)
			}
			data, err = applyDelta(prevWindow, payload)
			if err != nil {
				out.Finish()
				return err
			}
		}
		if err := write(data); err != nil {
			out.Finish()
			return err
		}
		pos += uint64(len(data))
	}
	if err := fillGap(expected.UncompressedSize); err != nil {
		out.Finish()
		return err
	}
	if err := out.Finish(); err != nil {
		return errc(CodeFailedToSaveToStream)
	}

	sum, err := checksum.Finish()
	if err != nil {
		return errc(CodeFailedToGenerateChecksum)
	}
	if sum != expected.Checksum {
		return errf(CodeUnexpectedChunkChecksum, "%s", target)
	}
	return nil
}

// readFileRange reads exactly length bytes at offset.
func readFileRange(path string, offset, length uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
