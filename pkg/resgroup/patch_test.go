package resgroup

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func groupFromDir(t *testing.T, dir string) *Group {
	t.Helper()
	g := NewGroup()
	if err := g.CreateFromDirectory(CreateFromDirectoryParams{
		Directory:             dir,
		CalculateCompressions: true,
	}); err != nil {
		t.Fatalf("create group from %s: %v", dir, err)
	}
	return g
}

// buildPatch diffs previous -> next trees and returns the patch group plus
// the patch output directory.
func buildPatch(t *testing.T, prevDir, nextDir string, windowSize uint64) (*Group, string) {
	t.Helper()
	previous := groupFromDir(t, prevDir)
	next := groupFromDir(t, nextDir)

	out := t.TempDir()
	patch, err := next.CreatePatch(CreatePatchParams{
		Previous:          previous,
		MaxInputChunkSize: windowSize,
		SourcePrevious: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{prevDir},
		},
		SourceNext: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{nextDir},
		},
		PatchPayloadDestination:  DestinationSettings{Type: DestLocalRelative, BasePath: out},
		PatchManifestDestination: DestinationSettings{Type: DestLocalRelative, BasePath: out},
		GroupRelativePath:        "NextGroup.yaml",
		PatchRelativePath:        "NextGroupPatch.yaml",
		PatchFilePrefix:          "patch",
		IndexDir:                 filepath.Join(t.TempDir(), "index"),
		CalculateCompressions:    true,
	})
	if err != nil {
		t.Fatalf("create patch: %v", err)
	}
	return patch, out
}

// applyPatchTo replays a patch against a copy of the previous tree and
// returns the destination dir.
func applyPatchTo(t *testing.T, patchDir, prevDir string) string {
	t.Helper()
	patch := NewPatchGroup()
	if err := patch.ImportFromFile(ImportFromFileParams{
		Filename: filepath.Join(patchDir, "NextGroupPatch.yaml"),
	}); err != nil {
		t.Fatalf("import patch manifest: %v", err)
	}

	dest := t.TempDir()
	copyTree(t, prevDir, dest)
	if err := patch.Apply(ApplyPatchParams{
		PatchSource: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{patchDir},
		},
		PreviousBase: prevDir,
		Destination:  DestinationSettings{Type: DestLocalRelative, BasePath: dest},
	}); err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	return dest
}

func copyTree(t *testing.T, from, to string) {
	t.Helper()
	err := filepath.Walk(from, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		t.Fatalf("copy tree: %v", err)
	}
}

func compareTrees(t *testing.T, wantDir, gotDir string, files []string) {
	t.Helper()
	for _, rel := range files {
		want, err := os.ReadFile(filepath.Join(wantDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read want %s: %v", rel, err)
		}
		got, err := os.ReadFile(filepath.Join(gotDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read got %s: %v", rel, err)
		}
		if !bytes.Equal(want, got) {
			t.Fatalf("file %s differs after patch apply", rel)
		}
	}
}

func TestPatchRoundTripModifiedMiddle(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	barOld := make([]byte, 256)
	rng.Read(barOld)
	barNew := append([]byte(nil), barOld...)
	for i := 120; i < 136; i++ {
		barNew[i] ^= 0x5A
	}

	prevDir := writeTree(t, map[string][]byte{
		"a/foo.txt": []byte("hello"),
		"bar.bin":   barOld,
	})
	nextDir := writeTree(t, map[string][]byte{
		"a/foo.txt": []byte("hello"),
		"bar.bin":   barNew,
	})

	patch, out := buildPatch(t, prevDir, nextDir, 64)

	var deltaRecords, copyRecords int
	for _, r := range patch.Resources() {
		if r.Kind != ResourcePatch || r.Patch == nil {
			t.Fatalf("unexpected row in patch group: %+v", r)
		}
		if r.Patch.TargetRelativePath != "bar.bin" {
			t.Fatalf("unchanged file patched: %s", r.Patch.TargetRelativePath)
		}
		if r.Patch.MatchLength > 0 {
			copyRecords++
		} else {
			deltaRecords++
		}
	}
	// The 16 changed bytes straddle at most 2 windows of 64; the unchanged
	// tail yields at least one copy record (the identical prefix run is
	// suppressed and copies through on apply).
	if deltaRecords > 3 {
		t.Fatalf("too many delta records: %d", deltaRecords)
	}
	if copyRecords < 1 {
		t.Fatalf("expected at least one copy record, got %d", copyRecords)
	}
	if len(patch.RemovedResources()) != 0 {
		t.Fatalf("unexpected removals: %v", patch.RemovedResources())
	}

	dest := applyPatchTo(t, out, prevDir)
	compareTrees(t, nextDir, dest, []string{"a/foo.txt", "bar.bin"})
}

func TestPatchIdenticalGroupsIsEmpty(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{"a/foo.txt": []byte("hello"), "bar.bin": []byte("stable")}
	prevDir := writeTree(t, files)
	nextDir := writeTree(t, files)

	patch, _ := buildPatch(t, prevDir, nextDir, 64)
	if patch.Len() != 0 {
		t.Fatalf("identical groups should yield no records, got %d", patch.Len())
	}
	if len(patch.RemovedResources()) != 0 {
		t.Fatalf("identical groups should yield no removals")
	}
}

func TestPatchNewAndRemovedFiles(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	freshData := make([]byte, 300)
	rng.Read(freshData)

	prevDir := writeTree(t, map[string][]byte{
		"keep.txt": []byte("keep"),
		"gone.txt": []byte("deleted content"),
	})
	nextDir := writeTree(t, map[string][]byte{
		"keep.txt":  []byte("keep"),
		"fresh.bin": freshData,
	})

	patch, out := buildPatch(t, prevDir, nextDir, 64)

	if len(patch.RemovedResources()) != 1 || patch.RemovedResources()[0] != "gone.txt" {
		t.Fatalf("removed resources: %v", patch.RemovedResources())
	}

	// A new file arrives as a single whole-payload record.
	var freshRecords int
	for _, r := range patch.Resources() {
		if r.Patch.TargetRelativePath == "fresh.bin" {
			freshRecords++
			if r.Patch.SourceOffset != 0 || r.Patch.DataOffset != 0 {
				t.Fatalf("new-file record offsets: %+v", r.Patch)
			}
		}
	}
	if freshRecords != 1 {
		t.Fatalf("expected a single record for the new file, got %d", freshRecords)
	}

	dest := applyPatchTo(t, out, prevDir)
	compareTrees(t, nextDir, dest, []string{"keep.txt", "fresh.bin"})
	if _, err := os.Stat(filepath.Join(dest, "gone.txt")); !os.IsNotExist(err) {
		t.Fatalf("removed file still present after apply")
	}
}

func TestPatchGrowingAndShrinkingFiles(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(21))
	base := make([]byte, 500)
	rng.Read(base)

	inserted := make([]byte, 100)
	rng.Read(inserted)
	grown := append(append(append([]byte(nil), base[:200]...), inserted...), base[200:]...)

	shrunk := append([]byte(nil), base[:320]...)

	prevDir := writeTree(t, map[string][]byte{
		"grow.bin":   base,
		"shrink.bin": base,
	})
	nextDir := writeTree(t, map[string][]byte{
		"grow.bin":   grown,
		"shrink.bin": shrunk,
	})

	_, out := buildPatch(t, prevDir, nextDir, 64)
	dest := applyPatchTo(t, out, prevDir)
	compareTrees(t, nextDir, dest, []string{"grow.bin", "shrink.bin"})
}

func TestPatchMatchesAfterPreviousCursorExhausted(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(33))
	prev := make([]byte, 192) // three windows of 64
	rng.Read(prev)

	// The next file front-loads enough new data to march the source cursor
	// past the previous file's end before a known window reappears.
	inserted := make([]byte, 256)
	rng.Read(inserted)
	next := append([]byte(nil), prev[:64]...)
	next = append(next, inserted...)
	next = append(next, prev[64:128]...)

	prevDir := writeTree(t, map[string][]byte{"f.bin": prev})
	nextDir := writeTree(t, map[string][]byte{"f.bin": next})

	patch, out := buildPatch(t, prevDir, nextDir, 64)

	// The reappearing window must come back as a copy record against the
	// previous file, not as raw data.
	var reusedCopy bool
	for _, r := range patch.Resources() {
		if r.Patch.MatchLength > 0 && r.Patch.SourceOffset == 64 && r.Patch.DataOffset == 320 {
			reusedCopy = true
		}
	}
	if !reusedCopy {
		t.Fatalf("expected a copy record for the reappearing window, got %+v", patch.Resources())
	}

	dest := applyPatchTo(t, out, prevDir)
	compareTrees(t, nextDir, dest, []string{"f.bin"})
}

func TestPatchManifestRoundTrip(t *testing.T) {
	t.Parallel()

	prevDir := writeTree(t, map[string][]byte{"f.bin": bytes.Repeat([]byte("ab"), 200)})
	nextDir := writeTree(t, map[string][]byte{"f.bin": bytes.Repeat([]byte("ba"), 220)})

	patch, out := buildPatch(t, prevDir, nextDir, 64)

	imported := NewPatchGroup()
	if err := imported.ImportFromFile(ImportFromFileParams{
		Filename: filepath.Join(out, "NextGroupPatch.yaml"),
	}); err != nil {
		t.Fatalf("import patch manifest: %v", err)
	}
	if imported.Len() != patch.Len() {
		t.Fatalf("record count mismatch after round trip")
	}
	if imported.MaxInputChunkSize() != 64 {
		t.Fatalf("max input chunk size lost: %d", imported.MaxInputChunkSize())
	}
	for i, r := range patch.Resources() {
		got := imported.Resources()[i]
		if got.Patch == nil || *got.Patch != *r.Patch {
			t.Fatalf("record %d patch info mismatch:\n got %+v\nwant %+v", i, got.Patch, r.Patch)
		}
	}
}

func TestCreatePatchRejectsMismatchedKinds(t *testing.T) {
	t.Parallel()

	g := NewGroup()
	_, err := g.CreatePatch(CreatePatchParams{
		Previous:          NewBundleGroup(),
		MaxInputChunkSize: 64,
	})
	if CodeOf(err) != CodePatchResourceListMismatch {
		t.Fatalf("expected PATCH_RESOURCE_LIST_MISSMATCH, got %v", err)
	}
}

func TestCreatePatchRejectsZeroWindow(t *testing.T) {
	t.Parallel()

	g := NewGroup()
	_, err := g.CreatePatch(CreatePatchParams{Previous: NewGroup()})
	if CodeOf(err) != CodeInvalidChunkSize {
		t.Fatalf("expected INVALID_CHUNK_SIZE, got %v", err)
	}
}
