package resgroup

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cargohold/cargohold/internal/stream"
)

// makeBundle creates a group from a seeded tree and bundles it, returning the
// bundle group, the tree, its files, and the chunk output directory.
func makeBundle(t *testing.T, chunkSize uint64) (*Group, string, map[string][]byte, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	barData := make([]byte, 256)
	rng.Read(barData)
	files := map[string][]byte{
		"a/foo.txt": []byte("hello"),
		"bar.bin":   barData,
	}
	dir := writeTree(t, files)

	g := NewGroup()
	if err := g.CreateFromDirectory(CreateFromDirectoryParams{
		Directory:             dir,
		CalculateCompressions: true,
	}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	out := t.TempDir()
	bundle, err := g.CreateBundle(CreateBundleParams{
		ChunkSize:         chunkSize,
		FileReadChunkSize: 64,
		Source: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{dir},
		},
		ChunkDestination:          DestinationSettings{Type: DestLocalRelative, BasePath: out},
		BundleManifestDestination: DestinationSettings{Type: DestLocalRelative, BasePath: out},
		GroupRelativePath:         "TestGroup.yaml",
		BundleRelativePath:        "TestGroupBundle.yaml",
		WorkDir:                   filepath.Join(t.TempDir(), "work"),
	})
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	return bundle, dir, files, out
}

func TestCreateBundleChunkLayout(t *testing.T) {
	t.Parallel()

	bundle, _, files, out := makeBundle(t, 128)

	// 5 + 256 = 261 bytes -> chunks of 128, 128, 5.
	if bundle.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", bundle.Len())
	}
	wantSizes := []uint64{128, 128, 5}
	var concatenated []byte
	for i, r := range bundle.Resources() {
		if r.Kind != ResourceChunk {
			t.Fatalf("chunk %d has kind %v", i, r.Kind)
		}
		wantName := "TestGroup" + string(rune('0'+i)) + ".chunk"
		if r.RelativePath != wantName {
			t.Fatalf("chunk %d name %s, want %s", i, r.RelativePath, wantName)
		}
		if r.UncompressedSize != wantSizes[i] {
			t.Fatalf("chunk %d size %d, want %d", i, r.UncompressedSize, wantSizes[i])
		}
		data, err := os.ReadFile(filepath.Join(out, r.RelativePath))
		if err != nil {
			t.Fatalf("chunk %d payload missing: %v", i, err)
		}
		if got := stream.Md5Hex(data); got != r.Checksum {
			t.Fatalf("chunk %d checksum mismatch", i)
		}
		concatenated = append(concatenated, data...)
	}

	// The chunk concatenation equals the member payload concatenation in
	// manifest order.
	var members []byte
	members = append(members, files["a/foo.txt"]...)
	members = append(members, files["bar.bin"]...)
	if !bytes.Equal(concatenated, members) {
		t.Fatalf("chunk stream does not reproduce member payloads")
	}

	if bundle.EmbeddedGroup() == nil {
		t.Fatalf("bundle missing embedded group")
	}
	if bundle.ChunkSize() != 128 {
		t.Fatalf("bundle chunk size %d", bundle.ChunkSize())
	}
}

func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()

	_, _, files, out := makeBundle(t, 128)

	// Re-import the published bundle manifest, then unpack it.
	bundle := NewBundleGroup()
	if err := bundle.ImportFromFile(ImportFromFileParams{
		Filename: filepath.Join(out, "TestGroupBundle.yaml"),
	}); err != nil {
		t.Fatalf("import bundle manifest: %v", err)
	}

	dest := t.TempDir()
	if err := bundle.Unpack(UnpackParams{
		ChunkSource: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{out},
		},
		Destination: DestinationSettings{Type: DestLocalRelative, BasePath: dest},
	}); err != nil {
		t.Fatalf("unpack: %v", err)
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("unpacked file missing %s: %v", rel, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("unpacked file differs: %s", rel)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "TestGroup.yaml")); err != nil {
		t.Fatalf("embedded manifest not copied to destination: %v", err)
	}
}

func TestUnpackDetectsCorruptChunk(t *testing.T) {
	t.Parallel()

	bundle, _, _, out := makeBundle(t, 128)

	chunkPath := filepath.Join(out, bundle.Resources()[1].RelativePath)
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		t.Fatalf("corrupt chunk: %v", err)
	}

	err = bundle.Unpack(UnpackParams{
		ChunkSource: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{out},
		},
		Destination: DestinationSettings{Type: DestLocalRelative, BasePath: t.TempDir()},
	})
	if CodeOf(err) != CodeFailedToGenerateChecksum {
		t.Fatalf("expected FAILED_TO_GENERATE_CHECKSUM, got %v", err)
	}
}

func TestUnpackMissingChunksFails(t *testing.T) {
	t.Parallel()

	bundle, _, _, out := makeBundle(t, 128)

	// Drop the final chunk row so the stream runs dry mid-resource.
	bundle.removeAt(bundle.Len() - 1)

	err := bundle.Unpack(UnpackParams{
		ChunkSource: SourceSettings{
			Type:      SourceLocalRelative,
			BasePaths: []string{out},
		},
		Destination: DestinationSettings{Type: DestLocalRelative, BasePath: t.TempDir()},
	})
	if CodeOf(err) != CodeUnexpectedEndOfChunks {
		t.Fatalf("expected UNEXPECTED_END_OF_CHUNKS, got %v", err)
	}
}

func TestBundleManifestRoundTrip(t *testing.T) {
	t.Parallel()

	bundle, _, _, out := makeBundle(t, 128)

	data, err := os.ReadFile(filepath.Join(out, "TestGroupBundle.yaml"))
	if err != nil {
		t.Fatalf("read bundle manifest: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "Type: BundleGroup") {
		t.Fatalf("bundle manifest missing type:\n%s", text)
	}
	if !strings.Contains(text, "ChunkSize: 128") {
		t.Fatalf("bundle manifest missing chunk size:\n%s", text)
	}

	imported := NewBundleGroup()
	if err := imported.ImportFromFile(ImportFromFileParams{
		Filename: filepath.Join(out, "TestGroupBundle.yaml"),
	}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.Len() != bundle.Len() {
		t.Fatalf("chunk count mismatch after round trip")
	}
	if imported.ChunkSize() != bundle.ChunkSize() {
		t.Fatalf("chunk size mismatch after round trip")
	}
	if imported.EmbeddedGroup() == nil || imported.EmbeddedGroup().Checksum != bundle.EmbeddedGroup().Checksum {
		t.Fatalf("embedded group mismatch after round trip")
	}
}
