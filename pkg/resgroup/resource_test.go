package resgroup

import (
	"strings"
	"testing"

	"github.com/cargohold/cargohold/internal/stream"
)

func TestMakeLocationKnownSeed(t *testing.T) {
	t.Parallel()

	checksum := stream.Md5Hex([]byte("some movie bytes"))
	location := MakeLocation("res", "intromovie.txt", checksum)
	if !strings.HasPrefix(location, "a9d1721dd5cc6d54_") {
		t.Fatalf("unexpected path hash prefix: %s", location)
	}
	if location != "a9d1721dd5cc6d54_"+checksum {
		t.Fatalf("unexpected location: %s", location)
	}
}

func TestMakeLocationNormalizesSeparators(t *testing.T) {
	t.Parallel()

	a := MakeLocation("res", "a/b.txt", "00")
	b := MakeLocation("res", "a\\b.txt", "00")
	if a != b {
		t.Fatalf("separator normalization mismatch: %s vs %s", a, b)
	}
}

func TestShard(t *testing.T) {
	t.Parallel()

	if got := Shard("a9d1721dd5cc6d54_ff"); got != "a9" {
		t.Fatalf("shard: got %s", got)
	}
	if got := Shard("a"); got != "a" {
		t.Fatalf("short shard: got %s", got)
	}
}

func TestSetFromDataFillsRow(t *testing.T) {
	t.Parallel()

	r := &Resource{RelativePath: "intromovie.txt", Prefix: "res"}
	if err := r.SetFromData([]byte("Dummy"), true); err != nil {
		t.Fatalf("set from data: %v", err)
	}
	if r.Checksum != "bcf036b6f33e182d4705f4f5b1af13ac" {
		t.Fatalf("checksum: %s", r.Checksum)
	}
	if r.UncompressedSize != 5 {
		t.Fatalf("uncompressed size: %d", r.UncompressedSize)
	}
	if r.CompressedSize == 0 {
		t.Fatalf("compressed size not computed")
	}
	if r.Location != MakeLocation("res", "intromovie.txt", r.Checksum) {
		t.Fatalf("location mismatch: %s", r.Location)
	}
	if r.IsDummy() {
		t.Fatalf("filled row reported dummy")
	}
}

func TestDummyRowInvariant(t *testing.T) {
	t.Parallel()

	r := &Resource{RelativePath: "gone.bin"}
	if !r.IsDummy() {
		t.Fatalf("empty row should be dummy")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	r := &Resource{
		RelativePath: "p",
		Kind:         ResourcePatch,
		Patch:        &PatchInfo{TargetRelativePath: "t", DataOffset: 1},
	}
	c := r.Clone()
	c.Patch.DataOffset = 99
	if r.Patch.DataOffset != 1 {
		t.Fatalf("clone shares patch info")
	}
}
