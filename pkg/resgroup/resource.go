// Package resgroup manages versioned, content-addressed resource groups: a
// manifest describes every file of a delivery, and operations on manifests
// produce deliverable artifacts — chunked bundles, binary patches, and
// set-algebraic combinations — backed by a content-derived storage layout.
package resgroup

import (
	"strings"

	"github.com/cargohold/cargohold/internal/stream"
)

// ResourceKind discriminates the manifest row variants.
type ResourceKind int

const (
	// ResourcePlain is an ordinary file row.
	ResourcePlain ResourceKind = iota
	// ResourceChunk is a fixed-size slice of a bundle's virtual stream.
	ResourceChunk
	// ResourcePatch is a copy or delta record of a patch group.
	ResourcePatch
	// ResourceGroupEmbedded is a serialized group stored as a resource so
	// bundles and patches are self-describing.
	ResourceGroupEmbedded
)

var resourceKindNames = map[ResourceKind]string{
	ResourcePlain:         "Plain",
	ResourceChunk:         "Chunk",
	ResourcePatch:         "Patch",
	ResourceGroupEmbedded: "GroupEmbedded",
}

func (k ResourceKind) String() string {
	if name, ok := resourceKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

func parseResourceKind(s string) (ResourceKind, bool) {
	for k, name := range resourceKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// PatchInfo extends a patch-record row with its placement in the
// reconstructed file. MatchLength > 0 marks a pure copy record with no
// payload bytes.
type PatchInfo struct {
	TargetRelativePath string
	DataOffset         uint64
	SourceOffset       uint64
	MatchLength        uint64
}

// Resource is one manifest row. A row with empty location, empty checksum
// and zero size is a dummy used to pad subtraction results.
type Resource struct {
	RelativePath     string
	Prefix           string
	Location         string
	Checksum         string
	UncompressedSize uint64
	CompressedSize   uint64
	BinaryOperation  uint32
	Kind             ResourceKind

	// Patch is set only on ResourcePatch rows.
	Patch *PatchInfo
}

// MakeLocation derives the content-address storage key for a path and an MD5
// content checksum.
func MakeLocation(prefix, relativePath, checksum string) string {
	return stream.Fnv1a64Hex(prefix+":/"+strings.ReplaceAll(relativePath, "\\", "/")) + "_" + checksum
}

// Shard returns the storage shard directory for a location.
func Shard(location string) string {
	if len(location) < 2 {
		return location
	}
	return location[:2]
}

// IsDummy reports whether the row is a padding entry.
func (r *Resource) IsDummy() bool {
	return r.Location == "" && r.Checksum == "" && r.UncompressedSize == 0
}

// hasCompressedSize reports whether the row's compressed size was computed.
func (r *Resource) hasCompressedSize() bool {
	return r.CompressedSize != 0 || r.UncompressedSize == 0
}

// less orders rows by (relativePath, checksum) ascending, the ordering every
// set operation uses.
func (r *Resource) less(o *Resource) bool {
	if r.RelativePath != o.RelativePath {
		return r.RelativePath < o.RelativePath
	}
	return r.Checksum < o.Checksum
}

// equal compares identity by (relativePath, checksum).
func (r *Resource) equal(o *Resource) bool {
	return r.RelativePath == o.RelativePath && r.Checksum == o.Checksum
}

// Clone deep-copies the row.
func (r *Resource) Clone() *Resource {
	c := *r
	if r.Patch != nil {
		p := *r.Patch
		c.Patch = &p
	}
	return &c
}

// SetFromData fills checksum, sizes and location from the payload bytes.
// Compressed size is computed only when calculateCompression is set.
func (r *Resource) SetFromData(data []byte, calculateCompression bool) error {
	r.Checksum = stream.Md5Hex(data)
	r.UncompressedSize = uint64(len(data))
	if calculateCompression {
		compressed, err := stream.GzipCompress(data)
		if err != nil {
			return errc(CodeFailedToCompressData)
		}
		r.CompressedSize = uint64(len(compressed))
	}
	r.Location = MakeLocation(r.Prefix, r.RelativePath, r.Checksum)
	return nil
}
