package resgroup

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a document schema version, ordered lexicographically by
// (major, minor, patch).
type Version struct {
	Major int
	Minor int
	Patch int
}

// CurrentDocVersion is the newest document version this build can emit.
// Import ceils newer minor/patch versions down to it and rejects newer
// majors.
var CurrentDocVersion = Version{Major: 0, Minor: 2, Patch: 0}

// csvVersion selects the legacy CSV document format on export.
var csvVersion = Version{}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 ordering v against o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

func (v Version) IsZero() bool { return v == Version{} }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, errf(CodeMalformedResourceGroup, "invalid version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, errf(CodeMalformedResourceGroup, "invalid version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// field is one versioned document parameter: its tag plus the version window
// in which it is emitted and expected.
type field struct {
	tag        string
	introduced Version
	retired    Version // zero value means never retired
}

// inWindow reports whether the field belongs to documents of version v.
func (f field) inWindow(v Version) bool {
	if v.Less(f.introduced) {
		return false
	}
	if !f.retired.IsZero() && !v.Less(f.retired) {
		return false
	}
	return true
}

var (
	v000 = Version{}
	v010 = Version{Minor: 1}
	v020 = Version{Minor: 2}
)

// Top-level document fields.
var (
	fieldVersion           = field{tag: "Version", introduced: v000}
	fieldType              = field{tag: "Type", introduced: v010}
	fieldNumberOfResources = field{tag: "NumberOfResources", introduced: v010}
	fieldTotalUncompressed = field{tag: "TotalResourceSizeUncompressed", introduced: v010}
	fieldTotalCompressed   = field{tag: "TotalResourceSizeCompressed", introduced: v010}
	fieldResources         = field{tag: "Resources", introduced: v010}
	fieldResourceGroup     = field{tag: "ResourceGroup", introduced: v020}
	fieldChunkSize         = field{tag: "ChunkSize", introduced: v020}
	fieldRemovedResources  = field{tag: "RemovedResources", introduced: v020}
	fieldMaxInputChunkSize = field{tag: "MaxInputChunkSize", introduced: v020}
)

// Per-resource fields.
var (
	fieldRelativePath       = field{tag: "RelativePath", introduced: v010}
	fieldPrefix             = field{tag: "Prefix", introduced: v010}
	fieldLocation           = field{tag: "Location", introduced: v010}
	fieldChecksum           = field{tag: "Checksum", introduced: v010}
	fieldUncompressedSize   = field{tag: "UncompressedSize", introduced: v010}
	fieldCompressedSize     = field{tag: "CompressedSize", introduced: v010}
	fieldBinaryOperation    = field{tag: "BinaryOperation", introduced: v010}
	fieldResourceType       = field{tag: "Type", introduced: v020}
	fieldTargetRelativePath = field{tag: "TargetRelativePath", introduced: v020}
	fieldDataOffset         = field{tag: "DataOffset", introduced: v020}
	fieldSourceOffset       = field{tag: "SourceOffset", introduced: v020}
	fieldMatchLength        = field{tag: "MatchLength", introduced: v020}
)
