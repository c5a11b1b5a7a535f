package resgroup

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cargohold/cargohold/internal/status"
)

// csvUpgradeVersion is the in-memory document version after a legacy CSV
// import.
var csvUpgradeVersion = Version{Minor: 1}

// importCSV parses the legacy line format
// <prefix>:/<relativePath>,<location>,<checksum>,<uncompressedSize>,<compressedSize>[,<binaryOperation>].
func (g *Group) importCSV(data string, scope *status.Scope) error {
	scope.Update(status.Percentage, 0, 10, "Importing Resource Group from CSV file.")

	nested := scope.Nest(10, 90, "Importing Resource Group from CSV file.")
	defer nested.Close()

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			return errf(CodeMalformedResourceInput, "%q", line)
		}

		prefix, relativePath, ok := strings.Cut(fields[0], ":/")
		if !ok {
			relativePath = fields[0]
			prefix = ""
		}

		uncompressed, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return errf(CodeMalformedResourceInput, "%q", line)
		}
		compressed, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return errf(CodeMalformedResourceInput, "%q", line)
		}
		var binaryOperation uint64
		if len(fields) > 5 {
			binaryOperation, err = strconv.ParseUint(fields[5], 10, 64)
			if err != nil || binaryOperation > math.MaxUint32 {
				return errf(CodeMalformedResourceInput, "%q", line)
			}
		}

		g.version = csvUpgradeVersion

		r := &Resource{
			RelativePath:     relativePath,
			Prefix:           prefix,
			Location:         fields[1],
			Checksum:         fields[2],
			UncompressedSize: uncompressed,
			CompressedSize:   compressed,
			BinaryOperation:  uint32(binaryOperation),
		}
		g.AddResource(r)
		nested.Update(status.Unbounded, 0, 0, "Imported resource: "+relativePath)
	}
	return nil
}

// exportCSV emits the legacy format, sorted by relative path. Only plain
// groups carry it.
func (g *Group) exportCSV(scope *status.Scope) ([]byte, error) {
	scope.Update(status.Percentage, 0, 10, "Exporting to CSV")

	if g.kind != GroupPlain {
		return nil, errc(CodeUnsupportedFileFormat)
	}

	sorted := make([]*Resource, len(g.resources))
	copy(sorted, g.resources)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RelativePath < sorted[j].RelativePath
	})

	nested := scope.Nest(10, 90, "Exporting to CSV")
	defer nested.Close()

	var b strings.Builder
	step := 100.0
	if n := len(sorted); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, r := range sorted {
		if nested.Active() {
			nested.Update(status.Percentage, step*float64(i), step, "Percentage Update")
		}
		fmt.Fprintf(&b, "%s:/%s,%s,%s,%d,%d,%d\n",
			r.Prefix, r.RelativePath, r.Location, r.Checksum,
			r.UncompressedSize, r.CompressedSize, r.BinaryOperation)
	}
	return []byte(b.String()), nil
}
