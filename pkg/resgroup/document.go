package resgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cargohold/cargohold/internal/status"
)

// ImportFromFileParams configure ImportFromFile.
type ImportFromFileParams struct {
	Filename string

	Status status.Settings
}

// ImportFromFile loads a manifest document, dispatching on the filename
// extension: ".txt" selects the legacy CSV format, ".yml", ".yaml" or no
// extension selects YAML.
func (g *Group) ImportFromFile(params ImportFromFileParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Importing Resource Group from file.")

	if params.Filename == "" {
		return errc(CodeFileNotFound)
	}
	data, err := os.ReadFile(params.Filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errf(CodeFileNotFound, "%s", params.Filename)
		}
		return errf(CodeFailedToOpenFile, "%s", params.Filename)
	}

	nested := scope.Nest(20, 80, "Importing Resource Group from file.")
	defer nested.Close()

	switch ext := filepath.Ext(params.Filename); ext {
	case ".txt":
		return g.importCSV(string(data), nested)
	case ".yml", ".yaml", "":
		return g.importYAML(data, nested)
	default:
		return errf(CodeUnsupportedFileFormat, "%s", ext)
	}
}

// ExportToFileParams configure ExportToFile.
type ExportToFileParams struct {
	Filename string

	// OutputDocumentVersion selects the emitted schema version, clamped to
	// min(document version, CurrentDocVersion). The zero version selects the
	// legacy CSV format.
	OutputDocumentVersion Version

	Status status.Settings
}

// ExportToFile writes the manifest document.
func (g *Group) ExportToFile(params ExportToFileParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 10, "Exporting Resource Group to file: "+params.Filename)

	nested := scope.Nest(10, 90, "Exporting Resource Group to file: "+params.Filename)
	defer nested.Close()

	var (
		data []byte
		err  error
	)
	if params.OutputDocumentVersion == csvVersion {
		data, err = g.exportCSV(nested)
	} else {
		data, err = g.exportYAML(params.OutputDocumentVersion, nested)
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(params.Filename); dir != "" && dir != "." {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return errf(CodeFailedToSaveFile, "%s", params.Filename)
		}
	}
	if err := os.WriteFile(params.Filename, data, 0o644); err != nil {
		return errf(CodeFailedToSaveFile, "%s", params.Filename)
	}
	return nil
}

// ExportToData serializes the manifest as YAML at the given output version.
func (g *Group) ExportToData(outputVersion Version) ([]byte, error) {
	return g.exportYAML(outputVersion, nil)
}

// clampOutputVersion applies the export clamping rules: never above the
// document's own version, never above what this build supports.
func (g *Group) clampOutputVersion(v Version) Version {
	if g.version.Less(v) {
		v = g.version
	}
	if CurrentDocVersion.Less(v) {
		v = CurrentDocVersion
	}
	return v
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func intNode(v uint64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(v, 10)}
}

func mapAppend(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalarNode(key), value)
}

// exportYAML builds the versioned document tree. Only fields inside the
// output version's window are emitted.
func (g *Group) exportYAML(outputVersion Version, scope *status.Scope) ([]byte, error) {
	scope.Update(status.Percentage, 0, 20, "Exporting Yaml")

	out := g.clampOutputVersion(outputVersion)
	if out == csvVersion && outputVersion != csvVersion {
		// A zero document version cannot carry the YAML schema.
		return nil, errc(CodeDocumentVersionUnsupported)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	mapAppend(root, fieldVersion.tag, scalarNode(out.String()))
	if fieldType.inWindow(out) {
		mapAppend(root, fieldType.tag, scalarNode(g.kind.typeID()))
	}
	if fieldNumberOfResources.inWindow(out) {
		mapAppend(root, fieldNumberOfResources.tag, intNode(uint64(len(g.resources))))
	}
	if fieldTotalCompressed.inWindow(out) && g.compressedValid {
		mapAppend(root, fieldTotalCompressed.tag, intNode(g.totalCompressed))
	}
	if fieldTotalUncompressed.inWindow(out) {
		mapAppend(root, fieldTotalUncompressed.tag, intNode(g.totalUncompressed))
	}

	switch g.kind {
	case GroupBundle:
		if fieldResourceGroup.inWindow(out) && g.embedded != nil {
			mapAppend(root, fieldResourceGroup.tag, exportResourceNode(g.embedded, out))
		}
		if fieldChunkSize.inWindow(out) {
			mapAppend(root, fieldChunkSize.tag, intNode(g.chunkSize))
		}
	case GroupPatch:
		if fieldResourceGroup.inWindow(out) && g.embedded != nil {
			mapAppend(root, fieldResourceGroup.tag, exportResourceNode(g.embedded, out))
		}
		if fieldMaxInputChunkSize.inWindow(out) {
			mapAppend(root, fieldMaxInputChunkSize.tag, intNode(g.maxInputChunkSize))
		}
		if fieldRemovedResources.inWindow(out) {
			seq := &yaml.Node{Kind: yaml.SequenceNode}
			for _, p := range g.removed {
				seq.Content = append(seq.Content, scalarNode(p))
			}
			mapAppend(root, fieldRemovedResources.tag, seq)
		}
	}

	if fieldResources.inWindow(out) {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		step := 100.0
		if n := len(g.resources); n > 0 {
			step = 100.0 / float64(n)
		}
		for i, r := range g.resources {
			if scope.Active() {
				scope.Update(status.Percentage, step*float64(i), step, "Exporting: "+r.RelativePath)
			}
			seq.Content = append(seq.Content, exportResourceNode(r, out))
		}
		mapAppend(root, fieldResources.tag, seq)
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return nil, errc(CodeFail)
	}
	return data, nil
}

// exportResourceNode emits one manifest row within the output version window.
func exportResourceNode(r *Resource, out Version) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode}
	if fieldRelativePath.inWindow(out) {
		mapAppend(m, fieldRelativePath.tag, scalarNode(r.RelativePath))
	}
	if fieldPrefix.inWindow(out) {
		mapAppend(m, fieldPrefix.tag, scalarNode(r.Prefix))
	}
	if fieldLocation.inWindow(out) {
		mapAppend(m, fieldLocation.tag, scalarNode(r.Location))
	}
	if fieldChecksum.inWindow(out) {
		mapAppend(m, fieldChecksum.tag, scalarNode(r.Checksum))
	}
	if fieldUncompressedSize.inWindow(out) {
		mapAppend(m, fieldUncompressedSize.tag, intNode(r.UncompressedSize))
	}
	if fieldCompressedSize.inWindow(out) {
		mapAppend(m, fieldCompressedSize.tag, intNode(r.CompressedSize))
	}
	if fieldBinaryOperation.inWindow(out) {
		mapAppend(m, fieldBinaryOperation.tag, intNode(uint64(r.BinaryOperation)))
	}
	if fieldResourceType.inWindow(out) {
		mapAppend(m, fieldResourceType.tag, scalarNode(r.Kind.String()))
	}
	if r.Kind == ResourcePatch && r.Patch != nil {
		if fieldTargetRelativePath.inWindow(out) {
			mapAppend(m, fieldTargetRelativePath.tag, scalarNode(r.Patch.TargetRelativePath))
		}
		if fieldDataOffset.inWindow(out) {
			mapAppend(m, fieldDataOffset.tag, intNode(r.Patch.DataOffset))
		}
		if fieldSourceOffset.inWindow(out) {
			mapAppend(m, fieldSourceOffset.tag, intNode(r.Patch.SourceOffset))
		}
		if fieldMatchLength.inWindow(out) {
			mapAppend(m, fieldMatchLength.tag, intNode(r.Patch.MatchLength))
		}
	}
	return m
}

// docMap is a parsed YAML mapping with tag lookup and unknown-tag detection.
type docMap struct {
	keys   []string
	values map[string]*yaml.Node
}

func newDocMap(n *yaml.Node) (*docMap, error) {
	if n.Kind != yaml.MappingNode || len(n.Content)%2 != 0 {
		return nil, errc(CodeMalformedResourceGroup)
	}
	m := &docMap{values: make(map[string]*yaml.Node, len(n.Content)/2)}
	for i := 0; i < len(n.Content); i += 2 {
		key := n.Content[i].Value
		m.keys = append(m.keys, key)
		m.values[key] = n.Content[i+1]
	}
	return m, nil
}

func (m *docMap) node(tag string) *yaml.Node { return m.values[tag] }

// checkUnknown rejects any tag outside the known set.
func (m *docMap) checkUnknown(known ...string) error {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	for _, k := range m.keys {
		if _, ok := set[k]; !ok {
			return errf(CodeMalformedResourceGroup, "unknown tag %q", k)
		}
	}
	return nil
}

func (m *docMap) scalar(f field, docVersion Version) (string, bool, error) {
	n := m.node(f.tag)
	if n == nil {
		if docVersion.Less(f.introduced) {
			return "", false, nil
		}
		return "", false, errf(CodeMalformedResourceGroup, "missing tag %q", f.tag)
	}
	if n.Kind != yaml.ScalarNode {
		return "", false, errf(CodeMalformedResourceGroup, "tag %q is not scalar", f.tag)
	}
	return n.Value, true, nil
}

func (m *docMap) uintValue(f field, docVersion Version) (uint64, bool, error) {
	s, ok, err := m.scalar(f, docVersion)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, perr := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if perr != nil {
		return 0, false, errf(CodeMalformedResourceGroup, "tag %q is not an integer", f.tag)
	}
	return v, true, nil
}

// ImportFromData parses a YAML manifest document from memory.
func (g *Group) ImportFromData(data []byte) error {
	return g.importYAML(data, nil)
}

func (g *Group) importYAML(data []byte, scope *status.Scope) error {
	scope.Update(status.Percentage, 0, 30, "Importing from Yaml file.")

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errc(CodeFailedToParseYaml)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return errc(CodeFailedToParseYaml)
	}
	m, err := newDocMap(doc.Content[0])
	if err != nil {
		return err
	}

	typeValue, _, err := m.scalar(fieldType, CurrentDocVersion)
	if err != nil {
		return err
	}
	if typeValue != g.kind.typeID() {
		return errf(CodeFileTypeMismatch, "document type %q, group type %q", typeValue, g.kind.typeID())
	}

	known := []string{
		fieldVersion.tag, fieldType.tag, fieldNumberOfResources.tag,
		fieldTotalCompressed.tag, fieldTotalUncompressed.tag, fieldResources.tag,
	}
	switch g.kind {
	case GroupBundle:
		known = append(known, fieldResourceGroup.tag, fieldChunkSize.tag)
	case GroupPatch:
		known = append(known, fieldResourceGroup.tag, fieldRemovedResources.tag, fieldMaxInputChunkSize.tag)
	}
	if err := m.checkUnknown(known...); err != nil {
		return err
	}

	versionValue, _, err := m.scalar(fieldVersion, CurrentDocVersion)
	if err != nil {
		return err
	}
	docVersion, err := ParseVersion(versionValue)
	if err != nil {
		return err
	}
	if docVersion.Major > CurrentDocVersion.Major {
		return errc(CodeDocumentVersionUnsupported)
	}
	if CurrentDocVersion.Less(docVersion) {
		scope.Update(status.Warning, 0, 0,
			"Supplied resource group version greater than resources build max version. Some data may be lost during import.")
		docVersion = CurrentDocVersion
	}
	g.version = docVersion

	if _, _, err := m.uintValue(fieldNumberOfResources, docVersion); err != nil {
		return err
	}
	if m.node(fieldTotalCompressed.tag) == nil {
		// The compressed total is optional; absence marks it unknown.
		g.compressedValid = false
	} else if _, _, err := m.uintValue(fieldTotalCompressed, docVersion); err != nil {
		return err
	}
	if _, _, err := m.uintValue(fieldTotalUncompressed, docVersion); err != nil {
		return err
	}

	if err := g.importSpecialized(m, docVersion); err != nil {
		return err
	}

	resourcesNode := m.node(fieldResources.tag)
	if resourcesNode == nil {
		if !docVersion.Less(fieldResources.introduced) {
			return errf(CodeMalformedResourceGroup, "missing tag %q", fieldResources.tag)
		}
		return nil
	}
	if resourcesNode.Kind != yaml.SequenceNode {
		return errc(CodeMalformedResourceGroup)
	}

	nested := scope.Nest(30, 70, "Processing Resources.")
	defer nested.Close()

	step := 100.0
	if n := len(resourcesNode.Content); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, rn := range resourcesNode.Content {
		r, err := importResourceNode(rn, docVersion, g.defaultResourceKind())
		if err != nil {
			return err
		}
		if nested.Active() {
			nested.Update(status.Percentage, float64(i)*step, step, "Adding resource: "+r.RelativePath)
		}
		g.AddResource(r)
	}
	return nil
}

// defaultResourceKind is assumed for rows in documents older than the
// per-resource Type tag.
func (g *Group) defaultResourceKind() ResourceKind {
	switch g.kind {
	case GroupBundle:
		return ResourceChunk
	case GroupPatch:
		return ResourcePatch
	default:
		return ResourcePlain
	}
}

// importSpecialized reads the kind-specific top-level tags.
func (g *Group) importSpecialized(m *docMap, docVersion Version) error {
	switch g.kind {
	case GroupBundle:
		if fieldResourceGroup.inWindow(docVersion) {
			rgNode := m.node(fieldResourceGroup.tag)
			if rgNode == nil {
				return errf(CodeMalformedResourceGroup, "missing tag %q", fieldResourceGroup.tag)
			}
			embedded, err := importResourceNode(rgNode, docVersion, ResourceGroupEmbedded)
			if err != nil {
				return err
			}
			g.embedded = embedded
		}
		if fieldChunkSize.inWindow(docVersion) {
			size, ok, err := m.uintValue(fieldChunkSize, docVersion)
			if err != nil {
				return err
			}
			if ok {
				if size == 0 {
					return errc(CodeInvalidChunkSize)
				}
				g.chunkSize = size
			}
		}
	case GroupPatch:
		if fieldResourceGroup.inWindow(docVersion) {
			rgNode := m.node(fieldResourceGroup.tag)
			if rgNode == nil {
				return errf(CodeMalformedResourceGroup, "missing tag %q", fieldResourceGroup.tag)
			}
			embedded, err := importResourceNode(rgNode, docVersion, ResourceGroupEmbedded)
			if err != nil {
				return err
			}
			g.embedded = embedded
		}
		if fieldMaxInputChunkSize.inWindow(docVersion) {
			size, _, err := m.uintValue(fieldMaxInputChunkSize, docVersion)
			if err != nil {
				return err
			}
			g.maxInputChunkSize = size
		}
		if fieldRemovedResources.inWindow(docVersion) {
			rmNode := m.node(fieldRemovedResources.tag)
			if rmNode == nil {
				return errf(CodeMalformedResourceGroup, "missing tag %q", fieldRemovedResources.tag)
			}
			if rmNode.Kind != yaml.SequenceNode {
				return errc(CodeMalformedResourceGroup)
			}
			for _, pn := range rmNode.Content {
				g.removed = append(g.removed, pn.Value)
			}
		}
	}
	return nil
}

// importResourceNode parses one manifest row.
func importResourceNode(n *yaml.Node, docVersion Version, defaultKind ResourceKind) (*Resource, error) {
	m, err := newDocMap(n)
	if err != nil {
		return nil, err
	}
	if err := m.checkUnknown(
		fieldRelativePath.tag, fieldPrefix.tag, fieldLocation.tag, fieldChecksum.tag,
		fieldUncompressedSize.tag, fieldCompressedSize.tag, fieldBinaryOperation.tag,
		fieldResourceType.tag, fieldTargetRelativePath.tag, fieldDataOffset.tag,
		fieldSourceOffset.tag, fieldMatchLength.tag,
	); err != nil {
		return nil, err
	}

	r := &Resource{Kind: defaultKind}
	if r.RelativePath, _, err = m.scalar(fieldRelativePath, docVersion); err != nil {
		return nil, err
	}
	if r.Prefix, _, err = m.scalar(fieldPrefix, docVersion); err != nil {
		return nil, err
	}
	if r.Location, _, err = m.scalar(fieldLocation, docVersion); err != nil {
		return nil, err
	}
	if r.Checksum, _, err = m.scalar(fieldChecksum, docVersion); err != nil {
		return nil, err
	}
	if r.UncompressedSize, _, err = m.uintValue(fieldUncompressedSize, docVersion); err != nil {
		return nil, err
	}
	if r.CompressedSize, _, err = m.uintValue(fieldCompressedSize, docVersion); err != nil {
		return nil, err
	}
	binOp, _, err := m.uintValue(fieldBinaryOperation, docVersion)
	if err != nil {
		return nil, err
	}
	r.BinaryOperation = uint32(binOp)

	if fieldResourceType.inWindow(docVersion) {
		if kindValue, ok, err := m.scalar(fieldResourceType, docVersion); err != nil {
			return nil, err
		} else if ok {
			kind, valid := parseResourceKind(kindValue)
			if !valid {
				return nil, errf(CodeMalformedResourceGroup, "unknown resource type %q", kindValue)
			}
			r.Kind = kind
		}
	}

	if r.Kind == ResourcePatch && m.node(fieldTargetRelativePath.tag) != nil {
		p := &PatchInfo{}
		if p.TargetRelativePath, _, err = m.scalar(fieldTargetRelativePath, docVersion); err != nil {
			return nil, err
		}
		if p.DataOffset, _, err = m.uintValue(fieldDataOffset, docVersion); err != nil {
			return nil, err
		}
		if p.SourceOffset, _, err = m.uintValue(fieldSourceOffset, docVersion); err != nil {
			return nil, err
		}
		if p.MatchLength, _, err = m.uintValue(fieldMatchLength, docVersion); err != nil {
			return nil, err
		}
		r.Patch = p
	}
	return r, nil
}
