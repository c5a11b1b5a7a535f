package resgroup

import (
	"sort"

	"github.com/cargohold/cargohold/internal/status"
)

// sortedResources returns the rows ordered by (relativePath, checksum).
func sortedResources(resources []*Resource) []*Resource {
	out := make([]*Resource, len(resources))
	copy(out, resources)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// MergeParams configure Merge.
type MergeParams struct {
	// Other is the group merged with the receiver.
	Other *Group

	// Target receives a deep copy of the union.
	Target *Group

	Status status.Settings
}

// Merge computes the set union of the receiver and Other by
// (relativePath, checksum), deep-copying every row into Target.
func (g *Group) Merge(params MergeParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Merging resource groups.")

	if params.Target == nil || params.Other == nil {
		return errc(CodeResourceGroupNotSet)
	}

	left := sortedResources(params.Other.resources)
	right := sortedResources(g.resources)

	var union []*Resource
	i, j := 0, 0
	for i < len(left) && j < len(right) {
		switch {
		case left[i].less(right[j]):
			union = append(union, left[i])
			i++
		case right[j].less(left[i]):
			union = append(union, right[j])
			j++
		default:
			union = append(union, left[i])
			i++
			j++
		}
	}
	union = append(union, left[i:]...)
	union = append(union, right[j:]...)

	nested := scope.Nest(20, 80, "Merging resource groups.")
	defer nested.Close()

	step := 100.0
	if n := len(union); n > 0 {
		step = 100.0 / float64(n)
	}
	for i, r := range union {
		if nested.Active() {
			nested.Update(status.Percentage, step*float64(i), step, "Merging Resource")
		}
		params.Target.AddResource(r.Clone())
	}
	return nil
}

// SubtractionParams configure Subtraction, the index-aligned building block
// of patch creation.
type SubtractionParams struct {
	// Other is the "previous" group subtracted from the receiver.
	Other *Group

	// Previous and Next receive index-aligned rows: position i of Previous
	// holds the old entry (or a dummy for additions) and position i of Next
	// the new entry for the i-th potentially-changed resource.
	Previous *Group
	Next     *Group

	// Removed accumulates paths present only in Other.
	Removed []string

	Status status.Settings
}

// Subtraction diffs the receiver against params.Other into two same-length
// groups plus the removed-path list.
func (g *Group) Subtraction(params *SubtractionParams) error {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Calculating diff between two resource groups.")

	if params.Other == nil || params.Previous == nil || params.Next == nil {
		return errc(CodeResourceGroupNotSet)
	}

	here := sortedResources(g.resources)
	other := sortedResources(params.Other.resources)

	otherByPath := make(map[string]*Resource, len(other))
	for _, r := range other {
		otherByPath[r.RelativePath] = r
	}
	hereByPath := make(map[string]*Resource, len(here))
	for _, r := range here {
		hereByPath[r.RelativePath] = r
	}

	// Modified rows: same path on both sides, different checksum.
	modified := scope.Nest(20, 20, "Calculating diff between two resource groups.")
	for _, r := range here {
		o, ok := otherByPath[r.RelativePath]
		if !ok || o.Checksum == r.Checksum {
			continue
		}
		if modified.Active() {
			modified.Update(status.Percentage, 0, 0, "Processing: "+r.RelativePath)
		}
		params.Next.AddResource(r.Clone())
		params.Previous.AddResource(o.Clone())
	}
	modified.Close()

	// Additions: rows only here. The dummy keeps both arrays the same length
	// so patch creation can walk them index-parallel.
	additions := scope.Nest(40, 20, "Calculating diff between two resource groups.")
	for _, r := range here {
		if _, ok := otherByPath[r.RelativePath]; ok {
			continue
		}
		if additions.Active() {
			additions.Update(status.Percentage, 0, 0, "Processing new resource: "+r.RelativePath)
		}
		params.Next.AddResource(r.Clone())
		params.Previous.AddResource(&Resource{RelativePath: r.RelativePath, Kind: r.Kind})
	}
	additions.Close()

	// Removals: rows only in Other.
	removals := scope.Nest(60, 40, "Calculating diff between two resource groups.")
	for _, r := range other {
		if _, ok := hereByPath[r.RelativePath]; ok {
			continue
		}
		if removals.Active() {
			removals.Update(status.Percentage, 0, 0, "Processing removed resource: "+r.RelativePath)
		}
		params.Removed = append(params.Removed, r.RelativePath)
	}
	removals.Close()

	return nil
}

// DiffParams configure Diff.
type DiffParams struct {
	// Other is the group diffed against.
	Other *Group

	Status status.Settings
}

// DiffResult lists the paths added and removed relative to the other group.
type DiffResult struct {
	Additions []string
	Removals  []string
}

// Diff reports the relative paths present only in the receiver (additions)
// and only in Other (removals). Modified files appear in both lists.
func (g *Group) Diff(params DiffParams) (DiffResult, error) {
	scope := status.NewRoot(params.Status)
	defer scope.Close()
	scope.Update(status.Percentage, 0, 20, "Diffing changes as lists.")

	if params.Other == nil {
		return DiffResult{}, errc(CodeResourceGroupNotSet)
	}

	sub := SubtractionParams{
		Other:    params.Other,
		Previous: NewGroup(),
		Next:     NewGroup(),
	}
	if err := g.Subtraction(&sub); err != nil {
		return DiffResult{}, err
	}

	var result DiffResult
	result.Removals = append(result.Removals, sub.Removed...)
	for _, r := range sub.Previous.resources {
		if !r.IsDummy() {
			// A modified file's old content is superseded.
			result.Removals = append(result.Removals, r.RelativePath)
		}
	}
	for _, r := range sub.Next.resources {
		result.Additions = append(result.Additions, r.RelativePath)
	}
	return result, nil
}
