package snapshot

// PayloadDelta describes how the payload identity differs between two
// snapshots; zero value means unchanged.
type PayloadDelta struct {
	FromRef, ToRef       string
	FromCommit, ToCommit string
}

// Changed reports whether the payload identity actually differs.
func (d PayloadDelta) Changed() bool {
	return d.FromRef != d.ToRef || d.FromCommit != d.ToCommit
}

// ExtensionDiff is one added/removed/changed extension entry, keyed by
// (type, dirName) per spec.md §4.10.
type ExtensionDiff struct {
	Key    string
	Kind   string // "added", "removed", "changed"
	Before *Extension
	After  *Extension
}

// PackageDiff is one added/removed/changed package entry.
type PackageDiff struct {
	Name          string
	Kind          string // "added", "removed", "changed"
	BeforeVersion string
	AfterVersion  string
}

// Diff is the full comparison between two snapshots.
type Diff struct {
	Payload    PayloadDelta
	Extensions []ExtensionDiff
	Packages   []PackageDiff
}

func extKey(e Extension) string {
	return string(e.Type) + ":" + e.DirName
}

// CompareSnapshots diffs "from" against "to" (spec.md §4.10's Diff
// operation): payload identity delta, extension added/removed/changed,
// package added/removed/changed.
func CompareSnapshots(from, to *Snapshot) Diff {
	d := Diff{
		Payload: PayloadDelta{
			FromRef: from.Payload.Ref, ToRef: to.Payload.Ref,
			FromCommit: from.Payload.Commit, ToCommit: to.Payload.Commit,
		},
	}

	beforeExt := make(map[string]Extension, len(from.Extensions))
	for _, e := range from.Extensions {
		beforeExt[extKey(e)] = e
	}
	afterExt := make(map[string]Extension, len(to.Extensions))
	for _, e := range to.Extensions {
		afterExt[extKey(e)] = e
	}
	for k, a := range afterExt {
		b, ok := beforeExt[k]
		switch {
		case !ok:
			aCopy := a
			d.Extensions = append(d.Extensions, ExtensionDiff{Key: k, Kind: "added", After: &aCopy})
		case b != a:
			bCopy, aCopy := b, a
			d.Extensions = append(d.Extensions, ExtensionDiff{Key: k, Kind: "changed", Before: &bCopy, After: &aCopy})
		}
	}
	for k, b := range beforeExt {
		if _, ok := afterExt[k]; !ok {
			bCopy := b
			d.Extensions = append(d.Extensions, ExtensionDiff{Key: k, Kind: "removed", Before: &bCopy})
		}
	}

	for name, afterVer := range to.Packages {
		beforeVer, ok := from.Packages[name]
		switch {
		case !ok:
			d.Packages = append(d.Packages, PackageDiff{Name: name, Kind: "added", AfterVersion: afterVer})
		case beforeVer != afterVer:
			d.Packages = append(d.Packages, PackageDiff{Name: name, Kind: "changed", BeforeVersion: beforeVer, AfterVersion: afterVer})
		}
	}
	for name, beforeVer := range from.Packages {
		if _, ok := to.Packages[name]; !ok {
			d.Packages = append(d.Packages, PackageDiff{Name: name, Kind: "removed", BeforeVersion: beforeVer})
		}
	}

	return d
}
