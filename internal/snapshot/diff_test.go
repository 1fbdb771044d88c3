package snapshot

import "testing"

func TestCompareSnapshotsDetectsAllCategories(t *testing.T) {
	from := &Snapshot{
		Payload: Payload{Ref: "v1", Commit: "aaa"},
		Extensions: []Extension{
			{Type: ExtensionRegistry, DirName: "kept", Version: "1.0"},
			{Type: ExtensionRegistry, DirName: "removed-ext"},
			{Type: ExtensionRegistry, DirName: "changed-ext", Version: "1.0"},
		},
		Packages: map[string]string{"kept-pkg": "1.0", "removed-pkg": "1.0", "changed-pkg": "1.0"},
	}
	to := &Snapshot{
		Payload: Payload{Ref: "v2", Commit: "bbb"},
		Extensions: []Extension{
			{Type: ExtensionRegistry, DirName: "kept", Version: "1.0"},
			{Type: ExtensionRegistry, DirName: "changed-ext", Version: "2.0"},
			{Type: ExtensionRegistry, DirName: "added-ext"},
		},
		Packages: map[string]string{"kept-pkg": "1.0", "changed-pkg": "2.0", "added-pkg": "1.0"},
	}

	d := CompareSnapshots(from, to)

	if !d.Payload.Changed() || d.Payload.FromRef != "v1" || d.Payload.ToRef != "v2" {
		t.Fatalf("unexpected payload delta: %+v", d.Payload)
	}

	kinds := map[string]string{}
	for _, e := range d.Extensions {
		kinds[e.Key] = e.Kind
	}
	if kinds["registry:added-ext"] != "added" || kinds["registry:removed-ext"] != "removed" || kinds["registry:changed-ext"] != "changed" {
		t.Fatalf("unexpected extension diff: %+v", d.Extensions)
	}
	if _, present := kinds["registry:kept"]; present {
		t.Fatalf("unchanged extension should not appear in diff: %+v", d.Extensions)
	}

	pkgKinds := map[string]string{}
	for _, p := range d.Packages {
		pkgKinds[p.Name] = p.Kind
	}
	if pkgKinds["added-pkg"] != "added" || pkgKinds["removed-pkg"] != "removed" || pkgKinds["changed-pkg"] != "changed" {
		t.Fatalf("unexpected package diff: %+v", d.Packages)
	}
	if _, present := pkgKinds["kept-pkg"]; present {
		t.Fatalf("unchanged package should not appear in diff: %+v", d.Packages)
	}
}
