package registry

import (
	"path/filepath"
	"testing"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load(filepath.Join(t.TempDir(), "installations.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestUniqueNameAppendsSuffix(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(Record{ID: "a", Name: "Build A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(Record{ID: "b", Name: "Build A"}); err != nil {
		t.Fatal(err)
	}

	got := r.UniqueName("Build A")
	if got != "Build A (2)" {
		t.Fatalf("UniqueName = %q, want %q", got, "Build A (2)")
	}
}

func TestAddRejectsDuplicatePath(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(Record{ID: "a", Name: "A", InstallPath: "/x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(Record{ID: "b", Name: "B", InstallPath: "/x"}); err != errs.ErrDuplicatePath {
		t.Fatalf("got %v, want ErrDuplicatePath", err)
	}
}

func TestReorderKeepsMissingIdsAtTail(t *testing.T) {
	r := newTestRegistry(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Add(Record{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Reorder([]string{"c", "a"}); err != nil {
		t.Fatal(err)
	}

	got := r.List()
	want := []string{"c", "a", "b"}
	for i, w := range want {
		if got[i].ID != w {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, w)
		}
	}
}

func TestPersistenceRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installations.json")
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(Record{ID: "a", Name: "A", InstallPath: "/x"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	list := reloaded.List()
	if len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("reloaded registry = %+v", list)
	}
}

func TestUpdateUnknownInstallation(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update("missing", func(rec *Record) error { return nil })
	if err != errs.ErrUnknownInstallation {
		t.Fatalf("got %v, want ErrUnknownInstallation", err)
	}
}

func TestSeedDefaultsSkipsExisting(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(Record{ID: "a", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SeedDefaults([]Record{{ID: "a", Name: "A-seed"}, {ID: "b", Name: "B"}}); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "A" {
		t.Fatalf("existing record was overwritten: %+v", list[0])
	}
}
