package snapshot

import (
	"path/filepath"
	"testing"
)

func testEnv(ref string, packages map[string]string) Environment {
	return Environment{
		ReadPayloadRef: func() (Payload, error) { return Payload{Ref: ref, Commit: "abc123"}, nil },
		ListExtensions: func() ([]Extension, error) {
			return []Extension{{ID: "a", Type: ExtensionRegistry, DirName: "ext-a", Enabled: true}}, nil
		},
		FreezePackages: func() (map[string]string, error) { return packages, nil },
	}
}

func TestWriteSkipsIdenticalBootCapture(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	s1, err := Capture(TriggerBoot, "", testEnv("v1", map[string]string{"numpy": "1.0"}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Write(s1); err != nil {
		t.Fatal(err)
	}

	s2, err := Capture(TriggerBoot, "", testEnv("v1", map[string]string{"numpy": "1.0"}))
	if err != nil {
		t.Fatal(err)
	}
	name, err := st.Write(s2)
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Fatalf("expected identical boot capture to be skipped, got %q", name)
	}

	all, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored snapshot, got %d", len(all))
	}
}

func TestWriteCapturesBootWhenChanged(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	s1, _ := Capture(TriggerBoot, "", testEnv("v1", map[string]string{"numpy": "1.0"}))
	st.Write(s1)

	s2, _ := Capture(TriggerBoot, "", testEnv("v2", map[string]string{"numpy": "1.0"}))
	name, err := st.Write(s2)
	if err != nil {
		t.Fatal(err)
	}
	if name == "" {
		t.Fatal("expected a new boot capture to be written when payload ref changed")
	}
}

func TestRestartSnapshotSupersedesPriorUnlabelledRestart(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	s1, _ := Capture(TriggerRestart, "", testEnv("v1", map[string]string{"numpy": "1.0"}))
	name1, err := st.Write(s1)
	if err != nil || name1 == "" {
		t.Fatalf("first restart write: name=%q err=%v", name1, err)
	}

	// Only the package set differs — same payload ref/commit and
	// extension set — so the new restart snapshot should replace it.
	s2, _ := Capture(TriggerRestart, "", testEnv("v1", map[string]string{"numpy": "2.0"}))
	name2, err := st.Write(s2)
	if err != nil || name2 == "" {
		t.Fatalf("second restart write: name=%q err=%v", name2, err)
	}

	all, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the first restart snapshot to be superseded, got %d entries", len(all))
	}
	if all[0].name != name2 {
		t.Fatalf("expected surviving snapshot to be the second write, got %q", all[0].name)
	}
}

func TestLabelledRestartIsNotSuperseded(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	s1, _ := Capture(TriggerRestart, "before lunch", testEnv("v1", map[string]string{"numpy": "1.0"}))
	st.Write(s1)

	s2, _ := Capture(TriggerRestart, "", testEnv("v1", map[string]string{"numpy": "2.0"}))
	st.Write(s2)

	all, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected labelled snapshot to survive, got %d entries", len(all))
	}
}

func TestPruneKeepsOnlyMaxAutoUnlabelled(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	st.MaxAuto = 3

	for i := 0; i < 6; i++ {
		s, _ := Capture(TriggerBoot, "", testEnv(string(rune('a'+i)), map[string]string{"n": "1"}))
		if _, err := st.Write(s); err != nil {
			t.Fatal(err)
		}
	}

	all, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected pruning down to MaxAuto=3, got %d", len(all))
	}
}

func TestPruneNeverRemovesLabelledOrPreUpdate(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	st.MaxAuto = 1

	labelled, _ := Capture(TriggerManual, "important", testEnv("v1", map[string]string{"n": "1"}))
	st.Write(labelled)
	preupdate, _ := Capture(TriggerPreUpdate, "", testEnv("v1", map[string]string{"n": "2"}))
	st.Write(preupdate)

	for i := 0; i < 4; i++ {
		s, _ := Capture(TriggerBoot, "", testEnv(string(rune('a'+i)), map[string]string{"n": "3"}))
		st.Write(s)
	}

	all, err := st.List()
	if err != nil {
		t.Fatal(err)
	}

	var sawLabelled, sawPreUpdate bool
	autoCount := 0
	for _, e := range all {
		if e.snap.Label != "" {
			sawLabelled = true
		}
		if e.snap.Trigger == TriggerPreUpdate {
			sawPreUpdate = true
		}
		if e.snap.Label == "" && e.snap.Trigger == TriggerBoot {
			autoCount++
		}
	}
	if !sawLabelled || !sawPreUpdate {
		t.Fatalf("labelled/pre-update snapshots should never be pruned: %+v", all)
	}
	if autoCount > 1 {
		t.Fatalf("expected at most MaxAuto=1 unlabelled boot snapshots, got %d", autoCount)
	}
}
