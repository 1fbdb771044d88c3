package deleter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func mkTree(t *testing.T, root string) {
	t.Helper()
	dirs := []string{"a/b", "a/c", "d"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := []string{"a/b/1.txt", "a/c/2.txt", "d/3.txt", "top.txt"}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(root, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	root := filepath.Join(t.TempDir(), "victim")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	mkTree(t, root)

	var lastProgress Progress
	if err := Delete(context.Background(), root, func(p Progress) { lastProgress = p }); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("root should be gone")
	}
	if lastProgress.Removed != lastProgress.Total {
		t.Fatalf("final progress %+v should show removed == total", lastProgress)
	}
}

func TestDeleteCancelledBeforeStart(t *testing.T) {
	root := filepath.Join(t.TempDir(), "victim")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	mkTree(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Delete(ctx, root, nil); err == nil {
		t.Fatal("expected cancellation error")
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatal("root should survive an up-front cancellation")
	}
}
