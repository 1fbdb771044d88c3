package plugin_test

import (
	"testing"

	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/cloud"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/remote"
)

func TestRegistryResolvesByID(t *testing.T) {
	r := plugin.NewRegistry(&remote.Plugin{}, &cloud.Plugin{})

	if _, ok := r.Get("remote"); !ok {
		t.Fatal("expected remote plugin registered")
	}
	if _, ok := r.Get("cloud"); !ok {
		t.Fatal("expected cloud plugin registered")
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected unknown id to miss")
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("All() returned %d plugins, want 2", got)
	}
}
