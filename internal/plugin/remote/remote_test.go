package remote

import (
	"context"
	"testing"
)

func TestBuildInstallationRejectsMissingFields(t *testing.T) {
	p := &Plugin{}
	if _, err := p.BuildInstallation(context.Background(), map[string]any{"name": "x"}); err == nil {
		t.Fatal("expected error when remoteUrl is missing")
	}
}

func TestBuildInstallationRejectsInvalidURL(t *testing.T) {
	p := &Plugin{}
	if _, err := p.BuildInstallation(context.Background(), map[string]any{"name": "x", "remoteUrl": "not a url"}); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestGetLaunchCommandExtractsPort(t *testing.T) {
	p := &Plugin{}
	rec, err := p.BuildInstallation(context.Background(), map[string]any{"name": "x", "remoteUrl": "http://10.0.0.5:9000"})
	if err != nil {
		t.Fatalf("BuildInstallation: %v", err)
	}
	lc, err := p.GetLaunchCommand(context.Background(), rec)
	if err != nil {
		t.Fatalf("GetLaunchCommand: %v", err)
	}
	if !lc.Remote || lc.Port != 9000 || lc.URL != "http://10.0.0.5:9000" {
		t.Fatalf("unexpected launch command: %+v", lc)
	}
}
