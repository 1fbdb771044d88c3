package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadWritesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub", "out.bin")
	var lastProgress Progress
	path, err := Download(context.Background(), srv.URL, dest, func(p Progress) { lastProgress = p }, Options{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
	if lastProgress.ReceivedBytes != 11 {
		t.Fatalf("final progress ReceivedBytes = %d, want 11", lastProgress.ReceivedBytes)
	}
}

func TestDownloadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out"), nil, Options{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("got %v, want http status 404", err)
	}
}

func TestDownloadTooManyRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/next", http.StatusFound)
	}))
	defer srv.Close()

	_, err := Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out"), nil, Options{MaxRedirects: 1})
	if err == nil {
		t.Fatal("expected redirect error")
	}
}

func TestDownloadCancellationRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := Download(ctx, srv.URL, dest, nil, Options{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("partial file should have been removed")
	}
}
