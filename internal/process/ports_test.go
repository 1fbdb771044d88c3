package process

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFindAvailablePortSkipsBoundPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	taken := l.Addr().(*net.TCPAddr).Port

	got, err := FindAvailablePort("127.0.0.1", taken, taken+20)
	if err != nil {
		t.Fatalf("FindAvailablePort: %v", err)
	}
	if got == taken {
		t.Fatalf("expected a free port distinct from %d, got the same", taken)
	}
}

func TestSetPortArgRewritesExisting(t *testing.T) {
	args := []string{"--listen", "0.0.0.0", "--port", "8188", "--cpu"}
	got := SetPortArg(args, "--port", 8199)
	want := []string{"--listen", "0.0.0.0", "--port", "8199", "--cpu"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSetPortArgAppendsWhenMissing(t *testing.T) {
	args := []string{"--cpu"}
	got := SetPortArg(args, "--port", 8188)
	if len(got) != 3 || got[1] != "--port" || got[2] != "8188" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestLooksLikePayloadMatchesKnownMarkers(t *testing.T) {
	cases := []struct {
		cmdline string
		want    bool
	}{
		{"python3 main.py --port 8188", true},
		{"/usr/bin/ComfyUI --listen", true},
		{"/usr/sbin/nginx -g daemon off;", false},
	}
	for _, c := range cases {
		got := LooksLikePayload(&Info{Cmdline: c.cmdline})
		if got != c.want {
			t.Errorf("LooksLikePayload(%q) = %v, want %v", c.cmdline, got, c.want)
		}
	}
}

func TestWaitForPortSucceedsOnceListening(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForPort(ctx, "127.0.0.1", port, 10*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WaitForPort: %v", err)
	}
}

func TestWaitForPortTimesOutWhenNothingListens(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForPort(ctx, "127.0.0.1", 1, 10*time.Millisecond, 50*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWaitForURLSucceedsOnceServerResponds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForURL(ctx, srv.URL, 10*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WaitForURL: %v", err)
	}
}
