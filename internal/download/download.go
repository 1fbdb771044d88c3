// Package download implements the streaming HTTP-to-disk downloader
// (spec.md C4). It follows redirects up to a limit, reports progress on a
// rate-limited cadence, and removes the partial file on cancellation.
//
// Non-goal (spec.md §1): this package is not a general HTTP client; it
// exposes exactly the one operation the core needs, against the standard
// library's net/http.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

// Progress is reported to onProgress at most once per rate-limit window
// (spec.md §4.4: 100ms floor), plus one final report when the body ends.
type Progress struct {
	Percent          float64
	ReceivedBytes    int64
	TotalBytes       int64
	SpeedBytesPerSec float64
	ElapsedSecs      float64
	ETASecs          float64
}

// ProgressFunc receives download progress updates.
type ProgressFunc func(Progress)

// Options configures a single Download call.
type Options struct {
	MaxRedirects int // default 5
}

const progressInterval = 100 * time.Millisecond

// Download streams url's body to destPath, creating destPath's parent
// directory first. ctx cancellation stops the transfer, removes the
// partial file, and returns errs.ErrCancelled.
func Download(ctx context.Context, url, destPath string, onProgress ProgressFunc, opts Options) (string, error) {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errs.ErrRedirects
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", errs.ErrCancelled
		}
		if errors.Is(err, errs.ErrRedirects) {
			return "", errs.ErrRedirects
		}
		return "", fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &errs.HTTPStatus{Code: resp.StatusCode}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", err
	}

	if err := stream(ctx, resp.Body, out, resp.ContentLength, onProgress); err != nil {
		out.Close()
		os.Remove(destPath)
		return "", err
	}

	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return "", err
	}

	return destPath, nil
}

func stream(ctx context.Context, src io.Reader, dst io.Writer, total int64, onProgress ProgressFunc) error {
	buf := make([]byte, 32*1024)
	start := time.Now()
	var received int64
	lastReport := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return errs.ErrCancelled
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			received += int64(n)

			now := time.Now()
			if onProgress != nil && now.Sub(lastReport) >= progressInterval {
				lastReport = now
				reportProgress(onProgress, received, total, start, now)
			}
		}

		if readErr == io.EOF {
			if onProgress != nil {
				reportProgress(onProgress, received, total, start, time.Now())
			}
			return nil
		}
		if readErr != nil {
			if errors.Is(readErr, context.Canceled) {
				return errs.ErrCancelled
			}
			return fmt.Errorf("%w: %v", errs.ErrTransport, readErr)
		}
	}
}

func reportProgress(onProgress ProgressFunc, received, total int64, start, now time.Time) {
	elapsed := now.Sub(start).Seconds()
	speed := float64(0)
	if elapsed > 0 {
		speed = float64(received) / elapsed
	}

	p := Progress{
		ReceivedBytes:    received,
		TotalBytes:       total,
		SpeedBytesPerSec: speed,
		ElapsedSecs:      elapsed,
		Percent:          -1,
	}
	if total > 0 {
		p.Percent = float64(received) / float64(total) * 100
		if speed > 0 {
			p.ETASecs = float64(total-received) / speed
		}
	}
	onProgress(p)
}
