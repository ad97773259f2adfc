// Package strategies implements the download handlers the acquire worker
// dispatches to: plain HTTP, FTP, git, the Zenodo / Figshare / GitHub
// release JSON APIs, S3 and GCS bucket syncs, and Hugging Face dataset
// parquet exports. Every handler enforces the same budget discipline and,
// for HTTP transports, the same SSRF guard.
package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/retry"
)

// Default returns the standard strategy table.
func Default() map[string]acquire.Handler {
	return map[string]acquire.Handler{
		"http":                 HTTP{},
		"ftp":                  FTP{},
		"git":                  Git{},
		"zenodo":               Zenodo{},
		"figshare":             Figshare{},
		"github_release":       GitHubRelease{},
		"s3_sync":              S3{},
		"aws_requester_pays":   S3{RequesterPays: true},
		"gcs_sync":             GCS{},
		"huggingface_datasets": HuggingFace{},
	}
}

// maxAPIResponse bounds metadata API bodies.
const maxAPIResponse = 8 << 20

// fetchJSON retrieves a metadata API document through the SSRF guard with
// the shared retry schedule.
func fetchJSON(ctx context.Context, req *acquire.Request, rawURL string, v any) error {
	if err := req.Guard.CheckURL(ctx, rawURL); err != nil {
		return err
	}
	client := &http.Client{
		Timeout:       60 * time.Second,
		CheckRedirect: req.Guard.CheckRedirect,
	}
	var lastErr error
	for attempt := 0; attempt < req.Opts.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(req.Opts.Retry.Sleep(attempt - 1)):
			}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Accept", "application/json")
		resp, err := client.Do(httpReq)
		if err != nil {
			if be, ok := asBlocked(err); ok {
				return be
			}
			lastErr = err
			continue
		}
		if retry.TransientStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("transient status %d from %s", resp.StatusCode, rawURL)
			continue
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			return fmt.Errorf("api status %d from %s", resp.StatusCode, rawURL)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return json.Unmarshal(data, v)
	}
	return fmt.Errorf("api fetch exhausted retries: %w", lastErr)
}
