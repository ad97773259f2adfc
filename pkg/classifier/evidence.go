package classifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/curatorlabs/datacollector/pkg/ledger"
	"github.com/curatorlabs/datacollector/pkg/netguard"
	"github.com/curatorlabs/datacollector/pkg/normalize"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/retry"
)

// DefaultEvidenceCap bounds how much of a license page is read.
const DefaultEvidenceCap = 20 << 20 // 20 MiB

// sensitiveHeaders are never serialized with their real values.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-api-key":     true,
}

// Fetcher retrieves license evidence pages and writes snapshots.
type Fetcher struct {
	Client  *http.Client
	Guard   *netguard.Guard
	Headers map[string]string
	Retry   retry.Policy
	MaxBody int64
	Obs     *observability.Obs

	clock func() time.Time
}

// NewFetcher builds an evidence fetcher. The SSRF guard validates the
// initial URL and every redirect hop.
func NewFetcher(guard *netguard.Guard, headers map[string]string, policy retry.Policy, obs *observability.Obs) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Timeout:       60 * time.Second,
			CheckRedirect: guard.CheckRedirect,
		},
		Guard:   guard,
		Headers: headers,
		Retry:   policy,
		MaxBody: DefaultEvidenceCap,
		Obs:     obs,
		clock:   time.Now,
	}
}

// Fetch retrieves the evidence URL and writes license_evidence.{bin,txt,json}
// under manifestDir. The returned snapshot always carries change flags
// relative to any previous snapshot; a fetch failure yields a snapshot with
// Error set rather than an error return, since evidence failures classify
// the target rather than failing the run.
func (f *Fetcher) Fetch(ctx context.Context, url, manifestDir string) (*EvidenceSnapshot, string) {
	previous := f.loadPrevious(manifestDir)

	snap := &EvidenceSnapshot{
		URL:                 url,
		FetchedAtUTC:        f.clock().UTC().Format(time.RFC3339),
		HeadersUsedRedacted: redactHeaders(f.Headers),
	}

	body, status, contentType, err := f.get(ctx, url)
	snap.Status = status
	if err != nil {
		snap.Error = err.Error()
		f.markChanges(snap, previous)
		f.writeSnapshot(manifestDir, snap, nil, "")
		return snap, ""
	}

	snap.ContentLength = int64(len(body))
	snap.Bytes = int64(len(body))
	snap.RawSHA256 = normalize.SHA256Hex(body)

	text, extractErr := normalize.ExtractText(contentType, body)
	if extractErr != nil {
		snap.TextExtractionFailed = true
		snap.NormalizedSHA256 = snap.RawSHA256
		snap.NormalizedHashFallback = "raw_bytes"
	} else {
		snap.TextExtracted = true
		snap.NormalizedSHA256 = normalize.EvidenceSHA256(text)
	}

	f.markChanges(snap, previous)
	f.writeSnapshot(manifestDir, snap, body, text)
	return snap, text
}

// LoadOffline reads a previously written snapshot for --no-fetch mode.
// Returns (nil, "") if no snapshot exists.
func LoadOffline(manifestDir string) (*EvidenceSnapshot, string) {
	var snap EvidenceSnapshot
	if err := ledger.ReadJSON(filepath.Join(manifestDir, "license_evidence.json"), &snap); err != nil {
		return nil, ""
	}
	text := ""
	if data, err := os.ReadFile(filepath.Join(manifestDir, "license_evidence.txt")); err == nil {
		text = string(data)
	}
	return &snap, text
}

func (f *Fetcher) get(ctx context.Context, url string) (body []byte, status int, contentType string, err error) {
	if err := f.Guard.CheckURL(ctx, url); err != nil {
		return nil, 0, "", err
	}
	var lastErr error
	for attempt := 0; attempt < f.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, "", ctx.Err()
			case <-time.After(f.Retry.Sleep(attempt - 1)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, "", err
		}
		for k, v := range f.Headers {
			req.Header.Set(k, v)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			if blocked, ok := unwrapBlocked(err); ok {
				return nil, 0, "", blocked
			}
			lastErr = err
			continue
		}
		status = resp.StatusCode
		contentType = resp.Header.Get("Content-Type")
		if retry.TransientStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("transient status %d from %s", resp.StatusCode, url)
			continue
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			return nil, status, contentType, fmt.Errorf("evidence fetch failed: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBody))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return data, status, contentType, nil
	}
	return nil, status, contentType, fmt.Errorf("evidence fetch exhausted retries: %w", lastErr)
}

func (f *Fetcher) markChanges(snap, previous *EvidenceSnapshot) {
	if previous == nil {
		return
	}
	snap.RawChangedFromPrevious = previous.RawSHA256 != "" && previous.RawSHA256 != snap.RawSHA256
	snap.NormChangedFromPrevious = previous.NormalizedSHA256 != "" && previous.NormalizedSHA256 != snap.NormalizedSHA256
	snap.CosmeticChange = snap.RawChangedFromPrevious &&
		!snap.NormChangedFromPrevious &&
		previous.NormalizedSHA256 != "" && snap.NormalizedSHA256 != "" &&
		!snap.TextExtractionFailed
}

func (f *Fetcher) loadPrevious(manifestDir string) *EvidenceSnapshot {
	var prev EvidenceSnapshot
	if err := ledger.ReadJSON(filepath.Join(manifestDir, "license_evidence.json"), &prev); err != nil {
		return nil
	}
	return &prev
}

func (f *Fetcher) writeSnapshot(manifestDir string, snap *EvidenceSnapshot, raw []byte, text string) {
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		f.Obs.Log.Error("create manifest dir", "dir", manifestDir, "error", err)
		return
	}
	if raw != nil {
		if err := ledger.WriteBytesAtomic(filepath.Join(manifestDir, "license_evidence.bin"), raw); err != nil {
			f.Obs.Log.Error("write evidence bin", "dir", manifestDir, "error", err)
		}
	}
	if text != "" {
		if err := ledger.WriteBytesAtomic(filepath.Join(manifestDir, "license_evidence.txt"), []byte(text)); err != nil {
			f.Obs.Log.Error("write evidence txt", "dir", manifestDir, "error", err)
		}
	}
	if err := ledger.WriteJSONAtomic(filepath.Join(manifestDir, "license_evidence.json"), snap); err != nil {
		f.Obs.Log.Error("write evidence json", "dir", manifestDir, "error", err)
	}
}

func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = "[redacted]"
		} else {
			out[k] = v
		}
	}
	return out
}

func unwrapBlocked(err error) (*netguard.BlockedError, bool) {
	for err != nil {
		if blocked, ok := err.(*netguard.BlockedError); ok {
			return blocked, true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
