package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/budget"
	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/netguard"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/ratelimit"
	"github.com/curatorlabs/datacollector/pkg/retry"
)

func testRequest(t *testing.T, row catalog.QueueRow, opts acquire.Options) *acquire.Request {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Policy{MaxAttempts: 2}
	}
	return &acquire.Request{
		Row:    row,
		OutDir: t.TempDir(),
		Enforcer: budget.NewEnforcer(opts.LimitFiles, opts.MaxBytesPerTarget,
			opts.MaxBytesPerFile, budget.NewRunBudget(opts.RunByteBudget)),
		Guard:   netguard.New(nil, true),
		Limiter: ratelimit.Unlimited(),
		Opts:    opts,
		Obs:     observability.Noop(),
	}
}

func rowFor(url string) catalog.QueueRow {
	return catalog.QueueRow{
		ID:       "acme/corpus",
		Download: catalog.Download{Strategy: "http", URL: url},
	}
}

func sha256Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestHTTP_DownloadsFile(t *testing.T) {
	payload := []byte("col_a,col_b\n1,2\n3,4\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/table.csv"), acquire.Options{Execute: true})
	results := HTTP{}.Fetch(context.Background(), req)

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, acquire.StatusOK, res.Status)
	assert.Equal(t, sha256Of(payload), res.SHA256)
	assert.Equal(t, int64(len(payload)), res.ContentLength)
	assert.Equal(t, filepath.Join(req.OutDir, "table.csv"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, res.Path+".part")
}

func TestHTTP_DryRunTouchesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry run must not hit the network")
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: false})
	results := HTTP{}.Fetch(context.Background(), req)

	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusNoop, results[0].Status)

	entries, err := os.ReadDir(req.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHTTP_CachedFileSkipsDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("cached file must not be re-fetched")
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: true})
	require.NoError(t, os.WriteFile(filepath.Join(req.OutDir, "data.bin"), []byte("already here"), 0o644))

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusOK, results[0].Status)
	assert.True(t, results[0].Cached)
	assert.Equal(t, int64(len("already here")), results[0].ContentLength)
}

func TestHTTP_ResumesPartialDownload(t *testing.T) {
	payload := []byte("0123456789abcdef")
	var sawRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "data.bin", time.Now(), strings.NewReader(string(payload)))
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: true, Resume: true})
	part := filepath.Join(req.OutDir, "data.bin.part")
	require.NoError(t, os.WriteFile(part, payload[:6], 0o644))

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, acquire.StatusOK, res.Status)
	assert.Equal(t, "bytes=6-", sawRange.Load())
	assert.Equal(t, sha256Of(payload), res.SHA256)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestHTTP_FullResponseDiscardsPartialPrefix(t *testing.T) {
	payload := []byte("the complete body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Range ignored, status 200 with the full body.
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: true, Resume: true})
	part := filepath.Join(req.OutDir, "data.bin.part")
	require.NoError(t, os.WriteFile(part, []byte("stale prefix"), 0o644))

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusOK, results[0].Status)

	got, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "stale prefix must not survive a 200 response")
}

func TestHTTP_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("served on retry"))
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{
		Execute: true,
		Retry:   retry.Policy{MaxAttempts: 3, BackoffBase: 0, BackoffMax: 0},
	})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusOK, results[0].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTP_HardStatusDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: true})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusError, results[0].Status)
	assert.Equal(t, acquire.ErrDownloadFailed, results[0].Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTP_SHA256MismatchFailsWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("tampered payload"))
	}))
	defer srv.Close()

	row := rowFor(srv.URL + "/data.bin")
	row.Download.ExpectedSHA256 = strings.Repeat("0", 64)
	req := testRequest(t, row, acquire.Options{Execute: true, VerifySHA256: true})

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrSHA256Mismatch, results[0].Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "digest mismatch is not transient")
	assert.NoFileExists(t, filepath.Join(req.OutDir, "data.bin"))
	assert.NoFileExists(t, filepath.Join(req.OutDir, "data.bin.part"))
}

func TestHTTP_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ten bytes!"))
	}))
	defer srv.Close()

	row := rowFor(srv.URL + "/data.bin")
	row.Download.ExpectedSize = 4
	req := testRequest(t, row, acquire.Options{Execute: true})

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrSizeMismatch, results[0].Error)
}

func TestHTTP_SizeHintRejectedBeforeDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversize hint must be rejected before any request")
	}))
	defer srv.Close()

	row := rowFor(srv.URL + "/data.bin")
	row.Download.ExpectedSize = 1 << 30
	req := testRequest(t, row, acquire.Options{Execute: true, MaxBytesPerFile: 1 << 20})

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrLimitExceeded, results[0].Error)
	assert.Equal(t, budget.LimitBytesPerFile, results[0].LimitType)
}

func TestHTTP_PerFileCapCleansUpMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{
		Execute: true, MaxBytesPerFile: 100,
	})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrLimitExceeded, results[0].Error)
	assert.Equal(t, budget.LimitBytesPerFile, results[0].LimitType)

	entries, err := os.ReadDir(req.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial payload removed on breach")
}

// TestHTTP_PerFileCapAcrossChunks streams a body in flushed pieces each
// below the per-file cap; the running file size must still trip it.
func TestHTTP_PerFileCapAcrossChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte(strings.Repeat("x", 60)))
			flusher.Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{
		Execute: true, MaxBytesPerFile: 100,
	})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrLimitExceeded, results[0].Error)
	assert.Equal(t, budget.LimitBytesPerFile, results[0].LimitType)

	entries, err := os.ReadDir(req.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial payload removed on breach")
}

func TestHTTP_GuardBlocksPrivateHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("blocked URL must never be fetched")
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.bin"), acquire.Options{Execute: true})
	req.Guard = netguard.New(nil, false)

	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrBlockedURL, results[0].Error)
	assert.NotEmpty(t, results[0].BlockedURL)
}

func TestHTTP_RejectsHTMLForDataTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Please log in</body></html>"))
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/data.csv"), acquire.Options{Execute: true, ExpectData: true})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrContentType, results[0].Error)

	// Without the expectation HTML counts as text and passes.
	req = testRequest(t, rowFor(srv.URL+"/data.csv"), acquire.Options{Execute: true})
	results = HTTP{}.Fetch(context.Background(), req)
	assert.Equal(t, acquire.StatusOK, results[0].Status)
}

func TestHTTP_ContentDispositionNamesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="observations.csv"`)
		_, _ = w.Write([]byte("a,b\n"))
	}))
	defer srv.Close()

	req := testRequest(t, rowFor(srv.URL+"/download?id=42"), acquire.Options{Execute: true})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.StatusOK, results[0].Status)
	assert.Equal(t, "observations.csv", filepath.Base(results[0].Path))
}

func TestHTTP_MissingURL(t *testing.T) {
	req := testRequest(t, catalog.QueueRow{ID: "x", Download: catalog.Download{Strategy: "http"}},
		acquire.Options{Execute: true})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, acquire.ErrMissingField, results[0].Error)
}

func TestHTTP_MultipleURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload for " + r.URL.Path))
	}))
	defer srv.Close()

	row := catalog.QueueRow{
		ID: "multi/files",
		Download: catalog.Download{
			Strategy: "http",
			URLs:     []string{srv.URL + "/part1.bin", srv.URL + "/part2.bin"},
		},
	}
	req := testRequest(t, row, acquire.Options{Execute: true})
	results := HTTP{}.Fetch(context.Background(), req)
	require.Len(t, results, 2)
	assert.Equal(t, "part1.bin", filepath.Base(results[0].Path))
	assert.Equal(t, "part2.bin", filepath.Base(results[1].Path))
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "data.csv", filenameFromURL("https://x.example/a/b/data.csv?sig=1", 0))
	assert.Equal(t, "payload_3.bin", filenameFromURL("https://x.example/", 3))
	assert.Equal(t, "payload_0.bin", filenameFromURL("://bad", 0))
}

func TestDispositionFilename(t *testing.T) {
	assert.Equal(t, "plain.csv", dispositionFilename(`attachment; filename="plain.csv"`))
	assert.Equal(t, "naïve.csv", dispositionFilename(`attachment; filename*=UTF-8''na%C3%AFve.csv`))
	assert.Empty(t, dispositionFilename(""))
	assert.Empty(t, dispositionFilename("not a header"))
}

func TestContentRangeStart(t *testing.T) {
	start, err := contentRangeStart("bytes 100-999/1000")
	require.NoError(t, err)
	assert.Equal(t, int64(100), start)

	_, err = contentRangeStart("items 0-1/2")
	assert.Error(t, err)
	_, err = contentRangeStart("bytes whole")
	assert.Error(t, err)
}
