package strategies

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/netguard"
	"github.com/curatorlabs/datacollector/pkg/retry"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

const downloadChunk = 1 << 20 // 1 MiB

// allowedContentTypes is the default payload allowlist, matched by prefix.
var allowedContentTypes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/yaml",
	"application/x-yaml",
	"application/zip",
	"application/gzip",
	"application/x-gzip",
	"application/x-tar",
	"application/x-bzip2",
	"application/x-xz",
	"application/zstd",
	"application/pdf",
	"application/x-parquet",
	"application/vnd.apache.parquet",
	"application/x-hdf5",
	"application/x-netcdf",
	"application/octet-stream",
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/tiff",
}

// blockedWhenExpectData rejects markup and script payloads for targets that
// declare they expect data files: an HTML body usually means a login page or
// an error page, not the dataset.
var blockedWhenExpectData = []string{
	"text/html",
	"application/xhtml+xml",
	"application/javascript",
	"text/javascript",
}

// HTTP downloads every declared URL with resume, budget, and SSRF
// enforcement.
type HTTP struct{}

// Fetch implements acquire.Handler.
func (HTTP) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	urls := req.Row.Download.AllURLs()
	if len(urls) == 0 {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url")}
	}
	results := make([]acquire.Result, 0, len(urls))
	for i, u := range urls {
		results = append(results, DownloadOne(ctx, req, u, fileOptions{
			Index:          i,
			Filename:       req.Row.Download.FilenameFor(i),
			ExpectedSize:   req.Row.Download.ExpectedSize,
			ExpectedSHA256: req.Row.Download.ExpectedSHA256,
		}))
	}
	return results
}

// fileOptions carries per-file expectations into the download loop.
type fileOptions struct {
	Index          int
	Filename       string
	ExpectedSize   int64
	ExpectedSHA256 string
	ExpectedMD5    string
}

// DownloadOne performs one budgeted, resumable HTTP download. It is shared
// by the zenodo, figshare, and github_release handlers, which resolve file
// lists from JSON APIs and then download each entry the same way.
func DownloadOne(ctx context.Context, req *acquire.Request, rawURL string, opts fileOptions) acquire.Result {
	name := opts.Filename
	if name == "" {
		name = filenameFromURL(rawURL, opts.Index)
	}
	final := filepath.Join(req.OutDir, safepath.SanitizeFilename(name, fmt.Sprintf("payload_%d.bin", opts.Index)))
	part := final + ".part"

	if fi, err := os.Stat(final); err == nil && !req.Opts.Overwrite {
		return acquire.CachedOK(rawURL, final, fi.Size())
	}
	if !req.Opts.Execute {
		return acquire.Noop("dry_run: would download " + rawURL)
	}

	if v := req.Enforcer.StartFile(); v != nil {
		return acquire.Limit(rawURL, v)
	}
	if v := req.Enforcer.CheckSizeHint(opts.ExpectedSize); v != nil {
		return acquire.Limit(rawURL, v)
	}
	if v := req.Enforcer.CheckRemaining(); v != nil {
		return acquire.Limit(rawURL, v)
	}

	if err := req.Guard.CheckURL(ctx, rawURL); err != nil {
		return blockedResult(rawURL, err)
	}
	if host := hostOf(rawURL); host != "" {
		if err := req.Limiter.Wait(ctx, host); err != nil {
			return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())
		}
	}

	client := &http.Client{
		Timeout:       0, // no total cap, large payloads may stream for hours
		CheckRedirect: req.Guard.CheckRedirect,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}

	var lastErr error
	for attempt := 0; attempt < req.Opts.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, ctx.Err().Error())
			case <-time.After(req.Opts.Retry.Sleep(attempt - 1)):
			}
		}
		res, retryable := downloadAttempt(ctx, client, req, rawURL, final, part, opts)
		if !retryable {
			return res
		}
		lastErr = fmt.Errorf("%s: %s", res.Error, res.Message)
	}
	return acquire.Errorf(rawURL, acquire.ErrDownloadFailed,
		fmt.Sprintf("exhausted %d attempts: %v", req.Opts.Retry.MaxAttempts, lastErr))
}

// downloadAttempt runs one try. The bool reports whether the failure is
// transient and worth another attempt.
func downloadAttempt(ctx context.Context, client *http.Client, req *acquire.Request,
	rawURL, final, part string, opts fileOptions) (acquire.Result, bool) {

	existing := int64(0)
	if req.Opts.Resume {
		if fi, err := os.Stat(part); err == nil {
			existing = fi.Size()
		}
	} else {
		_ = os.Remove(part)
	}

	// Resume with a complete prefix short-circuits to verification.
	if opts.ExpectedSize > 0 && existing == opts.ExpectedSize {
		return finishFile(req, rawURL, final, part, existing, opts), false
	}
	if opts.ExpectedSize > 0 && existing > opts.ExpectedSize {
		_ = os.Remove(part)
		existing = 0
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error()), false
	}
	if existing > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if be, ok := asBlocked(err); ok {
			return acquire.Blocked(rawURL, be), false
		}
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error()), true
	}
	defer func() { _ = resp.Body.Close() }()

	if retry.TransientStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed,
			fmt.Sprintf("transient status %d", resp.StatusCode)), true
	}
	if resp.StatusCode >= 400 {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed,
			fmt.Sprintf("status %d", resp.StatusCode)), false
	}

	if res, ok := validateContentType(req, rawURL, resp.Header.Get("Content-Type")); !ok {
		return res, false
	}

	// Content-disposition filenames override URL-derived names.
	if opts.Filename == "" {
		if cd := dispositionFilename(resp.Header.Get("Content-Disposition")); cd != "" {
			newFinal := filepath.Join(req.OutDir, safepath.SanitizeFilename(cd, filepath.Base(final)))
			if newFinal != final {
				if fi, err := os.Stat(newFinal); err == nil && !req.Opts.Overwrite {
					return acquire.CachedOK(rawURL, newFinal, fi.Size()), false
				}
				final = newFinal
				part = final + ".part"
			}
		}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, parseErr := contentRangeStart(resp.Header.Get("Content-Range"))
		if parseErr != nil || start != existing {
			return acquire.Errorf(rawURL, acquire.ErrDownloadFailed,
				fmt.Sprintf("content-range %q does not continue offset %d", resp.Header.Get("Content-Range"), existing)), false
		}
	case http.StatusOK:
		// Full body despite a Range request: the prefix is useless.
		if existing > 0 {
			_ = os.Remove(part)
			existing = 0
		}
	}

	// The per-file cap covers the final file size, prefix included.
	req.Enforcer.SeedFile(existing)

	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error()), false
	}

	written := existing
	buf := make([]byte, downloadChunk)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, werr.Error()), false
			}
			written += int64(n)
			if v := req.Enforcer.RecordBytes(int64(n)); v != nil {
				_ = out.Close()
				_ = os.Remove(part)
				_ = os.Remove(final)
				return acquire.Limit(rawURL, v), false
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, readErr.Error()), true
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error()), false
	}
	if err := out.Close(); err != nil {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error()), false
	}
	return finishFile(req, rawURL, final, part, written, opts), false
}

// finishFile verifies size and digests, then renames the partial into place.
func finishFile(req *acquire.Request, rawURL, final, part string, size int64, opts fileOptions) acquire.Result {
	if opts.ExpectedSize > 0 && size != opts.ExpectedSize {
		return acquire.Result{
			Status: acquire.StatusError, URL: rawURL,
			Error:   acquire.ErrSizeMismatch,
			Message: fmt.Sprintf("got %d bytes, expected %d", size, opts.ExpectedSize),
		}
	}
	sha, md5sum, err := hashFile(part)
	if err != nil {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())
	}
	if req.Opts.VerifySHA256 && opts.ExpectedSHA256 != "" && !strings.EqualFold(sha, opts.ExpectedSHA256) {
		_ = os.Remove(part)
		return acquire.Result{
			Status: acquire.StatusError, URL: rawURL,
			Error:   acquire.ErrSHA256Mismatch,
			Message: fmt.Sprintf("sha256 %s != expected %s", sha, opts.ExpectedSHA256),
		}
	}
	if opts.ExpectedMD5 != "" && !strings.EqualFold(md5sum, opts.ExpectedMD5) {
		_ = os.Remove(part)
		return acquire.Result{
			Status: acquire.StatusError, URL: rawURL,
			Error:   acquire.ErrMD5Mismatch,
			Message: fmt.Sprintf("md5 %s != expected %s", md5sum, opts.ExpectedMD5),
		}
	}
	if err := os.Rename(part, final); err != nil {
		return acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())
	}
	return acquire.OK(rawURL, final, size, sha)
}

func validateContentType(req *acquire.Request, rawURL, contentType string) (acquire.Result, bool) {
	if contentType == "" {
		return acquire.Result{}, true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	expectData := req.Opts.ExpectData || req.Row.Download.ConfigBool("expect_data")
	if expectData {
		for _, blocked := range blockedWhenExpectData {
			if mediaType == blocked {
				return acquire.Errorf(rawURL, acquire.ErrContentType,
					fmt.Sprintf("content type %s rejected for data target", mediaType)), false
			}
		}
	}
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(mediaType, allowed) {
			return acquire.Result{}, true
		}
	}
	return acquire.Errorf(rawURL, acquire.ErrContentType,
		fmt.Sprintf("content type %s not in allowlist", mediaType)), false
}

func filenameFromURL(rawURL string, index int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("payload_%d.bin", index)
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return fmt.Sprintf("payload_%d.bin", index)
	}
	return base
}

// dispositionFilename extracts the filename from a Content-Disposition
// header, preferring the RFC 5987 filename* form.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if name := params["filename*"]; name != "" {
		if decoded := decodeRFC5987(name); decoded != "" {
			return decoded
		}
	}
	return params["filename"]
}

// decodeRFC5987 decodes the charset'lang'value form of extended parameters.
func decodeRFC5987(v string) string {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return v
	}
	decoded, err := url.QueryUnescape(parts[2])
	if err != nil {
		return parts[2]
	}
	return decoded
}

func contentRangeStart(header string) (int64, error) {
	// bytes <start>-<end>/<total>
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, fmt.Errorf("malformed content-range %q", header)
	}
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return 0, fmt.Errorf("malformed content-range %q", header)
	}
	return strconv.ParseInt(rest[:dash], 10, 64)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func blockedResult(rawURL string, err error) acquire.Result {
	if be, ok := asBlocked(err); ok {
		return acquire.Blocked(rawURL, be)
	}
	return acquire.Errorf(rawURL, acquire.ErrBlockedURL, err.Error())
}

func asBlocked(err error) (*netguard.BlockedError, bool) {
	for err != nil {
		if be, ok := err.(*netguard.BlockedError); ok {
			return be, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func hashFile(path string) (shaHex, md5Hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()
	sh := sha256.New()
	mh := md5.New() // zenodo publishes md5 checksums only
	if _, err := io.Copy(io.MultiWriter(sh, mh), f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(sh.Sum(nil)), hex.EncodeToString(mh.Sum(nil)), nil
}
