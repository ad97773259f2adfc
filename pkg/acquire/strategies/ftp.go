package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// FTP fetches files from an anonymous FTP server. The SSRF guard does not
// apply here; FTP mirrors are reached directly, but every byte still counts
// against the budgets.
type FTP struct{}

// Fetch implements acquire.Handler. The download URL names the server and
// base directory (ftp://host[:port]/base); the optional `glob` config entry
// filters the listing.
func (FTP) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	rawURL := req.Row.Download.URL
	if rawURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url")}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "ftp" {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrUnsupportedScheme,
			fmt.Sprintf("want ftp:// url, got %q", rawURL))}
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	if err := req.Limiter.Wait(ctx, u.Hostname()); err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())}
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(15*time.Second))
	if err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())}
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, "login: "+err.Error())}
	}
	if dir := path.Clean(u.Path); dir != "" && dir != "/" && dir != "." {
		if err := conn.ChangeDir(dir); err != nil {
			return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, "cwd: "+err.Error())}
		}
	}

	names, err := conn.NameList(".")
	if err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, "list: "+err.Error())}
	}
	glob := req.Row.Download.ConfigString("glob")

	var results []acquire.Result
	for i, name := range names {
		base := path.Base(name)
		if glob != "" {
			if ok, _ := path.Match(glob, base); !ok {
				continue
			}
		}
		results = append(results, fetchFTPFile(conn, req, rawURL, base, i))
	}
	if len(results) == 0 {
		return []acquire.Result{acquire.Noop("no files matched " + glob)}
	}
	return results
}

func fetchFTPFile(conn *ftp.ServerConn, req *acquire.Request, rawURL, name string, index int) acquire.Result {
	fileURL := rawURL + "/" + name
	final := filepath.Join(req.OutDir, safepath.SanitizeFilename(name, fmt.Sprintf("payload_%d.bin", index)))
	part := final + ".part"

	if fi, err := os.Stat(final); err == nil && !req.Opts.Overwrite {
		return acquire.CachedOK(fileURL, final, fi.Size())
	}
	if !req.Opts.Execute {
		return acquire.Noop("dry_run: would download " + fileURL)
	}
	if v := req.Enforcer.StartFile(); v != nil {
		return acquire.Limit(fileURL, v)
	}
	if size, err := conn.FileSize(name); err == nil {
		if v := req.Enforcer.CheckSizeHint(size); v != nil {
			return acquire.Limit(fileURL, v)
		}
	}
	if v := req.Enforcer.CheckRemaining(); v != nil {
		return acquire.Limit(fileURL, v)
	}

	resp, err := conn.Retr(name)
	if err != nil {
		return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, err.Error())
	}
	defer func() { _ = resp.Close() }()

	out, err := os.Create(part)
	if err != nil {
		return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, err.Error())
	}
	hasher := sha256.New()
	written := int64(0)
	buf := make([]byte, downloadChunk)
	for {
		n, readErr := resp.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, werr.Error())
			}
			_, _ = hasher.Write(buf[:n])
			written += int64(n)
			if v := req.Enforcer.RecordBytes(int64(n)); v != nil {
				_ = out.Close()
				_ = os.Remove(part)
				return acquire.Limit(fileURL, v)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, readErr.Error())
		}
	}
	if err := out.Close(); err != nil {
		return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, err.Error())
	}
	if err := os.Rename(part, final); err != nil {
		return acquire.Errorf(fileURL, acquire.ErrDownloadFailed, err.Error())
	}
	return acquire.OK(fileURL, final, written, hex.EncodeToString(hasher.Sum(nil)))
}
