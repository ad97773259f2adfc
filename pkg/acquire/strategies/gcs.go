package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// GCS syncs every object under a gs://bucket/prefix URL into the target
// directory. Config: `anonymous` for public buckets.
type GCS struct{}

// Fetch implements acquire.Handler.
func (GCS) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	rawURL := req.Row.Download.URL
	if rawURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url")}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrUnsupportedScheme,
			fmt.Sprintf("want gs://bucket/prefix, got %q", rawURL))}
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	var clientOpts []option.ClientOption
	if req.Row.Download.ConfigBool("anonymous") {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())}
	}
	defer func() { _ = client.Close() }()

	var results []acquire.Result
	index := 0
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			results = append(results,
				acquire.Errorf(rawURL, acquire.ErrDownloadFailed, "list objects: "+err.Error()))
			return results
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		results = append(results, fetchGCSObject(ctx, client, req, bucket, attrs.Name, attrs.Size, index))
		index++
	}
	if len(results) == 0 {
		return []acquire.Result{acquire.Noop("no objects under " + rawURL)}
	}
	return results
}

func fetchGCSObject(ctx context.Context, client *storage.Client, req *acquire.Request,
	bucket, key string, size int64, index int) acquire.Result {

	objURL := fmt.Sprintf("gs://%s/%s", bucket, key)
	name := safepath.SanitizeFilename(path.Base(key), fmt.Sprintf("object_%d.bin", index))
	final := filepath.Join(req.OutDir, name)
	part := final + ".part"

	if fi, err := os.Stat(final); err == nil && !req.Opts.Overwrite {
		return acquire.CachedOK(objURL, final, fi.Size())
	}
	if !req.Opts.Execute {
		return acquire.Noop("dry_run: would download " + objURL)
	}
	if v := req.Enforcer.StartFile(); v != nil {
		return acquire.Limit(objURL, v)
	}
	if v := req.Enforcer.CheckSizeHint(size); v != nil {
		return acquire.Limit(objURL, v)
	}
	if v := req.Enforcer.CheckRemaining(); v != nil {
		return acquire.Limit(objURL, v)
	}

	reader, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	defer func() { _ = reader.Close() }()

	f, err := os.Create(part)
	if err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	hasher := sha256.New()
	written := int64(0)
	buf := make([]byte, downloadChunk)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = f.Close()
				return acquire.Errorf(objURL, acquire.ErrDownloadFailed, werr.Error())
			}
			_, _ = hasher.Write(buf[:n])
			written += int64(n)
			if v := req.Enforcer.RecordBytes(int64(n)); v != nil {
				_ = f.Close()
				_ = os.Remove(part)
				return acquire.Limit(objURL, v)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = f.Close()
			return acquire.Errorf(objURL, acquire.ErrDownloadFailed, readErr.Error())
		}
	}
	if err := f.Close(); err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	if err := os.Rename(part, final); err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	return acquire.OK(objURL, final, written, hex.EncodeToString(hasher.Sum(nil)))
}
