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
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// S3 syncs every object under an s3://bucket/prefix URL into the target
// directory. Config: `region`, `no_sign_request` for public buckets.
// RequesterPays covers buckets that bill the caller for transfer.
type S3 struct {
	RequesterPays bool
}

// Fetch implements acquire.Handler.
func (h S3) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	rawURL := req.Row.Download.URL
	if rawURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url")}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrUnsupportedScheme,
			fmt.Sprintf("want s3://bucket/prefix, got %q", rawURL))}
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region := req.Row.Download.ConfigString("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if req.Row.Download.ConfigBool("no_sign_request") {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())}
	}
	client := s3.NewFromConfig(cfg)

	var payer s3types.RequestPayer
	if h.RequesterPays {
		payer = s3types.RequestPayerRequester
	}

	var results []acquire.Result
	index := 0
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:       aws.String(bucket),
		Prefix:       aws.String(prefix),
		RequestPayer: payer,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			results = append(results,
				acquire.Errorf(rawURL, acquire.ErrDownloadFailed, "list objects: "+err.Error()))
			return results
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			results = append(results, h.fetchObject(ctx, client, req, bucket, key, payer,
				aws.ToInt64(obj.Size), index))
			index++
		}
	}
	if len(results) == 0 {
		return []acquire.Result{acquire.Noop("no objects under " + rawURL)}
	}
	return results
}

func (h S3) fetchObject(ctx context.Context, client *s3.Client, req *acquire.Request,
	bucket, key string, payer s3types.RequestPayer, size int64, index int) acquire.Result {

	objURL := fmt.Sprintf("s3://%s/%s", bucket, key)
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

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: payer,
	})
	if err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	defer func() { _ = out.Body.Close() }()

	f, err := os.Create(part)
	if err != nil {
		return acquire.Errorf(objURL, acquire.ErrDownloadFailed, err.Error())
	}
	hasher := sha256.New()
	written := int64(0)
	buf := make([]byte, downloadChunk)
	for {
		n, readErr := out.Body.Read(buf)
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
