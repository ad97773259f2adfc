package strategies

import (
	"context"
	"fmt"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/acquire"
)

// Zenodo resolves a record through the Zenodo REST API and downloads every
// file entry. Zenodo publishes md5 checksums; with verify_zenodo_md5 a
// mismatch fails the file without retrying, since the bytes are already
// complete and wrong.
type Zenodo struct{}

type zenodoRecord struct {
	Files []struct {
		Key      string `json:"key"`
		Size     int64  `json:"size"`
		Checksum string `json:"checksum"` // "md5:<hex>"
		Links    struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"files"`
}

// Fetch implements acquire.Handler. The download URL is the API record URL,
// or the `record_id` config entry names the record directly.
func (Zenodo) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	apiURL := req.Row.Download.URL
	if id := req.Row.Download.ConfigString("record_id"); id != "" {
		apiURL = "https://zenodo.org/api/records/" + id
	}
	if apiURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url or record_id")}
	}

	var record zenodoRecord
	if err := fetchJSON(ctx, req, apiURL, &record); err != nil {
		return []acquire.Result{blockedResult(apiURL, err)}
	}
	if len(record.Files) == 0 {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrDownloadFailed, "record has no files")}
	}

	results := make([]acquire.Result, 0, len(record.Files))
	for i, f := range record.Files {
		opts := fileOptions{
			Index:        i,
			Filename:     f.Key,
			ExpectedSize: f.Size,
		}
		if req.Opts.VerifyZenodoMD5 {
			if md5hex, ok := strings.CutPrefix(f.Checksum, "md5:"); ok {
				opts.ExpectedMD5 = md5hex
			}
		}
		fileURL := f.Links.Self
		if fileURL == "" {
			fileURL = fmt.Sprintf("%s/files/%s", strings.TrimSuffix(apiURL, "/"), f.Key)
		}
		results = append(results, DownloadOne(ctx, req, fileURL, opts))
	}
	return results
}
