package strategies

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/safepath"
)

// HuggingFace downloads a dataset's parquet export through the Hugging Face
// datasets server. Each split file counts as one file against the budgets.
// Config: `dataset` (falls back to download.url's path), optional `split`
// and `config` to narrow the export.
type HuggingFace struct{}

type hfParquetListing struct {
	ParquetFiles []struct {
		Dataset  string `json:"dataset"`
		Config   string `json:"config"`
		Split    string `json:"split"`
		URL      string `json:"url"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"parquet_files"`
	Error string `json:"error,omitempty"`
}

// Fetch implements acquire.Handler.
func (HuggingFace) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	dataset := req.Row.Download.ConfigString("dataset")
	if dataset == "" {
		dataset = datasetFromURL(req.Row.Download.URL)
	}
	if dataset == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing config.dataset")}
	}
	apiURL := "https://datasets-server.huggingface.co/parquet?dataset=" + url.QueryEscape(dataset)

	var listing hfParquetListing
	if err := fetchJSON(ctx, req, apiURL, &listing); err != nil {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrHFLoadFailed, err.Error())}
	}
	if listing.Error != "" {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrHFLoadFailed, listing.Error)}
	}
	if len(listing.ParquetFiles) == 0 {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrHFLoadFailed,
			"dataset "+dataset+" has no parquet export")}
	}

	wantSplit := req.Row.Download.ConfigString("split")
	wantConfig := req.Row.Download.ConfigString("config")

	var results []acquire.Result
	for i, f := range listing.ParquetFiles {
		if wantSplit != "" && f.Split != wantSplit {
			continue
		}
		if wantConfig != "" && f.Config != wantConfig {
			continue
		}
		splitDir := filepath.Join(req.OutDir,
			"split_"+safepath.SanitizeID(f.Config+"_"+f.Split))
		if req.Opts.Execute {
			if err := os.MkdirAll(splitDir, 0o755); err != nil {
				results = append(results, acquire.Errorf(f.URL, acquire.ErrDownloadFailed, err.Error()))
				continue
			}
		}
		sub := *req
		sub.OutDir = splitDir
		results = append(results, DownloadOne(ctx, &sub, f.URL, fileOptions{
			Index:        i,
			Filename:     f.Filename,
			ExpectedSize: f.Size,
		}))
	}
	if len(results) == 0 {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrHFLoadFailed,
			fmt.Sprintf("no splits matched config=%q split=%q", wantConfig, wantSplit))}
	}
	return results
}

func datasetFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if after, ok := strings.CutPrefix(u.Path, "/datasets/"); ok && after != "" {
		return after
	}
	return ""
}
