package strategies

import (
	"context"

	"github.com/curatorlabs/datacollector/pkg/acquire"
)

// Figshare resolves an article through the Figshare v2 API and downloads
// every file entry.
type Figshare struct{}

type figshareArticle struct {
	Files []figshareFile `json:"files"`
}

type figshareFile struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	SuppliedMD5 string `json:"supplied_md5"`
}

// Fetch implements acquire.Handler. The download URL is the article API URL,
// or the `article_id` config entry names the article directly.
func (Figshare) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	apiURL := req.Row.Download.URL
	if id := req.Row.Download.ConfigString("article_id"); id != "" {
		apiURL = "https://api.figshare.com/v2/articles/" + id
	}
	if apiURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url or article_id")}
	}

	// The article endpoint nests files; the /files endpoint returns a bare
	// list. Accept either shape.
	var article figshareArticle
	if err := fetchJSON(ctx, req, apiURL, &article); err != nil {
		var files []figshareFile
		if err2 := fetchJSON(ctx, req, apiURL, &files); err2 != nil {
			return []acquire.Result{blockedResult(apiURL, err)}
		}
		article.Files = files
	}
	if len(article.Files) == 0 {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrDownloadFailed, "article has no files")}
	}

	results := make([]acquire.Result, 0, len(article.Files))
	for i, f := range article.Files {
		if f.DownloadURL == "" {
			results = append(results, acquire.Errorf(apiURL, acquire.ErrMissingField,
				"file entry "+f.Name+" has no download_url"))
			continue
		}
		results = append(results, DownloadOne(ctx, req, f.DownloadURL, fileOptions{
			Index:        i,
			Filename:     f.Name,
			ExpectedSize: f.Size,
		}))
	}
	return results
}
