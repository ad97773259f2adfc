package strategies

import (
	"context"
	"fmt"
	"path"

	"github.com/curatorlabs/datacollector/pkg/acquire"
)

// GitHubRelease downloads the assets of one release. Config: `repo`
// ("owner/name"), optional `tag` (default: latest), optional `asset_glob`
// to filter assets by name.
type GitHubRelease struct{}

type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		Size               int64  `json:"size"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Fetch implements acquire.Handler.
func (GitHubRelease) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	repo := req.Row.Download.ConfigString("repo")
	if repo == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing config.repo")}
	}
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", repo)
	if tag := req.Row.Download.ConfigString("tag"); tag != "" {
		apiURL = fmt.Sprintf("https://api.github.com/repos/%s/releases/tags/%s", repo, tag)
	}

	var release githubRelease
	if err := fetchJSON(ctx, req, apiURL, &release); err != nil {
		return []acquire.Result{blockedResult(apiURL, err)}
	}
	if len(release.Assets) == 0 {
		return []acquire.Result{acquire.Errorf(apiURL, acquire.ErrDownloadFailed,
			"release "+release.TagName+" has no assets")}
	}

	glob := req.Row.Download.ConfigString("asset_glob")
	var results []acquire.Result
	for i, asset := range release.Assets {
		if glob != "" {
			if ok, _ := path.Match(glob, asset.Name); !ok {
				continue
			}
		}
		results = append(results, DownloadOne(ctx, req, asset.BrowserDownloadURL, fileOptions{
			Index:        i,
			Filename:     asset.Name,
			ExpectedSize: asset.Size,
		}))
	}
	if len(results) == 0 {
		return []acquire.Result{acquire.Noop("no assets matched " + glob)}
	}
	return results
}
