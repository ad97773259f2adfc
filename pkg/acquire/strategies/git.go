package strategies

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/acquire"
)

// Git shallow-clones a repository and records its HEAD commit. The clone's
// byte size is checked against the per-target cap after the fact; subprocess
// output never fails the run, only the target.
type Git struct{}

// Fetch implements acquire.Handler. Config: `ref` selects a branch or tag.
func (Git) Fetch(ctx context.Context, req *acquire.Request) []acquire.Result {
	rawURL := req.Row.Download.URL
	if rawURL == "" {
		return []acquire.Result{acquire.Errorf("", acquire.ErrMissingField, "missing download.url")}
	}
	dest := filepath.Join(req.OutDir, "repo")
	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil && !req.Opts.Overwrite {
		size, _ := dirSize(dest)
		return []acquire.Result{acquire.CachedOK(rawURL, dest, size)}
	}
	if !req.Opts.Execute {
		return []acquire.Result{acquire.Noop("dry_run: would clone " + rawURL)}
	}
	if v := req.Enforcer.StartFile(); v != nil {
		return []acquire.Result{acquire.Limit(rawURL, v)}
	}
	if req.Opts.Overwrite {
		_ = os.RemoveAll(dest)
	}

	args := []string{"clone", "--depth", "1"}
	if ref := req.Row.Download.ConfigString("ref"); ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, rawURL, dest)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dest)
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrSubprocessFailed,
			fmt.Sprintf("git clone: %v: %s", err, strings.TrimSpace(stderr.String())))}
	}

	head := headCommit(ctx, dest)

	size, err := dirSize(dest)
	if err != nil {
		return []acquire.Result{acquire.Errorf(rawURL, acquire.ErrDownloadFailed, err.Error())}
	}
	if v := req.Enforcer.RecordBytes(size); v != nil {
		_ = os.RemoveAll(dest)
		return []acquire.Result{acquire.Limit(rawURL, v)}
	}
	res := acquire.OK(rawURL, dest, size, "")
	res.Message = "HEAD " + head
	return []acquire.Result{res}
}

func headCommit(ctx context.Context, dest string) string {
	cmd := exec.CommandContext(ctx, "git", "-C", dest, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}
