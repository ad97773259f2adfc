package acquire

import (
	"github.com/curatorlabs/datacollector/pkg/budget"
	"github.com/curatorlabs/datacollector/pkg/netguard"
)

// Per-file result statuses.
const (
	StatusOK    = "ok"
	StatusNoop  = "noop"
	StatusError = "error"
)

// Error codes carried by Result.Error.
const (
	ErrBlockedURL        = "blocked_url"
	ErrSizeMismatch      = "size_mismatch"
	ErrSHA256Mismatch    = "sha256_mismatch"
	ErrMD5Mismatch       = "md5_mismatch"
	ErrLimitExceeded     = "limit_exceeded"
	ErrContentType       = "content_type_rejected"
	ErrNoResults         = "handler_returned_no_results"
	ErrHFLoadFailed      = "hf_load_failed"
	ErrDownloadFailed    = "download_failed"
	ErrMissingField      = "missing_field"
	ErrSubprocessFailed  = "subprocess_failed"
	ErrUnsupportedScheme = "unsupported_scheme"
	ErrArchiveRejected   = "archive_rejected"
)

// Result is one handler outcome for one file or artifact.
type Result struct {
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
	Path          string `json:"path,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	SHA256        string `json:"sha256,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`

	LimitType  budget.LimitType `json:"limit_type,omitempty"`
	BlockedURL string           `json:"blocked_url,omitempty"`

	Cached bool `json:"cached,omitempty"`
}

// OK builds a successful file result.
func OK(url, path string, n int64, sha string) Result {
	return Result{Status: StatusOK, URL: url, Path: path, ContentLength: n, SHA256: sha}
}

// CachedOK marks a file already present on disk.
func CachedOK(url, path string, n int64) Result {
	return Result{Status: StatusOK, URL: url, Path: path, ContentLength: n, Cached: true}
}

// Noop marks a skipped unit of work.
func Noop(reason string) Result {
	return Result{Status: StatusNoop, Reason: reason}
}

// Errorf builds a failed result with an error code.
func Errorf(url, code, message string) Result {
	return Result{Status: StatusError, URL: url, Error: code, Message: message}
}

// Limit builds a limit_exceeded result from a budget violation.
func Limit(url string, v *budget.Violation) Result {
	return Result{
		Status: StatusError, URL: url,
		Error: ErrLimitExceeded, Message: v.Error(), LimitType: v.LimitType,
	}
}

// Blocked builds a blocked_url result from an SSRF rejection.
func Blocked(url string, be *netguard.BlockedError) Result {
	return Result{
		Status: StatusError, URL: url,
		Error: ErrBlockedURL, Reason: be.Error(), BlockedURL: be.URL,
	}
}

// TargetOutcome aggregates every handler result for one queue row.
type TargetOutcome struct {
	TargetID  string   `json:"target_id"`
	Strategy  string   `json:"strategy"`
	Status    string   `json:"status"`
	Results   []Result `json:"results"`
	ElapsedMS int64    `json:"elapsed_ms"`
	OutDir    string   `json:"out_dir,omitempty"`
	Pool      string   `json:"pool,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// AggregateStatus folds per-file results into the target status: at least
// one ok wins, all noop stays noop, otherwise the first non-ok status
// propagates.
func AggregateStatus(results []Result) string {
	if len(results) == 0 {
		return StatusError
	}
	allNoop := true
	for _, r := range results {
		if r.Status == StatusOK {
			return StatusOK
		}
		if r.Status != StatusNoop {
			allNoop = false
		}
	}
	if allNoop {
		return StatusNoop
	}
	for _, r := range results {
		if r.Status != StatusOK && r.Status != StatusNoop {
			return r.Status
		}
	}
	return StatusError
}
