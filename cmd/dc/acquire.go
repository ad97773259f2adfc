package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/curatorlabs/datacollector/pkg/acquire"
	"github.com/curatorlabs/datacollector/pkg/acquire/strategies"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/ratelimit"
	"github.com/curatorlabs/datacollector/pkg/runhistory"
)

func runAcquireCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("acquire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datasetRoot, roots := rootFlags(fs)

	bucket := fs.String("bucket", "green", "bucket to acquire: green or yellow")
	queuePath := fs.String("queue", "", "queue file (default derived from bucket)")
	execute := fs.Bool("execute", false, "actually download; default is a dry run")
	overwrite := fs.Bool("overwrite", false, "refetch files already present")
	resume := fs.Bool("resume", true, "skip targets completed by a previous run")
	workers := fs.Int("workers", 4, "concurrent targets")
	strict := fs.Bool("strict", false, "exit nonzero on any per-target failure")
	quiet := fs.Bool("quiet", false, "log warnings and errors only")

	verifySHA := fs.Bool("verify-sha256", false, "verify declared sha256 digests")
	verifyMD5 := fs.Bool("verify-zenodo-md5", false, "verify zenodo-published md5 digests")
	expectData := fs.Bool("expect-data", false, "reject html and javascript payloads")

	limitTargets := fs.Int("limit-targets", 0, "acquire only the first N targets")
	limitFiles := fs.Int64("limit-files", 0, "per-target file count cap")
	maxBytesPerTarget := fs.Int64("max-bytes-per-target", 0, "per-target byte cap")
	maxBytesPerFile := fs.Int64("max-bytes-per-file", 0, "per-file byte cap")
	runByteBudget := fs.Int64("run-byte-budget", 0, "stop submitting targets past this many bytes")

	retryMax := fs.Int("retry-max", 0, "max download attempts (default from PIPELINE_RETRY_MAX)")
	retryBackoff := fs.Float64("retry-backoff", 0, "backoff base in seconds (default from PIPELINE_RETRY_BACKOFF)")

	allowNonGlobal := fs.Bool("allow-non-global-download-hosts", false, "disable the SSRF check for download URLs")
	var mirrors stringList
	fs.Var(&mirrors, "internal-mirror-allowlist", "host exempt from the SSRF check (repeatable)")

	ratePerHost := fs.Float64("rate-per-host", 0, "requests per second per remote host, 0 = unlimited")
	rateBurst := fs.Int("rate-burst", 1, "rate limiter burst per host")
	redisAddr := fs.String("redis-addr", "", "share the per-host rate limit through Redis at this address")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *bucket != "green" && *bucket != "yellow" {
		fmt.Fprintf(stderr, "acquire: bucket must be green or yellow, got %q\n", *bucket)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	obsCfg := observability.FromEnv()
	obsCfg.Quiet = *quiet
	obs := observability.New(ctx, obsCfg)
	defer obs.Shutdown(ctx)

	resolved := layout.FromDatasetRoot(*datasetRoot, *roots)
	if *queuePath == "" {
		name := layout.QueueGreen
		if *bucket == "yellow" {
			name = layout.QueueYellow
		}
		*queuePath = resolved.QueuePath(name)
	}

	var limiter ratelimit.Limiter
	switch {
	case *ratePerHost <= 0:
		limiter = ratelimit.Unlimited()
	case *redisAddr != "":
		limiter = ratelimit.NewDistributed(*redisAddr, *ratePerHost, *rateBurst)
	default:
		limiter = ratelimit.NewLocal(*ratePerHost, *rateBurst)
	}

	opts := acquire.Options{
		Bucket:                  *bucket,
		Execute:                 *execute,
		Workers:                 *workers,
		Overwrite:               *overwrite,
		Resume:                  *resume,
		Strict:                  *strict,
		VerifySHA256:            *verifySHA,
		VerifyZenodoMD5:         *verifyMD5,
		ExpectData:              *expectData,
		LimitTargets:            *limitTargets,
		LimitFiles:              *limitFiles,
		MaxBytesPerTarget:       *maxBytesPerTarget,
		MaxBytesPerFile:         *maxBytesPerFile,
		RunByteBudget:           *runByteBudget,
		Retry:                   retryPolicy(*retryMax, *retryBackoff),
		AllowNonGlobalHosts:     *allowNonGlobal,
		InternalMirrorAllowlist: mirrors,
	}

	runner := acquire.NewRunner(resolved, strategies.Default(), limiter, opts, obs)
	summary, err := runner.Run(ctx, *queuePath)
	exit := 0
	if err != nil {
		fmt.Fprintln(stderr, "acquire:", err)
		exit = 1
	} else if *strict && len(summary.FailedTargets) > 0 {
		exit = 1
	}
	if summary != nil {
		mode := "dry-run"
		if summary.Execute {
			mode = "execute"
		}
		fmt.Fprintf(stdout, "acquired %s bucket (%s): ok=%d noop=%d error=%d bytes=%d\n",
			summary.Bucket, mode,
			summary.Counts[acquire.StatusOK],
			summary.Counts[acquire.StatusNoop],
			summary.Counts[acquire.StatusError],
			summary.BytesTotal)
		recordRun(ctx, obs, runhistory.Entry{
			RunID:      summary.RunID,
			Pipeline:   "acquire_" + summary.Bucket,
			StartedAt:  summary.StartedAtUTC,
			FinishedAt: summary.FinishedAtUTC,
			Counts:     summary.Counts,
			BytesTotal: summary.BytesTotal,
			Strict:     *strict,
			ExitCode:   exit,
		})
	}
	return exit
}
