package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/curatorlabs/datacollector/pkg/catalog"
	"github.com/curatorlabs/datacollector/pkg/classifier"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/retry"
	"github.com/curatorlabs/datacollector/pkg/runhistory"
)

func runClassifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datasetRoot, roots := rootFlags(fs)

	targetsPath := fs.String("targets", "targets.yaml", "target catalog path")
	licenseMapPath := fs.String("license-map", "license_map.yaml", "license decision table path")
	denylistPath := fs.String("denylist", "denylist.yaml", "denylist path")

	noFetch := fs.Bool("no-fetch", false, "reuse cached evidence, fetch nothing")
	allowPrivate := fs.Bool("allow-private-evidence-hosts", false, "disable the SSRF check for evidence URLs")
	minConfidence := fs.Float64("min-license-confidence", 0, "override the license map confidence floor")
	limitTargets := fs.Int("limit-targets", 0, "classify only the first N targets")
	strict := fs.Bool("strict", false, "exit nonzero on any per-target failure or catalog warning")
	quiet := fs.Bool("quiet", false, "log warnings and errors only")
	retryMax := fs.Int("retry-max", 0, "max fetch attempts (default from PIPELINE_RETRY_MAX)")
	retryBackoff := fs.Float64("retry-backoff", 0, "backoff base in seconds (default from PIPELINE_RETRY_BACKOFF)")
	signoffKeyPath := fs.String("signoff-key", "", "HMAC key file for signoff token verification")
	decidedBy := fs.String("decided-by", "", "recorded decision author")

	headers := headerList{}
	fs.Var(headers, "evidence-header", "extra evidence request header, Name: value (repeatable)")
	var mirrors stringList
	fs.Var(&mirrors, "internal-mirror-allowlist", "host exempt from the SSRF check (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	obsCfg := observability.FromEnv()
	obsCfg.Quiet = *quiet
	obs := observability.New(ctx, obsCfg)
	defer obs.Shutdown(ctx)

	licenseMap, err := catalog.LoadLicenseMap(*licenseMapPath)
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		return 1
	}
	deny, err := catalog.LoadDenylist(*denylistPath)
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		return 1
	}

	var signoffKey []byte
	if *signoffKeyPath != "" {
		signoffKey, err = os.ReadFile(*signoffKeyPath)
		if err != nil {
			fmt.Fprintln(stderr, "classify: read signoff key:", err)
			return 1
		}
	}

	checks, err := classifier.NewCheckRegistry(licenseMap.CELChecks)
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		return 1
	}
	targets, warnings, err := catalog.LoadTargets(*targetsPath, checks.Names(), *strict)
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		return 1
	}
	for _, w := range warnings {
		obs.Log.Warn(w)
	}

	cfg := classifier.Config{
		Roots:                     layout.FromDatasetRoot(*datasetRoot, *roots),
		Targets:                   targets,
		Map:                       licenseMap,
		Denylist:                  deny,
		NoFetch:                   *noFetch,
		Strict:                    *strict,
		LimitTargets:              *limitTargets,
		MinConfidence:             *minConfidence,
		EvidenceHeaders:           headers,
		AllowPrivateEvidenceHosts: *allowPrivate,
		InternalMirrorAllowlist:   mirrors,
		Retry:                     retryPolicy(*retryMax, *retryBackoff),
		DecidedBy:                 *decidedBy,
		SignoffKey:                signoffKey,
		Obs:                       obs,
	}

	engine, err := classifier.New(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		return 1
	}

	summary, err := engine.Classify(ctx)
	exit := 0
	if err != nil {
		fmt.Fprintln(stderr, "classify:", err)
		exit = 1
	} else if *strict && len(summary.FailedTargets) > 0 {
		exit = 1
	}
	if summary != nil {
		fmt.Fprintf(stdout, "classified %d targets: green=%d yellow=%d red=%d failed=%d\n",
			summary.TargetsTotal,
			summary.Counts[catalog.BucketGreen],
			summary.Counts[catalog.BucketYellow],
			summary.Counts[catalog.BucketRed],
			len(summary.FailedTargets))
		recordRun(ctx, obs, runhistory.Entry{
			RunID:      summary.RunID,
			Pipeline:   "classifier",
			StartedAt:  summary.StartedAtUTC,
			FinishedAt: summary.FinishedAtUTC,
			Counts:     summary.Counts,
			Strict:     *strict,
			ExitCode:   exit,
		})
	}
	return exit
}

func retryPolicy(maxAttempts int, backoff float64) retry.Policy {
	p := retry.Default().FromEnv()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if backoff > 0 {
		p.BackoffBase = backoff
	}
	return p
}

// recordRun mirrors the run summary to the optional Postgres history sink.
func recordRun(ctx context.Context, obs *observability.Obs, e runhistory.Entry) {
	sink, err := runhistory.FromEnv()
	if err != nil {
		obs.Log.Warn("run history unavailable", "error", err)
		return
	}
	defer sink.Close()
	if err := sink.Record(ctx, e); err != nil {
		obs.Log.Warn("record run history", "error", err)
	}
}
