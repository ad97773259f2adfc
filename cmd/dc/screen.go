package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/curatorlabs/datacollector/pkg/dedupe"
	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/observability"
	"github.com/curatorlabs/datacollector/pkg/runhistory"
	"github.com/curatorlabs/datacollector/pkg/screen"
	"github.com/curatorlabs/datacollector/pkg/screen/domains"
)

func runScreenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("screen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datasetRoot, roots := rootFlags(fs)

	queuePath := fs.String("queue", "", "queue file (default the yellow pipeline queue)")
	domainName := fs.String("domain", "standard", "domain module, e.g. chem, code, or wasm:<path>")
	requireSignoff := fs.Bool("require-signoff", false, "skip yellow targets without an approved signoff")
	strict := fs.Bool("strict", false, "exit nonzero on any per-target failure")
	quiet := fs.Bool("quiet", false, "log warnings and errors only")

	shardRecords := fs.Int("shard-records", 0, "records per output shard")
	compression := fs.String("compression", "", "shard compression: gz, zst, or empty")

	noDedupe := fs.Bool("no-dedupe", false, "disable near-duplicate pitching")
	dedupeStore := fs.String("dedupe-store", "", "sqlite path persisting the duplicate index across runs")
	dedupeThreshold := fs.Float64("dedupe-threshold", 0, "jaccard similarity treated as duplicate")

	pitchSampleLimit := fs.Int("pitch-sample-limit", 0, "pitched record samples kept per reason")
	var licenseAllowlist stringList
	fs.Var(&licenseAllowlist, "license-allowlist", "SPDX id allowed at record level (repeatable)")

	if err := fs.Parse(args); err != nil {
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
		*queuePath = resolved.QueuePath(layout.QueueYellow)
	}

	domain, err := domains.ForName(ctx, *domainName)
	if err != nil {
		fmt.Fprintln(stderr, "screen:", err)
		return 1
	}
	if closer, ok := domain.(interface{ Close(context.Context) error }); ok {
		defer closer.Close(ctx)
	}

	var detector *dedupe.Detector
	if !*noDedupe {
		cfg := dedupe.Config{Threshold: *dedupeThreshold}
		if *dedupeStore != "" {
			store, err := dedupe.OpenStore(*dedupeStore)
			if err != nil {
				fmt.Fprintln(stderr, "screen:", err)
				return 1
			}
			defer store.Close()
			detector = dedupe.NewDetector(cfg, dedupe.WithStore(store))
			if err := detector.LoadStore(); err != nil {
				fmt.Fprintln(stderr, "screen:", err)
				return 1
			}
		} else {
			detector = dedupe.NewDetector(cfg)
		}
	}

	opts := screen.Options{
		RequireYellowSignoff: *requireSignoff,
		Strict:               *strict,
		PitchSampleLimit:     *pitchSampleLimit,
		LicenseAllowlist:     licenseAllowlist,
		Shards: screen.ShardConfig{
			MaxRecordsPerShard: *shardRecords,
			Compression:        *compression,
		},
	}
	engine, err := screen.NewEngine(resolved, opts, detector, obs)
	if err != nil {
		fmt.Fprintln(stderr, "screen:", err)
		return 1
	}

	summary, err := engine.Screen(ctx, *queuePath, domain)
	exit := 0
	if err != nil {
		fmt.Fprintln(stderr, "screen:", err)
		exit = 1
	} else if *strict {
		for _, res := range summary.Results {
			if res.Status == "error" {
				exit = 1
				break
			}
		}
	}
	if summary != nil {
		fmt.Fprintf(stdout, "screened %d targets with %s: passed=%d pitched=%d\n",
			summary.TargetsTotal, summary.Domain, summary.Passed, summary.Pitched)
		recordRun(ctx, obs, runhistory.Entry{
			RunID:      summary.RunID,
			Pipeline:   "yellow_screen",
			StartedAt:  summary.StartedAtUTC,
			FinishedAt: summary.FinishedAtUTC,
			Counts: map[string]int{
				"passed":  int(summary.Passed),
				"pitched": int(summary.Pitched),
				"targets": summary.TargetsTotal,
			},
			Strict:   *strict,
			ExitCode: exit,
		})
	}
	return exit
}
