// Command dc drives the dataset acquisition pipeline: classify targets into
// license buckets, acquire the payloads of a bucket's queue, and screen the
// yellow bucket into contract-conformant shards.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/curatorlabs/datacollector/pkg/layout"
	"github.com/curatorlabs/datacollector/pkg/version"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "classify":
		return runClassifyCmd(args[2:], stdout, stderr)
	case "acquire":
		return runAcquireCmd(args[2:], stdout, stderr)
	case "screen":
		return runScreenCmd(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintln(stdout, "dc "+version.Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: dc <command> [flags]

Commands:
  classify   evaluate the target catalog and write the bucket queues
  acquire    download the payloads of a classified queue
  screen     review the yellow bucket into screened output shards
  version    print the engine version

Run "dc <command> -h" for command flags.`)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// headerList collects repeatable KEY=VALUE flags. The header-style
// "Name: value" spelling is accepted too; the first separator wins, so an
// `=` inside a header value survives.
type headerList map[string]string

func (h headerList) String() string { return fmt.Sprintf("%d headers", len(h)) }

func (h headerList) Set(v string) error {
	sep := strings.IndexAny(v, "=:")
	if sep < 0 {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	h[strings.TrimSpace(v[:sep])] = strings.TrimSpace(v[sep+1:])
	return nil
}

// signalContext cancels on SIGINT or SIGTERM so in-flight downloads stop at
// the next chunk boundary and partial files keep their .part suffix.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// rootFlags registers the dataset-root flag family shared by every command.
func rootFlags(fs *flag.FlagSet) (*string, *layout.Roots) {
	datasetRoot := fs.String("dataset-root", "datasets", "dataset tree root")
	var roots layout.Roots
	fs.StringVar(&roots.RawRoot, "raw-root", "", "override raw payload root")
	fs.StringVar(&roots.ManifestsRoot, "manifests-root", "", "override per-target manifest root")
	fs.StringVar(&roots.QueuesRoot, "queues-root", "", "override queue root")
	fs.StringVar(&roots.LedgerRoot, "ledger-root", "", "override ledger root")
	fs.StringVar(&roots.PitchesRoot, "pitches-root", "", "override pitch sample root")
	fs.StringVar(&roots.LogsRoot, "logs-root", "", "override log root")
	fs.StringVar(&roots.ScreenedRoot, "screened-root", "", "override screened output root")
	return datasetRoot, &roots
}
