package layout

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromDatasetRoot_DerivesConventionalTree(t *testing.T) {
	r := FromDatasetRoot("/data/sets", Roots{})

	assert.Equal(t, "/data/sets", r.DatasetRoot)
	assert.Equal(t, filepath.Join("/data/sets", "raw"), r.RawRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_manifests"), r.ManifestsRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_queues"), r.QueuesRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_ledger"), r.LedgerRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_pitches"), r.PitchesRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_logs"), r.LogsRoot)
	assert.Equal(t, filepath.Join("/data/sets", "screened_yellow"), r.ScreenedRoot)
}

func TestFromDatasetRoot_HonorsOverrides(t *testing.T) {
	r := FromDatasetRoot("/data/sets", Roots{RawRoot: "/bulk/raw", LogsRoot: "/var/log/dc"})
	assert.Equal(t, "/bulk/raw", r.RawRoot)
	assert.Equal(t, "/var/log/dc", r.LogsRoot)
	assert.Equal(t, filepath.Join("/data/sets", "_queues"), r.QueuesRoot)
}

// TestTargetPathsAreSanitized keeps slash-bearing target ids inside their
// own directory.
func TestTargetPathsAreSanitized(t *testing.T) {
	r := FromDatasetRoot("/data/sets", Roots{})

	assert.Equal(t,
		filepath.Join("/data/sets", "_manifests", "acme_corpus"),
		r.ManifestDir("acme/corpus"))
	assert.Equal(t,
		filepath.Join("/data/sets", "raw", "green", "permissive", "acme_corpus"),
		r.RawTargetDir("green", "permissive", "acme/corpus"))
}

func TestQueueAndRunPaths(t *testing.T) {
	r := FromDatasetRoot("/data/sets", Roots{})
	assert.Equal(t, filepath.Join("/data/sets", "_queues", "green_download.jsonl"),
		r.QueuePath(QueueGreen))
	assert.Equal(t, filepath.Join("/data/sets", "_ledger", "run-1"), r.RunLedgerDir("run-1"))
	assert.Equal(t, filepath.Join("/data/sets", "screened_yellow", "copyleft", "shards"),
		r.ShardDir("copyleft"))
}
