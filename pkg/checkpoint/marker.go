package checkpoint

import (
	"os"
	"time"

	"github.com/curatorlabs/datacollector/pkg/ledger"
)

// Marker is the sibling document asserting a file or stage is fully flushed.
// Its existence is the commit point: marker present ⇒ the artifact exists and
// its .tmp sibling is gone.
type Marker struct {
	ShardPath      string         `json:"shard_path"`
	CompletedAt    string         `json:"completed_at"`
	ShardSizeBytes int64          `json:"shard_size_bytes"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// WriteMarker writes `<path>.complete` for a finished artifact.
func WriteMarker(path string, metadata map[string]any) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	m := Marker{
		ShardPath:      path,
		CompletedAt:    time.Now().UTC().Format(time.RFC3339),
		ShardSizeBytes: info.Size(),
		Metadata:       metadata,
	}
	return ledger.WriteJSONAtomic(path+".complete", m)
}

// MarkerExists reports whether the completion marker for path is present.
func MarkerExists(path string) bool {
	_, err := os.Stat(path + ".complete")
	return err == nil
}
