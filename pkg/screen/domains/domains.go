// Package domains holds the per-subject record reviewers the yellow screen
// dispatches to. Every domain shares the standard extraction and transform
// machinery and layers its own heuristics on top.
package domains

import (
	"context"
	"fmt"
	"strings"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

// ForName resolves a domain module by its routing name. The form
// "wasm:<path>" loads a WebAssembly reviewer from disk.
func ForName(ctx context.Context, name string) (screen.Domain, error) {
	if path, ok := strings.CutPrefix(name, "wasm:"); ok {
		return NewWasm(ctx, path)
	}
	switch name {
	case "", "standard":
		return Standard{}, nil
	case "chem", "chemistry":
		return Chem{}, nil
	case "biology", "bio":
		return Biology{}, nil
	case "code":
		return Code{}, nil
	case "cyber":
		return Cyber{}, nil
	case "econ", "economics":
		return Econ{}, nil
	case "kg_nav", "kgnav":
		return KGNav{}, nil
	case "nlp":
		return NLP{}, nil
	case "safety":
		return Safety{}, nil
	}
	return nil, fmt.Errorf("unknown screen domain %q", name)
}
