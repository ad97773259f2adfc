package domains

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/curatorlabs/datacollector/pkg/screen"
)

// Wasm runs a reviewer compiled to a WASI command module. Each call feeds
// one JSON request on stdin and reads one JSON response from stdout, so a
// domain can be written in any language without linking into this process
// or gaining filesystem and network access.
type Wasm struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

type wasmRequest struct {
	Op       string         `json:"op"` // filter | transform
	Record   map[string]any `json:"record"`
	Decision map[string]any `json:"decision,omitempty"`
	TargetID string         `json:"target_id"`
	Pool     string         `json:"pool"`
}

type wasmFilterResponse struct {
	Allow       bool           `json:"allow"`
	Reason      string         `json:"reason,omitempty"`
	Text        string         `json:"text,omitempty"`
	LicenseSPDX string         `json:"license_spdx,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	SampleExtra map[string]any `json:"sample_extra,omitempty"`
}

// NewWasm compiles the module at path once; instantiation happens per call.
func NewWasm(ctx context.Context, path string) (*Wasm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm domain: %w", err)
	}
	runtime := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)
	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compile wasm domain: %w", err)
	}
	name := filepath.Base(path)
	return &Wasm{name: "wasm:" + name, runtime: runtime, compiled: compiled}, nil
}

// Name implements screen.Domain.
func (w *Wasm) Name() string { return w.name }

// FilterRecord implements screen.Domain. A module failure pitches the
// record rather than crashing the run.
func (w *Wasm) FilterRecord(raw map[string]any, rc *screen.RecordContext) screen.FilterDecision {
	out, err := w.invoke(wasmRequest{
		Op: "filter", Record: raw, TargetID: rc.Row.ID, Pool: rc.Pool,
	})
	if err != nil {
		return screen.FilterDecision{Reason: "wasm_domain_failed",
			SampleExtra: map[string]any{"error": err.Error()}}
	}
	var resp wasmFilterResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return screen.FilterDecision{Reason: "wasm_domain_failed",
			SampleExtra: map[string]any{"error": err.Error()}}
	}
	dec := screen.FilterDecision{
		Allow:       resp.Allow,
		Reason:      resp.Reason,
		Text:        resp.Text,
		LicenseSPDX: resp.LicenseSPDX,
		Extra:       resp.Extra,
		SampleExtra: resp.SampleExtra,
	}
	if dec.Allow && dec.Text == "" {
		dec.Text = extractText(raw)
	}
	return dec
}

// TransformRecord implements screen.Domain. The module may return a full
// record; an empty response falls back to the standard transform.
func (w *Wasm) TransformRecord(raw map[string]any, dec screen.FilterDecision, rc *screen.RecordContext) (map[string]any, error) {
	out, err := w.invoke(wasmRequest{
		Op: "transform", Record: raw,
		Decision: map[string]any{
			"text": dec.Text, "license_spdx": dec.LicenseSPDX, "extra": dec.Extra,
		},
		TargetID: rc.Row.ID, Pool: rc.Pool,
	})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return buildRecord(raw, dec, rc)
	}
	var record map[string]any
	if err := json.Unmarshal(out, &record); err != nil {
		return nil, fmt.Errorf("wasm transform output: %w", err)
	}
	return record, nil
}

// Close releases the compiled module and runtime.
func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

func (w *Wasm) invoke(req wasmRequest) ([]byte, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(io.Discard)
	ctx := context.Background()
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return stdout.Bytes(), nil
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
