package adapter

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// DryRunAlgoVersion is recorded in the SSOT for dry-run generations.
const DryRunAlgoVersion = "dry-run"

// DryRun is an adapter that skips real generation and synthesizes a minimal
// valid output instead. It exercises the whole orchestration path (claims,
// markers, upserts, consolidation) without touching any backend.
type DryRun struct{}

// Execute writes a placeholder generated.glb and zero-byte preview files
// into the job output directory.
func (DryRun) Execute(_ context.Context, req *Request) (*Result, error) {
	if len(req.UsedImages) == 0 {
		return nil, Permanentf("job %s has no input images", req.JobID)
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, Permanentf("failed to create output directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(req.OutDir, "generated.glb"), glbPlaceholder(), 0o644); err != nil {
		return nil, Permanentf("failed to write placeholder object: %v", err)
	}

	previews := []string{"preview_1.png"}
	for _, p := range previews {
		if err := os.WriteFile(filepath.Join(req.OutDir, p), nil, 0o644); err != nil {
			return nil, Permanentf("failed to write preview placeholder: %v", err)
		}
	}

	return &Result{
		ObjectPath:  "generated.glb",
		Previews:    previews,
		AlgoVersion: DryRunAlgoVersion,
		RawMetadata: map[string]any{"dry_run": true, "n_images": fmt.Sprint(len(req.UsedImages))},
	}, nil
}

// glbPlaceholder returns the smallest well-formed glTF-binary header: magic,
// version 2, total length 12. Enough for tooling to recognize the file type.
func glbPlaceholder() []byte {
	buf := make([]byte, 12)
	copy(buf[0:4], "glTF")
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], 12)
	return buf
}
