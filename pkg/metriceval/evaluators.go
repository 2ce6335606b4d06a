package metriceval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// FScore compares the generated mesh against the ground-truth object and
// owns the geometry column block. Rows without a ground truth are reported
// as errors, not silently skipped, so the gap is visible in the table.
type FScore struct {
	Tool string
	Tau  float64
}

// NewFScore builds the geometry evaluator from the resolved configuration.
func NewFScore(cfg *config.Config) *FScore {
	return &FScore{Tool: cfg.Tools.FScore, Tau: cfg.Metrics.FScoreTau}
}

func (e *FScore) Name() string { return "fscore" }

func (e *FScore) Columns() []string {
	return []string{
		types.ColGeomFScore, types.ColGeomPrecision, types.ColGeomRecall,
		types.ColGeomChamfer, types.ColGeomAlignment,
		types.ColGeomDistMean, types.ColGeomDistP95,
		types.ColGeomStatus, types.ColGeomError,
	}
}

func (e *FScore) StatusColumns() (string, string) {
	return types.ColGeomStatus, types.ColGeomError
}

// fscoreResult is the JSON document the geometry tool prints on stdout.
type fscoreResult struct {
	FScore             float64 `json:"fscore"`
	Precision          float64 `json:"precision"`
	Recall             float64 `json:"recall"`
	ChamferDist        float64 `json:"chamfer_dist"`
	AlignmentTransform string  `json:"alignment_transform"`
	DistMean           float64 `json:"dist_mean"`
	DistP95            float64 `json:"dist_p95"`
}

func (e *FScore) Evaluate(ctx context.Context, ws *workspace.Workspace, row types.Row) (types.Row, []byte, error) {
	gt := row[types.ColGTObjectPath]
	if gt == "" {
		return nil, nil, fmt.Errorf("no ground-truth object for job %s", row[types.ColJobID])
	}
	gen := row[types.ColGenObjectPath]
	if gen == "" {
		return nil, nil, fmt.Errorf("no generated object for job %s", row[types.ColJobID])
	}
	gtAbs := ws.Abs(gt)
	genAbs := ws.Abs(gen)
	if _, err := os.Stat(genAbs); err != nil {
		return nil, nil, fmt.Errorf("generated object missing on disk: %s", gen)
	}

	raw, err := runTool(ctx, e.Tool,
		"--gt", gtAbs,
		"--pred", genAbs,
		"--tau", strconv.FormatFloat(e.Tau, 'g', -1, 64),
	)
	if err != nil {
		return nil, nil, err
	}

	var r fscoreResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, nil, fmt.Errorf("unparseable fscore output: %w", err)
	}

	return types.Row{
		types.ColGeomFScore:    types.FormatFloat(r.FScore),
		types.ColGeomPrecision: types.FormatFloat(r.Precision),
		types.ColGeomRecall:    types.FormatFloat(r.Recall),
		types.ColGeomChamfer:   types.FormatFloat(r.ChamferDist),
		types.ColGeomAlignment: r.AlignmentTransform,
		types.ColGeomDistMean:  types.FormatFloat(r.DistMean),
		types.ColGeomDistP95:   types.FormatFloat(r.DistP95),
	}, raw, nil
}

// VFScore renders the generated mesh and scores it against the source
// images; it owns the visual-fidelity column block. No ground truth is
// required.
type VFScore struct {
	Tool       string
	Renderer   string
	Resolution int
}

// NewVFScore builds the visual-fidelity evaluator from the resolved
// configuration.
func NewVFScore(cfg *config.Config) *VFScore {
	return &VFScore{
		Tool:       cfg.Tools.VFScore,
		Renderer:   cfg.Tools.Renderer,
		Resolution: cfg.Metrics.VFResolution,
	}
}

func (e *VFScore) Name() string { return "vfscore" }

func (e *VFScore) Columns() []string {
	return []string{
		types.ColVFScore, types.ColVFLPIPS, types.ColVFIoU,
		types.ColVFPose, types.ColVFArtifactPath,
		types.ColVFStatus, types.ColVFError,
	}
}

func (e *VFScore) StatusColumns() (string, string) {
	return types.ColVFStatus, types.ColVFError
}

// vfscoreResult is the JSON document the visual-fidelity tool prints on
// stdout. ArtifactPath is absolute and relativized before upsert.
type vfscoreResult struct {
	Score        float64 `json:"score"`
	LPIPS        float64 `json:"lpips"`
	IoU          float64 `json:"iou"`
	PoseParams   string  `json:"pose_params"`
	ArtifactPath string  `json:"artifact_path"`
}

func (e *VFScore) Evaluate(ctx context.Context, ws *workspace.Workspace, row types.Row) (types.Row, []byte, error) {
	gen := row[types.ColGenObjectPath]
	if gen == "" {
		return nil, nil, fmt.Errorf("no generated object for job %s", row[types.ColJobID])
	}
	genAbs := ws.Abs(gen)
	if _, err := os.Stat(genAbs); err != nil {
		return nil, nil, fmt.Errorf("generated object missing on disk: %s", gen)
	}

	args := []string{
		"--pred", genAbs,
		"--resolution", strconv.Itoa(e.Resolution),
	}
	if e.Renderer != "" {
		args = append(args, "--renderer", e.Renderer)
	}
	for i := 1; i <= types.MaxImages; i++ {
		if img := row[types.UsedImageColumn(i)]; img != "" {
			args = append(args, "--image", ws.Abs(img))
		}
	}

	raw, err := runTool(ctx, e.Tool, args...)
	if err != nil {
		return nil, nil, err
	}

	var r vfscoreResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, nil, fmt.Errorf("unparseable vfscore output: %w", err)
	}

	out := types.Row{
		types.ColVFScore: types.FormatFloat(r.Score),
		types.ColVFLPIPS: types.FormatFloat(r.LPIPS),
		types.ColVFIoU:   types.FormatFloat(r.IoU),
		types.ColVFPose:  r.PoseParams,
	}
	if r.ArtifactPath != "" {
		if rel, err := ws.Rel(r.ArtifactPath); err == nil {
			out[types.ColVFArtifactPath] = rel
		} else {
			out[types.ColVFArtifactPath] = r.ArtifactPath
		}
	}
	return out, raw, nil
}
