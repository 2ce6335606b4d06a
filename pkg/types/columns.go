package types

import "fmt"

// Column names shared across the SSOT tables. The CSV files are the public
// interface of the system; renaming a column is a breaking change.
const (
	ColProductID         = "product_id"
	ColVariant           = "variant"
	ColManufacturer      = "manufacturer"
	ColProductName       = "product_name"
	ColCategoryL1        = "category_l1"
	ColCategoryL2        = "category_l2"
	ColCategoryL3        = "category_l3"
	ColDescription       = "description"
	ColNImages           = "n_images"
	ColGTObjectPath      = "gt_object_path"
	ColDatasetDir        = "dataset_dir"
	ColBuildTime         = "build_time"
	ColSourceJSONPresent = "source_json_present"

	ColIssue  = "issue"
	ColDetail = "detail"

	ColRunID        = "run_id"
	ColJobID        = "job_id"
	ColAlgo         = "algo"
	ColAlgoVersion  = "algo_version"
	ColUsedNImages  = "used_n_images"
	ColImageSetHash = "image_set_hash"

	ColStatus              = "status"
	ColCreatedAt           = "created_at"
	ColGenerationStart     = "generation_start"
	ColGenerationEnd       = "generation_end"
	ColGenerationDurationS = "generation_duration_s"
	ColWorkerHost          = "worker_host"
	ColWorkerUser          = "worker_user"
	ColWorkerGPU           = "worker_gpu"
	ColWorkerEnv           = "worker_env"
	ColWorkerCommit        = "worker_commit"
	ColGenObjectPath       = "gen_object_path"
	ColUnitPriceUSD        = "unit_price_usd"
	ColCurrency            = "currency"
	ColPriceSource         = "price_source"
	ColEstimatedCostUSD    = "estimated_cost_usd"
	ColErrorMsg            = "error_msg"
	ColNotes               = "notes"

	// Geometry metric block, owned by the f-score evaluator.
	ColGeomFScore    = "geom_fscore"
	ColGeomPrecision = "geom_precision"
	ColGeomRecall    = "geom_recall"
	ColGeomChamfer   = "geom_chamfer_dist"
	ColGeomAlignment = "geom_alignment_transform"
	ColGeomDistMean  = "geom_dist_mean"
	ColGeomDistP95   = "geom_dist_p95"
	ColGeomStatus    = "geom_status"
	ColGeomError     = "geom_error"

	// Visual-fidelity metric block, owned by the vf-score evaluator.
	ColVFScore        = "vf_score"
	ColVFLPIPS        = "vf_lpips"
	ColVFIoU          = "vf_iou"
	ColVFPose         = "vf_pose_params"
	ColVFArtifactPath = "vf_artifact_path"
	ColVFStatus       = "vf_status"
	ColVFError        = "vf_error"
)

// MaxPreviews caps the preview paths recorded per job.
const MaxPreviews = 3

// ImageColumn returns the item source-image column for 1-based index n.
func ImageColumn(n int) string {
	return fmt.Sprintf("image_%d_path", n)
}

// UsedImageColumn returns the per-job used-image column for 1-based index n.
func UsedImageColumn(n int) string {
	return fmt.Sprintf("used_image_%d_path", n)
}

// PreviewColumn returns the preview-path column for 1-based index n.
func PreviewColumn(n int) string {
	return fmt.Sprintf("preview_%d_path", n)
}

// ItemKeyColumns is the upsert key of the items SSOT.
var ItemKeyColumns = []string{ColProductID, ColVariant}

// GenerationKeyColumns is the upsert key of the generations SSOT.
var GenerationKeyColumns = []string{ColRunID, ColJobID}

// ItemColumns is the full items SSOT schema, in file order.
var ItemColumns = []string{
	ColProductID, ColVariant,
	ColManufacturer, ColProductName,
	ColCategoryL1, ColCategoryL2, ColCategoryL3,
	ColDescription,
	ColNImages,
	ImageColumn(1), ImageColumn(2), ImageColumn(3),
	ImageColumn(4), ImageColumn(5), ImageColumn(6),
	ColGTObjectPath,
	ColDatasetDir,
	ColBuildTime,
	ColSourceJSONPresent,
}

// IssueColumns is the items issues table schema, in file order.
var IssueColumns = []string{ColProductID, ColVariant, ColIssue, ColDetail}

// GenerationColumns is the full generations SSOT schema, in file order.
// Metric columns are owned by the external evaluators but declared here so
// fresh tables carry the complete schema.
var GenerationColumns = buildGenerationColumns()

func buildGenerationColumns() []string {
	cols := []string{
		ColRunID, ColJobID,
		ColProductID, ColVariant,
		ColManufacturer, ColProductName,
		ColCategoryL1, ColCategoryL2, ColCategoryL3,
		ColDescription,
		ColAlgo, ColAlgoVersion,
		ColUsedNImages,
	}
	for i := 1; i <= MaxImages; i++ {
		cols = append(cols, UsedImageColumn(i))
	}
	cols = append(cols,
		ColImageSetHash,
		ColGTObjectPath,
		ColStatus,
		ColCreatedAt,
		ColGenerationStart, ColGenerationEnd, ColGenerationDurationS,
		ColWorkerHost, ColWorkerUser, ColWorkerGPU, ColWorkerEnv, ColWorkerCommit,
		ColGenObjectPath,
	)
	for i := 1; i <= MaxPreviews; i++ {
		cols = append(cols, PreviewColumn(i))
	}
	cols = append(cols,
		ColUnitPriceUSD, ColCurrency, ColPriceSource, ColEstimatedCostUSD,
		ColErrorMsg, ColNotes,
		ColGeomFScore, ColGeomPrecision, ColGeomRecall, ColGeomChamfer,
		ColGeomAlignment, ColGeomDistMean, ColGeomDistP95,
		ColGeomStatus, ColGeomError,
		ColVFScore, ColVFLPIPS, ColVFIoU, ColVFPose, ColVFArtifactPath,
		ColVFStatus, ColVFError,
	)
	return cols
}

// ManifestColumns is the per-run manifest projection, in file order.
var ManifestColumns = []string{
	ColJobID, ColProductID, ColVariant, ColAlgo,
	ColUsedNImages,
	UsedImageColumn(1), UsedImageColumn(2), UsedImageColumn(3),
	UsedImageColumn(4), UsedImageColumn(5), UsedImageColumn(6),
	ColImageSetHash,
	ColGTObjectPath,
	ColProductName, ColManufacturer,
}
