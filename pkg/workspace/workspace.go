package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace resolves every canonical path below a single root directory.
// It carries no state beyond the root; all accessors are pure.
type Workspace struct {
	root string
}

// New creates a workspace resolver for the given root.
// The root is made absolute so that Rel can relativize any derived path.
func New(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Workspace{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// DatasetDir returns the read-only dataset tree.
func (w *Workspace) DatasetDir() string { return filepath.Join(w.root, "dataset") }

// TablesDir returns the directory holding the SSOT CSV tables.
func (w *Workspace) TablesDir() string { return filepath.Join(w.root, "tables") }

// RunsDir returns the directory holding per-run outputs and state.
func (w *Workspace) RunsDir() string { return filepath.Join(w.root, "runs") }

// LogsDir returns the directory holding the append-only event logs.
func (w *Workspace) LogsDir() string { return filepath.Join(w.root, "logs") }

// ReportsDir returns the directory holding generated reports.
func (w *Workspace) ReportsDir() string { return filepath.Join(w.root, "reports") }

// ItemsCSV returns the items SSOT path.
func (w *Workspace) ItemsCSV() string { return filepath.Join(w.TablesDir(), "items.csv") }

// ItemsIssuesCSV returns the items issues table path.
func (w *Workspace) ItemsIssuesCSV() string {
	return filepath.Join(w.TablesDir(), "items_issues.csv")
}

// GenerationsCSV returns the generations SSOT path.
func (w *Workspace) GenerationsCSV() string {
	return filepath.Join(w.TablesDir(), "generations.csv")
}

// RunDir returns the directory for a single run.
func (w *Workspace) RunDir(runID string) string { return filepath.Join(w.RunsDir(), runID) }

// ManifestCSV returns the per-run manifest path.
func (w *Workspace) ManifestCSV(runID string) string {
	return filepath.Join(w.RunDir(runID), "manifest.csv")
}

// OutputsDir returns the per-job output directory.
func (w *Workspace) OutputsDir(runID, jobID string) string {
	return filepath.Join(w.RunDir(runID), "outputs", jobID)
}

// StateDir returns the per-run state marker directory.
func (w *Workspace) StateDir(runID string) string {
	return filepath.Join(w.RunDir(runID), "state")
}

// MetricsDir returns the per-run metric artifact directory.
func (w *Workspace) MetricsDir(runID string) string {
	return filepath.Join(w.RunDir(runID), "metrics")
}

// StateLockPath returns the per-job claim lock file.
func (w *Workspace) StateLockPath(runID, jobID string) string {
	return filepath.Join(w.StateDir(runID), jobID+".lock")
}

// InProgressMarker returns the per-job in-progress sentinel path.
func (w *Workspace) InProgressMarker(runID, jobID string) string {
	return filepath.Join(w.StateDir(runID), jobID+".inprogress")
}

// CompletedMarker returns the per-job completed sentinel path.
func (w *Workspace) CompletedMarker(runID, jobID string) string {
	return filepath.Join(w.StateDir(runID), jobID+".completed")
}

// FailedMarker returns the per-job failed sentinel path.
func (w *Workspace) FailedMarker(runID, jobID string) string {
	return filepath.Join(w.StateDir(runID), jobID+".failed")
}

// ErrorFile returns the per-job full failure trace path.
func (w *Workspace) ErrorFile(runID, jobID string) string {
	return filepath.Join(w.StateDir(runID), jobID+".error.txt")
}

// CatalogLog returns the catalog-build event log path.
func (w *Workspace) CatalogLog() string { return filepath.Join(w.LogsDir(), "catalog_build.log") }

// BatchLog returns the batch-create event log path.
func (w *Workspace) BatchLog() string { return filepath.Join(w.LogsDir(), "batch_create.log") }

// WorkerLog returns the worker event log path.
func (w *Workspace) WorkerLog() string { return filepath.Join(w.LogsDir(), "worker.log") }

// ConsolidateLog returns the consolidator event log path.
func (w *Workspace) ConsolidateLog() string { return filepath.Join(w.LogsDir(), "consolidate.log") }

// MetricsLog returns the metric evaluator event log path.
func (w *Workspace) MetricsLog() string { return filepath.Join(w.LogsDir(), "metrics.log") }

// EnsureMutableTree idempotently creates the writable workspace directories.
// The dataset tree is read-only and never created here.
func (w *Workspace) EnsureMutableTree() error {
	for _, dir := range []string{w.TablesDir(), w.RunsDir(), w.ReportsDir(), w.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureRunTree idempotently creates the per-run state and output directories.
func (w *Workspace) EnsureRunTree(runID string) error {
	for _, dir := range []string{w.RunDir(runID), w.StateDir(runID), filepath.Join(w.RunDir(runID), "outputs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Rel converts an absolute path below the root into the workspace-relative
// POSIX form stored in the SSOT tables: forward slashes, no drive letter,
// no leading slash.
func (w *Workspace) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", abs, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside the workspace", abs)
	}
	return rel, nil
}

// Abs converts a workspace-relative POSIX path back to an absolute path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}
