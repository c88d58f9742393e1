package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kneeseg-worker/internal/domain"
)

// Checker validates the external toolchain and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkPython(settings.PythonBin),
		c.checkFile("pipeline_script", "Pipeline script", settings.PipelineScript,
			"Install the kneepipeline toolchain and point PIPELINE_SCRIPT at dosma_knee_seg.py."),
		c.checkFile("base_config", "Base config template", settings.BaseConfigPath,
			"Download the pipeline models and configuration before starting the worker."),
		c.checkDataDir(settings.DataDir),
	}
	items = append(items, c.checkModelWeights(settings)...)

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkPython verifies the configured interpreter is on PATH or on disk.
func (c *Checker) checkPython(pythonBin string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "python_bin",
		Name: "Python interpreter",
	}

	if strings.ContainsRune(pythonBin, os.PathSeparator) {
		if _, err := c.stat(pythonBin); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Interpreter not found: %s", pythonBin)
			item.Hint = "Set PYTHON_BIN to the interpreter of the pipeline environment."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", pythonBin)
		return item
	}

	path, err := c.lookPath(pythonBin)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Interpreter not found in PATH: %s", pythonBin)
		item.Hint = "Set PYTHON_BIN to the interpreter of the pipeline environment."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkFile verifies one required file exists.
func (c *Checker) checkFile(id, name, path, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(path) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = name + " path is empty."
		item.Hint = hint
		return item
	}
	if _, err := c.stat(path); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Not found: %s", path)
		item.Hint = hint
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkDataDir verifies the job data directory exists and is writable.
func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "data_dir",
		Name: "Data directory",
	}

	if strings.TrimSpace(dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set DATA_DIR to a writable directory for job inputs and results."
		return item
	}

	if err := c.mkdirAll(dataDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %v", err)
		item.Hint = "Check permissions on the configured DATA_DIR."
		return item
	}

	probe, err := c.createTemp(dataDir, ".write-probe-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %v", err)
		item.Hint = "Check permissions on the configured DATA_DIR."
		return item
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = c.remove(probePath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable at %s", dataDir)
	return item
}

// checkModelWeights reports availability of each catalog model's weights.
// Missing weights are informational when AVAILABLE_MODELS restricts the
// served set, so only models in the served set count as failures.
func (c *Checker) checkModelWeights(settings domain.Settings) []domain.DiagnosticItem {
	served := servedModelIDs(settings)

	items := make([]domain.DiagnosticItem, 0, len(served))
	for _, id := range served {
		model, ok := domain.SegModelByID(id)
		if !ok {
			continue
		}

		item := domain.DiagnosticItem{
			ID:   "model_" + model.ID,
			Name: model.Name,
		}
		weightPath := filepath.Join(settings.PipelineDir, model.WeightPath)
		if _, err := c.stat(weightPath); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Model weights not found: %s", weightPath)
			item.Hint = "Download the model weights or remove the model from AVAILABLE_MODELS."
		} else {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Weights at %s", weightPath)
		}
		items = append(items, item)
	}
	return items
}

// servedModelIDs returns the models this worker is expected to serve: the
// AVAILABLE_MODELS override when set, the full catalog otherwise.
func servedModelIDs(settings domain.Settings) []string {
	if strings.TrimSpace(settings.AvailableModels) == "" {
		return domain.ValidSegModelIDs()
	}

	var ids []string
	for _, raw := range strings.Split(settings.AvailableModels, ",") {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := domain.SegModelByID(id); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewCheckerForTests constructs a checker with injected OS dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
