package config

import (
	"os"
	"path/filepath"
	"testing"

	"kneeseg-worker/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.PythonBin != "python3" {
		t.Fatalf("python bin = %q, want python3", cfg.PythonBin)
	}
	if cfg.PipelineDir == "" || cfg.PipelineScript == "" || cfg.BaseConfigPath == "" {
		t.Fatalf("expected populated pipeline paths, got %+v", cfg)
	}
	if cfg.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("timeout = %d, want %d", cfg.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if cfg.GPUSlots != DefaultGPUSlots {
		t.Fatalf("gpu slots = %d, want %d", cfg.GPUSlots, DefaultGPUSlots)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.PythonBin != "python3" {
		t.Fatalf("python bin = %q, want python3", got.PythonBin)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		PipelineDir:    "/opt/kneepipeline",
		PythonBin:      "/opt/venv/bin/python",
		PipelineScript: "/opt/kneepipeline/dosma_knee_seg.py",
		BaseConfigPath: "/opt/kneepipeline/config.json",
		DataDir:        "/var/lib/kneeseg",
		TimeoutSeconds: 900,
		GPUSlots:       2,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadFillsPartialFile verifies defaults backfill older files.
func TestJSONStoreLoadFillsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"pipelineDir": "/opt/kneepipeline"}`), 0o644); err != nil {
		t.Fatalf("write partial settings: %v", err)
	}

	got, err := NewJSONStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.PipelineScript != "/opt/kneepipeline/dosma_knee_seg.py" {
		t.Fatalf("pipeline script = %q", got.PipelineScript)
	}
	if got.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("timeout = %d, want default", got.TimeoutSeconds)
	}
}

// TestFromEnvOverrides verifies deployment overrides take precedence.
func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KNEEPIPELINE_PATH", "/srv/pipeline")
	t.Setenv("PYTHON_BIN", "/srv/venv/bin/python")
	t.Setenv("PIPELINE_TIMEOUT_SECONDS", "600")
	t.Setenv("GPU_SLOTS", "2")
	t.Setenv("AVAILABLE_MODELS", "nnunet_fullres,dosma_ananya")

	got := FromEnv(DefaultSettings())
	if got.PipelineDir != "/srv/pipeline" {
		t.Fatalf("pipeline dir = %q", got.PipelineDir)
	}
	if got.PipelineScript != "/srv/pipeline/dosma_knee_seg.py" {
		t.Fatalf("pipeline script = %q", got.PipelineScript)
	}
	if got.PythonBin != "/srv/venv/bin/python" {
		t.Fatalf("python bin = %q", got.PythonBin)
	}
	if got.TimeoutSeconds != 600 || got.GPUSlots != 2 {
		t.Fatalf("timeout/slots = %d/%d, want 600/2", got.TimeoutSeconds, got.GPUSlots)
	}
	if got.AvailableModels != "nnunet_fullres,dosma_ananya" {
		t.Fatalf("available models = %q", got.AvailableModels)
	}
}

// TestFromEnvIgnoresInvalidNumbers verifies junk numeric values are dropped.
func TestFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("PIPELINE_TIMEOUT_SECONDS", "soon")
	t.Setenv("GPU_SLOTS", "-1")

	got := FromEnv(DefaultSettings())
	if got.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("timeout = %d, want default preserved", got.TimeoutSeconds)
	}
	if got.GPUSlots != DefaultGPUSlots {
		t.Fatalf("gpu slots = %d, want default preserved", got.GPUSlots)
	}
}
