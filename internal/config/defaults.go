package config

import (
	"os"
	"path/filepath"
	"strconv"

	"kneeseg-worker/internal/domain"
)

// Pipeline execution defaults: 30 minute ceiling, one GPU job at a time.
const (
	DefaultTimeoutSeconds = 1800
	DefaultGPUSlots       = 1
)

// DefaultSettings returns baseline worker configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	pipelineDir := filepath.Join(homeDir, "programming", "kneepipeline")
	return applyDefaults(domain.Settings{
		PipelineDir: pipelineDir,
		DataDir:     filepath.Join(homeDir, ".kneeseg-worker", "data"),
	})
}

// applyDefaults fills unset fields so partial settings files stay usable.
func applyDefaults(cfg domain.Settings) domain.Settings {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.PipelineScript == "" && cfg.PipelineDir != "" {
		cfg.PipelineScript = filepath.Join(cfg.PipelineDir, "dosma_knee_seg.py")
	}
	if cfg.BaseConfigPath == "" && cfg.PipelineDir != "" {
		cfg.BaseConfigPath = filepath.Join(cfg.PipelineDir, "config.json")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.GPUSlots <= 0 {
		cfg.GPUSlots = DefaultGPUSlots
	}
	return cfg
}

// FromEnv overlays environment variables on cfg for deployment overrides.
func FromEnv(cfg domain.Settings) domain.Settings {
	if v := os.Getenv("KNEEPIPELINE_PATH"); v != "" {
		cfg.PipelineDir = v
		cfg.PipelineScript = filepath.Join(v, "dosma_knee_seg.py")
		cfg.BaseConfigPath = filepath.Join(v, "config.json")
	}
	if v := os.Getenv("PYTHON_BIN"); v != "" {
		cfg.PythonBin = v
	}
	if v := os.Getenv("PIPELINE_SCRIPT"); v != "" {
		cfg.PipelineScript = v
	}
	if v := os.Getenv("BASE_CONFIG_PATH"); v != "" {
		cfg.BaseConfigPath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PIPELINE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("GPU_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GPUSlots = n
		}
	}
	if v := os.Getenv("AVAILABLE_MODELS"); v != "" {
		cfg.AvailableModels = v
	}
	return cfg
}
