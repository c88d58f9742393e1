package service

import (
	"path/filepath"
	"strings"

	"kneeseg-worker/internal/domain"
)

// AvailableModels returns the catalog with per-model availability resolved.
// An AVAILABLE_MODELS override pins the served set; otherwise availability
// follows the presence of each model's weights on disk.
func (a *App) AvailableModels() []domain.SegModelOption {
	override := parseModelOverride(a.Settings.AvailableModels)

	catalog := domain.SegModelCatalog()
	for i := range catalog {
		if override != nil {
			catalog[i].Available = override[catalog[i].ID]
			continue
		}
		weightPath := filepath.Join(a.Settings.PipelineDir, catalog[i].WeightPath)
		_, err := a.statFile(weightPath)
		catalog[i].Available = err == nil
	}
	return catalog
}

// parseModelOverride turns the comma-separated AVAILABLE_MODELS value into a
// membership set; nil means no override.
func parseModelOverride(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	set := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id != "" {
			set[id] = true
		}
	}
	return set
}
