package runconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kneeseg-worker/internal/domain"
)

const baseTemplate = `{
  "default_seg_model": "acl_qdess_bone_july_2024",
  "nnunet": {"type": "fullres", "folds": [0, 1, 2]},
  "perform_bone_and_cart_nsm": true,
  "perform_bone_only_nsm": false,
  "image_smooth_var_cart": 0.3125,
  "batch_size": 16,
  "unrelated_setting": "untouched"
}`

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(baseTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func loadConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read generated config: %v", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	return cfg
}

// TestGenerateAppliesModelSelection verifies model mapping including the
// nnU-Net variant flag.
func TestGenerateAppliesModelSelection(t *testing.T) {
	g := NewGenerator(writeTemplate(t))
	jobDir := t.TempDir()

	path, err := g.Generate(jobDir, domain.Options{SegmentationModel: "nnunet_cascade"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	cfg := loadConfig(t, path)

	if cfg["default_seg_model"] != "nnunet_knee" {
		t.Fatalf("default_seg_model = %v, want nnunet_knee", cfg["default_seg_model"])
	}
	nnunet, ok := cfg["nnunet"].(map[string]any)
	if !ok {
		t.Fatalf("nnunet section missing: %v", cfg)
	}
	if nnunet["type"] != "cascade" {
		t.Fatalf("nnunet.type = %v, want cascade", nnunet["type"])
	}
	if cfg["unrelated_setting"] != "untouched" {
		t.Fatalf("unrelated_setting = %v, want preserved", cfg["unrelated_setting"])
	}
}

// TestGenerateNSMCombinations verifies the toggle and type flag mapping.
func TestGenerateNSMCombinations(t *testing.T) {
	cases := []struct {
		name        string
		opts        domain.Options
		boneAndCart bool
		boneOnly    bool
	}{
		{"default", domain.Options{}, true, false},
		{"disabled", domain.Options{PerformNSM: boolPtr(false), NSMType: domain.NSMTypeBoth}, false, false},
		{"bone only", domain.Options{NSMType: domain.NSMTypeBoneOnly}, false, true},
		{"both", domain.Options{NSMType: domain.NSMTypeBoth}, true, true},
		{"none", domain.Options{NSMType: domain.NSMTypeNone}, false, false},
	}
	for _, tc := range cases {
		g := NewGenerator(writeTemplate(t))
		path, err := g.Generate(t.TempDir(), tc.opts)
		if err != nil {
			t.Fatalf("%s: Generate() error = %v", tc.name, err)
		}
		cfg := loadConfig(t, path)

		if cfg["perform_bone_and_cart_nsm"] != tc.boneAndCart {
			t.Fatalf("%s: perform_bone_and_cart_nsm = %v, want %v", tc.name, cfg["perform_bone_and_cart_nsm"], tc.boneAndCart)
		}
		if cfg["perform_bone_only_nsm"] != tc.boneOnly {
			t.Fatalf("%s: perform_bone_only_nsm = %v, want %v", tc.name, cfg["perform_bone_only_nsm"], tc.boneOnly)
		}
	}
}

// TestGenerateNumericOverrides verifies tunables land in the document.
func TestGenerateNumericOverrides(t *testing.T) {
	g := NewGenerator(writeTemplate(t))

	path, err := g.Generate(t.TempDir(), domain.Options{
		CartilageSmoothing: floatPtr(1.25),
		BatchSize:          intPtr(4),
		ClipFemurTop:       boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	cfg := loadConfig(t, path)

	if cfg["image_smooth_var_cart"] != 1.25 {
		t.Fatalf("image_smooth_var_cart = %v, want 1.25", cfg["image_smooth_var_cart"])
	}
	if cfg["batch_size"] != float64(4) {
		t.Fatalf("batch_size = %v, want 4", cfg["batch_size"])
	}
	if cfg["clip_femur_top"] != true {
		t.Fatalf("clip_femur_top = %v, want true", cfg["clip_femur_top"])
	}
}

// TestGenerateDeterministic verifies identical inputs produce identical bytes.
func TestGenerateDeterministic(t *testing.T) {
	template := writeTemplate(t)
	opts := domain.Options{
		SegmentationModel: "dosma_ananya",
		NSMType:           domain.NSMTypeBoth,
		BatchSize:         intPtr(8),
	}

	first, err := NewGenerator(template).Generate(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	second, err := NewGenerator(template).Generate(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Fatal("generated configs differ for identical inputs")
	}
}

// TestGenerateValidationFailureWritesNothing verifies the all-or-nothing
// contract: invalid options never produce a partial file.
func TestGenerateValidationFailureWritesNothing(t *testing.T) {
	g := NewGenerator(writeTemplate(t))
	jobDir := t.TempDir()

	_, err := g.Generate(jobDir, domain.Options{BatchSize: intPtr(0)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}

	if _, statErr := os.Stat(filepath.Join(jobDir, ConfigFileName)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("config file must not exist after validation failure")
	}
}

// TestGenerateLeavesTemplateUntouched verifies the base template is never
// mutated by per-job generation.
func TestGenerateLeavesTemplateUntouched(t *testing.T) {
	template := writeTemplate(t)
	before, _ := os.ReadFile(template)

	g := NewGenerator(template)
	if _, err := g.Generate(t.TempDir(), domain.Options{SegmentationModel: "goyal_axial"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	after, _ := os.ReadFile(template)
	if !bytes.Equal(before, after) {
		t.Fatal("template bytes changed")
	}
}
