package runconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kneeseg-worker/internal/domain"
)

// ConfigFileName is the job-scoped configuration artifact consumed by the
// pipeline via the KNEEPIPELINE_CONFIG environment variable.
const ConfigFileName = "config.json"

// Generator materializes job-scoped pipeline configuration from a base
// template plus validated options. Output is a deterministic function of
// (template bytes, options): identical inputs produce byte-identical files.
type Generator struct {
	templatePath string
	readFile     func(string) ([]byte, error)
	writeFile    func(string, []byte, os.FileMode) error
	mkdirAll     func(string, os.FileMode) error
}

// NewGenerator builds a generator reading the base template from templatePath.
func NewGenerator(templatePath string) *Generator {
	return &Generator{
		templatePath: templatePath,
		readFile:     os.ReadFile,
		writeFile:    os.WriteFile,
		mkdirAll:     os.MkdirAll,
	}
}

// Generate validates opts, applies the option mapping to a deep copy of the
// template, writes the result to jobDir/config.json, and returns its path.
// On validation failure no file is written and the error enumerates every
// failing field.
func (g *Generator) Generate(jobDir string, opts domain.Options) (string, error) {
	if err := ValidateOptions(opts); err != nil {
		return "", err
	}

	data, err := g.readFile(g.templatePath)
	if err != nil {
		return "", fmt.Errorf("read base config template: %w", err)
	}

	// Decoding into a fresh map is the deep copy: the template bytes are
	// never mutated and each job gets its own document.
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse base config template: %w", err)
	}

	applyOptions(cfg, opts)

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job config: %w", err)
	}

	if err := g.mkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}

	configPath := filepath.Join(jobDir, ConfigFileName)
	if err := g.writeFile(configPath, out, 0o644); err != nil {
		return "", fmt.Errorf("write job config: %w", err)
	}

	return configPath, nil
}

// applyOptions maps validated options onto the config document. Every enum
// combination is enumerated explicitly; a disabled toggle forces all of its
// dependent flags false.
func applyOptions(cfg map[string]any, opts domain.Options) {
	modelID := opts.SegmentationModel
	if modelID == "" {
		modelID = domain.DefaultSegModel
	}
	model, _ := domain.SegModelByID(modelID)
	cfg["default_seg_model"] = model.PipelineName

	nnunetType := "fullres"
	if model.NNUNetType == "cascade" {
		nnunetType = "cascade"
	}
	nnunet, ok := cfg["nnunet"].(map[string]any)
	if !ok {
		nnunet = map[string]any{}
	}
	nnunet["type"] = nnunetType
	cfg["nnunet"] = nnunet

	performNSM := true
	if opts.PerformNSM != nil {
		performNSM = *opts.PerformNSM
	}
	nsmType := opts.NSMType
	if nsmType == "" {
		nsmType = domain.NSMTypeBoneAndCart
	}

	boneAndCart := false
	boneOnly := false
	if performNSM {
		switch nsmType {
		case domain.NSMTypeBoneAndCart:
			boneAndCart, boneOnly = true, false
		case domain.NSMTypeBoneOnly:
			boneAndCart, boneOnly = false, true
		case domain.NSMTypeBoth:
			boneAndCart, boneOnly = true, true
		case domain.NSMTypeNone:
			boneAndCart, boneOnly = false, false
		}
	}
	cfg["perform_bone_and_cart_nsm"] = boneAndCart
	cfg["perform_bone_only_nsm"] = boneOnly

	if opts.CartilageSmoothing != nil {
		cfg["image_smooth_var_cart"] = *opts.CartilageSmoothing
	}
	if opts.BatchSize != nil {
		cfg["batch_size"] = *opts.BatchSize
	}
	if opts.ClipFemurTop != nil {
		cfg["clip_femur_top"] = *opts.ClipFemurTop
	}
}
