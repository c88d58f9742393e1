// fakepipe stands in for the segmentation toolchain during local development.
// It honors the real invocation contract (argv, KNEEPIPELINE_CONFIG, file
// output) and emits the same progress markers, without needing a GPU.
//
// Point PYTHON_BIN at this binary to run the worker end to end:
//
//	PYTHON_BIN=fakepipe PIPELINE_SCRIPT=ignored ./worker
//
// FAKEPIPE_MODE selects a failure rehearsal: oom, crash, or hang.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var steps = []string{
	"Loading segmentation model",
	"Preprocessing image",
	"Running segmentation inference",
	"Postprocessing segmentation",
	"Computing bone surfaces",
	"Registering to reference",
	"Computing NSM bone and cartilage",
	"Computing B-score",
	"Exporting results",
	"Complete",
}

func main() {
	args := os.Args[1:]
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: fakepipe [script] <input> <results-dir> <model>")
		os.Exit(2)
	}
	// When substituted for the interpreter the script path arrives first.
	input, resultsDir, model := args[len(args)-3], args[len(args)-2], args[len(args)-1]

	configPath := os.Getenv("KNEEPIPELINE_CONFIG")
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "config error: KNEEPIPELINE_CONFIG is not set")
		os.Exit(1)
	}
	cfg, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	var doc map[string]any
	if err := json.Unmarshal(cfg, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(input); err != nil {
		fmt.Fprintf(os.Stderr, "input file does not exist: %s\n", input)
		os.Exit(1)
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create results dir: %v\n", err)
		os.Exit(1)
	}

	mode := os.Getenv("FAKEPIPE_MODE")
	delay := stepDelay()

	for i, name := range steps {
		fmt.Printf("Step %d of %d: %s\n", i+1, len(steps), name)
		time.Sleep(delay)

		switch {
		case mode == "oom" && i == 2:
			fmt.Fprintln(os.Stderr, "RuntimeError: CUDA out of memory. Tried to allocate 2.50 GiB")
			os.Exit(1)
		case mode == "crash" && i == 3:
			fmt.Fprintln(os.Stderr, "Segmentation failed: empty mask produced")
			os.Exit(1)
		case mode == "hang" && i == 4:
			select {}
		}
	}

	if err := writeResults(resultsDir, input, model, doc); err != nil {
		fmt.Fprintf(os.Stderr, "write results: %v\n", err)
		os.Exit(1)
	}
}

// writeResults produces the artifact shapes the worker looks for.
func writeResults(resultsDir, input, model string, cfg map[string]any) error {
	seg := filepath.Join(resultsDir, "segmentation.nii.gz")
	if err := os.WriteFile(seg, []byte("fake segmentation volume\n"), 0o644); err != nil {
		return err
	}

	summary := map[string]any{
		"input":        input,
		"model":        model,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"config_keys":  len(cfg),
		"bscore":       -0.42,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(resultsDir, "results.json"), data, 0o644); err != nil {
		return err
	}

	csv := "metric,value\nbscore,-0.42\ncartilage_thickness_mm,2.31\n"
	return os.WriteFile(filepath.Join(resultsDir, "metrics.csv"), []byte(csv), 0o644)
}

func stepDelay() time.Duration {
	if v := os.Getenv("FAKEPIPE_STEP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 300 * time.Millisecond
}
