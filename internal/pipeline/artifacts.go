package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// hasExpectedArtifacts reports whether the results directory contains the
// toolchain's declared outputs. Segmentation volumes count first; summary
// JSON/CSV files are accepted as a fallback for reduced configurations.
func hasExpectedArtifacts(resultsDir string) bool {
	for _, pattern := range []string{"*seg*.nii.gz", "*seg*.nrrd", "segmentation*"} {
		if matches, _ := filepath.Glob(filepath.Join(resultsDir, pattern)); len(matches) > 0 {
			return true
		}
	}
	for _, pattern := range []string{"*.nii.gz", "*.nrrd", "*.json", "*.csv"} {
		if matches, _ := filepath.Glob(filepath.Join(resultsDir, pattern)); len(matches) > 0 {
			return true
		}
	}
	return false
}

// packageResults zips the results directory into outputDir and returns the
// archive path, named after the input artifact.
func packageResults(inputPath, outputDir, resultsDir string) (string, error) {
	zipPath := filepath.Join(outputDir, inputStem(inputPath)+"_results.zip")

	f, err := os.Create(zipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	if err := addDirToZip(w, resultsDir); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return zipPath, nil
}

func addDirToZip(w *zip.Writer, root string) error {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	return nil
}

// inputStem derives the archive base name from the input artifact. Compound
// medical-image suffixes (.nii.gz) are stripped fully; a DICOM directory
// keeps its name.
func inputStem(inputPath string) string {
	if info, err := os.Stat(inputPath); err == nil && info.IsDir() {
		return filepath.Base(inputPath)
	}

	stem := filepath.Base(inputPath)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	if strings.HasSuffix(strings.ToLower(stem), ".nii") {
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	if stem == "" || stem == "." {
		stem = "pipeline"
	}
	return stem
}
