package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Document file names within an experiment tree.
const (
	ExperimentFile       = "experiment.md.json"
	RawDatasetDir        = "data"
	RawDatasetFile       = "raw_dataset.md.json"
	ProcessedDatasetFile = "processed_dataset.md.json"
	DocSuffix            = ".md.json"

	// RawDatasetName is the dataset name that designates the raw dataset.
	RawDatasetName = "data"

	runStem = "run"
)

var runFilePattern = regexp.MustCompile(`^run(?:_(\d+))?\.md\.json$`)

// SanitizeName derives a file-system name from a record name: the name is
// normalized to NFC, whitespace is removed and path separators become '_'.
// Names that differ only by Unicode composition map to the same file.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
		case r == '/' || r == '\\' || r == filepath.Separator:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return ""
	}
	return out
}

// ExperimentLocation accepts either an experiment directory or its document
// path and returns the document path.
func ExperimentLocation(path string) string {
	if filepath.Base(path) == ExperimentFile {
		return path
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, ExperimentFile)
	}
	return path
}

// DatasetLocation accepts either a dataset directory or its document path and
// returns the document path.
func DatasetLocation(path string) string {
	switch filepath.Base(path) {
	case RawDatasetFile, ProcessedDatasetFile:
		return path
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		raw := filepath.Join(path, RawDatasetFile)
		if _, err := os.Stat(raw); err == nil {
			return raw
		}
		return filepath.Join(path, ProcessedDatasetFile)
	}
	return path
}

func runFileName(n int) string {
	if n == 0 {
		return runStem + DocSuffix
	}
	return fmt.Sprintf("%s_%d%s", runStem, n, DocSuffix)
}

// runIndex parses a run document name; ok is false for other files.
func runIndex(name string) (int, bool) {
	m := runFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 0, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// experimentFor locates the experiment document owning a dataset or data
// document by walking up at most two directories.
func experimentFor(location string) (string, bool) {
	dir := filepath.Dir(location)
	for range 2 {
		dir = filepath.Dir(dir)
		candidate := filepath.Join(dir, ExperimentFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}
