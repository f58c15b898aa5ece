// Package report stores detection results on disk for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/engine"
)

// Report is a detection run over one document.
type Report struct {
	Source      string           `json:"source" yaml:"source"`
	Model       string           `json:"model" yaml:"model"`
	GeneratedAt time.Time        `json:"generated_at" yaml:"generated_at"`
	Counts      analyzer.Counts  `json:"counts" yaml:"counts"`
	Pages       *engine.Response `json:"pages" yaml:"pages"`
}

func New(source, model string, resp *engine.Response) *Report {
	return &Report{
		Source:      source,
		Model:       model,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		Counts:      resp.Counts(),
		Pages:       resp,
	}
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Write saves rep to path: JSON for a .json extension, YAML otherwise.
func Write(rep *Report, path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(rep, "", "  ")
	} else {
		data, err = yaml.Marshal(rep)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rep := &Report{Pages: engine.NewResponse()}
	if isJSON(path) {
		err = json.Unmarshal(data, rep)
	} else {
		err = yaml.Unmarshal(data, rep)
	}
	if err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return rep, nil
}

// GeneratePath creates a timestamped report filename in dir for the
// document at source.
func GeneratePath(dir, source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s_report_%s.yaml", engine.SecureFilename(base), timestamp))
}

// FindLatest returns the most recently modified report in dir.
func FindLatest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read reports directory: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var reports []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, "_report_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, candidate{filepath.Join(dir, name), info.ModTime()})
	}

	if len(reports) == 0 {
		return "", fmt.Errorf("no reports found in %s", dir)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].mod.After(reports[j].mod)
	})
	return reports[0].path, nil
}
