package eval

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sample is one labelled row of an evaluation corpus. An empty Value means
// no item of Category is expected in Text.
type Sample struct {
	Text     string `csv:"text" parquet:"text" json:"text"`
	Category string `csv:"category" parquet:"category" json:"category"`
	Value    string `csv:"value" parquet:"value" json:"value"`
}

// Config contains evaluation pipeline configuration
type Config struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"`
	MaxTextLen     int `yaml:"max_text_len" mapstructure:"max_text_len"`
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		WorkerCount:    4,
		ProgressReport: 5000,
		MaxTextLen:     10000,
	}
}

// CategoryScore tallies detection outcomes for one category
type CategoryScore struct {
	TruePositives  int64 `json:"true_positives"`
	FalsePositives int64 `json:"false_positives"`
	FalseNegatives int64 `json:"false_negatives"`
}

// Precision is TP / (TP + FP), or 1 when nothing was predicted
func (c CategoryScore) Precision() float64 {
	predicted := c.TruePositives + c.FalsePositives
	if predicted == 0 {
		return 1
	}
	return float64(c.TruePositives) / float64(predicted)
}

// Recall is TP / (TP + FN), or 1 when nothing was expected
func (c CategoryScore) Recall() float64 {
	expected := c.TruePositives + c.FalseNegatives
	if expected == 0 {
		return 1
	}
	return float64(c.TruePositives) / float64(expected)
}

// F1 is the harmonic mean of precision and recall
func (c CategoryScore) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Report is the outcome of evaluating a corpus
type Report struct {
	TotalSamples      int64                     `json:"total_samples"`
	Skipped           int64                     `json:"skipped"`
	RoundTripFailures int64                     `json:"round_trip_failures"`
	Categories        map[string]*CategoryScore `json:"categories"`
	Duration          time.Duration             `json:"duration"`
	Errors            []string                  `json:"errors,omitempty"`
}

func newReport() *Report {
	return &Report{Categories: make(map[string]*CategoryScore)}
}

// CategoryNames returns the scored categories in sorted order
func (r *Report) CategoryNames() []string {
	names := make([]string, 0, len(r.Categories))
	for name := range r.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overall sums every category
func (r *Report) Overall() CategoryScore {
	var total CategoryScore
	for _, c := range r.Categories {
		total.TruePositives += c.TruePositives
		total.FalsePositives += c.FalsePositives
		total.FalseNegatives += c.FalseNegatives
	}
	return total
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
