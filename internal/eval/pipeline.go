package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/privacy"
)

// Pipeline scores a detector against labelled corpora
type Pipeline struct {
	detector *privacy.Detector
	config   *Config
	logger   *zap.Logger
}

// outcome is the scored result of one sample
type outcome struct {
	category       string
	tp, fp, fn     int64
	roundTripFails bool
}

// NewPipeline creates a new evaluation pipeline
func NewPipeline(detector *privacy.Detector, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{detector: detector, config: config, logger: logger}
}

// EvaluateFile scores a CSV, JSON-lines or Parquet corpus
func (p *Pipeline) EvaluateFile(ctx context.Context, filePath string) (*Report, error) {
	format := DetectFileFormat(filePath)
	p.logger.Info("Starting evaluation",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	var read func() ([]Sample, error)
	switch format {
	case FormatCSV:
		read, err = p.csvReader(file)
	case FormatParquet:
		read, err = p.parquetReader(file)
	case FormatJSON:
		read, err = p.jsonReader(file)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	return p.run(ctx, read)
}

// Evaluate scores samples held in memory
func (p *Pipeline) Evaluate(ctx context.Context, samples []Sample) (*Report, error) {
	offset := 0
	return p.run(ctx, func() ([]Sample, error) {
		end := offset + p.config.BatchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[offset:end]
		offset = end
		return batch, nil
	})
}

func (p *Pipeline) run(ctx context.Context, read func() ([]Sample, error)) (*Report, error) {
	start := time.Now()
	report := newReport()

	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		batch, err := read()
		if err != nil {
			return report, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		valid := batch[:0:0]
		for _, s := range batch {
			if p.validateSample(s) {
				valid = append(valid, s)
			} else {
				report.Skipped++
			}
		}

		p.processBatch(ctx, valid, report)

		if p.config.ProgressReport > 0 && report.TotalSamples%int64(p.config.ProgressReport) < int64(len(valid)) {
			p.logger.Info("Evaluation progress",
				zap.Int64("samples", report.TotalSamples),
				zap.Duration("elapsed", time.Since(start)))
		}
	}

	report.Duration = time.Since(start)
	overall := report.Overall()
	p.logger.Info("Evaluation completed",
		zap.Int64("samples", report.TotalSamples),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("round_trip_failures", report.RoundTripFailures),
		zap.Float64("precision", overall.Precision()),
		zap.Float64("recall", overall.Recall()),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// processBatch fans a batch out to the worker pool and folds the outcomes into report
func (p *Pipeline) processBatch(ctx context.Context, batch []Sample, report *Report) {
	if len(batch) == 0 {
		return
	}

	jobs := make(chan Sample)
	results := make(chan outcome, len(batch))

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				results <- p.score(s)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range batch {
			select {
			case <-ctx.Done():
				return
			case jobs <- s:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for o := range results {
		report.TotalSamples++
		c, ok := report.Categories[o.category]
		if !ok {
			c = &CategoryScore{}
			report.Categories[o.category] = c
		}
		c.TruePositives += o.tp
		c.FalsePositives += o.fp
		c.FalseNegatives += o.fn
		if o.roundTripFails {
			report.RoundTripFailures++
		}
	}
}

// score masks one sample and compares the items of its category with the label
func (p *Pipeline) score(s Sample) outcome {
	result := p.detector.Mask(s.Text)
	o := outcome{category: s.Category}

	found := false
	for _, item := range result.Items {
		if string(item.Category) != s.Category {
			continue
		}
		if s.Value != "" && item.Original == s.Value {
			found = true
			continue
		}
		o.fp++
	}

	switch {
	case s.Value != "" && found:
		o.tp = 1
	case s.Value != "":
		o.fn = 1
	}

	if privacy.Unmask(result.MaskedText, result.Items) != s.Text {
		o.roundTripFails = true
		p.logger.Warn("Round trip mismatch", zap.String("category", s.Category), zap.Int("items", len(result.Items)))
	}
	return o
}

func (p *Pipeline) validateSample(s Sample) bool {
	if strings.TrimSpace(s.Text) == "" || strings.TrimSpace(s.Category) == "" {
		p.logger.Debug("Invalid sample: empty text or category")
		return false
	}
	if p.config.MaxTextLen > 0 && len(s.Text) > p.config.MaxTextLen {
		p.logger.Debug("Invalid sample: text too long", zap.Int("length", len(s.Text)))
		return false
	}
	return true
}

// csvReader reads a CSV with a header naming text, category and value columns
func (p *Pipeline) csvReader(file io.Reader) (func() ([]Sample, error), error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := map[string]int{"text": -1, "category": -1, "value": -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := columns[name]; ok {
			columns[name] = i
		}
	}
	if columns["text"] < 0 || columns["category"] < 0 {
		return nil, fmt.Errorf("CSV header must include text and category columns, got %v", header)
	}

	field := func(record []string, name string) string {
		i := columns[name]
		if i < 0 || i >= len(record) {
			return ""
		}
		return record[i]
	}

	return func() ([]Sample, error) {
		var batch []Sample
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.logger.Warn("Skipping malformed CSV record", zap.Error(err))
				continue
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read CSV record: %w", err)
			}
			batch = append(batch, Sample{
				Text:     field(record, "text"),
				Category: strings.TrimSpace(field(record, "category")),
				Value:    field(record, "value"),
			})
		}
		return batch, nil
	}, nil
}

// parquetReader reads rows whose columns match Sample's parquet tags
func (p *Pipeline) parquetReader(file *os.File) (func() ([]Sample, error), error) {
	reader := parquet.NewReader(file)

	return func() ([]Sample, error) {
		var batch []Sample
		for len(batch) < p.config.BatchSize {
			var s Sample
			err := reader.Read(&s)
			if err == io.EOF {
				reader.Close()
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read Parquet row: %w", err)
			}
			batch = append(batch, s)
		}
		return batch, nil
	}, nil
}

// jsonReader reads one JSON object per line
func (p *Pipeline) jsonReader(file io.Reader) (func() ([]Sample, error), error) {
	decoder := json.NewDecoder(file)

	return func() ([]Sample, error) {
		var batch []Sample
		for len(batch) < p.config.BatchSize {
			var s Sample
			err := decoder.Decode(&s)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to decode JSON sample: %w", err)
			}
			batch = append(batch, s)
		}
		return batch, nil
	}, nil
}
