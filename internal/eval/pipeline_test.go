package eval

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"github.com/raaihank/glasslm/internal/privacy"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	d, err := privacy.New(config.GetDefaults().Privacy, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return NewPipeline(d, &Config{BatchSize: 2, WorkerCount: 3}, nil)
}

var corpus = []Sample{
	{Text: "mail bob@corp.io today", Category: "email", Value: "bob@corp.io"},
	{Text: "no address here", Category: "email", Value: "alice@corp.io"},
	{Text: "mail bob@corp.io and sue@corp.io", Category: "email", Value: "bob@corp.io"},
	{Text: "ssn 123-45-6789 on file", Category: "ssn", Value: "123-45-6789"},
	{Text: "nothing sensitive", Category: "ssn"},
}

func checkCorpusReport(t *testing.T, report *Report) {
	t.Helper()
	if report.TotalSamples != 5 {
		t.Errorf("expected 5 samples, got %d", report.TotalSamples)
	}
	if report.RoundTripFailures != 0 {
		t.Errorf("expected lossless round trips, got %d failures", report.RoundTripFailures)
	}

	email := report.Categories["email"]
	if email == nil {
		t.Fatal("missing email score")
	}
	if email.TruePositives != 2 || email.FalsePositives != 1 || email.FalseNegatives != 1 {
		t.Errorf("unexpected email score %+v", email)
	}

	ssn := report.Categories["ssn"]
	if ssn == nil || ssn.TruePositives != 1 || ssn.FalsePositives != 0 || ssn.FalseNegatives != 0 {
		t.Errorf("unexpected ssn score %+v", ssn)
	}

	if names := report.CategoryNames(); strings.Join(names, ",") != "email,ssn" {
		t.Errorf("unexpected category order %v", names)
	}
}

func TestEvaluate(t *testing.T) {
	report, err := newTestPipeline(t).Evaluate(context.Background(), corpus)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	checkCorpusReport(t, report)
}

func TestEvaluateSkipsInvalidSamples(t *testing.T) {
	p := newTestPipeline(t)
	p.config.MaxTextLen = 20

	report, err := p.Evaluate(context.Background(), []Sample{
		{Text: "", Category: "email"},
		{Text: "mail a@b.io", Category: ""},
		{Text: strings.Repeat("x", 21), Category: "email"},
		{Text: "mail a@b.io", Category: "email", Value: "a@b.io"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Skipped != 3 || report.TotalSamples != 1 {
		t.Errorf("unexpected counts: skipped=%d total=%d", report.Skipped, report.TotalSamples)
	}
}

func TestEvaluateFileCSV(t *testing.T) {
	var b strings.Builder
	b.WriteString("category,text,value\n")
	for _, s := range corpus {
		b.WriteString(s.Category + ",\"" + s.Text + "\"," + s.Value + "\n")
	}
	path := filepath.Join(t.TempDir(), "corpus.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := newTestPipeline(t).EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}
	checkCorpusReport(t, report)
}

func TestEvaluateFileCSVRequiresColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("body,label\nx,y\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestPipeline(t).EvaluateFile(context.Background(), path); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestCSVReaderSkipsMalformedRecords(t *testing.T) {
	input := "category,text\nemail,a\"b\nemail,contact bob@corp.io\n"

	read, err := newTestPipeline(t).csvReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("csvReader failed: %v", err)
	}
	batch, err := read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(batch) != 1 || batch[0].Text != "contact bob@corp.io" {
		t.Errorf("unexpected batch %+v", batch)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestCSVReaderReturnsReadErrors(t *testing.T) {
	input := io.MultiReader(strings.NewReader("category,text\n"), failingReader{})

	read, err := newTestPipeline(t).csvReader(input)
	if err != nil {
		t.Fatalf("csvReader failed: %v", err)
	}
	if _, err := read(); err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("expected the read error, got %v", err)
	}
}

func TestEvaluateFileJSONLines(t *testing.T) {
	body := `{"text":"mail bob@corp.io today","category":"email","value":"bob@corp.io"}
{"text":"no address here","category":"email","value":"alice@corp.io"}
{"text":"mail bob@corp.io and sue@corp.io","category":"email","value":"bob@corp.io"}
{"text":"ssn 123-45-6789 on file","category":"ssn","value":"123-45-6789"}
{"text":"nothing sensitive","category":"ssn"}
`
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := newTestPipeline(t).EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}
	checkCorpusReport(t, report)
}

func TestEvaluateFileParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := parquet.NewGenericWriter[Sample](f)
	if _, err := w.Write(corpus); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	report, err := newTestPipeline(t).EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}
	checkCorpusReport(t, report)
}

func TestEvaluateFileMissing(t *testing.T) {
	if _, err := newTestPipeline(t).EvaluateFile(context.Background(), "/nonexistent/corpus.csv"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCategoryScore(t *testing.T) {
	empty := CategoryScore{}
	if empty.Precision() != 1 || empty.Recall() != 1 || empty.F1() != 1 {
		t.Errorf("empty score should be perfect: %v %v %v", empty.Precision(), empty.Recall(), empty.F1())
	}

	s := CategoryScore{TruePositives: 3, FalsePositives: 1, FalseNegatives: 3}
	if s.Precision() != 0.75 || s.Recall() != 0.5 {
		t.Errorf("unexpected precision/recall %v %v", s.Precision(), s.Recall())
	}
	if f1 := s.F1(); f1 < 0.599 || f1 > 0.601 {
		t.Errorf("unexpected F1 %v", f1)
	}

	zero := CategoryScore{FalsePositives: 2, FalseNegatives: 2}
	if zero.F1() != 0 {
		t.Errorf("expected zero F1, got %v", zero.F1())
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"a.csv":        FormatCSV,
		"a.PARQUET":    FormatParquet,
		"dir/a.jsonl":  FormatJSON,
		"a.json":       FormatJSON,
		"no_extension": FormatCSV,
	}
	for name, want := range tests {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", name, got, want)
		}
	}
}
