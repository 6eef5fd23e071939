package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func TestReadSamples(t *testing.T) {
	t.Run("ParsesColumnsInAnyOrder", func(t *testing.T) {
		in := "level,text\nserious,Trẻ bị gãy xương\nlow,trẻ khóc\n"
		got, err := readSamples(strings.NewReader(in), 0)
		if err != nil {
			t.Fatalf("readSamples failed: %v", err)
		}
		want := []Sample{
			{Text: "Trẻ bị gãy xương", Expected: domain.SeveritySerious},
			{Text: "trẻ khóc", Expected: domain.SeverityLow},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("samples mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("SkipsUnknownLevels", func(t *testing.T) {
		in := "text,level\na,critical\nb,medium\n"
		got, err := readSamples(strings.NewReader(in), 0)
		if err != nil {
			t.Fatalf("readSamples failed: %v", err)
		}
		if len(got) != 1 || got[0].Expected != domain.SeverityMedium {
			t.Errorf("Expected one medium sample, got %+v", got)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		in := "text,level\na,low\nb,low\nc,low\n"
		got, err := readSamples(strings.NewReader(in), 2)
		if err != nil {
			t.Fatalf("readSamples failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("Expected 2 samples, got %d", len(got))
		}
	})

	t.Run("MissingColumns", func(t *testing.T) {
		if _, err := readSamples(strings.NewReader("note,severity\na,low\n"), 0); err == nil {
			t.Error("Expected error for missing columns")
		}
	})
}

func TestMetricsReport(t *testing.T) {
	m := NewMetrics()
	m.Record(domain.SeveritySerious, domain.SeveritySerious, time.Millisecond, nil)
	m.Record(domain.SeveritySerious, domain.SeverityMedium, time.Millisecond, nil)
	m.Record(domain.SeverityMedium, domain.SeveritySerious, time.Millisecond, nil)
	m.Record(domain.SeverityLow, domain.SeverityLow, time.Millisecond, nil)
	m.Record(domain.SeverityLow, "", time.Millisecond, errors.New("boom"))

	if m.TotalProcessed != 5 || m.TotalErrors != 1 {
		t.Errorf("Expected 5 processed and 1 error, got %d and %d", m.TotalProcessed, m.TotalErrors)
	}

	r := m.Report()
	if r.Accuracy != 0.5 {
		t.Errorf("Expected accuracy 0.5, got %v", r.Accuracy)
	}
	if r.SeriousRecall != 0.5 {
		t.Errorf("Expected serious recall 0.5, got %v", r.SeriousRecall)
	}
	if r.SeriousPrecise != 0.5 {
		t.Errorf("Expected serious precision 0.5, got %v", r.SeriousPrecise)
	}
	if r.F1 != 0.5 {
		t.Errorf("Expected F1 0.5, got %v", r.F1)
	}
}

func TestRunBenchmarkLocal(t *testing.T) {
	classifier, err := rules.NewClassifier(rules.DefaultTable())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	classify := func(text string) (domain.Severity, error) {
		return classifier.Classify(text).Level, nil
	}

	samples := []Sample{
		{Text: "Trẻ bị gãy xương tay", Expected: domain.SeveritySerious},
		{Text: "Trẻ bị bỏ đói nhiều ngày", Expected: domain.SeverityMedium},
		{Text: "Trẻ có vết xước nhẹ", Expected: domain.SeverityLow},
		{Text: "Trẻ bị bầm tím 70% cơ thể", Expected: domain.SeveritySerious},
	}

	m := runBenchmark(samples, classify, 3, false)
	if m.TotalProcessed != int64(len(samples)) {
		t.Fatalf("Expected %d processed, got %d", len(samples), m.TotalProcessed)
	}
	if r := m.Report(); r.Accuracy != 1 {
		t.Errorf("Expected perfect accuracy, got %v (matrix %v)", r.Accuracy, m.Confusion)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("bầm tím", 3); got != "bầm…" {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
	if got := truncate("ngắn", 10); got != "ngắn" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
}
