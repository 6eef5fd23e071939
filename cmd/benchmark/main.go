// Benchmark tool for measuring Kestrel's classifier against labelled notes.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/notes.csv [-url http://localhost:8080]
//
// The CSV needs a "text" column and a "level" column (low, medium or
// serious). Without -url the classifier runs in process.
//
// This tool:
//  1. Reads labelled observation notes
//  2. Classifies each note via POST /classify or the local classifier
//  3. Builds a 3x3 confusion matrix over severity levels
//  4. Reports accuracy, serious-case precision/recall and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Sample is one labelled note.
type Sample struct {
	Text     string
	Expected domain.Severity
}

// classifyFunc classifies one note.
type classifyFunc func(text string) (domain.Severity, error)

// Metrics accumulates benchmark results. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	// Confusion[expected][predicted]
	Confusion map[domain.Severity]map[domain.Severity]int64

	TotalProcessed   int64
	TotalErrors      int64
	ProcessingTimeMs int64
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	m := &Metrics{Confusion: make(map[domain.Severity]map[domain.Severity]int64)}
	for _, s := range domain.Severities {
		m.Confusion[s] = make(map[domain.Severity]int64)
	}
	return m
}

// Record adds one classification outcome.
func (m *Metrics) Record(expected, predicted domain.Severity, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalProcessed++
	m.ProcessingTimeMs += elapsed.Milliseconds()
	if err != nil {
		m.TotalErrors++
		return
	}
	m.Confusion[expected][predicted]++
}

// Report holds the derived scores.
type Report struct {
	Accuracy       float64
	SeriousRecall  float64
	SeriousPrecise float64
	F1             float64
}

// Report derives accuracy and serious-case scores from the matrix.
func (m *Metrics) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var correct, total int64
	for _, exp := range domain.Severities {
		for _, pred := range domain.Severities {
			n := m.Confusion[exp][pred]
			total += n
			if exp == pred {
				correct += n
			}
		}
	}

	tp := m.Confusion[domain.SeveritySerious][domain.SeveritySerious]
	var actualSerious, predictedSerious int64
	for _, s := range domain.Severities {
		actualSerious += m.Confusion[domain.SeveritySerious][s]
		predictedSerious += m.Confusion[s][domain.SeveritySerious]
	}

	var r Report
	if total > 0 {
		r.Accuracy = float64(correct) / float64(total)
	}
	if actualSerious > 0 {
		r.SeriousRecall = float64(tp) / float64(actualSerious)
	}
	if predictedSerious > 0 {
		r.SeriousPrecise = float64(tp) / float64(predictedSerious)
	}
	if r.SeriousRecall+r.SeriousPrecise > 0 {
		r.F1 = 2 * r.SeriousRecall * r.SeriousPrecise / (r.SeriousRecall + r.SeriousPrecise)
	}
	return r
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled CSV file")
	baseURL := flag.String("url", "", "Kestrel base URL (empty classifies in process)")
	role := flag.String("role", "admin", "Role sent in X-Role")
	rulesPath := flag.String("rules", "", "Rule table for in-process runs")
	limit := flag.Int("limit", 0, "Maximum notes to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each misclassified note")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/notes.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Severity Classification          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:  %s\n", *csvPath)
	fmt.Printf("Target:    %s\n", targetName(*baseURL))
	fmt.Printf("Workers:   %d\n", *workers)
	fmt.Printf("Limit:     %d\n\n", *limit)

	var classify classifyFunc
	if *baseURL == "" {
		table, err := rules.LoadTable(*rulesPath)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		classifier, err := rules.NewClassifier(table)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		classify = func(text string) (domain.Severity, error) {
			return classifier.Classify(text).Level, nil
		}
	} else {
		if err := checkHealth(*baseURL); err != nil {
			fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
			fmt.Println("\nMake sure Kestrel is running:")
			fmt.Println("  go run ./cmd/kestrel serve")
			os.Exit(1)
		}
		fmt.Println("✓ Kestrel is healthy")
		client := &http.Client{Timeout: 10 * time.Second}
		classify = func(text string) (domain.Severity, error) {
			return classifyRemote(client, *baseURL, *role, text)
		}
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	samples, err := readSamples(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d notes\n", len(samples))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(samples, classify, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func targetName(baseURL string) string {
	if baseURL == "" {
		return "in-process classifier"
	}
	return baseURL
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readSamples parses a labelled CSV. Rows with an unknown level are skipped.
func readSamples(r io.Reader, limit int) ([]Sample, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	textCol, levelCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "text":
			textCol = i
		case "level":
			levelCol = i
		}
	}
	if textCol < 0 || levelCol < 0 {
		return nil, errors.New("CSV needs text and level columns")
	}

	var samples []Sample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		level, err := domain.ParseSeverity(strings.TrimSpace(record[levelCol]))
		if err != nil {
			continue
		}
		samples = append(samples, Sample{Text: record[textCol], Expected: level})

		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	return samples, nil
}

func runBenchmark(samples []Sample, classify classifyFunc, numWorkers int, verbose bool) *Metrics {
	metrics := NewMetrics()
	if numWorkers <= 0 {
		numWorkers = 1
	}

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				start := time.Now()
				predicted, err := classify(s.Text)
				metrics.Record(s.Expected, predicted, time.Since(start), err)

				if verbose && (err != nil || predicted != s.Expected) {
					fmt.Printf("✗ expected %-7s got %-7s | %s\n", s.Expected, predicted, truncate(s.Text, 60))
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)
	wg.Wait()

	return metrics
}

func classifyRemote(client *http.Client, baseURL, role, text string) (domain.Severity, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", role)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Level, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func printResults(m *Metrics, duration time.Duration) {
	r := m.Report()

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nProcessed: %d   Errors: %d\n", m.TotalProcessed, m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX (rows: expected, columns: predicted)\n")
	fmt.Printf("   %-9s", "")
	for _, s := range domain.Severities {
		fmt.Printf(" %9s", s)
	}
	fmt.Println()
	for _, exp := range domain.Severities {
		fmt.Printf("   %-9s", exp)
		for _, pred := range domain.Severities {
			fmt.Printf(" %9d", m.Confusion[exp][pred])
		}
		fmt.Println()
	}

	fmt.Printf("\nSCORES\n")
	fmt.Printf("   Accuracy:           %.4f\n", r.Accuracy)
	fmt.Printf("   Serious precision:  %.4f\n", r.SeriousPrecise)
	fmt.Printf("   Serious recall:     %.4f\n", r.SeriousRecall)
	fmt.Printf("   Serious F1:         %.4f\n", r.F1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 && duration > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f notes/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	if r.SeriousRecall < 1 && m.TotalProcessed > 0 {
		fmt.Println("\n   ⚠️  Some serious notes were not classified as serious")
	}
	fmt.Println()
}
