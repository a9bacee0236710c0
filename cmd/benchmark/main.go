// Command benchmark replays labelled PaySim transactions against a running
// Harrier server and reports detection quality and latency.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
)

type config struct {
	csvPath    string
	url        string
	limit      int
	workers    int
	fraudOnly  bool
	sampleRate float64
	verbose    bool
}

type result struct {
	predicted bool
	actual    bool
	score     float64
	latency   time.Duration
	err       error
}

type job struct {
	row int
	tx  PaySimTransaction
}

func main() {
	var cfg config
	flag.StringVar(&cfg.csvPath, "csv", "", "Path to PaySim CSV file (required)")
	flag.StringVar(&cfg.url, "url", "http://localhost:8080", "Harrier server URL")
	flag.IntVar(&cfg.limit, "limit", 10000, "Max transactions to replay (0 = all)")
	flag.IntVar(&cfg.workers, "workers", 10, "Concurrent workers")
	flag.BoolVar(&cfg.fraudOnly, "fraud-only", false, "Only replay fraudulent transactions")
	flag.Float64Var(&cfg.sampleRate, "sample", 1.0, "Share of legitimate transactions to keep (0.0-1.0)")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Print every misclassified transaction")
	flag.Parse()

	if cfg.csvPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: benchmark -csv <path> [-url URL] [-limit N] [-workers N]")
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	f, err := os.Open(cfg.csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	txs, err := readPaySim(f, ReadOptions{
		Limit:      cfg.limit,
		FraudOnly:  cfg.fraudOnly,
		SampleRate: cfg.sampleRate,
	})
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return fmt.Errorf("no transactions loaded from %s", cfg.csvPath)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if err := checkHealth(client, cfg.url); err != nil {
		return err
	}

	fmt.Printf("Replaying %d transactions with %d workers against %s\n", len(txs), cfg.workers, cfg.url)

	jobs := make(chan job)
	results := make(chan result, cfg.workers)
	var processed atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r := evaluate(client, cfg.url, j)
				if cfg.verbose && r.err == nil && r.predicted != r.actual {
					fmt.Printf("  row %d %s %.2f: predicted=%v actual=%v score=%.1f\n",
						j.row, j.tx.Type, j.tx.Amount, r.predicted, r.actual, r.score)
				}
				results <- r
				if n := processed.Add(1); n%1000 == 0 {
					fmt.Printf("  processed %d/%d\n", n, len(txs))
				}
			}
		}()
	}

	go func() {
		// Rows go out in file order so a customer's history builds up in time order.
		for i, tx := range txs {
			jobs <- job{row: i, tx: tx}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	start := time.Now()
	var matrix Confusion
	var latencies []time.Duration
	var failures int
	for r := range results {
		if r.err != nil {
			failures++
			if cfg.verbose {
				fmt.Printf("  error: %v\n", r.err)
			}
			continue
		}
		matrix.Add(r.predicted, r.actual)
		latencies = append(latencies, r.latency)
	}

	report(matrix, latencies, failures, time.Since(start))
	return nil
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("harrier not reachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("harrier health check returned %d", resp.StatusCode)
	}
	return nil
}

func evaluate(client *http.Client, baseURL string, j job) result {
	res := result{actual: j.tx.IsFraud}

	body, err := json.Marshal(j.tx.Event(j.row))
	if err != nil {
		res.err = err
		return res
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	res.latency = time.Since(start)
	if err != nil {
		res.err = err
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		res.err = fmt.Errorf("row %d: status %d: %s", j.row, resp.StatusCode, bytes.TrimSpace(msg))
		return res
	}

	var out api.EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		res.err = fmt.Errorf("row %d: decode: %w", j.row, err)
		return res
	}
	if out.Decision != nil {
		res.predicted = out.Decision.ShouldAlert
		res.score = out.Decision.FraudScore
	}
	return res
}

func report(m Confusion, latencies []time.Duration, failures int, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("RESULTS")
	fmt.Printf("  Evaluated:        %d (%d failed)\n", len(latencies), failures)
	fmt.Printf("  Elapsed:          %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("  Throughput:       %.1f events/s\n", float64(len(latencies))/elapsed.Seconds())
	}
	fmt.Println()
	fmt.Println("CONFUSION MATRIX")
	fmt.Printf("  True positives:   %d\n", m.TruePositives)
	fmt.Printf("  False positives:  %d\n", m.FalsePositives)
	fmt.Printf("  True negatives:   %d\n", m.TrueNegatives)
	fmt.Printf("  False negatives:  %d\n", m.FalseNegatives)
	fmt.Println()
	fmt.Println("QUALITY")
	fmt.Printf("  Precision:        %.2f%%\n", m.Precision()*100)
	fmt.Printf("  Recall:           %.2f%%\n", m.Recall()*100)
	fmt.Printf("  F1:               %.4f\n", m.F1())
	fmt.Printf("  Accuracy:         %.2f%%\n", m.Accuracy()*100)

	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		return latencies[int(float64(len(latencies)-1)*p)]
	}
	fmt.Println()
	fmt.Println("LATENCY")
	fmt.Printf("  p50:              %s\n", pct(0.50))
	fmt.Printf("  p95:              %s\n", pct(0.95))
	fmt.Printf("  p99:              %s\n", pct(0.99))
	fmt.Printf("  max:              %s\n", latencies[len(latencies)-1])
}
