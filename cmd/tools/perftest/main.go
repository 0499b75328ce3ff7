// main.go - Load testing tool for the Pulseboard ingestion and report endpoints
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"pulseboard/internal/tracking"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL       string
	SiteID        string
	APIKey        string
	Concurrency   int
	Duration      time.Duration
	EventsPerSec  int
	ReportEvery   int
	VerboseOutput bool
	Timeout       time.Duration
}

// PerfStats holds statistics about the performance test
type PerfStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	DatabaseBusyErrors int64
	StartTime          time.Time
	EndTime            time.Time

	mu            sync.Mutex
	StatusCodes   map[int]int64
	TrackLatency  []time.Duration
	ReportLatency []time.Duration
}

// Result captures the result of a single request
type Result struct {
	Report     bool
	Duration   time.Duration
	StatusCode int
	Error      error
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the server")
	siteID := flag.String("site", "perf-site", "Site id to send traffic for")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	eventsPerSec := flag.Int("rate", 0, "Target requests per second (0 = unlimited)")
	reportEvery := flag.Int("report-every", 50, "Request a report every N hits per worker (0 = never)")
	verbose := flag.Bool("verbose", false, "Enable verbose output")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &PerfConfig{
		BaseURL:       strings.TrimRight(*baseURL, "/"),
		SiteID:        *siteID,
		APIKey:        os.Getenv("PULSEBOARD_REPORT_API_KEY"),
		Concurrency:   *concurrency,
		Duration:      *duration,
		EventsPerSec:  *eventsPerSec,
		ReportEvery:   *reportEvery,
		VerboseOutput: *verbose,
		Timeout:       *timeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Println("\n=== Pulseboard Performance Testing Tool ===")
	fmt.Printf("  URL (-url):              %s\n", cfg.BaseURL)
	fmt.Printf("  Site (-site):            %s\n", cfg.SiteID)
	fmt.Printf("  Concurrency (-c):        %d\n", cfg.Concurrency)
	fmt.Printf("  Duration (-d):           %v\n", cfg.Duration)
	fmt.Printf("  Requests/sec (-rate):    %d\n", cfg.EventsPerSec)
	fmt.Printf("  Report every:            %d\n", cfg.ReportEvery)
	fmt.Println("===========================================")

	stats := &PerfStats{
		StatusCodes: make(map[int]int64),
		StartTime:   time.Now(),
	}

	testCtx, testCancel := context.WithTimeout(ctx, cfg.Duration)
	defer testCancel()

	for result := range runTest(testCtx, cfg, logger) {
		processResult(result, stats)
	}

	stats.EndTime = time.Now()
	printResults(stats)
	exportResults(stats)
}

// runTest starts the workers and returns a channel for their results
func runTest(ctx context.Context, cfg *PerfConfig, logger *slog.Logger) <-chan Result {
	resultChan := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	perWorker := 0.0
	if cfg.EventsPerSec > 0 {
		perWorker = float64(cfg.EventsPerSec) / float64(cfg.Concurrency)
		logger.Info("Rate limiting enabled",
			slog.Int("totalRequestsPerSec", cfg.EventsPerSec),
			slog.Float64("requestsPerSecPerWorker", perWorker))
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			sessionID := fmt.Sprintf("perf-%d-%d", workerID, rng.Intn(1_000_000))

			var ticker *time.Ticker
			if perWorker > 0 {
				ticker = time.NewTicker(time.Duration(float64(time.Second) / perWorker))
				defer ticker.Stop()
			}

			for sent := 1; ; sent++ {
				if ticker != nil {
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				} else if ctx.Err() != nil {
					return
				}

				// Rotate sessions so reports see a realistic visitor mix.
				if rng.Intn(5) == 0 {
					sessionID = fmt.Sprintf("perf-%d-%d", workerID, rng.Intn(1_000_000))
				}

				resultChan <- sendTrack(client, cfg, generateRequest(rng, cfg.SiteID, sessionID))
				if cfg.ReportEvery > 0 && sent%cfg.ReportEvery == 0 {
					resultChan <- sendReport(client, cfg)
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	return resultChan
}

func sendTrack(client *http.Client, cfg *PerfConfig, payload tracking.TrackRequest) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Errorf("failed to marshal JSON: %w", err)}
	}

	req, err := http.NewRequest(http.MethodPost, cfg.BaseURL+"/api/analytics/track", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", payload.UserAgent)

	return do(client, req, false, cfg.VerboseOutput)
}

func sendReport(client *http.Client, cfg *PerfConfig) Result {
	req, err := http.NewRequest(http.MethodGet, cfg.BaseURL+"/api/analytics?siteId="+cfg.SiteID+"&days=30", nil)
	if err != nil {
		return Result{Report: true, Error: fmt.Errorf("failed to create request: %w", err)}
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return do(client, req, true, cfg.VerboseOutput)
}

func do(client *http.Client, req *http.Request, report bool, verbose bool) Result {
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Report: report, Duration: elapsed, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && verbose {
		b, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error response [%d]: %s\n", resp.StatusCode, string(b))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return Result{Report: report, Duration: elapsed, StatusCode: resp.StatusCode}
}

var perfPaths = []string{"/", "/products", "/services", "/about", "/contact", "/blog", "/pricing", "/faq", "/signup"}

var perfReferrers = []string{
	"https://www.google.com/",
	"https://www.facebook.com/",
	"https://twitter.com/",
	"https://www.linkedin.com/",
	"https://www.bing.com/",
}

var perfUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
}

// generateRequest builds a random page view, or an event one time in ten
func generateRequest(rng *rand.Rand, siteID, sessionID string) tracking.TrackRequest {
	req := tracking.TrackRequest{
		SiteID:    siteID,
		SessionID: sessionID,
		EventType: string(tracking.KindPageView),
		PageURL:   "https://perf.example.com" + perfPaths[rng.Intn(len(perfPaths))],
		UserAgent: perfUserAgents[rng.Intn(len(perfUserAgents))],
	}
	if rng.Float64() < 0.6 {
		req.Referrer = perfReferrers[rng.Intn(len(perfReferrers))]
	}
	if rng.Intn(10) == 0 {
		req.EventType = string(tracking.KindEvent)
		req.EventData = map[string]interface{}{"name": "perf_click", "workerId": sessionID}
	}
	return req
}

// processResult folds a single request into the running stats
func processResult(result Result, stats *PerfStats) {
	atomic.AddInt64(&stats.TotalRequests, 1)

	if result.Error != nil {
		atomic.AddInt64(&stats.FailedRequests, 1)
		return
	}

	stats.mu.Lock()
	stats.StatusCodes[result.StatusCode]++
	if result.Report {
		stats.ReportLatency = append(stats.ReportLatency, result.Duration)
	} else {
		stats.TrackLatency = append(stats.TrackLatency, result.Duration)
	}
	stats.mu.Unlock()

	switch {
	case result.StatusCode == http.StatusOK:
		atomic.AddInt64(&stats.SuccessfulRequests, 1)
	case result.StatusCode == http.StatusServiceUnavailable:
		atomic.AddInt64(&stats.DatabaseBusyErrors, 1)
		atomic.AddInt64(&stats.FailedRequests, 1)
	default:
		atomic.AddInt64(&stats.FailedRequests, 1)
	}
}

// percentile returns the p-th percentile of sorted durations
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}

// printResults displays the test results in aligned tables
func printResults(stats *PerfStats) {
	total := stats.EndTime.Sub(stats.StartTime)
	rps := float64(stats.TotalRequests) / total.Seconds()

	fmt.Println("\nPerformance Test Results:")
	fmt.Printf("Test Duration: %v\n", total.Round(time.Millisecond))
	fmt.Printf("Requests Per Second: %.2f\n", rps)

	if stats.TotalRequests == 0 {
		fmt.Println("No requests were sent")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Total Requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Successful Requests\t%d (%.2f%%)\n", stats.SuccessfulRequests, 100*float64(stats.SuccessfulRequests)/float64(stats.TotalRequests))
	fmt.Fprintf(w, "Failed Requests\t%d (%.2f%%)\n", stats.FailedRequests, 100*float64(stats.FailedRequests)/float64(stats.TotalRequests))
	if stats.DatabaseBusyErrors > 0 {
		fmt.Fprintf(w, "Database Busy Errors\t%d\n", stats.DatabaseBusyErrors)
	}
	w.Flush()

	sortDurations(stats.TrackLatency)
	sortDurations(stats.ReportLatency)

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\t%s\t%s\t%s\t%s\n", "ENDPOINT", "COUNT", "P50", "P90", "P95", "P99")
	for _, row := range []struct {
		name string
		d    []time.Duration
	}{{"track", stats.TrackLatency}, {"report", stats.ReportLatency}} {
		fmt.Fprintf(w, "%s\t%d\t%v\t%v\t%v\t%v\n", row.name, len(row.d),
			percentile(row.d, 0.5), percentile(row.d, 0.9), percentile(row.d, 0.95), percentile(row.d, 0.99))
	}
	w.Flush()

	var codes []int
	for code := range stats.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Println("\nStatus Code Distribution:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	const maxBarLength = 50
	for _, code := range codes {
		count := stats.StatusCodes[code]
		bar := strings.Repeat("█", int(float64(count)/float64(stats.TotalRequests)*maxBarLength))
		fmt.Fprintf(w, "%d\t%d\t%.2f%%\t%s\n", code, count, 100*float64(count)/float64(stats.TotalRequests), bar)
	}
	w.Flush()
}

// exportResults saves test results to a JSON file for external visualization
func exportResults(stats *PerfStats) {
	result := map[string]interface{}{
		"summary": map[string]interface{}{
			"totalRequests":      stats.TotalRequests,
			"successfulRequests": stats.SuccessfulRequests,
			"failedRequests":     stats.FailedRequests,
			"databaseBusy":       stats.DatabaseBusyErrors,
			"trackP95Ms":         percentile(stats.TrackLatency, 0.95).Milliseconds(),
			"reportP95Ms":        percentile(stats.ReportLatency, 0.95).Milliseconds(),
			"startTime":          stats.StartTime.Format(time.RFC3339),
			"endTime":            stats.EndTime.Format(time.RFC3339),
		},
		"statusCodes": stats.StatusCodes,
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("Error creating JSON output: %v\n", err)
		return
	}
	if err := os.WriteFile("perf_results.json", jsonData, 0o644); err != nil {
		fmt.Printf("Error writing results to file: %v\n", err)
		return
	}
	fmt.Println("\nDetailed results saved to 'perf_results.json'")
}
