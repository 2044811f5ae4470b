// Benchmark tool for testing Kestrel against labeled claims data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/claims.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled claim data (with fraud labels)
//   2. Sends each claim to Kestrel for evaluation
//   3. Compares Kestrel's verdict with the actual fraud labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns (header row required, order free):
//   claim_type, claimed_amount, estimated_amount, coverage_limit,
//   deductible, evidence_count, report_delay_days,
//   classifier_probability, is_fraud
//
// An empty estimated_amount marks a claim with no damage estimate; an
// empty classifier_probability lets the engine fall back to its neutral
// prior.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledClaim represents a row from the labeled claims dataset
type LabeledClaim struct {
	Index                 int
	Type                  string
	ClaimedAmount         float64
	EstimatedAmount       *float64
	CoverageLimit         float64
	Deductible            float64
	EvidenceCount         int
	ReportDelayDays       int
	ClassifierProbability *float64
	IsFraud               bool
}

// EvaluateRequest is the Kestrel API request format
type EvaluateRequest struct {
	Claim                 ClaimInput     `json:"claim"`
	Policy                PolicyInput    `json:"policy"`
	Estimate              *EstimateInput `json:"estimate,omitempty"`
	ClassifierProbability *float64       `json:"classifierProbability,omitempty"`
}

type ClaimInput struct {
	Type          string         `json:"type"`
	ClaimantID    string         `json:"claimantId"`
	ClaimedAmount float64        `json:"claimedAmount"`
	IncidentAt    time.Time      `json:"incidentAt"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	Evidence      []EvidenceItem `json:"evidence,omitempty"`
}

type EvidenceItem struct {
	Ref string `json:"ref"`
}

type PolicyInput struct {
	CoverageLimit float64 `json:"coverageLimit"`
	Deductible    float64 `json:"deductible"`
}

type EstimateInput struct {
	Source string  `json:"source"`
	Total  float64 `json:"total"`
}

// EvaluateResponse is the Kestrel API response format
type EvaluateResponse struct {
	DecisionID string  `json:"decisionId"`
	Verdict    string  `json:"verdict"` // APPROVE, MANUAL_REVIEW, or DENY
	Tier       string  `json:"tier"`
	Score      float64 `json:"score"`
}

// Metrics tracks benchmark results. Denials count as fraud predictions;
// claims routed to manual review are tracked separately because a human
// decides those, not the engine.
type Metrics struct {
	TruePositives  int64 // Fraud denied
	FalsePositives int64 // Non-fraud denied
	TrueNegatives  int64 // Non-fraud approved
	FalseNegatives int64 // Fraud approved (missed fraud!)

	ReviewTotal int64 // Claims routed to manual review
	ReviewFraud int64 // Fraud claims routed to manual review

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled claims CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum claims to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud claims")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Claim Fraud Detection            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled claims
	fmt.Printf("\nReading claims data from %s...\n", *csvPath)
	claims, err := readClaimsCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d claims\n", len(claims))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, c := range claims {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
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

func readClaimsCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]LabeledClaim, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"claimed_amount", "coverage_limit", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var claims []LabeledClaim
	sampleCounter := 0
	rowIndex := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		rowIndex++

		isFraud := parseBool(field(record, colIndex, "is_fraud"))

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud claims
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		claimed, _ := strconv.ParseFloat(field(record, colIndex, "claimed_amount"), 64)
		coverageLimit, _ := strconv.ParseFloat(field(record, colIndex, "coverage_limit"), 64)
		deductible, _ := strconv.ParseFloat(field(record, colIndex, "deductible"), 64)
		evidenceCount, _ := strconv.Atoi(field(record, colIndex, "evidence_count"))
		delayDays, _ := strconv.Atoi(field(record, colIndex, "report_delay_days"))

		claimType := field(record, colIndex, "claim_type")
		if claimType == "" {
			claimType = "auto"
		}

		c := LabeledClaim{
			Index:           rowIndex,
			Type:            claimType,
			ClaimedAmount:   claimed,
			CoverageLimit:   coverageLimit,
			Deductible:      deductible,
			EvidenceCount:   evidenceCount,
			ReportDelayDays: delayDays,
			IsFraud:         isFraud,
		}

		if raw := field(record, colIndex, "estimated_amount"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				c.EstimatedAmount = &v
			}
		}
		if raw := field(record, colIndex, "classifier_probability"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				c.ClassifierProbability = &v
			}
		}

		claims = append(claims, c)

		if limit > 0 && len(claims) >= limit {
			break
		}
	}

	return claims, nil
}

// field reads a named column, empty when the column is absent.
func field(record []string, colIndex map[string]int, name string) string {
	i, ok := colIndex[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseBool(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := evaluateClaim(client, baseURL, tenantID, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: claim %d -> %v\n", c.Index, err)
					}
					continue
				}

				// Track actual labels
				if c.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Review claims go to a human, not into the matrix
				if result.Verdict == "MANUAL_REVIEW" {
					atomic.AddInt64(&metrics.ReviewTotal, 1)
					if c.IsFraud {
						atomic.AddInt64(&metrics.ReviewFraud, 1)
					}
				} else {
					// Calculate confusion matrix on engine-final verdicts
					predicted := result.Verdict == "DENY"
					actual := c.IsFraud

					if predicted && actual {
						atomic.AddInt64(&metrics.TruePositives, 1)
					} else if predicted && !actual {
						atomic.AddInt64(&metrics.FalsePositives, 1)
					} else if !predicted && !actual {
						atomic.AddInt64(&metrics.TrueNegatives, 1)
					} else { // !predicted && actual
						atomic.AddInt64(&metrics.FalseNegatives, 1)
					}
				}

				if verbose {
					status := "✓"
					if (result.Verdict == "DENY") != c.IsFraud && result.Verdict != "MANUAL_REVIEW" {
						status = "✗"
					}
					fmt.Printf("%s claim %-6d | Type: %-9s | Claimed: $%12.2f | Fraud: %-5v | Kestrel: %-13s (%.2f)\n",
						status,
						c.Index,
						c.Type,
						c.ClaimedAmount,
						c.IsFraud,
						result.Verdict,
						result.Score,
					)
				}
			}
		}()
	}

	// Send work
	for _, c := range claims {
		work <- c
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateClaim(client *http.Client, baseURL, tenantID string, c LabeledClaim) (*EvaluateResponse, error) {
	now := time.Now().UTC()

	evidence := make([]EvidenceItem, c.EvidenceCount)
	for i := range evidence {
		evidence[i] = EvidenceItem{Ref: fmt.Sprintf("bench://claim-%d/evidence-%d", c.Index, i)}
	}

	// Build request matching Kestrel's expected format
	req := EvaluateRequest{
		Claim: ClaimInput{
			Type:          c.Type,
			ClaimantID:    fmt.Sprintf("bench-claimant-%d", c.Index),
			ClaimedAmount: c.ClaimedAmount,
			IncidentAt:    now.Add(-time.Duration(c.ReportDelayDays) * 24 * time.Hour),
			SubmittedAt:   now,
			Evidence:      evidence,
		},
		Policy: PolicyInput{
			CoverageLimit: c.CoverageLimit,
			Deductible:    c.Deductible,
		},
		ClassifierProbability: c.ClassifierProbability,
	}
	if c.EstimatedAmount != nil {
		req.Estimate = &EstimateInput{Source: "benchmark", Total: *c.EstimatedAmount}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX (engine-final verdicts)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    DENY      APPROVE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of denials, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of auto-decided fraud, how many were denied)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Review routing analysis
	fmt.Printf("\n🔍 REVIEW ROUTING\n")
	if m.TotalProcessed > 0 {
		reviewRate := float64(m.ReviewTotal) / float64(m.TotalProcessed-m.TotalErrors) * 100
		fmt.Printf("   Routed to Review:  %d (%.2f%%)\n", m.ReviewTotal, reviewRate)
	}
	if m.ReviewTotal > 0 {
		fraudShare := float64(m.ReviewFraud) / float64(m.ReviewTotal) * 100
		fmt.Printf("   Fraud in Review:   %d / %d (%.2f%%)\n", m.ReviewFraud, m.ReviewTotal, fraudShare)
	}
	if m.TotalFraud > 0 {
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Auto-Approved: %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", cps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - auto-denying most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some fraud is auto-approved")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud slipping through")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - denials are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many legitimate claims denied")
	} else {
		fmt.Println("   ❌ Very low precision - mostly wrongful denials")
	}

	fmt.Println()
}
