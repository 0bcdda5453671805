// Benchmark tool for replaying PaySim fraud data through Heron.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// Each PaySim originator is registered as a customer, each row is posted to
// POST /transactions, and Heron's alert decision is compared with the
// isFraud label to report precision, recall, F1-score and a confusion matrix.
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/heron/internal/domain"
)

// PaySimTransaction represents a row from the PaySim dataset.
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         decimal.Decimal
	NameOrig       string
	OldBalanceOrg  decimal.Decimal
	NewBalanceOrig decimal.Decimal
	NameDest       string
	IsFraud        bool
}

// paySimEpoch anchors step 1 of the simulation; one step is one hour.
var paySimEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // fraud that raised an alert
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64 // missed fraud

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

type client struct {
	http     *http.Client
	baseURL  string
	country  string
	currency string

	// customers already registered in this run
	customers sync.Map
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	country := flag.String("country", "IR", "Home country of generated customers")
	currency := flag.String("currency", "IRR", "Currency of replayed transactions")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("HERON BENCHMARK - PaySim replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Heron URL:   %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	c := &client{
		http:     &http.Client{Timeout: 10 * time.Second},
		baseURL:  strings.TrimRight(*baseURL, "/"),
		country:  *country,
		currency: *currency,
	}

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run ./cmd/heron seed-rules && go run ./cmd/heron serve")
		os.Exit(1)
	}
	fmt.Println("Heron is healthy")

	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	transactions, err := readPaySimCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("No transactions selected")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(c, transactions, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func (c *client) checkHealth() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPaySimCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]PaySimTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig", "namedest", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var transactions []PaySimTransaction
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // malformed row
		}

		isFraud := record[colIndex["isfraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, err := decimal.NewFromString(record[colIndex["amount"]])
		if err != nil {
			continue
		}
		step, _ := strconv.Atoi(record[colIndex["step"]])
		oldBalance, _ := decimal.NewFromString(record[colIndex["oldbalanceorg"]])
		newBalance, _ := decimal.NewFromString(record[colIndex["newbalanceorig"]])

		transactions = append(transactions, PaySimTransaction{
			Step:           step,
			Type:           record[colIndex["type"]],
			Amount:         amount,
			NameOrig:       record[colIndex["nameorig"]],
			OldBalanceOrg:  oldBalance,
			NewBalanceOrig: newBalance,
			NameDest:       record[colIndex["namedest"]],
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// heronType maps PaySim operation types onto Heron transaction types.
func heronType(paySimType string) domain.TransactionType {
	switch paySimType {
	case "CASH_IN":
		return domain.TxDeposit
	case "CASH_OUT", "DEBIT":
		return domain.TxWithdrawal
	case "PAYMENT":
		return domain.TxPayment
	default:
		return domain.TxTransfer
	}
}

func runBenchmark(c *client, transactions []PaySimTransaction, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	var g errgroup.Group
	g.SetLimit(max(numWorkers, 1))

	for i, tx := range transactions {
		g.Go(func() error {
			start := time.Now()
			result, err := c.monitor(i, tx)
			atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&metrics.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&metrics.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", tx.NameOrig, err)
				}
				return nil
			}

			if tx.IsFraud {
				atomic.AddInt64(&metrics.TotalFraud, 1)
			} else {
				atomic.AddInt64(&metrics.TotalNonFraud, 1)
			}

			predicted := result.ShouldAlert
			actual := tx.IsFraud
			switch {
			case predicted && actual:
				atomic.AddInt64(&metrics.TruePositives, 1)
			case predicted && !actual:
				atomic.AddInt64(&metrics.FalsePositives, 1)
			case !predicted && !actual:
				atomic.AddInt64(&metrics.TrueNegatives, 1)
			default:
				atomic.AddInt64(&metrics.FalseNegatives, 1)
			}

			if verbose {
				mark := "ok"
				if predicted != actual {
					mark = "XX"
				}
				name := tx.NameOrig
				if len(name) > 10 {
					name = name[:10]
				}
				fmt.Printf("%s %-10s | Type: %-8s | Amount: %14s | Fraud: %-5v | Heron: %-8s (%s) | Rules: %s\n",
					mark, name, tx.Type, tx.Amount.StringFixed(2), tx.IsFraud,
					result.Severity, result.RiskScore.StringFixed(2), strings.Join(result.TriggeredRules, ", "))
			}
			return nil
		})
	}
	_ = g.Wait()

	return metrics
}

// monitor registers the originator if needed and submits the row.
func (c *client) monitor(seq int, tx PaySimTransaction) (*domain.MonitoringResult, error) {
	if err := c.ensureCustomer(tx.NameOrig); err != nil {
		return nil, err
	}

	ts := paySimEpoch.Add(time.Duration(tx.Step) * time.Hour)
	description := ""
	if tx.OldBalanceOrg.IsPositive() && tx.NewBalanceOrig.IsZero() {
		description = "account drained"
	}
	req := domain.TransactionRequest{
		ID:              fmt.Sprintf("paysim-%d-%s", seq, tx.NameOrig),
		CustomerID:      tx.NameOrig,
		Type:            heronType(tx.Type),
		Status:          domain.TxCompleted,
		Amount:          tx.Amount,
		Currency:        c.currency,
		SenderAccount:   tx.NameOrig,
		SenderCountry:   c.country,
		ReceiverAccount: tx.NameDest,
		ReceiverCountry: c.country,
		Description:     description,
		Timestamp:       &ts,
	}

	var result domain.MonitoringResult
	status, err := c.post("/transactions", req, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("status %d", status)
	}
	return &result, nil
}

func (c *client) ensureCustomer(id string) error {
	if _, ok := c.customers.Load(id); ok {
		return nil
	}
	registered := paySimEpoch.AddDate(-1, 0, 0)
	status, err := c.post("/customers", map[string]any{
		"id":           id,
		"firstName":    "PaySim",
		"lastName":     id,
		"country":      c.country,
		"registeredAt": registered,
	}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("create customer: status %d", status)
	}
	c.customers.Store(id, struct{}{})
	return nil
}

func (c *client) post(path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                   ALERT     NO ALERT")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives, m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many raised an alert)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if m.TotalFraud > 0 {
		fmt.Printf("\nDETECTION ANALYSIS\n")
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, 100*ratio(m.TruePositives, m.TotalFraud))
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, 100*ratio(m.FalseNegatives, m.TotalFraud))
	}
	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, 100*ratio(m.FalsePositives, m.TotalNonFraud))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
