// Command benchmark drives concurrent transfer load against a running
// ledger API, grounded on cmd/benchmark/main.go (flag-driven
// worker pool, uniform/hotspot workload modes, JSON results file), adapted
// to the new bearer-authenticated, UUID-addressed transfer endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	targetURL   string
	apiKey      string
	concurrency int
	duration    time.Duration
	workload    string
)

var (
	totalRequests uint64
	success2xx    uint64
	fail4xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:3000", "API base URL")
	flag.StringVar(&apiKey, "api-key", "", "bearer API key (see cmd/seeder output)")
	flag.IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&workload, "workload", "uniform", "workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	if apiKey == "" {
		log.Fatal("-api-key is required")
	}

	accountIDs, err := fetchAccountIDs()
	if err != nil {
		log.Fatalf("fetch accounts: %v", err)
	}
	if len(accountIDs) < 2 {
		log.Fatalf("need at least 2 accounts to transfer between, found %d", len(accountIDs))
	}
	log.Printf("starting benchmark: %s | workers: %d | duration: %s | accounts: %d", workload, concurrency, duration, len(accountIDs))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accountIDs)
	}
	wg.Wait()

	printResults(time.Since(start))
}

func fetchAccountIDs() ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, targetURL+"/api/accounts", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list accounts returned %d: %s", resp.StatusCode, body)
	}

	var accounts []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func worker(wg *sync.WaitGroup, start time.Time, accountIDs []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickAccounts(accountIDs)
		key := uuid.New().String()

		payload := map[string]interface{}{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          100,
			"currency":        "USD",
			"idempotency_key": key,
		}
		body, _ := json.Marshal(payload)

		req, err := http.NewRequest(http.MethodPost, targetURL+"/api/transactions/transfer", bytes.NewReader(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			atomic.AddUint64(&success2xx, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func pickAccounts(ids []string) (string, string) {
	n := len(ids)
	if workload == "hotspot" && rand.Float32() < 0.90 {
		if rand.Float32() < 0.5 {
			return ids[0], ids[1]
		}
		return ids[1], ids[0]
	}

	a := rand.Intn(n)
	b := rand.Intn(n)
	for a == b {
		b = rand.Intn(n)
	}
	return ids[a], ids[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s2xx := atomic.LoadUint64(&success2xx)
	f4xx := atomic.LoadUint64(&fail4xx)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f4xx) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success":         s2xx,
		"rejected_4xx":    f4xx,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
