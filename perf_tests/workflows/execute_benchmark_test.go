package workflows_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"
)

// Configuration from environment
var (
	orchestratorURL = getEnv("ORCHESTRATOR_URL", "http://localhost:8080")
	numCalls        = getEnvInt("PERF_NUM_CALLS", 10000)
	concurrency     = getEnvInt("PERF_CONCURRENCY", 10)
)

// executePayload is a small agent-free graph: input → text_transform →
// output. It exercises the full engine path (seeding, routing, driver
// dispatch, final assembly) without touching any LLM provider, so the
// numbers measure the service, not an upstream API.
func executePayload(runID string) []byte {
	body := map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "in", "type": "input", "data": map[string]interface{}{"value": "perf " + runID}},
			{"id": "upper", "type": "text_transform", "data": map[string]interface{}{"operation": "upper"}},
			{"id": "out", "type": "output", "data": map[string]interface{}{}},
		},
		"edges": []map[string]interface{}{
			{"source": "in", "target": "upper"},
			{"source": "upper", "target": "out"},
		},
	}
	encoded, _ := json.Marshal(body)
	return encoded
}

func postExecute(client *http.Client, payload []byte) (*http.Response, error) {
	req, err := http.NewRequest("POST", orchestratorURL+"/execute-workflow", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// BenchmarkExecuteWorkflow measures synchronous execution latency for a
// three-node graph through the public API.
//
// Usage:
//
//	ORCHESTRATOR_URL=http://localhost:8080 go test -bench=BenchmarkExecuteWorkflow -benchtime=10000x
//
// Metrics: ops/sec, ms/op, response throughput
func BenchmarkExecuteWorkflow(b *testing.B) {
	// Skip if the service is not running
	resp, err := http.Get(orchestratorURL + "/health")
	if err != nil {
		b.Skip("orchestrator not running")
	}
	resp.Body.Close()

	runID := fmt.Sprintf("bench-%d", time.Now().Unix())
	payload := executePayload(runID)
	client := &http.Client{Timeout: 30 * time.Second}

	b.Logf("Benchmarking POST /execute-workflow: %d iterations", b.N)
	b.Logf("  Target: %s", orchestratorURL)

	var totalBytes int64

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		resp, err := postExecute(client, payload)
		if err != nil {
			b.Fatalf("Request failed: %v", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			b.Fatalf("Failed to read response: %v", err)
		}
		totalBytes += int64(len(body))

		if resp.StatusCode != 200 {
			b.Fatalf("Unexpected status: %d (body: %s)", resp.StatusCode, body)
		}
	}

	b.StopTimer()

	elapsed := b.Elapsed()
	opsPerSec := float64(b.N) / elapsed.Seconds()
	throughputMBps := float64(totalBytes) / elapsed.Seconds() / 1024 / 1024

	b.ReportMetric(opsPerSec, "ops/sec")
	b.ReportMetric(throughputMBps, "MB/s")
	b.ReportMetric(float64(elapsed.Nanoseconds()/int64(b.N))/1e6, "ms/op")
}

// TestExecuteWorkflowConcurrent drives the synchronous execution endpoint
// with multiple concurrent clients and reports aggregate throughput and
// latency. Unlike the benchmark above it also verifies every response is
// a completed execution, so it doubles as a soak test.
func TestExecuteWorkflowConcurrent(t *testing.T) {
	// Skip if the service is not running
	resp, err := http.Get(orchestratorURL + "/health")
	if err != nil {
		t.Skip("orchestrator not running")
	}
	resp.Body.Close()

	runID := fmt.Sprintf("soak-%d", time.Now().Unix())
	payload := executePayload(runID)

	t.Logf("Concurrent execution test:")
	t.Logf("  Total calls: %d", numCalls)
	t.Logf("  Concurrency: %d", concurrency)
	t.Logf("  Target:      %s", orchestratorURL)

	start := time.Now()

	callsPerWorker := numCalls / concurrency
	doneChan := make(chan workerStats, concurrency)

	for w := 0; w < concurrency; w++ {
		go func(workerID int) {
			stats := workerStats{workerID: workerID}
			client := &http.Client{Timeout: 30 * time.Second}

			workerStart := time.Now()

			for i := 0; i < callsPerWorker; i++ {
				reqStart := time.Now()

				resp, err := postExecute(client, payload)
				if err != nil {
					stats.errors++
					continue
				}

				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				if resp.StatusCode != 200 {
					stats.errors++
					continue
				}

				var result struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &result); err != nil || result.Status != "ok" {
					stats.errors++
					continue
				}

				reqDuration := time.Since(reqStart)

				stats.totalCalls++
				stats.totalBytes += int64(len(body))
				stats.totalLatency += reqDuration

				if reqDuration < stats.minLatency || stats.minLatency == 0 {
					stats.minLatency = reqDuration
				}
				if reqDuration > stats.maxLatency {
					stats.maxLatency = reqDuration
				}
			}

			stats.duration = time.Since(workerStart)
			doneChan <- stats
		}(w)
	}

	// Collect results
	var totalStats workerStats
	for i := 0; i < concurrency; i++ {
		stats := <-doneChan
		totalStats.totalCalls += stats.totalCalls
		totalStats.totalBytes += stats.totalBytes
		totalStats.totalLatency += stats.totalLatency
		totalStats.errors += stats.errors

		if stats.minLatency < totalStats.minLatency || totalStats.minLatency == 0 {
			totalStats.minLatency = stats.minLatency
		}
		if stats.maxLatency > totalStats.maxLatency {
			totalStats.maxLatency = stats.maxLatency
		}
	}

	elapsed := time.Since(start)

	if totalStats.totalCalls == 0 {
		t.Fatalf("All requests failed! Check if the orchestrator is running at %s.\nErrors: %d",
			orchestratorURL, totalStats.errors)
	}

	opsPerSec := float64(totalStats.totalCalls) / elapsed.Seconds()
	throughputMBps := float64(totalStats.totalBytes) / elapsed.Seconds() / 1024 / 1024
	avgLatency := totalStats.totalLatency / time.Duration(totalStats.totalCalls)

	t.Logf("\n========================================")
	t.Logf("Performance Results:")
	t.Logf("========================================")
	t.Logf("Total calls:     %d", totalStats.totalCalls)
	t.Logf("Errors:          %d", totalStats.errors)
	t.Logf("Duration:        %s", elapsed)
	t.Logf("Throughput:      %.2f ops/sec", opsPerSec)
	t.Logf("Data transferred: %.2f MB/s", throughputMBps)
	t.Logf("\nLatency:")
	t.Logf("  Min:     %s", totalStats.minLatency)
	t.Logf("  Average: %s", avgLatency)
	t.Logf("  Max:     %s", totalStats.maxLatency)
	t.Logf("========================================\n")
}

type workerStats struct {
	workerID     int
	totalCalls   int
	totalBytes   int64
	totalLatency time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	errors       int
	duration     time.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
