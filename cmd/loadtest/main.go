// Command loadtest drives sustained echo traffic at a running gateway and
// reports throughput and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsegate/backend/pkg/sdk"
)

type loadConfig struct {
	SDK            sdk.Config
	Connections    int
	Requests       int
	ReportInterval time.Duration
}

type loadStats struct {
	Sent       uint64
	Succeeded  uint64
	Failed     uint64
	Duration   time.Duration
	AvgLatency time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
	Throughput float64
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Gateway URL")
	token := flag.String("token", "", "Bearer token for the handshake")
	format := flag.String("format", "json", "Wire format: json or protobuf")
	conns := flag.Int("conns", 50, "Number of concurrent connections")
	requests := flag.Int("requests", 1000, "Total echo requests to send")
	report := flag.Duration("report", 5*time.Second, "Progress reporting interval")
	flag.Parse()

	cfg := loadConfig{
		SDK: sdk.Config{
			GatewayURL: *url,
			Token:      *token,
			Format:     *format,
			Timeout:    10 * time.Second,
		},
		Connections:    *conns,
		Requests:       *requests,
		ReportInterval: *report,
	}

	slog.Info("starting gateway load test",
		"url", cfg.SDK.GatewayURL, "connections", cfg.Connections, "requests", cfg.Requests)

	stats, err := run(cfg)
	if err != nil {
		slog.Error("load test failed", "error", err)
		os.Exit(1)
	}
	printResults(stats)
}

func run(cfg loadConfig) (*loadStats, error) {
	stats := &loadStats{MinLatency: time.Hour}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportProgress(ctx, stats, cfg.ReportInterval)

	work := make(chan int, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		work <- i
	}
	close(work)

	clients := make([]*sdk.Client, 0, cfg.Connections)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for i := 0; i < cfg.Connections; i++ {
		client, err := sdk.Dial(cfg.SDK)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	var wg sync.WaitGroup
	start := time.Now()
	for _, client := range clients {
		wg.Add(1)
		go func(client *sdk.Client) {
			defer wg.Done()
			for range work {
				begin := time.Now()
				resp, err := client.Echo(ctx)
				latency := time.Since(begin)

				atomic.AddUint64(&stats.Sent, 1)
				if err != nil || resp.Status != sdk.StatusOK {
					atomic.AddUint64(&stats.Failed, 1)
					continue
				}
				atomic.AddUint64(&stats.Succeeded, 1)

				latenciesMu.Lock()
				latencies = append(latencies, latency)
				if latency > stats.MaxLatency {
					stats.MaxLatency = latency
				}
				if latency < stats.MinLatency {
					stats.MinLatency = latency
				}
				latenciesMu.Unlock()
			}
		}(client)
	}
	wg.Wait()

	stats.Duration = time.Since(start)
	stats.Throughput = float64(stats.Sent) / stats.Duration.Seconds()

	latenciesMu.Lock()
	defer latenciesMu.Unlock()
	if len(latencies) > 0 {
		stats.AvgLatency = average(latencies)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
	}
	return stats, nil
}

func reportProgress(ctx context.Context, stats *loadStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			slog.Info("progress",
				"sent", atomic.LoadUint64(&stats.Sent),
				"ok", atomic.LoadUint64(&stats.Succeeded),
				"failed", atomic.LoadUint64(&stats.Failed))
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *loadStats) {
	fmt.Printf("\nRequests:    %d (%d ok, %d failed)\n", stats.Sent, stats.Succeeded, stats.Failed)
	fmt.Printf("Duration:    %v\n", stats.Duration)
	fmt.Printf("Throughput:  %.2f req/sec\n", stats.Throughput)
	fmt.Printf("Latency:     min=%v avg=%v p95=%v p99=%v max=%v\n",
		stats.MinLatency, stats.AvgLatency, stats.P95Latency, stats.P99Latency, stats.MaxLatency)
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, pct int) time.Duration {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * pct / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
