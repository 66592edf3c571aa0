// Package metrics records delivery attempts for live progress and the final summary.
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/streamload/internal/ingest"
)

// Engine collects request metrics using HDR histograms.
//
// Key features:
// - HDR histogram for accurate latency percentiles
// - Per-endpoint breakdown
// - Lock-free counter updates for high concurrency
// - Optional mirroring into Prometheus collectors
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms use mutex protection.
type Engine struct {
	// HDR Histogram for latency measurement
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-endpoint histograms
	endpointHists   map[string]*hdrhistogram.Histogram
	endpointHistsMu sync.Mutex

	// Atomic counters for lock-free updates
	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	retriedRequests atomic.Int64
	acceptedRecords atomic.Int64
	bytesSent       atomic.Int64

	// Active worker tracking
	activeWorkers atomic.Int32

	startTime time.Time

	prom *Collectors

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		endpointHists: make(map[string]*hdrhistogram.Histogram),
		startTime:     time.Now(),
		config:        config,
	}
}

// WithCollectors mirrors every observation into Prometheus collectors.
func (e *Engine) WithCollectors(c *Collectors) *Engine {
	e.prom = c
	return e
}

// ObserveAttempt records one delivery attempt. It implements ingest.Observer.
func (e *Engine) ObserveAttempt(a ingest.Attempt) {
	latencyMicros := a.Latency.Microseconds()

	// Clamp to valid range
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.recordEndpointHistogram(a.Endpoint, latencyMicros)

	e.totalRequests.Add(1)
	e.bytesSent.Add(int64(a.Bytes))
	if a.Number > 1 {
		e.retriedRequests.Add(1)
	}

	success := a.Success()
	if success {
		e.successRequests.Add(1)
		e.acceptedRecords.Add(int64(a.Records))
	} else {
		e.failedRequests.Add(1)
	}

	if e.prom != nil {
		e.prom.observe(a, success)
	}
}

// recordEndpointHistogram records a latency in a per-endpoint histogram.
// NOTE: HDR histogram RecordValue is NOT thread-safe, so we must hold a lock.
func (e *Engine) recordEndpointHistogram(endpoint string, latencyMicros int64) {
	e.endpointHistsMu.Lock()
	defer e.endpointHistsMu.Unlock()

	hist, exists := e.endpointHists[endpoint]
	if !exists {
		hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
		e.endpointHists[endpoint] = hist
	}

	hist.RecordValue(latencyMicros)
}

// RecordBatchFailure counts a batch whose delivery ultimately failed.
func (e *Engine) RecordBatchFailure(endpoint, table string) {
	if e.prom != nil {
		e.prom.batchFailures.WithLabelValues(endpoint, table).Inc()
	}
}

// SetActiveWorkers updates the active worker count.
func (e *Engine) SetActiveWorkers(count int) {
	e.activeWorkers.Store(int32(count))
	if e.prom != nil {
		e.prom.activeWorkers.Set(float64(count))
	}
}

// GetActiveWorkers returns the current active worker count.
func (e *Engine) GetActiveWorkers() int {
	return int(e.activeWorkers.Load())
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latencyStats := statsFromHistogram(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()
	accepted := e.acceptedRecords.Load()

	rps := 0.0
	recordsPerSec := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
		recordsPerSec = float64(accepted) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		RetriedRequests: e.retriedRequests.Load(),
		AcceptedRecords: accepted,
		BytesSent:       e.bytesSent.Load(),
		Latency:         latencyStats,
		RPS:             rps,
		RecordsPerSec:   recordsPerSec,
		ErrorRate:       errorRate,
		ActiveWorkers:   e.GetActiveWorkers(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// GetEndpointStats returns per-endpoint latency statistics sorted by endpoint.
func (e *Engine) GetEndpointStats() []EndpointStats {
	e.endpointHistsMu.Lock()
	defer e.endpointHistsMu.Unlock()

	result := make([]EndpointStats, 0, len(e.endpointHists))
	for name, hist := range e.endpointHists {
		result = append(result, EndpointStats{
			Endpoint: name,
			Latency:  statsFromHistogram(hist),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Endpoint < result[j].Endpoint })
	return result
}

func statsFromHistogram(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	RetriedRequests int64         `json:"retriedRequests"`
	AcceptedRecords int64         `json:"acceptedRecords"`
	BytesSent       int64         `json:"bytesSent"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	RecordsPerSec   float64       `json:"recordsPerSec"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveWorkers   int           `json:"activeWorkers"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// EndpointStats contains latency statistics for one endpoint.
type EndpointStats struct {
	Endpoint string       `json:"endpoint"`
	Latency  LatencyStats `json:"latency"`
}

func statusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}

var _ ingest.Observer = (*Engine)(nil)
