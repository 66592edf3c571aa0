// Package sink is a local stand-in for a streaming ingestion endpoint.
//
// It accepts the same PUT protocol the ingest client speaks, counts the
// records it receives per table and can inject slow or failing responses,
// which makes it useful for trying out load profiles without a real
// database.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxBody caps the payload size accepted by the sink.
const maxBody = 64 << 20

// Config controls how the sink answers.
type Config struct {
	// Addr is the listen address for ListenAndServe
	Addr string

	// Status is returned instead of 200 when set to a non-2xx code
	Status int

	// Delay is added before every response
	Delay time.Duration

	// FailEvery answers every n-th request with 503 when > 0
	FailEvery int
}

// TableCount is the number of records received for one table.
type TableCount struct {
	Table   string `json:"table"`
	Records int64  `json:"records"`
}

// Stats summarizes what the sink has received.
type Stats struct {
	Requests int64        `json:"requests"`
	Rejected int64        `json:"rejected"`
	Records  int64        `json:"records"`
	Tables   []TableCount `json:"tables"`
}

// Sink counts ingested records.
type Sink struct {
	config Config
	logger *zap.Logger

	requests atomic.Int64
	rejected atomic.Int64
	records  atomic.Int64

	mu     sync.Mutex
	tables map[string]int64
}

// New creates a sink. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		config: cfg,
		logger: logger,
		tables: make(map[string]int64),
	}
}

// Handler returns the sink's routes: ingestion on "/", "/health" and a JSON
// "/stats" view.
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "healthy")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	})
	mux.HandleFunc("/", s.ingest)
	return mux
}

func (s *Sink) ingest(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)

	if r.Method != http.MethodPut {
		s.reject(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	table := r.Header.Get("table")
	if table == "" {
		s.reject(w, http.StatusBadRequest, "missing table header")
		return
	}
	if t := r.Header.Get("type"); t != "" && t != "json" {
		s.reject(w, http.StatusBadRequest, "unsupported payload type "+t)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.reject(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !gjson.ValidBytes(body) {
		s.reject(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	if s.config.Delay > 0 {
		select {
		case <-time.After(s.config.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.config.FailEvery > 0 && n%int64(s.config.FailEvery) == 0 {
		s.reject(w, http.StatusServiceUnavailable, "injected failure")
		return
	}
	if s.config.Status != 0 && (s.config.Status < 200 || s.config.Status > 299) {
		s.reject(w, s.config.Status, "configured status")
		return
	}

	count := countRecords(body)
	s.records.Add(count)
	s.mu.Lock()
	s.tables[table] += count
	s.mu.Unlock()

	s.logger.Debug("payload accepted",
		zap.String("table", table),
		zap.String("dbms", r.Header.Get("dbms")),
		zap.Int64("records", count))

	writeJSON(w, http.StatusOK, map[string]int64{"accepted": count})
}

func (s *Sink) reject(w http.ResponseWriter, status int, msg string) {
	s.rejected.Add(1)
	s.logger.Debug("payload rejected", zap.Int("status", status), zap.String("reason", msg))
	writeJSON(w, status, map[string]string{"error": msg})
}

// countRecords returns the length of a JSON array, or 1 for any other value.
func countRecords(body []byte) int64 {
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		return int64(len(parsed.Array()))
	}
	return 1
}

// Stats returns a snapshot of the received traffic with tables sorted by name.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	tables := make([]TableCount, 0, len(s.tables))
	for name, n := range s.tables {
		tables = append(tables, TableCount{Table: name, Records: n})
	}
	s.mu.Unlock()
	sort.Slice(tables, func(i, j int) bool { return tables[i].Table < tables[j].Table })

	return Stats{
		Requests: s.requests.Load(),
		Rejected: s.rejected.Load(),
		Records:  s.records.Load(),
		Tables:   tables,
	}
}

// ListenAndServe serves the sink on the configured address until ctx is done.
func (s *Sink) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Info("sink listening", zap.String("addr", s.config.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
