package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/streamload/internal/generator"
	"github.com/wesleyorama2/streamload/internal/ingest"
)

type dest string

func (d dest) URL() string    { return string(d) }
func (d dest) String() string { return string(d) }

func put(t *testing.T, url, table, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	if table != "" {
		req.Header.Set("table", table)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSink_AcceptsIngestClient(t *testing.T) {
	s := New(Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	g := generator.New(generator.WithSeed(5))
	client := ingest.NewClient()

	n, err := client.Send(context.Background(), dest(srv.URL), g.NewBatch(generator.NewSchema(2), 25, "rand_data", false))
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = client.Send(context.Background(), dest(srv.URL), g.NewBatch(generator.NewSchema(2), 5, "rand_data", true))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	stats := s.Stats()
	assert.Equal(t, int64(35), stats.Records)
	assert.Equal(t, int64(3), stats.Requests)
	assert.Zero(t, stats.Rejected)
	assert.Equal(t, []TableCount{
		{Table: "rand_data", Records: 25},
		{Table: "rand_data_column_1", Records: 5},
		{Table: "rand_data_column_2", Records: 5},
	}, stats.Tables)
}

func TestSink_Rejections(t *testing.T) {
	s := New(Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := put(t, srv.URL, "", `[]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = put(t, srv.URL, "t", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(srv.URL)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)

	resp = put(t, srv.URL, "t", `{"timestamp":"x","column_1":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Rejected)
	assert.Equal(t, int64(1), stats.Records)
}

func TestSink_FailEveryIsRetriedByClient(t *testing.T) {
	s := New(Config{FailEvery: 2}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	client := ingest.NewClient(ingest.WithRetryPolicy(ingest.RetryPolicy{
		Backoff: func(int) time.Duration { return 0 },
	}))
	g := generator.New()

	// Requests 1 and 3 succeed, request 2 is retried as request 3.
	for i := 0; i < 2; i++ {
		n, err := client.Send(context.Background(), dest(srv.URL), g.NewBatch(generator.NewSchema(1), 4, "t", false))
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(8), stats.Records)
}

func TestSink_ConfiguredStatus(t *testing.T) {
	s := New(Config{Status: http.StatusBadRequest}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, err := ingest.NewClient().Send(context.Background(), dest(srv.URL),
		generator.New().NewBatch(generator.NewSchema(1), 1, "t", false))

	var terminal *ingest.TerminalHTTPError
	require.True(t, errors.As(err, &terminal))
	assert.Equal(t, http.StatusBadRequest, terminal.StatusCode)
	assert.Equal(t, "configured status", terminal.Message)
}

func TestSink_HealthAndStats(t *testing.T) {
	s := New(Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	put(t, srv.URL, "t", `[1,2,3]`)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(3), stats.Records)
}

func TestSink_ListenAndServeStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
