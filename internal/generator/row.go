// Package generator produces synthetic time-series rows and shapes them
// into batches for delivery.
package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// TimestampField is the key every row carries its timestamp under.
const TimestampField = "timestamp"

// TimestampLayout renders a UTC instant with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Value range and precision limits for generated values.
const (
	maxMagnitude = 999
	maxPrecision = 2
)

// Schema is the ordered list of value columns, fixed for a run.
type Schema []string

// NewSchema returns column_1..column_n.
func NewSchema(columns int) Schema {
	schema := make(Schema, columns)
	for i := range schema {
		schema[i] = fmt.Sprintf("column_%d", i+1)
	}
	return schema
}

// Row is a single record: a timestamp plus one value per schema column.
//
// Values are stored in schema order so the JSON encoding is stable.
type Row struct {
	Timestamp string
	Columns   Schema
	Values    []float64
}

// Get returns the value of a column, or the timestamp for TimestampField.
func (r Row) Get(key string) (interface{}, bool) {
	if key == TimestampField {
		return r.Timestamp, true
	}
	for i, col := range r.Columns {
		if col == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a plain mapping.
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Columns)+1)
	m[TimestampField] = r.Timestamp
	for i, col := range r.Columns {
		m[col] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object with the timestamp first.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	ts, err := json.Marshal(r.Timestamp)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	for i, col := range r.Columns {
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(r.Values[i], 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Generator draws rows from a shared random source.
//
// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the random source deterministic.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rnd = rand.New(rand.NewSource(seed))
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a Generator.
func New(options ...Option) *Generator {
	g := &Generator{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

var defaultGenerator = New()

// Generate returns one row for schema using the package default generator.
func Generate(schema Schema) Row {
	return defaultGenerator.Generate(schema)
}

// Generate returns one row for schema.
//
// Each value is rand[0,1) scaled by a random magnitude in [1,999] and
// rounded to a random precision of 0 to 2 decimal places.
func (g *Generator) Generate(schema Schema) Row {
	row := Row{
		Timestamp: g.now().UTC().Format(TimestampLayout),
		Columns:   schema,
		Values:    make([]float64, len(schema)),
	}

	g.mu.Lock()
	for i := range schema {
		magnitude := float64(g.rnd.Intn(maxMagnitude) + 1)
		precision := g.rnd.Intn(maxPrecision + 1)
		row.Values[i] = round(g.rnd.Float64()*magnitude, precision)
	}
	g.mu.Unlock()

	return row
}

// Rows returns n freshly generated rows.
func (g *Generator) Rows(schema Schema, n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = g.Generate(schema)
	}
	return rows
}

func round(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
