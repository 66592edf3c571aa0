// Package size converts a user supplied volume target into a row ceiling.
package size

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"

	"github.com/wesleyorama2/streamload/internal/generator"
)

// Bytes used per numeric column and for the timestamp when estimating row size.
const (
	BytesPerColumn    = 8
	BytesPerTimestamp = 8
)

// ErrInvalidSizeSpec is the sentinel matched by every InvalidSizeSpecError.
var ErrInvalidSizeSpec = errors.New("invalid size specification")

// InvalidSizeSpecError reports a malformed size string or unknown unit.
type InvalidSizeSpecError struct {
	Spec   string
	Reason string
}

func (e *InvalidSizeSpecError) Error() string {
	return fmt.Sprintf("invalid size specification %q: %s", e.Spec, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidSizeSpec) succeed.
func (e *InvalidSizeSpecError) Is(target error) bool {
	return target == ErrInvalidSizeSpec
}

var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([A-Za-z]+)$`)

var unitMultipliers = map[string]bytesize.ByteSize{
	"B":  bytesize.B,
	"KB": bytesize.KB,
	"MB": bytesize.MB,
	"GB": bytesize.GB,
	"TB": bytesize.TB,
}

// Plan is the outcome of size planning: a schema and how many rows to send.
type Plan struct {
	Schema generator.Schema

	// Ceiling is the number of rows to deliver. Meaningless when Unbounded.
	Ceiling int64

	// Unbounded is set when the run has no row ceiling (time-bounded or
	// explicitly unlimited).
	Unbounded bool

	// Bytes is the parsed byte budget, zero for literal row counts.
	Bytes bytesize.ByteSize
}

// RowSize returns the estimated size of a single row in bytes.
func RowSize(columns int) int64 {
	return int64(columns*BytesPerColumn + BytesPerTimestamp)
}

// IsUnbounded reports whether spec requests a run without a row ceiling.
func IsUnbounded(spec string) bool {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "0", "unbounded", "inf":
		return true
	}
	return false
}

// New plans a run for the given column count and size specification.
//
// spec is either a literal row count ("5000"), a byte budget with a unit
// suffix ("10MB", "1.5GB") or one of the unbounded sentinels.
func New(columns int, spec string) (*Plan, error) {
	if columns < 1 {
		return nil, &InvalidSizeSpecError{Spec: spec, Reason: "column count must be at least 1"}
	}

	plan := &Plan{Schema: generator.NewSchema(columns)}

	trimmed := strings.TrimSpace(spec)
	if IsUnbounded(trimmed) {
		plan.Unbounded = true
		return plan, nil
	}

	if isDigits(trimmed) {
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, &InvalidSizeSpecError{Spec: spec, Reason: err.Error()}
		}
		plan.Ceiling = n
		return plan, nil
	}

	match := sizePattern.FindStringSubmatch(trimmed)
	if match == nil {
		return nil, &InvalidSizeSpecError{Spec: spec, Reason: "use digits or a number suffixed with B, KB, MB, GB or TB"}
	}

	num, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil, &InvalidSizeSpecError{Spec: spec, Reason: err.Error()}
	}

	unit := strings.ToUpper(match[2])
	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return nil, &InvalidSizeSpecError{Spec: spec, Reason: fmt.Sprintf("unsupported unit %s", unit)}
	}

	// ByteSize is integral; multiply in float so "1.5KB" keeps its fraction.
	total := num * float64(multiplier)
	plan.Bytes = bytesize.ByteSize(total)
	plan.Ceiling = int64(math.Floor(total / float64(RowSize(columns))))
	return plan, nil
}

// TimeBounded plans a run whose stopping condition is a wall-clock deadline.
func TimeBounded(columns int) (*Plan, error) {
	return New(columns, "unbounded")
}

// String renders the plan for display.
func (p *Plan) String() string {
	if p.Unbounded {
		return "unbounded"
	}
	if p.Bytes > 0 {
		return fmt.Sprintf("%s (%d rows)", p.Bytes.String(), p.Ceiling)
	}
	return fmt.Sprintf("%d rows", p.Ceiling)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
