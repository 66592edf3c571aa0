package size

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowSize(t *testing.T) {
	assert.Equal(t, int64(16), RowSize(1))
	assert.Equal(t, int64(24), RowSize(2))
	assert.Equal(t, int64(808), RowSize(100))
}

func TestNew_ByteBudget(t *testing.T) {
	tests := []struct {
		spec     string
		columns  int
		expected int64
	}{
		{"1MB", 2, 43690},
		{"1mb", 2, 43690},
		{"10MB", 1, 655360},
		{"1KB", 1, 64},
		{"1.5KB", 2, 64},
		{"100B", 3, 3},
		{"1GB", 4, 26843545},
		{"1B", 1, 0},
		{"0.5MB", 2, 21845},
		{"1.9KB", 2, 81},
		{"0.5KB", 1, 32},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			plan, err := New(tt.columns, tt.spec)
			require.NoError(t, err)
			assert.False(t, plan.Unbounded)
			assert.Equal(t, tt.expected, plan.Ceiling)
			assert.Len(t, plan.Schema, tt.columns)
		})
	}
}

func TestNew_FractionalBudgetKeepsBytes(t *testing.T) {
	plan, err := New(2, "1.5KB")
	require.NoError(t, err)
	assert.Equal(t, uint64(1536), uint64(plan.Bytes))

	half, err := New(2, "0.5MB")
	require.NoError(t, err)
	assert.Equal(t, uint64(524288), uint64(half.Bytes))
	assert.Positive(t, half.Ceiling)

	lower, err := New(2, "1.5KB")
	require.NoError(t, err)
	higher, err := New(2, "1.9KB")
	require.NoError(t, err)
	assert.Greater(t, higher.Ceiling, lower.Ceiling)
}

func TestNew_RowCount(t *testing.T) {
	plan, err := New(3, "5000")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), plan.Ceiling)
	assert.Zero(t, plan.Bytes)
	assert.Equal(t, "5000 rows", plan.String())
}

func TestNew_Unbounded(t *testing.T) {
	for _, spec := range []string{"", "0", "unbounded", "INF", " 0 "} {
		plan, err := New(2, spec)
		require.NoError(t, err, spec)
		assert.True(t, plan.Unbounded, spec)
		assert.Equal(t, "unbounded", plan.String())
	}

	plan, err := TimeBounded(5)
	require.NoError(t, err)
	assert.True(t, plan.Unbounded)
	assert.Equal(t, []string{"column_1", "column_2", "column_3", "column_4", "column_5"}, []string(plan.Schema))
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		columns int
		spec    string
	}{
		{"unknown unit", 1, "10XB"},
		{"petabytes", 1, "1PB"},
		{"no number", 1, "MB"},
		{"words", 1, "ten"},
		{"negative", 1, "-5MB"},
		{"space before unit", 1, "10 MB"},
		{"zero columns", 0, "10MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.columns, tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSizeSpec))

			var specErr *InvalidSizeSpecError
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, tt.spec, specErr.Spec)
		})
	}
}

func TestNew_CeilingMonotonicInBudget(t *testing.T) {
	specs := []string{"1B", "100B", "1KB", "512KB", "1MB", "1.5MB", "1GB", "2GB", "1TB"}
	for columns := 1; columns <= 8; columns++ {
		var prev int64 = -1
		for _, spec := range specs {
			plan, err := New(columns, spec)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, plan.Ceiling, prev, "%d columns, %s", columns, spec)
			prev = plan.Ceiling
		}
	}
}

func TestNew_CeilingDecreasesWithColumns(t *testing.T) {
	var prev int64 = 1 << 62
	for columns := 1; columns <= 16; columns++ {
		plan, err := New(columns, "1MB")
		require.NoError(t, err)
		assert.LessOrEqual(t, plan.Ceiling, prev)
		prev = plan.Ceiling
	}
}
