package generator

import (
	"encoding/json"
	"testing"
)

func TestMultiTable(t *testing.T) {
	schema := NewSchema(2)
	rows := []Row{
		{Timestamp: "t1", Columns: schema, Values: []float64{1, 2}},
		{Timestamp: "t2", Columns: schema, Values: []float64{3, 4}},
		{Timestamp: "t3", Columns: schema, Values: []float64{5, 6}},
	}

	batch := MultiTable("rand_data", schema, rows)

	if batch.Kind != KindMultiTable {
		t.Fatalf("Expected multi-table batch, got %s", batch.Kind)
	}
	if len(batch.Tables) != 2 {
		t.Fatalf("Expected 2 tables, got %d", len(batch.Tables))
	}
	if batch.Tables[0].Table != "rand_data_column_1" || batch.Tables[1].Table != "rand_data_column_2" {
		t.Errorf("Unexpected table names %q, %q", batch.Tables[0].Table, batch.Tables[1].Table)
	}

	want := []Point{{"t1", 2}, {"t2", 4}, {"t3", 6}}
	for i, p := range batch.Tables[1].Points {
		if p != want[i] {
			t.Errorf("Point %d = %+v, want %+v", i, p, want[i])
		}
	}
	if batch.Len() != 3 {
		t.Errorf("Expected Len 3, got %d", batch.Len())
	}
}

func TestPoint_JSON(t *testing.T) {
	data, err := json.Marshal(Point{Timestamp: "t1", Value: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"timestamp":"t1","value":1.5}` {
		t.Errorf("Unexpected encoding %s", data)
	}
}

func TestNewBatch(t *testing.T) {
	g := New(WithSeed(9))
	schema := NewSchema(3)

	single := g.NewBatch(schema, 5, "tbl", false)
	if single.Kind != KindSingleTable || single.Table != "tbl" || single.Len() != 5 {
		t.Errorf("Unexpected single-table batch: kind=%s table=%s len=%d", single.Kind, single.Table, single.Len())
	}

	multi := g.NewBatch(schema, 5, "tbl", true)
	if multi.Kind != KindMultiTable || len(multi.Tables) != 3 || multi.Len() != 5 {
		t.Errorf("Unexpected multi-table batch: kind=%s tables=%d len=%d", multi.Kind, len(multi.Tables), multi.Len())
	}
}

func TestBatch_LenEmpty(t *testing.T) {
	if (Batch{Kind: KindMultiTable}).Len() != 0 {
		t.Error("Empty multi-table batch should have Len 0")
	}
	if SingleTable("t", nil).Len() != 0 {
		t.Error("Empty single-table batch should have Len 0")
	}
}

func TestKindString(t *testing.T) {
	if KindSingleTable.String() != "single-table" || KindMultiTable.String() != "multi-table" || Kind(9).String() != "unknown" {
		t.Error("Unexpected Kind strings")
	}
}
