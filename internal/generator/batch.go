package generator

// Kind identifies the shape of a Batch.
type Kind int

const (
	// KindSingleTable is one wide table of rows.
	KindSingleTable Kind = iota
	// KindMultiTable maps every column to its own table of points.
	KindMultiTable
)

func (k Kind) String() string {
	switch k {
	case KindSingleTable:
		return "single-table"
	case KindMultiTable:
		return "multi-table"
	default:
		return "unknown"
	}
}

// Point is one {timestamp, value} pair of a column-as-table payload.
type Point struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TablePoints is the payload destined for one column table.
type TablePoints struct {
	Table  string
	Points []Point
}

// Batch is the unit of one delivery: either a single table of rows or a
// set of per-column tables. Exactly one of Rows or Tables is populated,
// as indicated by Kind.
type Batch struct {
	Kind Kind

	// Table is the destination for KindSingleTable.
	Table string
	Rows  []Row

	// Tables holds the per-column payloads for KindMultiTable, in schema order.
	Tables []TablePoints
}

// SingleTable builds a single-table batch.
func SingleTable(table string, rows []Row) Batch {
	return Batch{Kind: KindSingleTable, Table: table, Rows: rows}
}

// MultiTable reshapes rows so that each schema column becomes a table
// named "<table>_<column>" holding {timestamp, value} points.
func MultiTable(table string, schema Schema, rows []Row) Batch {
	tables := make([]TablePoints, len(schema))
	for i, col := range schema {
		tables[i] = TablePoints{
			Table:  table + "_" + col,
			Points: make([]Point, 0, len(rows)),
		}
	}
	for _, row := range rows {
		for i := range schema {
			tables[i].Points = append(tables[i].Points, Point{
				Timestamp: row.Timestamp,
				Value:     row.Values[i],
			})
		}
	}
	return Batch{Kind: KindMultiTable, Table: table, Tables: tables}
}

// Len returns the number of generated rows the batch carries.
func (b Batch) Len() int {
	switch b.Kind {
	case KindMultiTable:
		if len(b.Tables) == 0 {
			return 0
		}
		return len(b.Tables[0].Points)
	default:
		return len(b.Rows)
	}
}

// NewBatch generates n rows and shapes them as requested.
func (g *Generator) NewBatch(schema Schema, n int, table string, columnAsTable bool) Batch {
	rows := g.Rows(schema, n)
	if columnAsTable {
		return MultiTable(table, schema, rows)
	}
	return SingleTable(table, rows)
}
