package querysql

// Query is a sealed interface for the record store queries the engine issues.
// Only types in this package implement it (marker method pattern).
type Query interface {
	queryNode()
}

// Page selects the next ordered page of keys from a record table.
//
// Semantics:
//
//	SELECT <key columns>, <order by> FROM <table>
//	WHERE <order by> > <after>
//	ORDER BY <order by> ASC
//	LIMIT <limit>
//
// After == nil starts from the beginning of the table. Limit <= 0 means no
// limit (whole-table scans for the synchronous enqueue path).
type Page struct {
	Table      string
	KeyColumns []string
	OrderBy    string
	After      *string
	Limit      int
}

func (Page) queryNode() {}

// Lookup selects one record by its key column values.
//
//	SELECT * FROM <table> WHERE k1 = ? AND k2 = ?
type Lookup struct {
	Table      string
	KeyColumns []string
	KeyValues  []string
}

func (Lookup) queryNode() {}
