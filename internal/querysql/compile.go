package querysql

import (
	"fmt"
	"regexp"
	"strings"
)

// identPattern restricts table and column names to plain SQL identifiers.
// Names come from configuration, never from request data, but are still
// validated before being quoted into the statement.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCompiler compiles record store queries to parameterized SQL for SQLite.
//
// CRITICAL: Page queries always include ORDER BY on the cursor column.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case Page:
		return c.compilePage(query)
	case *Page:
		return c.compilePage(*query)
	case Lookup:
		return c.compileLookup(query)
	case *Lookup:
		return c.compileLookup(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compilePage compiles a Page query.
// The ordering column is selected last so scanners can read the key columns
// positionally and the cursor value from the final column.
func (c *SQLCompiler) compilePage(q Page) (string, []any, error) {
	table, err := quoteIdent(q.Table)
	if err != nil {
		return "", nil, fmt.Errorf("compile page: %w", err)
	}
	if len(q.KeyColumns) == 0 {
		return "", nil, fmt.Errorf("compile page: no key columns for %s", q.Table)
	}
	orderBy, err := quoteIdent(q.OrderBy)
	if err != nil {
		return "", nil, fmt.Errorf("compile page: %w", err)
	}

	cols := make([]string, 0, len(q.KeyColumns)+1)
	for _, col := range q.KeyColumns {
		quoted, err := quoteIdent(col)
		if err != nil {
			return "", nil, fmt.Errorf("compile page: %w", err)
		}
		cols = append(cols, quoted)
	}
	cols = append(cols, orderBy)

	var b strings.Builder
	var params []any

	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), table)
	if q.After != nil {
		fmt.Fprintf(&b, " WHERE %s > ?", orderBy)
		params = append(params, *q.After)
	}
	fmt.Fprintf(&b, " ORDER BY %s ASC", orderBy)
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return b.String(), params, nil
}

// compileLookup compiles a Lookup query.
func (c *SQLCompiler) compileLookup(q Lookup) (string, []any, error) {
	table, err := quoteIdent(q.Table)
	if err != nil {
		return "", nil, fmt.Errorf("compile lookup: %w", err)
	}
	if len(q.KeyColumns) == 0 {
		return "", nil, fmt.Errorf("compile lookup: no key columns for %s", q.Table)
	}
	if len(q.KeyColumns) != len(q.KeyValues) {
		return "", nil, fmt.Errorf("compile lookup: %d key columns, %d values", len(q.KeyColumns), len(q.KeyValues))
	}

	conds := make([]string, 0, len(q.KeyColumns))
	params := make([]any, 0, len(q.KeyValues))
	for i, col := range q.KeyColumns {
		quoted, err := quoteIdent(col)
		if err != nil {
			return "", nil, fmt.Errorf("compile lookup: %w", err)
		}
		conds = append(conds, quoted+" = ?")
		params = append(params, q.KeyValues[i])
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, strings.Join(conds, " AND "))
	return sql, params, nil
}

// quoteIdent validates and double-quotes an SQL identifier.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}
