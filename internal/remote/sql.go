package remote

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidColumn reports whether name is safe to splice into SQL as an
// identifier.
func ValidColumn(name string) bool {
	return identRe.MatchString(name)
}

// Dialect builds the statements shared by the SQL backends. Column names come
// from rows and are checked with ValidColumn; every value is a bind parameter.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote quotes an identifier.
	Quote func(name string) string
	// Value converts a row value to a driver argument. Nil means SQLValue.
	Value func(v any) (any, error)
	// InlineNull writes nil values as a NULL literal instead of a parameter,
	// for drivers that cannot bind an untyped null.
	InlineNull bool
}

// PostgresDialect uses $n placeholders and double-quoted identifiers.
var PostgresDialect = Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Quote:       func(name string) string { return `"` + name + `"` },
}

// MySQLDialect uses ? placeholders and backtick-quoted identifiers.
var MySQLDialect = Dialect{
	Placeholder: func(int) string { return "?" },
	Quote:       func(name string) string { return "`" + name + "`" },
}

type stmt struct {
	d    Dialect
	sql  strings.Builder
	args []any
}

func (s *stmt) bind(v any) (string, error) {
	convert := s.d.Value
	if convert == nil {
		convert = SQLValue
	}
	val, err := convert(v)
	if err != nil {
		return "", err
	}
	if val == nil && s.d.InlineNull {
		return "NULL", nil
	}
	s.args = append(s.args, val)
	return s.d.Placeholder(len(s.args)), nil
}

func sortedColumns(r Row) ([]string, error) {
	cols := make([]string, 0, len(r))
	for c := range r {
		if !ValidColumn(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

// Select renders the inner SELECT * for q against table.
func (d Dialect) Select(table string, q Query) (string, []any, error) {
	s := &stmt{d: d}
	p, _ := s.bind(q.UserID)
	fmt.Fprintf(&s.sql, "SELECT * FROM %s WHERE %s = %s", d.Quote(table), d.Quote("user_id"), p)

	for _, f := range q.Filters {
		if !ValidColumn(f.Column) {
			return "", nil, fmt.Errorf("Select: invalid filter column %q", f.Column)
		}
		p, err := s.bind(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("Select: %w", err)
		}
		fmt.Fprintf(&s.sql, " AND %s = %s", d.Quote(f.Column), p)
	}

	if q.Order.Column != "" {
		if !ValidColumn(q.Order.Column) {
			return "", nil, fmt.Errorf("Select: invalid order column %q", q.Order.Column)
		}
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&s.sql, " ORDER BY %s %s", d.Quote(q.Order.Column), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&s.sql, " LIMIT %d", q.Limit)
	}
	return s.sql.String(), s.args, nil
}

// Insert renders an INSERT of row owned by userID. The row's user_id, if any,
// is replaced.
func (d Dialect) Insert(table, userID string, row Row) (string, []any, error) {
	row = row.Clone()
	row["user_id"] = userID

	cols, err := sortedColumns(row)
	if err != nil {
		return "", nil, fmt.Errorf("Insert: %w", err)
	}

	s := &stmt{d: d}
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		if params[i], err = s.bind(row[c]); err != nil {
			return "", nil, fmt.Errorf("Insert: column %s: %w", c, err)
		}
	}
	fmt.Fprintf(&s.sql, "INSERT INTO %s (%s) VALUES (%s)", d.Quote(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
	return s.sql.String(), s.args, nil
}

// Update renders an UPDATE of the supplied fields of row id owned by userID.
// id and user_id are never updated. ok is false when nothing is left to set.
func (d Dialect) Update(table, userID, id string, fields Row) (query string, args []any, ok bool, err error) {
	fields = fields.Clone()
	delete(fields, "id")
	delete(fields, "user_id")
	if len(fields) == 0 {
		return "", nil, false, nil
	}

	cols, err := sortedColumns(fields)
	if err != nil {
		return "", nil, false, fmt.Errorf("Update: %w", err)
	}

	s := &stmt{d: d}
	sets := make([]string, len(cols))
	for i, c := range cols {
		p, err := s.bind(fields[c])
		if err != nil {
			return "", nil, false, fmt.Errorf("Update: column %s: %w", c, err)
		}
		sets[i] = d.Quote(c) + " = " + p
	}
	pid, _ := s.bind(id)
	puser, _ := s.bind(userID)
	fmt.Fprintf(&s.sql, "UPDATE %s SET %s WHERE %s = %s AND %s = %s",
		d.Quote(table), strings.Join(sets, ", "), d.Quote("id"), pid, d.Quote("user_id"), puser)
	return s.sql.String(), s.args, true, nil
}

// Delete renders a DELETE of row id owned by userID.
func (d Dialect) Delete(table, userID, id string) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		d.Quote(table), d.Quote("id"), d.Placeholder(1), d.Quote("user_id"), d.Placeholder(2)), []any{id, userID}
}

// DeleteAll renders a DELETE of every row owned by userID.
func (d Dialect) DeleteAll(table, userID string) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.Quote(table), d.Quote("user_id"), d.Placeholder(1)), []any{userID}
}
