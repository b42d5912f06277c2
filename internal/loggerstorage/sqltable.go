package loggerstorage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// sqlSource reads measurement rows straight from a database table. The
// path parameter holds the driver DSN; each row is fetched as the date
// expression followed by the configured data columns and then parsed
// exactly like a semicolon-delimited simple line. Rows are fetched
// newest first so the scan can stop at the low-water-mark.
type sqlSource struct {
	driver      string
	dsn         string
	table       string
	dateSQL     string
	dataColumns []string

	text   *textSource // line parsing, value extraction, null handling
	logger *slog.Logger
}

func (s *sqlSource) groupIDs() []int {
	return s.text.groupIDs()
}

func (s *sqlSource) value(groupID int, rec rawRecord) (Record, error) {
	return s.text.value(groupID, rec)
}

func (s *sqlSource) tail(after time.Time) ([]rawRecord, error) {
	s.text.resolver.reset()

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cols := make([]string, 0, len(s.dataColumns)+1)
	cols = append(cols, s.dateSQL)
	for _, c := range s.dataColumns {
		cols = append(cols, fmt.Sprintf("%q", c))
	}
	query := fmt.Sprintf(`SELECT %s FROM %q ORDER BY id DESC`, strings.Join(cols, ", "), s.table)

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", s.table, err)
	}
	defer rows.Close()

	fields := make([]sql.NullString, len(s.dataColumns)+1)
	dest := make([]any, len(fields))
	for i := range fields {
		dest[i] = &fields[i]
	}

	// First pass, newest first: collect lines until the low-water-mark.
	// DST disambiguation needs forward stream order, so here timestamps
	// are only tentative (context-free resolution) and serve the stop
	// condition.
	type pending struct {
		naive time.Time
		line  string
	}
	var collected []pending
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		parts := make([]string, len(fields))
		for i, f := range fields {
			if f.Valid {
				parts[i] = f.String
			}
		}
		line := strings.Join(parts, ";")

		naive, err := s.text.format.timestamp(line)
		if err != nil {
			return nil, &FormatError{Path: s.table, Line: line, Message: "parse error or invalid date", Err: err}
		}
		ts, err := s.text.resolver.fresh().resolve(naive)
		if err != nil {
			return nil, &FormatError{Path: s.table, Line: line, Message: err.Error()}
		}
		if !ts.After(after) {
			break
		}
		collected = append(collected, pending{naive: naive, line: line})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", s.table, err)
	}

	// Second pass, oldest first: final resolution in stream order.
	var result []rawRecord
	var prev time.Time
	for i := len(collected) - 1; i >= 0; i-- {
		p := collected[i]
		ts, err := s.text.resolver.resolve(p.naive)
		if err != nil {
			return nil, &FormatError{Path: s.table, Line: p.line, Message: err.Error()}
		}
		if !prev.IsZero() {
			if ts.Equal(prev) {
				s.logger.Warn("omitting row with repeated timestamp",
					"table", s.table, "timestamp", ts.Format("2006-01-02 15:04"))
				continue
			}
			if ts.Before(prev) {
				return nil, &FormatError{
					Path: s.table,
					Line: p.line,
					Message: fmt.Sprintf("the order of timestamps is mixed up: %s follows %s",
						ts.Format("2006-01-02 15:04"), prev.Format("2006-01-02 15:04")),
				}
			}
		}
		prev = ts
		if ts.After(after) {
			result = append(result, rawRecord{timestamp: ts, line: p.line})
		}
	}
	return result, nil
}
