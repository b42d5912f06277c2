package loggerstorage

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// lineFormat is the per-line contract implemented by each text format.
type lineFormat interface {
	// matchesSubset reports whether the line belongs to the configured
	// subset of interleaved measurement sets. Lines that do not match
	// are skipped, not errors.
	matchesSubset(line string) bool

	// timestamp extracts the naive timestamp from the line.
	timestamp(line string) (time.Time, error)

	// item returns the raw text of the seq-th data field (1-based,
	// counting after the format's fixed prefix) together with any flags
	// encoded next to it.
	item(line string, seq int) (value, flags string, err error)
}

// textSource reads one delimited text file, or a glob set of them, and
// decodes lines through a lineFormat.
type textSource struct {
	path             string
	fields           []int
	groups           []int
	decimalSeparator string
	null             nullSpec
	ignoreLines      *regexp.Regexp
	enc              encoding.Encoding // nil means UTF-8 passthrough
	resolver         *tzResolver
	logger           *slog.Logger
	format           lineFormat
	multiFile        bool // only the simple format spans glob sets
}

func (s *textSource) groupIDs() []int {
	return s.groups
}

func (s *textSource) tail(after time.Time) ([]rawRecord, error) {
	s.resolver.reset()
	if s.multiFile && strings.ContainsAny(s.path, "*?[{") {
		return s.multiTail(after)
	}
	recs, _, err := s.scanFile(s.path, after, true, s.resolver)
	return recs, err
}

func (s *textSource) value(groupID int, rec rawRecord) (Record, error) {
	seq := 0
	for i, id := range s.fields {
		if id == groupID {
			seq = i + 1
			break
		}
	}
	if seq == 0 {
		return Record{}, fmt.Errorf("no field is mapped to series group %d", groupID)
	}

	raw, flags, err := s.format.item(rec.line, seq)
	if err != nil {
		return Record{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || s.null.isNull(raw) {
		return Record{Null: true, Flags: flags}, nil
	}
	if s.decimalSeparator != "" && s.decimalSeparator != "." {
		raw = strings.ReplaceAll(raw, s.decimalSeparator, ".")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid value %q", raw)
	}
	return Record{Value: v, Flags: flags}, nil
}

// fileSpan is the time span covered by one file of a glob set.
type fileSpan struct {
	path        string
	first, last time.Time
}

func (s *textSource) multiTail(after time.Time) ([]rawRecord, error) {
	paths, err := doublestar.FilepathGlob(s.path)
	if err != nil {
		return nil, &FormatError{Path: s.path, Message: "bad glob pattern", Err: err}
	}

	// Order between files is never inferred from filenames: every file
	// is scanned and ordered by the timestamp of its first record.
	var spans []fileSpan
	for _, p := range paths {
		_, span, err := s.scanFile(p, after, false, s.resolver.fresh())
		if err != nil {
			return nil, err
		}
		if span.first.IsZero() {
			s.logger.Warn("skipping file with no records", "file", p)
			continue
		}
		spans = append(spans, span)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].first.Before(spans[j].first) })

	for i := 1; i < len(spans); i++ {
		if !spans[i-1].last.Before(spans[i].first) {
			return nil, &FormatError{
				Path: spans[i].path,
				Message: fmt.Sprintf("timestamps overlap with file %s (%s is not after %s)",
					spans[i-1].path,
					spans[i].first.Format("2006-01-02 15:04"),
					spans[i-1].last.Format("2006-01-02 15:04")),
			}
		}
	}

	var result []rawRecord
	for _, span := range spans {
		recs, _, err := s.scanFile(span.path, after, true, s.resolver)
		if err != nil {
			return nil, err
		}
		result = append(result, recs...)
	}
	return result, nil
}

// scanFile reads one file oldest-first. When collect is true it returns
// the records strictly newer than after; it always returns the time
// span the file covers. Lines are checked for non-decreasing
// timestamps; a repeated timestamp is skipped with a warning, a
// decreasing one is a FormatError.
func (s *textSource) scanFile(path string, after time.Time, collect bool, resolver *tzResolver) ([]rawRecord, fileSpan, error) {
	span := fileSpan{path: path}

	f, err := os.Open(path)
	if err != nil {
		return nil, span, fmt.Errorf("open storage file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.enc != nil {
		r = transform.NewReader(f, s.enc.NewDecoder())
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var recs []rawRecord
	var prev time.Time
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if s.mustIgnore(line) {
			continue
		}

		naive, err := s.format.timestamp(line)
		if err != nil {
			return nil, span, &FormatError{Path: path, Line: line, Message: "parse error or invalid date", Err: err}
		}
		ts, err := resolver.resolve(naive)
		if err != nil {
			return nil, span, &FormatError{Path: path, Line: line, Message: err.Error()}
		}

		if !prev.IsZero() {
			if ts.Equal(prev) {
				s.logger.Warn("omitting line with repeated timestamp",
					"file", path, "timestamp", ts.Format("2006-01-02 15:04"))
				continue
			}
			if ts.Before(prev) {
				return nil, span, &FormatError{
					Path: path,
					Line: line,
					Message: fmt.Sprintf("the order of timestamps is mixed up: %s follows %s",
						ts.Format("2006-01-02 15:04"), prev.Format("2006-01-02 15:04")),
				}
			}
		}
		prev = ts

		if span.first.IsZero() {
			span.first = ts
		}
		span.last = ts

		if collect && ts.After(after) {
			recs = append(recs, rawRecord{timestamp: ts, line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, span, fmt.Errorf("read storage file %s: %w", path, err)
	}
	return recs, span, nil
}

func (s *textSource) mustIgnore(line string) bool {
	if strings.TrimSpace(line) == "" || !s.format.matchesSubset(line) {
		return true
	}
	return s.ignoreLines != nil && s.ignoreLines.MatchString(line)
}

// lookupEncoding resolves the "encoding" parameter to a text decoder.
// UTF-8 (the default) needs no decoding and returns nil.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf8", "utf-8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, configErrorf("unknown encoding %q", name)
	}
	return enc, nil
}

// splitLine splits a line on the configured delimiter; an empty
// delimiter means any run of whitespace.
func splitLine(line, delimiter string) []string {
	if delimiter == "" {
		return strings.Fields(line)
	}
	return strings.Split(line, delimiter)
}

// stripQuotes removes surrounding whitespace and optional double
// quoting from a field.
func stripQuotes(field string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(field), `"`))
}
