package loggerstorage

import (
	"fmt"
	"time"
)

// simpleFormat decodes generic delimited files: an optional run of
// ignored prefix fields, then the timestamp, then the data fields. The
// timestamp is either a single field (date and time together) or two
// adjacent fields joined with a space; a field of ten characters or
// fewer is taken to be a bare date. This is the only format that may
// span a multi-file glob set.
type simpleFormat struct {
	delimiter  string
	nIgnore    int
	dateFormat string
}

func (f *simpleFormat) matchesSubset(string) bool { return true }

func (f *simpleFormat) timestamp(line string) (time.Time, error) {
	items := splitLine(line, f.delimiter)
	datestr, _, err := f.dateString(items)
	if err != nil {
		return time.Time{}, err
	}
	return parseNaive(datestr, f.dateFormat)
}

func (f *simpleFormat) item(line string, seq int) (string, string, error) {
	items := splitLine(line, f.delimiter)
	_, separateTime, err := f.dateString(items)
	if err != nil {
		return "", "", err
	}
	idx := f.nIgnore + seq
	if separateTime {
		idx++
	}
	if idx >= len(items) {
		return "", "", fmt.Errorf("insufficient fields: need at least %d, got %d", idx+1, len(items))
	}
	return stripQuotes(items[idx]), "", nil
}

// dateString joins the timestamp field(s) and reports whether the time
// lived in a separate field.
func (f *simpleFormat) dateString(items []string) (string, bool, error) {
	if len(items) <= f.nIgnore {
		return "", false, fmt.Errorf("insufficient fields: need at least %d, got %d", f.nIgnore+1, len(items))
	}
	datestr := stripQuotes(items[f.nIgnore])
	if len(datestr) > 10 {
		return datestr, false, nil
	}
	if len(items) <= f.nIgnore+1 {
		return "", false, fmt.Errorf("insufficient fields: date without time")
	}
	return datestr + " " + stripQuotes(items[f.nIgnore+1]), true, nil
}
