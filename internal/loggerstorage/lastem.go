package loggerstorage

import (
	"fmt"
	"strings"
	"time"
)

// lastemFormat decodes LASTEM output. Everything about it is regional:
// the delimiter, the decimal separator and the date format all come
// from configuration. Three leading fields identify the measurement
// subset, the fourth holds the timestamp.
type lastemFormat struct {
	delimiter         string
	dateFormat        string
	subsetIdentifiers []string
}

func (f *lastemFormat) matchesSubset(line string) bool {
	// All three leading fields must equal the configured identifiers;
	// a mere prefix match would accept lines of other subsets.
	items := splitLine(line, f.delimiter)
	if len(items) < 3 {
		return false
	}
	for i, want := range f.subsetIdentifiers {
		if strings.TrimSpace(items[i]) != want {
			return false
		}
	}
	return true
}

func (f *lastemFormat) timestamp(line string) (time.Time, error) {
	items := splitLine(line, f.delimiter)
	if len(items) < 4 {
		return time.Time{}, fmt.Errorf("insufficient fields: need at least 4, got %d", len(items))
	}
	return parseNaive(items[3], f.dateFormat)
}

func (f *lastemFormat) item(line string, seq int) (string, string, error) {
	items := splitLine(line, f.delimiter)
	idx := seq + 3
	if idx >= len(items) {
		return "", "", fmt.Errorf("insufficient fields: need at least %d, got %d", idx+1, len(items))
	}
	return strings.TrimSpace(items[idx]), "", nil
}
