package loggerstorage

import (
	"fmt"
	"strings"
	"time"
)

// cr1000Format decodes Campbell Scientific CR1000 output: comma
// delimited, a quoted ISO timestamp first, then the record number and
// station id, then the subset identifier, then the data fields.
type cr1000Format struct {
	subsetIdentifier string
}

func (f *cr1000Format) matchesSubset(line string) bool {
	items := strings.Split(line, ",")
	if len(items) < 4 {
		return false
	}
	return strings.TrimSpace(items[3]) == f.subsetIdentifier
}

func (f *cr1000Format) timestamp(line string) (time.Time, error) {
	items := strings.Split(line, ",")
	if len(items) == 0 {
		return time.Time{}, fmt.Errorf("empty line")
	}
	return parseNaive(stripQuotes(items[0]), "")
}

func (f *cr1000Format) item(line string, seq int) (string, string, error) {
	items := strings.Split(line, ",")
	idx := seq + 3
	if idx >= len(items) {
		return "", "", fmt.Errorf("insufficient fields: need at least %d, got %d", idx+1, len(items))
	}
	return strings.TrimSpace(items[idx]), "", nil
}
