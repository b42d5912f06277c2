package loggerstorage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// pc208wFormat decodes Campbell PC208W output: comma delimited, a
// subset identifier first, then a logger id (ignored), then the
// timestamp as year, day-of-year and packed HHmm fields. Midnight can
// be reported as hour 24 of the previous day and rolls over.
type pc208wFormat struct {
	subsetIdentifier string
}

func (f *pc208wFormat) matchesSubset(line string) bool {
	items := strings.Split(line, ",")
	return strings.TrimSpace(items[0]) == f.subsetIdentifier
}

func (f *pc208wFormat) timestamp(line string) (time.Time, error) {
	items := strings.Split(line, ",")
	if len(items) < 5 {
		return time.Time{}, fmt.Errorf("insufficient fields: need at least 5, got %d", len(items))
	}
	year, err1 := strconv.Atoi(strings.TrimSpace(items[2]))
	yday, err2 := strconv.Atoi(strings.TrimSpace(items[3]))
	packed, err3 := strconv.Atoi(strings.TrimSpace(items[4]))
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("invalid date fields %q,%q,%q", items[2], items[3], items[4])
	}
	hour := packed / 100
	minute := packed % 100
	if hour == 24 {
		hour = 0
		yday++
	}
	if hour > 23 || minute > 59 || yday < 1 {
		return time.Time{}, fmt.Errorf("invalid time %04d on day %d", packed, yday)
	}
	t := time.Date(year, time.January, 1, hour, minute, 0, 0, time.UTC)
	return t.AddDate(0, 0, yday-1), nil
}

func (f *pc208wFormat) item(line string, seq int) (string, string, error) {
	items := strings.Split(line, ",")
	idx := seq + 4
	if idx >= len(items) {
		return "", "", fmt.Errorf("insufficient fields: need at least %d, got %d", idx+1, len(items))
	}
	return strings.TrimSpace(items[idx]), "", nil
}
