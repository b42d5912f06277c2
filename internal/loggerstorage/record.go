package loggerstorage

import "time"

// Record is one decoded measurement for a single series group.
//
// Timestamp always carries a fixed UTC offset consistent with the
// configured timezone; no further offset conversion happens downstream.
// Null marks a missing value; Value is meaningless when Null is set.
type Record struct {
	Timestamp time.Time
	Value     float64
	Null      bool
	Flags     string
}

// rawRecord is one decoded line or archive sample before per-series
// extraction. Text formats keep the whole line; the WDAT5 reader keeps
// the decoded variables instead.
type rawRecord struct {
	timestamp time.Time
	line      string
	values    map[string]float64
	nulls     map[string]bool
}
