// Package export writes logger records to Parquet files for offline
// inspection.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/openhydro/loggersync/internal/loggerstorage"
)

// RecordRow represents one logger record in Parquet format. Timestamps
// are stored as epoch milliseconds together with the UTC offset of the
// fixed zone they were resolved to.
type RecordRow struct {
	GroupID       int32   `parquet:"group_id"`
	TimestampMs   int64   `parquet:"timestamp_ms"`
	UTCOffsetMins int32   `parquet:"utc_offset_mins"`
	Value         float64 `parquet:"value"`
	Null          bool    `parquet:"null"`
	Flags         string  `parquet:"flags,optional,zstd"`
}

func recordToRow(groupID int, r loggerstorage.Record) RecordRow {
	_, offset := r.Timestamp.Zone()
	return RecordRow{
		GroupID:       int32(groupID),
		TimestampMs:   r.Timestamp.UnixMilli(),
		UTCOffsetMins: int32(offset / 60),
		Value:         r.Value,
		Null:          r.Null,
		Flags:         r.Flags,
	}
}

// WriteParquet writes the records of one series group to path,
// creating parent directories as needed.
func WriteParquet(path string, groupID int, records []loggerstorage.Record) error {
	return WriteParquetGroups(path, map[int][]loggerstorage.Record{groupID: records})
}

// WriteParquetGroups writes the records of several series groups to a
// single file, ordered by group id.
func WriteParquetGroups(path string, groups map[int][]loggerstorage.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	w := parquet.NewGenericWriter[RecordRow](f, parquet.Compression(&parquet.Zstd))
	for _, id := range ids {
		records := groups[id]
		rows := make([]RecordRow, len(records))
		for i, r := range records {
			rows[i] = recordToRow(id, r)
		}
		if _, err := w.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}
