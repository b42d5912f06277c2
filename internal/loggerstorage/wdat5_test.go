package loggerstorage

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openhydro/loggersync/internal/logging"
)

// wlkRecord builds one 88-byte archive record.
type wlkRecord struct {
	stamp       byte
	packedTime  int16 // minutes after midnight
	outsideTemp int16 // tenths of degrees Fahrenheit
	rain        uint16
	windDir     int8
}

func (r wlkRecord) encode() []byte {
	rec := make([]byte, wdat5RecordSize)
	rec[0] = r.stamp
	binary.LittleEndian.PutUint16(rec[4:], uint16(r.packedTime))
	binary.LittleEndian.PutUint16(rec[6:], uint16(r.outsideTemp))
	binary.LittleEndian.PutUint16(rec[20:], r.rain)
	rec[28] = byte(r.windDir)
	return rec
}

// writeWLK writes a monthly archive where all records belong to one
// day.
func writeWLK(t *testing.T, path string, day int, records []wlkRecord) {
	t.Helper()
	header := make([]byte, wdat5HeaderSize)
	copy(header, wdat5Magic)
	idx := 20 + day*6
	binary.LittleEndian.PutUint16(header[idx:], uint16(len(records)))
	binary.LittleEndian.PutUint32(header[idx+2:], 0)

	data := header
	for _, r := range records {
		data = append(data, r.encode()...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newWDAT5Storage(t *testing.T, dir string, extra Parameters) Storage {
	t.Helper()
	params := Parameters{
		"path":           dir,
		"storage_format": "wdat5",
		"station_id":     "1334",
		"outsidetemp":    "1256",
		"rain":           "1652",
		"winddirection":  "1700",
	}
	for k, v := range extra {
		params[k] = v
	}
	st, err := New("mystation", params, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWDAT5(t *testing.T) {
	dir := t.TempDir()
	writeWLK(t, filepath.Join(dir, "2019-02.wlk"), 28, []wlkRecord{
		{stamp: 2}, // daily summary, skipped
		// 77.0 F, rain collector 0.2 mm/click with 5 clicks, wind
		// direction code 8 (south).
		{stamp: 1, packedTime: 60, outsideTemp: 770, rain: 0x2000 | 5, windDir: 8},
		// Dashed temperature, invalid wind direction.
		{stamp: 1, packedTime: 120, outsideTemp: 32767, rain: 0x2000, windDir: -1},
	})
	st := newWDAT5Storage(t, dir, nil)

	ids := st.TimeseriesGroupIDs()
	if len(ids) != 3 {
		t.Fatalf("TimeseriesGroupIDs = %v, want 3 ids", ids)
	}

	temps, err := st.GetRecentData(1256, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData(outsidetemp): %v", err)
	}
	if len(temps) != 2 {
		t.Fatalf("expected 2 records, got %d", len(temps))
	}
	want := time.Date(2019, 2, 28, 1, 0, 0, 0, time.UTC)
	if !temps[0].Timestamp.Equal(want) {
		t.Errorf("first timestamp = %s, want %s", temps[0].Timestamp, want)
	}
	if !almostEqual(temps[0].Value, 25.0) { // (77-32)*5/9
		t.Errorf("temperature = %v, want 25.0 Celsius", temps[0].Value)
	}
	if !temps[1].Null {
		t.Errorf("dashed temperature should be null, got %+v", temps[1])
	}

	rain, err := st.GetRecentData(1652, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData(rain): %v", err)
	}
	if !almostEqual(rain[0].Value, 1.0) { // 5 clicks of 0.2 mm
		t.Errorf("rain = %v, want 1.0 mm", rain[0].Value)
	}

	dirs, err := st.GetRecentData(1700, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData(winddirection): %v", err)
	}
	if !almostEqual(dirs[0].Value, 180.0) {
		t.Errorf("wind direction = %v, want 180", dirs[0].Value)
	}
	if !dirs[1].Null {
		t.Errorf("negative wind direction should be null, got %+v", dirs[1])
	}
}

func TestWDAT5FahrenheitPassthrough(t *testing.T) {
	dir := t.TempDir()
	writeWLK(t, filepath.Join(dir, "2019-02.wlk"), 1, []wlkRecord{
		{stamp: 1, packedTime: 60, outsideTemp: 770, rain: 0x2000},
	})
	st := newWDAT5Storage(t, dir, Parameters{"temperature_unit": "F"})

	temps, err := st.GetRecentData(1256, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if !almostEqual(temps[0].Value, 77.0) {
		t.Errorf("temperature = %v, want 77.0 Fahrenheit", temps[0].Value)
	}
}

func TestWDAT5SkipsMonthsBeforeAfter(t *testing.T) {
	dir := t.TempDir()
	// The old month is garbage; it must never be opened because the
	// filename says it cannot contain newer records.
	if err := os.WriteFile(filepath.Join(dir, "2018-12.wlk"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeWLK(t, filepath.Join(dir, "2019-02.wlk"), 1, []wlkRecord{
		{stamp: 1, packedTime: 60, outsideTemp: 770, rain: 0x2000},
	})
	st := newWDAT5Storage(t, dir, nil)

	after := time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)
	recs, err := st.GetRecentData(1256, after)
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestWDAT5SkipsRecordsAtOrBeforeAfter(t *testing.T) {
	dir := t.TempDir()
	writeWLK(t, filepath.Join(dir, "2019-02.wlk"), 1, []wlkRecord{
		{stamp: 1, packedTime: 60, outsideTemp: 770, rain: 0x2000},
		{stamp: 1, packedTime: 120, outsideTemp: 780, rain: 0x2000},
	})
	st := newWDAT5Storage(t, dir, nil)

	after := time.Date(2019, 2, 1, 1, 0, 0, 0, time.UTC)
	recs, err := st.GetRecentData(1256, after)
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 1 || !almostEqual(recs[0].Value, (78.0-32)*5/9) {
		t.Errorf("expected only the 02:00 record, got %v", recs)
	}
}

func TestWDAT5RejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	bad := make([]byte, wdat5HeaderSize)
	copy(bad, "NOTWDAT")
	if err := os.WriteFile(filepath.Join(dir, "2019-02.wlk"), bad, 0o644); err != nil {
		t.Fatal(err)
	}
	st := newWDAT5Storage(t, dir, nil)

	if _, err := st.GetRecentData(1256, time.Time{}); err == nil {
		t.Error("expected error for a file without the WDAT5 magic")
	}
}

func TestWDAT5RejectsInvalidUnit(t *testing.T) {
	_, err := New("mystation", Parameters{
		"path":             "irrelevant",
		"storage_format":   "wdat5",
		"station_id":       "1334",
		"outsidetemp":      "1256",
		"temperature_unit": "A",
	}, logging.Discard())
	if err == nil {
		t.Fatal("expected error for invalid temperature unit")
	}
}
