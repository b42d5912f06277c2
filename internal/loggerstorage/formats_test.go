package loggerstorage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openhydro/loggersync/internal/logging"
)

func newStorage(t *testing.T, params Parameters) Storage {
	t.Helper()
	st, err := New("mystation", params, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func TestCR1000(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	writeStorageFile(t, path,
		"\"2019-02-28 13:47\",111,222,18,25.2,42.3\n"+
			"\"2019-02-28 13:57\",112,222,19,99.9,99.9\n"+ // other subset
			"\"2019-02-28 14:47\",113,222,18,NULL,41.9\n")
	st := newStorage(t, Parameters{
		"path":               path,
		"storage_format":     "cr1000",
		"station_id":         "1334",
		"fields":             "5, 6",
		"nullstr":            "NULL",
		"subset_identifiers": "18",
	})

	recs, err := st.GetRecentData(5, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Value != 25.2 {
		t.Errorf("first value = %v, want 25.2", recs[0].Value)
	}
	if !recs[1].Null {
		t.Errorf("second record should be null, got %+v", recs[1])
	}
	want := time.Date(2019, 2, 28, 13, 47, 0, 0, time.UTC)
	if !recs[0].Timestamp.Equal(want) {
		t.Errorf("first timestamp = %s, want %s", recs[0].Timestamp, want)
	}
}

func TestDeltacomFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	writeStorageFile(t, path,
		"2019-02-28T13:47 25.2 42.3#\n"+
			"2019-02-28T14:47 25.9$ 41.9\n"+
			"2019-02-28T15:47 26.1 41.5\n")
	st := newStorage(t, Parameters{
		"path":           path,
		"storage_format": "deltacom",
		"station_id":     "1334",
		"fields":         "5, 6",
	})

	recs, err := st.GetRecentData(6, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Value != 42.3 || recs[0].Flags != "LOGOVERRUN" {
		t.Errorf("first record = %+v, want 42.3 LOGOVERRUN", recs[0])
	}
	if recs[1].Flags != "" {
		t.Errorf("flag of another field leaked: %+v", recs[1])
	}

	recs, err = st.GetRecentData(5, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if recs[1].Value != 25.9 || recs[1].Flags != "LOGNOISY" {
		t.Errorf("second record = %+v, want 25.9 LOGNOISY", recs[1])
	}
}

func TestLastem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	writeStorageFile(t, path,
		"18;19;20;28/2/2019 13:47;25,2;42,3\n"+
			"17;19;20;28/2/2019 13:57;99,9;99,9\n"+ // other subset
			"18;19;21;28/2/2019 14:17;99,9;99,9\n"+ // differs in the third identifier only
			"18;19;20;28/2/2019 14:47;25,9;41,9\n")
	st := newStorage(t, Parameters{
		"path":               path,
		"storage_format":     "lastem",
		"station_id":         "1334",
		"fields":             "5, 6",
		"null":               "NULL",
		"timezone":           "Etc/GMT-2",
		"subset_identifiers": "18,19,20",
		"delimiter":          ";",
		"decimal_separator":  ",",
		"date_format":        "2/1/2006 15:04",
	})

	recs, err := st.GetRecentData(5, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Value != 25.2 || recs[1].Value != 25.9 {
		t.Errorf("unexpected values: %v", recs)
	}
	// Etc/GMT-2 is UTC+2, so 13:47 local is 11:47 UTC.
	want := time.Date(2019, 2, 28, 11, 47, 0, 0, time.UTC)
	if !recs[0].Timestamp.UTC().Equal(want) {
		t.Errorf("first timestamp = %s, want %s UTC", recs[0].Timestamp.UTC(), want)
	}
}

func TestLastemRequiresThreeSubsetIdentifiers(t *testing.T) {
	_, err := New("mystation", Parameters{
		"path":               "/foo/bar",
		"storage_format":     "lastem",
		"station_id":         "1334",
		"fields":             "5, 6",
		"subset_identifiers": "18,19",
	}, logging.Discard())
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestPC208W(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	writeStorageFile(t, path,
		"18,185,2019,59,1347,25.2,42.3\n"+
			"19,185,2019,59,1357,99.9,99.9\n"+ // other subset
			"18,185,2019,59,2400,25.9,41.9\n")
	st := newStorage(t, Parameters{
		"path":               path,
		"storage_format":     "pc208w",
		"station_id":         "1334",
		"fields":             "5, 6",
		"nullstr":            "NULL",
		"subset_identifiers": "18",
	})

	recs, err := st.GetRecentData(5, time.Time{})
	if err != nil {
		t.Fatalf("GetRecentData: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	want := time.Date(2019, 2, 28, 13, 47, 0, 0, time.UTC)
	if !recs[0].Timestamp.Equal(want) {
		t.Errorf("first timestamp = %s, want %s", recs[0].Timestamp, want)
	}
	// Hour 24 is midnight of the following day.
	want = time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	if !recs[1].Timestamp.Equal(want) {
		t.Errorf("rollover timestamp = %s, want %s", recs[1].Timestamp, want)
	}
}
