package loggerstorage

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openhydro/loggersync/internal/logging"
)

// DefaultMaxRecords caps the number of records one GetRecentData call
// returns when the max_records parameter is not set.
const DefaultMaxRecords = 10000

// Storage is the logger-storage abstraction: one configured on-disk (or
// in-database) representation of a meteorological logger's output,
// normalized into per-series-group time series.
//
// A Storage is not safe for concurrent use; each instance owns its own
// read-ahead cache and is meant to be driven by a single caller. For
// best performance call GetRecentData once per series group with
// non-decreasing after timestamps — querying earlier than a previous
// call invalidates the cache and forces a full re-read.
type Storage interface {
	// Section is the configuration section this storage was built from.
	Section() string

	// StationID is the remote station the storage's series belong to.
	StationID() int

	// TimeseriesGroupIDs returns the configured series group ids, in
	// field order.
	TimeseriesGroupIDs() []int

	// Location is the time zone the logger records its timestamps in,
	// from the timezone parameter; time.UTC when the parameter is not
	// set. Naive timestamps from elsewhere must be interpreted in this
	// zone before being compared with record timestamps.
	Location() *time.Location

	// GetRecentData returns the records of one series group strictly
	// newer than after, oldest first, capped at the configured maximum
	// (keeping the most recent ones).
	GetRecentData(groupID int, after time.Time) ([]Record, error)
}

// source is the format-specific backend behind a storage: the closed
// set of variants is resolved once at construction.
type source interface {
	groupIDs() []int

	// tail returns all records with timestamps strictly after the given
	// time, oldest first.
	tail(after time.Time) ([]rawRecord, error)

	// value extracts one series group's value and flags from a record.
	// The caller fills in the timestamp.
	value(groupID int, rec rawRecord) (Record, error)
}

type storage struct {
	section    string
	stationID  int
	path       string
	maxRecords int
	loc        *time.Location
	logger     *slog.Logger
	src        source

	// Read-ahead cache, keyed by the low-water-mark timestamp it was
	// built for. Querying earlier than the mark rebuilds it.
	cacheValid   bool
	lowWaterMark time.Time
	cached       map[int][]Record
}

var (
	commonRequired = newParamSet("path", "storage_format", "station_id")
	commonOptional = newParamSet("timezone", "max_records")

	textRequired = commonRequired.union(newParamSet("fields"))
	textOptional = commonOptional.union(newParamSet("null", "nullstr", "ignore_lines", "encoding"))
)

// New constructs the storage described by the parameter set. The format
// set is fixed: simple, cr1000, deltacom, lastem, pc208w, wdat5 and
// sql. Missing, unknown or invalid parameters yield a
// ConfigurationError; nothing is read from disk until the first query.
func New(section string, params Parameters, logger *slog.Logger) (Storage, error) {
	logger = logging.Default(logger).With("section", section)

	format := params["storage_format"]
	var build func(Parameters, *slog.Logger) (source, error)
	switch format {
	case "simple":
		build = newSimpleSource
	case "cr1000":
		build = newCR1000Source
	case "deltacom":
		build = newDeltacomSource
	case "lastem":
		build = newLastemSource
	case "pc208w":
		build = newPC208WSource
	case "wdat5":
		build = newWDAT5Source
	case "sql":
		build = newSQLSource
	case "":
		return nil, configErrorf("parameter \"storage_format\" is required")
	default:
		return nil, configErrorf("unsupported storage format %q", format)
	}

	stationID, err := strconv.Atoi(strings.TrimSpace(params["station_id"]))
	if err != nil {
		return nil, configErrorf("parameter \"station_id\" must be an integer, got %q", params["station_id"])
	}
	if params["path"] == "" {
		return nil, configErrorf("parameter \"path\" is required")
	}
	maxRecords, err := intParam(params, "max_records", DefaultMaxRecords)
	if err != nil {
		return nil, err
	}
	if maxRecords <= 0 {
		return nil, configErrorf("parameter \"max_records\" must be positive, got %d", maxRecords)
	}
	loc, err := loadZone(params["timezone"])
	if err != nil {
		return nil, err
	}

	src, err := build(params, logger)
	if err != nil {
		return nil, err
	}
	if len(src.groupIDs()) == 0 {
		return nil, configErrorf("no series groups are configured")
	}

	return &storage{
		section:    section,
		stationID:  stationID,
		path:       params["path"],
		maxRecords: maxRecords,
		loc:        loc,
		logger:     logger,
		src:        src,
	}, nil
}

func (s *storage) Section() string          { return s.section }
func (s *storage) StationID() int           { return s.stationID }
func (s *storage) Location() *time.Location { return s.loc }

func (s *storage) TimeseriesGroupIDs() []int {
	ids := s.src.groupIDs()
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

func (s *storage) GetRecentData(groupID int, after time.Time) ([]Record, error) {
	known := false
	for _, id := range s.src.groupIDs() {
		if id == groupID {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown series group %d", groupID)
	}

	if !s.cacheValid || after.Before(s.lowWaterMark) {
		if err := s.extract(after); err != nil {
			return nil, err
		}
	}
	s.lowWaterMark = after

	recs := s.cached[groupID]
	start := sort.Search(len(recs), func(i int) bool {
		return recs[i].Timestamp.After(after)
	})
	recs = recs[start:]

	if len(recs) > s.maxRecords {
		s.logger.Warn("truncating result to the most recent records",
			"group_id", groupID, "qualifying", len(recs), "max_records", s.maxRecords)
		recs = recs[len(recs)-s.maxRecords:]
	}

	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

// extract rescans the underlying file(s) or table and rebuilds the
// per-group buffers for records newer than after.
func (s *storage) extract(after time.Time) error {
	s.logger.Info("reading data storage", "newer_than", after.Format("2006-01-02 15:04"))
	tail, err := s.src.tail(after)
	if err != nil {
		return err
	}
	s.logger.Info("read new records", "count", len(tail))
	if len(tail) > 0 {
		s.logger.Info("first new record", "timestamp", tail[0].timestamp.Format("2006-01-02 15:04"))
	}

	if err := checkOrdered(tail); err != nil {
		return &FormatError{Path: s.path, Message: err.Error()}
	}

	cached := make(map[int][]Record, len(s.src.groupIDs()))
	for _, groupID := range s.src.groupIDs() {
		recs := make([]Record, 0, len(tail))
		for _, raw := range tail {
			rec, err := s.src.value(groupID, raw)
			if err != nil {
				return &FormatError{
					Path:    s.path,
					Line:    raw.line,
					Message: fmt.Sprintf("parsing error while trying to read values: %v", err),
				}
			}
			rec.Timestamp = raw.timestamp
			recs = append(recs, rec)
		}
		cached[groupID] = recs
	}

	s.cached = cached
	s.cacheValid = true
	return nil
}

// checkOrdered verifies the tail is monotonically non-decreasing by
// timestamp and names the first offending instant otherwise.
func checkOrdered(tail []rawRecord) error {
	for i := 1; i < len(tail); i++ {
		if tail[i].timestamp.Before(tail[i-1].timestamp) {
			return fmt.Errorf("data is incorrectly ordered after %s",
				tail[i-1].timestamp.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

// newTextSource builds the pieces every text format shares.
func newTextSource(params Parameters, format lineFormat, multi bool, logger *slog.Logger) (*textSource, error) {
	fields, err := fieldsParam(params["fields"])
	if err != nil {
		return nil, err
	}

	var null nullSpec
	_, hasNull := params["null"]
	_, hasNullstr := params["nullstr"]
	if hasNull && hasNullstr {
		return nil, configErrorf("parameters \"null\" and \"nullstr\" cannot both be set")
	}
	if hasNull {
		null = parseNullSpec(params["null"])
	} else if hasNullstr {
		null = parseNullSpec(params["nullstr"])
	}

	var ignoreLines *regexp.Regexp
	if raw := params["ignore_lines"]; raw != "" {
		ignoreLines, err = regexp.Compile(raw)
		if err != nil {
			return nil, configErrorf("parameter \"ignore_lines\" is not a valid regular expression: %v", err)
		}
	}

	enc, err := lookupEncoding(params["encoding"])
	if err != nil {
		return nil, err
	}

	resolver, err := newTZResolver(params["timezone"], logger)
	if err != nil {
		return nil, err
	}

	return &textSource{
		path:             params["path"],
		fields:           fields,
		groups:           groupIDsOf(fields),
		decimalSeparator: params["decimal_separator"],
		null:             null,
		ignoreLines:      ignoreLines,
		enc:              enc,
		resolver:         resolver,
		logger:           logger,
		format:           format,
		multiFile:        multi,
	}, nil
}

func newSimpleSource(params Parameters, logger *slog.Logger) (source, error) {
	required := textRequired
	optional := textOptional.union(newParamSet("nfields_to_ignore", "delimiter", "date_format"))
	if err := checkParameters(params, required, optional); err != nil {
		return nil, err
	}
	nIgnore, err := intParam(params, "nfields_to_ignore", 0)
	if err != nil {
		return nil, err
	}
	if nIgnore < 0 {
		return nil, configErrorf("parameter \"nfields_to_ignore\" must be non-negative, got %d", nIgnore)
	}
	format := &simpleFormat{
		delimiter:  params["delimiter"],
		nIgnore:    nIgnore,
		dateFormat: params["date_format"],
	}
	return newTextSource(params, format, true, logger)
}

func newCR1000Source(params Parameters, logger *slog.Logger) (source, error) {
	required := textRequired.union(newParamSet("subset_identifiers"))
	if err := checkParameters(params, required, textOptional); err != nil {
		return nil, err
	}
	format := &cr1000Format{subsetIdentifier: strings.TrimSpace(params["subset_identifiers"])}
	return newTextSource(params, format, false, logger)
}

func newDeltacomSource(params Parameters, logger *slog.Logger) (source, error) {
	if err := checkParameters(params, textRequired, textOptional); err != nil {
		return nil, err
	}
	return newTextSource(params, deltacomFormat{}, false, logger)
}

func newLastemSource(params Parameters, logger *slog.Logger) (source, error) {
	required := textRequired.union(newParamSet("subset_identifiers"))
	optional := textOptional.union(newParamSet("decimal_separator", "delimiter", "date_format"))
	if err := checkParameters(params, required, optional); err != nil {
		return nil, err
	}
	var subset []string
	for _, s := range strings.Split(params["subset_identifiers"], ",") {
		subset = append(subset, strings.TrimSpace(s))
	}
	if len(subset) != 3 {
		return nil, configErrorf("parameter \"subset_identifiers\" must list exactly 3 identifiers, got %d", len(subset))
	}
	format := &lastemFormat{
		delimiter:         params["delimiter"],
		dateFormat:        params["date_format"],
		subsetIdentifiers: subset,
	}
	return newTextSource(params, format, false, logger)
}

func newPC208WSource(params Parameters, logger *slog.Logger) (source, error) {
	required := textRequired.union(newParamSet("subset_identifiers"))
	if err := checkParameters(params, required, textOptional); err != nil {
		return nil, err
	}
	format := &pc208wFormat{subsetIdentifier: strings.TrimSpace(params["subset_identifiers"])}
	return newTextSource(params, format, false, logger)
}

// wdat5UnitChoices lists the unit parameters and their allowed values;
// the first value of each is the default.
var wdat5UnitChoices = map[string][]string{
	"temperature_unit":      {"C", "F"},
	"rain_unit":             {"mm", "inch"},
	"wind_speed_unit":       {"m/s", "mph"},
	"pressure_unit":         {"hPa", "inch Hg"},
	"matric_potential_unit": {"centibar", "cm"},
}

func newWDAT5Source(params Parameters, logger *slog.Logger) (source, error) {
	optional := commonOptional.union(newParamSet(
		"temperature_unit", "rain_unit", "wind_speed_unit",
		"pressure_unit", "matric_potential_unit"))
	for label := range wdatFieldTable {
		optional[label] = true
	}
	if err := checkParameters(params, commonRequired, optional); err != nil {
		return nil, err
	}

	variables := make(map[string]int)
	for label := range wdatFieldTable {
		raw, ok := params[label]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, configErrorf("parameter %q must be a series group id, got %q", label, raw)
		}
		if id != 0 {
			variables[label] = id
		}
	}

	units := make(map[string]string, len(wdat5UnitChoices))
	for name, choices := range wdat5UnitChoices {
		v, ok := params[name]
		if !ok || v == "" {
			v = choices[0]
		}
		valid := false
		for _, c := range choices {
			if v == c {
				valid = true
				break
			}
		}
		if !valid {
			return nil, configErrorf("%s must be one of %s", name, strings.Join(choices, ", "))
		}
		units[name] = v
	}

	resolver, err := newTZResolver(params["timezone"], logger)
	if err != nil {
		return nil, err
	}

	groups := make([]int, 0, len(variables))
	seen := make(map[int]bool)
	for _, id := range variables {
		if !seen[id] {
			seen[id] = true
			groups = append(groups, id)
		}
	}
	sort.Ints(groups)

	return &wdat5Source{
		path:                params["path"],
		variables:           variables,
		groups:              groups,
		temperatureUnit:     units["temperature_unit"],
		rainUnit:            units["rain_unit"],
		windSpeedUnit:       units["wind_speed_unit"],
		pressureUnit:        units["pressure_unit"],
		matricPotentialUnit: units["matric_potential_unit"],
		resolver:            resolver,
		logger:              logger,
	}, nil
}

func newSQLSource(params Parameters, logger *slog.Logger) (source, error) {
	required := commonRequired.union(newParamSet("fields", "table", "date_sql", "data_columns"))
	optional := commonOptional.union(newParamSet(
		"driver", "date_format", "decimal_separator", "null", "nullstr"))
	if err := checkParameters(params, required, optional); err != nil {
		return nil, err
	}

	var columns []string
	for _, c := range strings.Split(params["data_columns"], ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		return nil, configErrorf("parameter \"data_columns\" must list at least one column")
	}

	format := &simpleFormat{delimiter: ";", dateFormat: params["date_format"]}
	text, err := newTextSource(params, format, false, logger)
	if err != nil {
		return nil, err
	}

	driver := params["driver"]
	if driver == "" {
		driver = "duckdb"
	}

	return &sqlSource{
		driver:      driver,
		dsn:         params["path"],
		table:       params["table"],
		dateSQL:     params["date_sql"],
		dataColumns: columns,
		text:        text,
		logger:      logger,
	}, nil
}
