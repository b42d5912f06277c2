package loggerstorage

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// WDAT5 archives hold one binary file per calendar month, named
// YYYY-MM.wlk: a 212-byte header with one index entry per day of the
// month, then fixed 88-byte records. Record type 1 carries the archived
// weather data; other record types (daily summaries) are skipped.
const (
	wdat5Magic        = "WDAT5."
	wdat5HeaderSize   = 212
	wdat5RecordSize   = 88
	wdat5WeatherStamp = 1
)

var wdat5FilePattern = regexp.MustCompile(`^\d{4}-\d{2}\.wlk$`)

// wdatField locates one variable inside an 88-byte archive record.
type wdatField struct {
	offset int
	kind   byte // 'b' int8, 'B' uint8, 'h' int16, 'H' uint16
}

// wdatFieldTable maps variable labels to their byte offsets. The first
// four bytes (record type, archive interval, icon and more flags) and
// the packed time are handled separately.
var wdatFieldTable = map[string]wdatField{
	"outsidetemp":     {6, 'h'},
	"hioutsidetemp":   {8, 'h'},
	"lowoutsidetemp":  {10, 'h'},
	"insidetemp":      {12, 'h'},
	"barometer":       {14, 'h'},
	"outsidehum":      {16, 'h'},
	"insidehum":       {18, 'h'},
	"rain":            {20, 'H'},
	"hirainrate":      {22, 'h'},
	"windspeed":       {24, 'h'},
	"hiwindspeed":     {26, 'h'},
	"winddirection":   {28, 'b'},
	"hiwinddirection": {29, 'b'},
	"numwindsamples":  {30, 'h'},
	"solarrad":        {32, 'h'},
	"hisolarrad":      {34, 'h'},
	"uv":              {36, 'B'},
	"hiuv":            {37, 'B'},
	"leaftemp1":       {38, 'b'},
	"leaftemp2":       {39, 'b'},
	"leaftemp3":       {40, 'b'},
	"leaftemp4":       {41, 'b'},
	"extrarad":        {42, 'h'},
	"newsensors1":     {44, 'h'},
	"newsensors2":     {46, 'h'},
	"newsensors3":     {48, 'h'},
	"newsensors4":     {50, 'h'},
	"newsensors5":     {52, 'h'},
	"newsensors6":     {54, 'h'},
	"forecast":        {56, 'b'},
	"et":              {57, 'B'},
	"soiltemp1":       {58, 'b'},
	"soiltemp2":       {59, 'b'},
	"soiltemp3":       {60, 'b'},
	"soiltemp4":       {61, 'b'},
	"soiltemp5":       {62, 'b'},
	"soiltemp6":       {63, 'b'},
	"soilmoisture1":   {64, 'b'},
	"soilmoisture2":   {65, 'b'},
	"soilmoisture3":   {66, 'b'},
	"soilmoisture4":   {67, 'b'},
	"soilmoisture5":   {68, 'b'},
	"soilmoisture6":   {69, 'b'},
	"leafwetness1":    {70, 'b'},
	"leafwetness2":    {71, 'b'},
	"leafwetness3":    {72, 'b'},
	"leafwetness4":    {73, 'b'},
	"extratemp1":      {74, 'b'},
	"extratemp2":      {75, 'b'},
	"extratemp3":      {76, 'b'},
	"extratemp4":      {77, 'b'},
	"extratemp5":      {78, 'b'},
	"extratemp6":      {79, 'b'},
	"extratemp7":      {80, 'b'},
	"extrahum1":       {81, 'b'},
	"extrahum2":       {82, 'b'},
	"extrahum3":       {83, 'b'},
	"extrahum4":       {84, 'b'},
	"extrahum5":       {85, 'b'},
	"extrahum6":       {86, 'b'},
	"extrahum7":       {87, 'b'},
}

// read decodes the raw integer value and reports whether it is the
// type's dashed-value sentinel.
func (f wdatField) read(rec []byte) (int, bool) {
	switch f.kind {
	case 'b':
		v := int(int8(rec[f.offset]))
		return v, v == -128
	case 'B':
		v := int(rec[f.offset])
		return v, v == 255
	case 'h':
		v := int(int16(binary.LittleEndian.Uint16(rec[f.offset:])))
		return v, v == 32767
	default: // 'H'
		v := int(binary.LittleEndian.Uint16(rec[f.offset:]))
		return v, v == 65535
	}
}

// depthPerClick maps the rain collector type bits to millimetres of
// rain per bucket click.
var depthPerClick = map[int]float64{
	0x0000: 0.1 * 25.4,
	0x1000: 0.01 * 25.4,
	0x2000: 0.2,
	0x3000: 1.0,
	0x6000: 0.1,
}

// wdat5Source reads a directory of WDAT5 monthly archive files.
type wdat5Source struct {
	path      string         // directory holding YYYY-MM.wlk files
	variables map[string]int // configured label -> series group id
	groups    []int

	temperatureUnit     string // C or F
	rainUnit            string // mm or inch
	windSpeedUnit       string // m/s or mph
	pressureUnit        string // hPa or "inch Hg"
	matricPotentialUnit string // centibar or cm

	resolver *tzResolver
	logger   *slog.Logger
}

func (s *wdat5Source) groupIDs() []int {
	return s.groups
}

func (s *wdat5Source) value(groupID int, rec rawRecord) (Record, error) {
	for label, id := range s.variables {
		if id == groupID {
			return Record{Value: rec.values[label], Null: rec.nulls[label]}, nil
		}
	}
	return Record{}, fmt.Errorf("no variable is mapped to series group %d", groupID)
}

func (s *wdat5Source) tail(after time.Time) ([]rawRecord, error) {
	s.resolver.reset()

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("scan archive directory: %w", err)
	}

	// Months before the low-water-mark cannot contain newer records;
	// filename-encoded year/month gives the chronological order.
	local := after.In(s.resolver.loc)
	firstFile := fmt.Sprintf("%04d-%02d.wlk", local.Year(), int(local.Month()))

	var names []string
	for _, e := range entries {
		if !e.IsDir() && wdat5FilePattern.MatchString(e.Name()) && e.Name() >= firstFile {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var result []rawRecord
	for _, name := range names {
		recs, err := s.readMonthFile(filepath.Join(s.path, name), after)
		if err != nil {
			return nil, err
		}
		result = append(result, recs...)
	}
	return result, nil
}

// readMonthFile reads one monthly archive, returning the records
// strictly newer than after, in-file order.
func (s *wdat5Source) readMonthFile(path string, after time.Time) ([]rawRecord, error) {
	var year, month int
	if _, err := fmt.Sscanf(filepath.Base(path), "%04d-%02d.wlk", &year, &month); err != nil {
		return nil, &FormatError{Path: path, Message: "file name does not encode a year and month"}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	header := make([]byte, wdat5HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, &FormatError{Path: path, Message: "truncated header", Err: err}
	}
	if string(header[:len(wdat5Magic)]) != wdat5Magic {
		return nil, &FormatError{Path: path, Message: "not a WDAT 5.x file"}
	}

	var result []rawRecord
	record := make([]byte, wdat5RecordSize)
	for day := 1; day <= 31; day++ {
		idx := 20 + day*6
		recordsInDay := int(int16(binary.LittleEndian.Uint16(header[idx:])))
		startPos := int(int32(binary.LittleEndian.Uint32(header[idx+2:])))
		for r := 0; r < recordsInDay; r++ {
			pos := int64(wdat5HeaderSize + (startPos+r)*wdat5RecordSize)
			if _, err := f.Seek(pos, io.SeekStart); err != nil {
				return nil, fmt.Errorf("seek archive file %s: %w", path, err)
			}
			if _, err := io.ReadFull(f, record); err != nil {
				return nil, &FormatError{
					Path:    path,
					Message: fmt.Sprintf("truncated record %d of day %d", r, day),
					Err:     err,
				}
			}
			if record[0] != wdat5WeatherStamp {
				continue
			}

			values, nulls, err := s.decodeRecord(record)
			if err != nil {
				return nil, &FormatError{
					Path:    path,
					Message: fmt.Sprintf("record %d of day %d: %v", r, day, err),
				}
			}

			packedTime := int(int16(binary.LittleEndian.Uint16(record[4:])))
			naive := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).
				Add(time.Duration(packedTime) * time.Minute)
			ts, err := s.resolver.resolve(naive)
			if err != nil {
				return nil, &FormatError{
					Path:    path,
					Line:    fmt.Sprintf("record %d of day %d", r, day),
					Message: err.Error(),
				}
			}
			if !ts.After(after) {
				continue
			}
			result = append(result, rawRecord{timestamp: ts, values: values, nulls: nulls})
		}
	}
	return result, nil
}

// decodeRecord decodes the configured variables of one archive record,
// converting from the archive's native units to the configured output
// units. Dashed-value sentinels become nulls before conversion.
func (s *wdat5Source) decodeRecord(record []byte) (map[string]float64, map[string]bool, error) {
	values := make(map[string]float64, len(s.variables))
	nulls := make(map[string]bool, len(s.variables))

	// hirainrate needs the collector type bits of the rain field even
	// when rain itself is not mapped.
	_, needRainRate := s.variables["hirainrate"]

	var clickDepth float64
	if _, ok := s.variables["rain"]; ok || needRainRate {
		raw, _ := wdatFieldTable["rain"].read(record)
		collector := raw & 0xF000
		clicks := raw & 0x0FFF
		depth, ok := depthPerClick[collector]
		if !ok {
			return nil, nil, fmt.Errorf("unknown rain collector type %#04x", collector)
		}
		clickDepth = depth
		if _, ok := s.variables["rain"]; ok {
			total := depth * float64(clicks)
			if s.rainUnit == "inch" {
				total /= 25.4
			}
			values["rain"] = total
		}
	}

	for label := range s.variables {
		if label == "rain" {
			continue
		}
		field := wdatFieldTable[label]
		raw, dashed := field.read(record)
		if dashed {
			nulls[label] = true
			continue
		}
		v, null := s.convert(label, raw, clickDepth)
		if null {
			nulls[label] = true
			continue
		}
		values[label] = v
	}
	return values, nulls, nil
}

// convert applies the per-variable unit conversion to a raw archive
// value. The second result marks values the archive encodes as invalid
// in-band (negative wind directions).
func (s *wdat5Source) convert(label string, raw int, clickDepth float64) (float64, bool) {
	v := float64(raw)
	switch label {
	case "outsidetemp", "hioutsidetemp", "lowoutsidetemp", "insidetemp":
		if s.temperatureUnit == "F" {
			return v / 10, false
		}
		return (v/10 - 32) * 5 / 9, false
	case "barometer":
		if s.pressureUnit == "inch Hg" {
			return v / 1000, false
		}
		return v / 1000 * 25.4 * 1.33322387415, false
	case "outsidehum", "insidehum":
		return v / 10, false
	case "hirainrate":
		rate := v * clickDepth
		if s.rainUnit == "inch" {
			rate /= 25.4
		}
		return rate, false
	case "windspeed", "hiwindspeed":
		if s.windSpeedUnit == "mph" {
			return v / 10, false
		}
		return v / 10 * 1609.344 / 3600, false
	case "winddirection", "hiwinddirection":
		if raw < 0 {
			return 0, true
		}
		return v / 16 * 360, false
	case "uv", "hiuv":
		return v / 10, false
	case "et":
		et := v / 1000
		if s.rainUnit == "inch" {
			et *= 25.4
		}
		return et, false
	case "soilmoisture1", "soilmoisture2", "soilmoisture3",
		"soilmoisture4", "soilmoisture5", "soilmoisture6":
		if s.matricPotentialUnit == "centibar" {
			return v, false
		}
		return v / 9.80638, false
	case "extratemp1", "extratemp2", "extratemp3", "extratemp4",
		"extratemp5", "extratemp6", "extratemp7",
		"soiltemp1", "soiltemp2", "soiltemp3", "soiltemp4",
		"soiltemp5", "soiltemp6",
		"leaftemp1", "leaftemp2", "leaftemp3", "leaftemp4":
		if s.temperatureUnit == "F" {
			return v - 90, false
		}
		return ((v - 90) - 32) * 5 / 9, false
	default:
		// solarrad, extrarad, numwindsamples, forecast, leaf wetness,
		// extra humidities and the new sensor slots are used as-is.
		return v, false
	}
}
