package config

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openhydro/loggersync/internal/loggerstorage"
)

// TokenExchanger is the part of the API client the upgrade path needs:
// exchanging the legacy username/password for a token and mapping
// legacy per-field time-series ids onto series group ids.
type TokenExchanger interface {
	GetToken(ctx context.Context, username, password string) (string, error)
	TimeseriesGroup(ctx context.Context, stationID, timeseriesID int) (int, error)
}

// wdat5VariableLabels lists the WDAT5 parameters whose values are
// legacy time-series ids needing conversion, in addition to "fields".
var wdat5VariableLabels = []string{
	"outsidetemp", "hioutsidetemp", "lowoutsidetemp", "insidetemp",
	"barometer", "outsidehum", "insidehum", "rain", "hirainrate",
	"windspeed", "hiwindspeed", "winddirection", "hiwinddirection",
	"numwindsamples", "solarrad", "hisolarrad", "uv", "hiuv",
	"leaftemp1", "leaftemp2", "leaftemp3", "leaftemp4", "extrarad",
	"newsensors1", "newsensors2", "newsensors3", "newsensors4",
	"newsensors5", "newsensors6", "forecast", "et",
	"soiltemp1", "soiltemp2", "soiltemp3", "soiltemp4", "soiltemp5",
	"soiltemp6", "soilmoisture1", "soilmoisture2", "soilmoisture3",
	"soilmoisture4", "soilmoisture5", "soilmoisture6",
	"leafwetness1", "leafwetness2", "leafwetness3", "leafwetness4",
	"extratemp1", "extratemp2", "extratemp3", "extratemp4",
	"extratemp5", "extratemp6", "extratemp7",
	"extrahum1", "extrahum2", "extrahum3", "extrahum4", "extrahum5",
	"extrahum6", "extrahum7",
}

// UpgradeINI converts a legacy flat INI configuration file to the
// current YAML form, in place: username and password become an API
// token, legacy per-field time-series ids become series group ids,
// strptime date formats become Go reference layouts. The original file
// is kept as <path>.bak; an existing, different backup is never
// clobbered.
//
// newClient is called with the base_url found in the file, since the
// server is not known before the file is read.
func UpgradeINI(ctx context.Context, path string, newClient func(baseURL string) TokenExchanger) error {
	sections, order, err := readINI(path)
	if err != nil {
		return err
	}

	general, ok := sections["General"]
	if !ok {
		return fmt.Errorf("legacy config has no [General] section")
	}

	client := newClient(general["base_url"])
	token, err := client.GetToken(ctx, general["username"], general["password"])
	if err != nil {
		return fmt.Errorf("exchange credentials for token: %w", err)
	}

	cfg := &Config{
		General: General{
			BaseURL:   general["base_url"],
			AuthToken: token,
			LogFile:   general["logfile"],
			LogLevel:  general["loglevel"],
		},
		Stations: make(map[string]loggerstorage.Parameters),
	}

	for _, name := range order {
		if name == "General" {
			continue
		}
		params := sections[name]
		if err := upgradeSection(ctx, name, params, client); err != nil {
			return err
		}
		cfg.Stations[name] = params
	}

	if err := backupFile(path); err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode upgraded config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write upgraded config: %w", err)
	}
	return nil
}

func upgradeSection(ctx context.Context, name string, params loggerstorage.Parameters, client TokenExchanger) error {
	stationID, err := strconv.Atoi(strings.TrimSpace(params["station_id"]))
	if err != nil {
		return fmt.Errorf("section %s: invalid station_id %q", name, params["station_id"])
	}

	convertable := append([]string{"fields"}, wdat5VariableLabels...)
	for _, parameter := range convertable {
		value, ok := params[parameter]
		if !ok {
			continue
		}
		converted, err := convertIDList(ctx, stationID, value, client)
		if err != nil {
			return fmt.Errorf("section %s: convert %s: %w", name, parameter, err)
		}
		params[parameter] = converted
	}

	if layout, ok := params["date_format"]; ok {
		params["date_format"] = strptimeToLayout(layout)
	}
	return nil
}

func convertIDList(ctx context.Context, stationID int, value string, client TokenExchanger) (string, error) {
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, err := strconv.Atoi(item)
		if err != nil {
			return "", fmt.Errorf("invalid time-series id %q", item)
		}
		if id == 0 {
			out = append(out, "0")
			continue
		}
		groupID, err := client.TimeseriesGroup(ctx, stationID, id)
		if err != nil {
			return "", err
		}
		out = append(out, strconv.Itoa(groupID))
	}
	return strings.Join(out, ","), nil
}

// strptimeReplacer maps Python strptime directives onto the Go
// reference layout.
var strptimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%j", "002",
	"%%", "%",
)

func strptimeToLayout(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	return strptimeReplacer.Replace(format)
}

// readINI parses the legacy flat INI file: [section] headers and
// key = value lines, with ; or # comments.
func readINI(path string) (map[string]loggerstorage.Parameters, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read legacy config: %w", err)
	}

	sections := make(map[string]loggerstorage.Parameters)
	var order []string
	var current loggerstorage.Parameters

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			current = make(loggerstorage.Parameters)
			sections[name] = current
			order = append(order, name)
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, nil, fmt.Errorf("%s:%d: not a key = value line: %q", path, lineNo, line)
		}
		if current == nil {
			return nil, nil, fmt.Errorf("%s:%d: key outside any section", path, lineNo)
		}
		current[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read legacy config: %w", err)
	}
	return sections, order, nil
}

// backupFile copies path to path.bak unless an identical backup is
// already there; a differing backup is an error, never overwritten.
func backupFile(path string) error {
	backup := path + ".bak"
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config for backup: %w", err)
	}
	if existing, err := os.ReadFile(backup); err == nil {
		if bytes.Equal(existing, original) {
			return nil
		}
		return fmt.Errorf("cannot back up configuration file; %s exists", backup)
	}
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}
