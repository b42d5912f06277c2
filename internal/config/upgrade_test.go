package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const legacyINI = `[General]
base_url = https://example.com
username = admin
password = topsecret
loglevel = info

[mystation]
storage_format = simple
station_id = 1334
path = /foo/bar
fields = 1, 2, 0
date_format = %d/%m/%Y %H:%M

; a wdat5 station
[davis]
storage_format = wdat5
station_id = 1335
path = /var/wdat
outsidetemp = 3
rain = 4
`

// fakeExchanger maps time-series id N to series group id N+9000.
type fakeExchanger struct {
	token    string
	user     string
	password string
}

func (f *fakeExchanger) GetToken(_ context.Context, username, password string) (string, error) {
	f.user = username
	f.password = password
	return f.token, nil
}

func (f *fakeExchanger) TimeseriesGroup(_ context.Context, stationID, timeseriesID int) (int, error) {
	if stationID == 0 {
		return 0, fmt.Errorf("bad station id")
	}
	return timeseriesID + 9000, nil
}

func writeLegacy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loggersync.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func upgradedConfig(t *testing.T, path string) *Config {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		t.Fatalf("upgraded file is not valid yaml: %v", err)
	}
	return cfg
}

func TestUpgradeINI(t *testing.T) {
	path := writeLegacy(t, legacyINI)
	fake := &fakeExchanger{token: "123abc"}

	err := UpgradeINI(context.Background(), path, func(baseURL string) TokenExchanger {
		if baseURL != "https://example.com" {
			t.Errorf("client built for %q, want the base_url from the file", baseURL)
		}
		return fake
	})
	if err != nil {
		t.Fatalf("UpgradeINI: %v", err)
	}
	if fake.user != "admin" || fake.password != "topsecret" {
		t.Errorf("credentials sent: %q/%q", fake.user, fake.password)
	}

	cfg := upgradedConfig(t, path)
	if cfg.General.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q", cfg.General.BaseURL)
	}
	if cfg.General.AuthToken != "123abc" {
		t.Errorf("AuthToken = %q, want the exchanged token", cfg.General.AuthToken)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.General.LogLevel)
	}

	station := cfg.Stations["mystation"]
	if station["fields"] != "9001,9002,0" {
		t.Errorf("fields = %q, want converted group ids", station["fields"])
	}
	if station["date_format"] != "02/01/2006 15:04" {
		t.Errorf("date_format = %q, want a Go layout", station["date_format"])
	}

	davis := cfg.Stations["davis"]
	if davis["outsidetemp"] != "9003" || davis["rain"] != "9004" {
		t.Errorf("wdat5 variables not converted: %v", davis)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if string(backup) != legacyINI {
		t.Error("backup does not hold the original file")
	}
}

func TestUpgradeINIRefusesToClobberDifferentBackup(t *testing.T) {
	path := writeLegacy(t, legacyINI)
	if err := os.WriteFile(path+".bak", []byte("something else"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := UpgradeINI(context.Background(), path, func(string) TokenExchanger {
		return &fakeExchanger{token: "123abc"}
	})
	if err == nil || !strings.Contains(err.Error(), ".bak") {
		t.Errorf("expected backup conflict error, got %v", err)
	}
}

func TestUpgradeINIRequiresGeneralSection(t *testing.T) {
	path := writeLegacy(t, "[mystation]\nstorage_format = simple\nstation_id = 1\n")
	err := UpgradeINI(context.Background(), path, func(string) TokenExchanger {
		return &fakeExchanger{token: "123abc"}
	})
	if err == nil || !strings.Contains(err.Error(), "General") {
		t.Errorf("expected missing [General] error, got %v", err)
	}
}

func TestStrptimeToLayout(t *testing.T) {
	tests := []struct{ in, want string }{
		{"%Y-%m-%d %H:%M", "2006-01-02 15:04"},
		{"%d/%m/%Y %H:%M:%S", "02/01/2006 15:04:05"},
		{"%y%j %H%M", "06002 1504"},
		{"2006-01-02 15:04", "2006-01-02 15:04"}, // already a layout
		{"100%%", "100%"},
	}
	for _, tt := range tests {
		if got := strptimeToLayout(tt.in); got != tt.want {
			t.Errorf("strptimeToLayout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadINIRejectsMalformedLine(t *testing.T) {
	path := writeLegacy(t, "[General]\nthis is not a key value line\n")
	if _, _, err := readINI(path); err == nil {
		t.Error("expected error for malformed line")
	}
}
