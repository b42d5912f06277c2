package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `general:
  base_url: https://example.com
  auth_token: "123abc"
stations:
  mystation:
    storage_format: simple
    station_id: "1334"
    path: /var/cache/loggersync/data.txt
    fields: "101, 102"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loggersync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q", cfg.General.BaseURL)
	}
	if cfg.General.AuthToken != "123abc" {
		t.Errorf("AuthToken = %q", cfg.General.AuthToken)
	}
	if cfg.General.LogLevel != "warning" {
		t.Errorf("default LogLevel = %q, want warning", cfg.General.LogLevel)
	}
	if cfg.Stations["mystation"]["fields"] != "101, 102" {
		t.Errorf("station parameters not loaded: %v", cfg.Stations)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "general: [")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing base_url",
			"general:\n  auth_token: x\nstations:\n  s:\n    storage_format: simple\n",
			"base_url",
		},
		{
			"missing auth_token",
			"general:\n  base_url: https://example.com\nstations:\n  s:\n    storage_format: simple\n",
			"auth_token",
		},
		{
			"bad loglevel",
			"general:\n  base_url: https://example.com\n  auth_token: x\n  loglevel: chatty\nstations:\n  s:\n    storage_format: simple\n",
			"loglevel",
		},
		{
			"no stations",
			"general:\n  base_url: https://example.com\n  auth_token: x\n",
			"no stations",
		},
		{
			"missing storage_format",
			"general:\n  base_url: https://example.com\n  auth_token: x\nstations:\n  s:\n    path: /foo\n",
			"storage_format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadAuthTokenFromEnvironment(t *testing.T) {
	t.Setenv("LOGGERSYNC_AUTH_TOKEN", "env-token")
	yaml := "general:\n  base_url: https://example.com\nstations:\n  s:\n    storage_format: simple\n"
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.AuthToken != "env-token" {
		t.Errorf("AuthToken = %q, want env-token", cfg.General.AuthToken)
	}
}

func TestEnvironmentTokenOverridesFile(t *testing.T) {
	t.Setenv("LOGGERSYNC_AUTH_TOKEN", "env-token")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.AuthToken != "env-token" {
		t.Errorf("AuthToken = %q, want env-token", cfg.General.AuthToken)
	}
}

func TestStationNamesSorted(t *testing.T) {
	yaml := validYAML + "  astation:\n    storage_format: simple\n"
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	names := cfg.StationNames()
	if len(names) != 2 || names[0] != "astation" || names[1] != "mystation" {
		t.Errorf("StationNames = %v", names)
	}
}
