package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "comms.yaml", "version: 1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Broker.Port)
	}
	if cfg.Engine.PublishRateHz != 10 {
		t.Errorf("publish_rate_hz = %v, want 10", cfg.Engine.PublishRateHz)
	}
	if got := cfg.Engine.PublishInterval(); got != 100*time.Millisecond {
		t.Errorf("publish interval = %v, want 100ms", got)
	}
	if cfg.Tools.TimeoutSeconds != 300 || cfg.Tools.MaxRetries != 3 {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if got := cfg.Broker.PingInterval(); got != 5*time.Second {
		t.Errorf("ping interval = %v, want 5s", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "comms.yaml", "version: 1\nbroker:\n  prot: 3000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("misspelled field accepted")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"port":     "version: 1\nbroker:\n  port: 99999\n",
		"rate":     "version: 1\nengine:\n  publish_rate_hz: -1\n",
		"retries":  "version: 1\ntools:\n  max_retries: -2\n",
		"mod_rate": "version: 1\nengine:\n  update_rates:\n    mod1: 0\n",
	}
	for name, content := range cases {
		path := writeFile(t, t.TempDir(), name+".yaml", content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: bad value accepted", name)
		}
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := writeFile(t, t.TempDir(), "comms.yaml", "version: 99\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("future version accepted")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("COMMS_TEST_BROKER_URL", "ws://broker.internal:3000/")
	path := writeFile(t, t.TempDir(), "comms.yaml",
		"version: 1\nengine:\n  broker_url: ${COMMS_TEST_BROKER_URL}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.BrokerURL != "ws://broker.internal:3000/" {
		t.Errorf("broker_url = %q", cfg.Engine.BrokerURL)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "version: 1\nbroker:\n  port: 4000\nlogging:\n  level: debug\n")
	path := writeFile(t, dir, "comms.yaml",
		"$include: base.yaml\nbroker:\n  ping_interval_ms: 250\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Port != 4000 {
		t.Errorf("included port = %d, want 4000", cfg.Broker.Port)
	}
	if cfg.Broker.PingIntervalMs != 250 {
		t.Errorf("overriding file lost: ping_interval_ms = %d", cfg.Broker.PingIntervalMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	if _, err := Load(path); err == nil {
		t.Fatal("include cycle accepted")
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeFile(t, t.TempDir(), "comms.json5",
		"{\n  // trailing commas and comments allowed\n  version: 1,\n  broker: { port: 4100 },\n}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Broker.Port)
	}
}

func TestJSONSchemaCoversSections(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"broker", "engine", "tools", "logging", "publish_rate_hz"} {
		if !strings.Contains(string(schema), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
