package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("authMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("storeDriver=%q, want %q", cfg.StoreDriver, StoreDriverMemory)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxEventsPerSecond != DefaultMaxEventsPerSecond {
		t.Fatalf("MaxEventsPerSecond=%d, want %d", cfg.MaxEventsPerSecond, DefaultMaxEventsPerSecond)
	}
	if cfg.OutboundQueueBytes != DefaultOutboundQueueBytes {
		t.Fatalf("OutboundQueueBytes=%d, want %d", cfg.OutboundQueueBytes, DefaultOutboundQueueBytes)
	}
	if cfg.PersistTimeout != DefaultPersistTimeout || cfg.PersistQueueSize != DefaultPersistQueueSize {
		t.Fatalf("persist=%v/%d", cfg.PersistTimeout, cfg.PersistQueueSize)
	}
	if cfg.MaxSessions != 0 {
		t.Fatalf("MaxSessions=%d, want 0", cfg.MaxSessions)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers, got %v", cfg.ICEServers)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatal("TURN REST enabled by default")
	}
}

func TestDefaultsProdRequireJWTSecret(t *testing.T) {
	if _, err := load(emptyLookup, []string{"--mode", "prod"}); err == nil {
		t.Fatal("expected error without a JWT secret")
	}

	cfg, err := load(lookupMap(map[string]string{envJWTSecret: "s3cret"}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.AuthMode != AuthModeJWT {
		t.Fatalf("mode=%q authMode=%q", cfg.Mode, cfg.AuthMode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envJWTSecret: "x"}), []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envListenAddr:         "0.0.0.0:1",
		envMaxEventsPerSecond: "5",
	}), []string{"--listen-addr", "127.0.0.1:2"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2" {
		t.Fatalf("listenAddr=%q", cfg.ListenAddr)
	}
	if cfg.MaxEventsPerSecond != 5 {
		t.Fatalf("MaxEventsPerSecond=%d, want 5", cfg.MaxEventsPerSecond)
	}
}

func TestAuthModeAPIKeyRequiresKey(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envAuthMode: "api_key"}), nil); err == nil {
		t.Fatal("expected error")
	}
	cfg, err := load(lookupMap(map[string]string{envAuthMode: "api_key", envAPIKey: " k "}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "k" {
		t.Fatalf("APIKey=%q", cfg.APIKey)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"mode":          {envMode: "staging"},
		"auth mode":     {envAuthMode: "oauth"},
		"store driver":  {envStoreDriver: "sqlite"},
		"duration":      {envAuthTimeout: "soon"},
		"int":           {envMaxSessions: "many"},
		"ping >= idle":  {envWSPingInterval: "1m", envWSIdleTimeout: "30s"},
		"negative rate": {envMaxEventsPerSecond: "-1"},
		"postgres url":  {envStoreDriver: "postgres"},
		"seed accounts": {envSeedAccounts: "alice"},
		"turn prefix":   {envTURNRESTSharedSecret: "s", envTURNRESTUsernamePrefix: "a:b"},
		"turn ttl":      {envTURNRESTSharedSecret: "s", envTURNRESTTTLSeconds: "0"},
		"turn creds":    {envTurnURLs: "turn:turn.example.com"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(lookupMap(env), nil); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestTURNRESTAllowsTURNWithoutStaticCreds(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs:             "turn:turn.example.com:3478",
		envTURNRESTSharedSecret: "shared",
		envTURNRESTRealm:        "example.com",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatal("expected TURN REST enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v", cfg.TURNREST)
	}
	if len(cfg.ICEServers) != 1 || !IsTURNServer(cfg.ICEServers[0]) {
		t.Fatalf("ICEServers=%#v", cfg.ICEServers)
	}
}

func TestSeedData(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envSeedAccounts: "Alice=1, bob=2",
		envSeedGroups:   "room1, room2,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []SeedAccount{{Handle: "alice", ID: "1"}, {Handle: "bob", ID: "2"}}
	if len(cfg.SeedAccounts) != len(want) {
		t.Fatalf("SeedAccounts=%v", cfg.SeedAccounts)
	}
	for i := range want {
		if cfg.SeedAccounts[i] != want[i] {
			t.Fatalf("SeedAccounts[%d]=%+v, want %+v", i, cfg.SeedAccounts[i], want[i])
		}
	}
	if strings.Join(cfg.SeedGroups, ",") != "room1,room2" {
		t.Fatalf("SeedGroups=%v", cfg.SeedGroups)
	}

	if _, err := parseSeedAccounts("a=1,A=2"); err == nil {
		t.Fatal("expected duplicate handle error")
	}
}

func TestConfigFileLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	contents := "listen_addr: 127.0.0.1:9999\n" +
		"auth_timeout: 2s\n" +
		"max_sessions: 7\n" +
		"allowed_origins:\n  - https://chat.example.com\n  - http://localhost:5173\n" +
		"seed_groups: lobby\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(lookupMap(map[string]string{envMaxSessions: "9"}), []string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile=%q", cfg.ConfigFile)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if cfg.AuthTimeout != 2*time.Second {
		t.Fatalf("AuthTimeout=%v", cfg.AuthTimeout)
	}
	if cfg.MaxSessions != 9 {
		t.Fatalf("MaxSessions=%d, env should win over file", cfg.MaxSessions)
	}
	if strings.Join(cfg.AllowedOrigins, " ") != "https://chat.example.com http://localhost:5173" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if len(cfg.SeedGroups) != 1 || cfg.SeedGroups[0] != "lobby" {
		t.Fatalf("SeedGroups=%v", cfg.SeedGroups)
	}
}

func TestConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"max_events_per_second": 3}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(lookupMap(map[string]string{envConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxEventsPerSecond != 3 {
		t.Fatalf("MaxEventsPerSecond=%d, want 3", cfg.MaxEventsPerSecond)
	}

	if _, err := load(emptyLookup, []string{"--config=" + filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigFileFromArgs(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"--config", "a.yaml"}, "a.yaml"},
		{[]string{"-config=b.yaml"}, "b.yaml"},
		{[]string{"--mode", "dev", "--config=c.toml"}, "c.toml"},
		{[]string{"--", "--config", "d.yaml"}, ""},
	}
	for _, tc := range cases {
		if got := configFileFromArgs(tc.args); got != tc.want {
			t.Fatalf("configFileFromArgs(%v)=%q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	got, err := parseAllowedOrigins("HTTPS://Example.COM:443, http://localhost:5173/")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2 (%v)", len(got), got)
	}
	if got[0] != "https://example.com" {
		t.Fatalf("got[0]=%q, want %q", got[0], "https://example.com")
	}
	if got[1] != "http://localhost:5173" {
		t.Fatalf("got[1]=%q, want %q", got[1], "http://localhost:5173")
	}
}

func TestParseAllowedOrigins_RejectsPathQueryAndCredentials(t *testing.T) {
	cases := []string{
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://user@example.com",
	}
	for _, raw := range cases {
		if _, err := parseAllowedOrigins(raw); err == nil {
			t.Fatalf("expected error for %q, got nil", raw)
		}
	}
}
