package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// readConfigFile loads a yaml/json/toml file and exposes it through the same
// lookup shape as the environment, keyed by env var name.
func readConfigFile(path string) (func(string) (string, bool), error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return func(envKey string) (string, bool) {
		key := fileKeyForEnv(envKey)
		if !v.IsSet(key) {
			return "", false
		}
		switch v.Get(key).(type) {
		case []any, []string:
			return strings.Join(v.GetStringSlice(key), ","), true
		}
		return v.GetString(key), true
	}, nil
}

// fileKeyForEnv maps AERO_CHAT_RELAY_LISTEN_ADDR to listen_addr. Shared
// variables such as AERO_STUN_URLS keep their full name, lowercased.
func fileKeyForEnv(envKey string) string {
	return strings.ToLower(strings.TrimPrefix(envKey, EnvPrefix))
}

// layeredLookup consults primary first and falls back to secondary when the
// key is unset or blank.
func layeredLookup(primary, secondary func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		return secondary(key)
	}
}
