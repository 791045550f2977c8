package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
)

// EnvPrefix is shared by every relay-specific environment variable. File
// config keys are the env names with this prefix removed, lowercased.
const EnvPrefix = "AERO_CHAT_RELAY_"

const (
	envConfigFile = EnvPrefix + "CONFIG"

	envListenAddr      = EnvPrefix + "LISTEN_ADDR"
	envPublicBaseURL   = EnvPrefix + "PUBLIC_BASE_URL"
	envAllowedOrigins  = EnvPrefix + "ALLOWED_ORIGINS"
	envMode            = EnvPrefix + "MODE"
	envLogFormat       = EnvPrefix + "LOG_FORMAT"
	envLogLevel        = EnvPrefix + "LOG_LEVEL"
	envShutdownTimeout = EnvPrefix + "SHUTDOWN_TIMEOUT"

	envAuthMode    = EnvPrefix + "AUTH_MODE"
	envAPIKey      = EnvPrefix + "API_KEY"
	envJWTSecret   = EnvPrefix + "JWT_SECRET"
	envAuthTimeout = EnvPrefix + "AUTH_TIMEOUT"

	envWSIdleTimeout      = EnvPrefix + "WS_IDLE_TIMEOUT"
	envWSPingInterval     = EnvPrefix + "WS_PING_INTERVAL"
	envMaxMessageBytes    = EnvPrefix + "MAX_MESSAGE_BYTES"
	envMaxEventsPerSecond = EnvPrefix + "MAX_EVENTS_PER_SECOND"
	envOutboundQueueBytes = EnvPrefix + "OUTBOUND_QUEUE_BYTES"
	envMaxSessions        = EnvPrefix + "MAX_SESSIONS"

	envStoreDriver      = EnvPrefix + "STORE_DRIVER"
	envDatabaseURL      = EnvPrefix + "DATABASE_URL"
	envPersistTimeout   = EnvPrefix + "PERSIST_TIMEOUT"
	envPersistQueueSize = EnvPrefix + "PERSIST_QUEUE_SIZE"
	envSeedAccounts     = EnvPrefix + "SEED_ACCOUNTS"
	envSeedGroups       = EnvPrefix + "SEED_GROUPS"

	envTURNRESTSharedSecret   = EnvPrefix + "TURN_REST_SHARED_SECRET"
	envTURNRESTTTLSeconds     = EnvPrefix + "TURN_REST_TTL_SECONDS"
	envTURNRESTUsernamePrefix = EnvPrefix + "TURN_REST_USERNAME_PREFIX"
	envTURNRESTRealm          = EnvPrefix + "TURN_REST_REALM"
)

const (
	DefaultListenAddr      = "127.0.0.1:8090"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMode            = ModeDev

	DefaultAuthTimeout = 5 * time.Second

	DefaultWSIdleTimeout      = 60 * time.Second
	DefaultWSPingInterval     = 20 * time.Second
	DefaultMaxMessageBytes    = 64 * 1024
	DefaultMaxEventsPerSecond = 50
	DefaultOutboundQueueBytes = 1 << 20

	DefaultStoreDriver      = StoreDriverMemory
	DefaultPersistTimeout   = 5 * time.Second
	DefaultPersistQueueSize = 1024

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "aero-chat"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type StoreDriver string

const (
	StoreDriverMemory   StoreDriver = "memory"
	StoreDriverPostgres StoreDriver = "postgres"
)

// SeedAccount is an account preloaded into the in-memory store.
type SeedAccount struct {
	Handle string
	ID     string
}

type TURNRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

// Enabled reports whether ephemeral TURN credentials should be minted.
func (c TURNRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	ConfigFile      string

	LogFormat LogFormat
	LogLevel  slog.Level
	Mode      Mode

	AuthMode    AuthMode
	APIKey      string
	JWTSecret   string
	AuthTimeout time.Duration

	WSIdleTimeout      time.Duration
	WSPingInterval     time.Duration
	MaxMessageBytes    int64
	MaxEventsPerSecond int
	OutboundQueueBytes int
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	StoreDriver      StoreDriver
	DatabaseURL      string
	PersistTimeout   time.Duration
	PersistQueueSize int
	SeedAccounts     []SeedAccount
	SeedGroups       []string

	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig
}

// Load parses configuration from (in increasing precedence) defaults, an
// optional config file, environment variables, and command-line flags.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configFileFromArgs(args)
	if configFile == "" {
		configFile, _ = lookup(envConfigFile)
		configFile = strings.TrimSpace(configFile)
	}
	if configFile != "" {
		fileLookup, err := readConfigFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layeredLookup(lookup, fileLookup)
	}

	listenAddr := envOrDefault(lookup, envListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envPublicBaseURL, "")
	allowedOriginsRaw := envOrDefault(lookup, envAllowedOrigins, "")
	modeStr := envOrDefault(lookup, envMode, string(DefaultMode))
	logFormatStr := envOrDefault(lookup, envLogFormat, "")
	logLevelStr := envOrDefault(lookup, envLogLevel, "")
	authModeStr := envOrDefault(lookup, envAuthMode, "")
	apiKey := envOrDefault(lookup, envAPIKey, "")
	jwtSecret := envOrDefault(lookup, envJWTSecret, "")
	storeDriverStr := envOrDefault(lookup, envStoreDriver, string(DefaultStoreDriver))
	databaseURL := envOrDefault(lookup, envDatabaseURL, "")
	seedAccountsRaw := envOrDefault(lookup, envSeedAccounts, "")
	seedGroupsRaw := envOrDefault(lookup, envSeedGroups, "")

	turnSecret := envOrDefault(lookup, envTURNRESTSharedSecret, "")
	turnPrefix := envOrDefault(lookup, envTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRealm := envOrDefault(lookup, envTURNRESTRealm, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	authTimeout, err := envDurationOrDefault(lookup, envAuthTimeout, DefaultAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	persistTimeout, err := envDurationOrDefault(lookup, envPersistTimeout, DefaultPersistTimeout)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxEventsPerSecond, err := envIntOrDefault(lookup, envMaxEventsPerSecond, DefaultMaxEventsPerSecond)
	if err != nil {
		return Config{}, err
	}
	outboundQueueBytes, err := envIntOrDefault(lookup, envOutboundQueueBytes, DefaultOutboundQueueBytes)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	persistQueueSize, err := envIntOrDefault(lookup, envPersistQueueSize, DefaultPersistQueueSize)
	if err != nil {
		return Config{}, err
	}
	turnTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envTURNRESTTTLSeconds, raw, err)
		}
		turnTTLSeconds = n
	}

	fs := flag.NewFlagSet("aero-chat-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.String("config", configFile, "Optional config file (yaml, json, or toml)")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL used for logging")
	fs.StringVar(&allowedOriginsRaw, "allowed-origins", allowedOriginsRaw, "Comma-separated browser origins allowed to connect (empty = same host)")
	fs.StringVar(&modeStr, "mode", modeStr, "Runtime mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (defaults by mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (defaults by mode)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Session auth mode: none, api_key, or jwt (defaults by mode)")
	fs.DurationVar(&authTimeout, "auth-timeout", authTimeout, "Time a session has to send its auth event")
	fs.DurationVar(&idleTimeout, "ws-idle-timeout", idleTimeout, "Close sessions with no inbound traffic for this long")
	fs.DurationVar(&pingInterval, "ws-ping-interval", pingInterval, "Interval between server pings")
	fs.IntVar(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Maximum inbound WebSocket message size")
	fs.IntVar(&maxEventsPerSecond, "max-events-per-second", maxEventsPerSecond, "Per-session inbound event rate (0 = unlimited)")
	fs.IntVar(&outboundQueueBytes, "outbound-queue-bytes", outboundQueueBytes, "Per-session outbound queue budget in bytes")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum concurrent sessions (0 = unlimited)")
	fs.StringVar(&storeDriverStr, "store-driver", storeDriverStr, "Store backend: memory or postgres")
	fs.StringVar(&databaseURL, "database-url", databaseURL, "Postgres connection string")
	fs.DurationVar(&persistTimeout, "persist-timeout", persistTimeout, "Timeout applied to each persistence write")
	fs.IntVar(&persistQueueSize, "persist-queue-size", persistQueueSize, "Pending persistence writes before new ones are dropped")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(logFormatStr) == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(logLevelStr) == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(authModeStr) == "" {
		authModeStr = string(defaultAuthModeForMode(mode))
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	storeDriver, err := parseStoreDriver(storeDriverStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("%s/--listen-addr must not be empty", envListenAddr)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envShutdownTimeout)
	}
	if authTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--auth-timeout must be > 0", envAuthTimeout)
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envWSIdleTimeout)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envWSPingInterval)
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envWSPingInterval, envWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envMaxMessageBytes)
	}
	if maxEventsPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-events-per-second must be >= 0", envMaxEventsPerSecond)
	}
	if outboundQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--outbound-queue-bytes must be > 0", envOutboundQueueBytes)
	}
	if maxSessions < 0 {
		return Config{}, fmt.Errorf("%s/--max-sessions must be >= 0", envMaxSessions)
	}
	if persistTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--persist-timeout must be > 0", envPersistTimeout)
	}
	if persistQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--persist-queue-size must be > 0", envPersistQueueSize)
	}

	apiKey = strings.TrimSpace(apiKey)
	jwtSecret = strings.TrimSpace(jwtSecret)
	switch authMode {
	case AuthModeAPIKey:
		if apiKey == "" {
			return Config{}, fmt.Errorf("%s must be set when %s=%s", envAPIKey, envAuthMode, AuthModeAPIKey)
		}
	case AuthModeJWT:
		if jwtSecret == "" {
			return Config{}, fmt.Errorf("%s must be set when %s=%s", envJWTSecret, envAuthMode, AuthModeJWT)
		}
	}

	databaseURL = strings.TrimSpace(databaseURL)
	if storeDriver == StoreDriverPostgres && databaseURL == "" {
		return Config{}, fmt.Errorf("%s/--database-url must be set when %s=%s", envDatabaseURL, envStoreDriver, StoreDriverPostgres)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsRaw)
	if err != nil {
		return Config{}, err
	}
	seedAccounts, err := parseSeedAccounts(seedAccountsRaw)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, ""),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
		strings.TrimSpace(turnSecret) != "",
	)
	if err != nil {
		return Config{}, err
	}

	turnSecret = strings.TrimSpace(turnSecret)
	turnPrefix = strings.TrimSpace(turnPrefix)
	if turnSecret != "" {
		if turnTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0", envTURNRESTTTLSeconds)
		}
		if turnPrefix == "" {
			return Config{}, fmt.Errorf("%s must not be empty", envTURNRESTUsernamePrefix)
		}
		if strings.Contains(turnPrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envTURNRESTUsernamePrefix)
		}
	}

	return Config{
		ListenAddr:      strings.TrimSpace(listenAddr),
		PublicBaseURL:   strings.TrimSpace(publicBaseURL),
		AllowedOrigins:  allowedOrigins,
		ShutdownTimeout: shutdownTimeout,
		ConfigFile:      configFile,

		LogFormat: logFormat,
		LogLevel:  logLevel,
		Mode:      mode,

		AuthMode:    authMode,
		APIKey:      apiKey,
		JWTSecret:   jwtSecret,
		AuthTimeout: authTimeout,

		WSIdleTimeout:      idleTimeout,
		WSPingInterval:     pingInterval,
		MaxMessageBytes:    int64(maxMessageBytes),
		MaxEventsPerSecond: maxEventsPerSecond,
		OutboundQueueBytes: outboundQueueBytes,
		MaxSessions:        maxSessions,

		StoreDriver:      storeDriver,
		DatabaseURL:      databaseURL,
		PersistTimeout:   persistTimeout,
		PersistQueueSize: persistQueueSize,
		SeedAccounts:     seedAccounts,
		SeedGroups:       splitCommaSeparated(seedGroupsRaw),

		ICEServers: iceServers,
		TURNREST: TURNRESTConfig{
			SharedSecret:   turnSecret,
			TTLSeconds:     turnTTLSeconds,
			UsernamePrefix: turnPrefix,
			Realm:          strings.TrimSpace(turnRealm),
		},
	}, nil
}

// NewLogger builds the process logger for cfg.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	entries := splitCommaSeparated(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q", envAllowedOrigins, entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

// parseSeedAccounts reads "handle=id" pairs separated by commas.
func parseSeedAccounts(raw string) ([]SeedAccount, error) {
	entries := splitCommaSeparated(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]SeedAccount, 0, len(entries))
	for _, entry := range entries {
		handle, id, ok := strings.Cut(entry, "=")
		handle = strings.ToLower(strings.TrimSpace(handle))
		id = strings.TrimSpace(id)
		if !ok || handle == "" || id == "" {
			return nil, fmt.Errorf("invalid %s entry %q (expected handle=id)", envSeedAccounts, entry)
		}
		if _, dup := seen[handle]; dup {
			return nil, fmt.Errorf("invalid %s: duplicate handle %q", envSeedAccounts, handle)
		}
		seen[handle] = struct{}{}
		out = append(out, SeedAccount{Handle: handle, ID: id})
	}
	return out, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func defaultAuthModeForMode(mode Mode) AuthMode {
	if mode == ModeProd {
		return AuthModeJWT
	}
	return AuthModeNone
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

func parseStoreDriver(raw string) (StoreDriver, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreDriverMemory):
		return StoreDriverMemory, nil
	case string(StoreDriverPostgres), "postgresql":
		return StoreDriverPostgres, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envStoreDriver, raw, StoreDriverMemory, StoreDriverPostgres)
	}
}

// configFileFromArgs finds --config ahead of the full flag parse so the file
// can supply defaults for the remaining flags.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return strings.TrimSpace(value)
		}
		if i+1 < len(args) {
			return strings.TrimSpace(args[i+1])
		}
	}
	return ""
}
