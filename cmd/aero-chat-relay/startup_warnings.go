package main

import (
	"log/slog"
	"strings"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication and lets any client register any handle",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSessions <= 0 {
		logger.Warn("startup security warning: MAX_SESSIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_sessions_unlimited_in_prod",
			"max_sessions", cfg.MaxSessions,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("startup security warning: STORE_DRIVER=memory while --mode=prod (messages and call history are lost on restart)",
			"warning_code", "memory_store_in_prod",
			"store_driver", cfg.StoreDriver,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxEventsPerSecond == 0 {
		logger.Warn("startup security warning: MAX_EVENTS_PER_SECOND=0 disables per-session inbound rate limiting",
			"warning_code", "event_rate_limit_disabled",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeAPIKey && len(strings.TrimSpace(cfg.APIKey)) < 16 {
		logger.Warn("startup security warning: API_KEY is shorter than 16 characters",
			"warning_code", "api_key_short",
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
