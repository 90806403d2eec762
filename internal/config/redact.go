package config

import (
	"fmt"
	"net/url"
	"strings"
)

const redactedSuffix = "...redacted"

// FormatRedacted renders the configuration for humans with secrets masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		fmt.Sprintf("http_port: %d", cfg.HTTPPort),
		"telegram_api_url: " + cfg.TelegramAPIURL,
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"telegram_timeout: " + cfg.TelegramTimeout.String(),
		"gemini_api_key: " + maskSecret(cfg.GeminiAPIKey),
		"gemini_model: " + cfg.GeminiModel,
		"store_backend: " + cfg.StoreBackend,
	}

	switch cfg.StoreBackend {
	case BackendSQLite:
		lines = append(lines, "sqlite_path: "+cfg.SQLitePath)
	case BackendPostgres:
		lines = append(lines, "postgres_dsn: "+redactURL(cfg.PostgresDSN))
	case BackendMongo:
		lines = append(lines, "mongo_uri: "+redactURL(cfg.MongoURI), "mongo_db: "+cfg.MongoDB)
	}

	lines = append(lines,
		"refresh_schedule: "+firstNonEmpty(cfg.RefreshSchedule, "disabled"),
		fmt.Sprintf("invite_member_limit: %d", cfg.InviteMemberLimit),
		fmt.Sprintf("invite_expire_minutes: %d", cfg.InviteExpireMinutes),
	)

	return strings.Join(lines, "\n")
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 4 {
		return redactedSuffix
	}
	return value[:4] + redactedSuffix
}

// redactURL drops userinfo from connection strings.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return maskSecret(raw)
	}
	parsed.User = nil
	return parsed.String()
}
