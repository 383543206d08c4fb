package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	DatabasePath  string           `yaml:"database_path"`
	LogLevel      string           `yaml:"log_level"`
	Health        HealthConfig     `yaml:"health"`
	Reputation    ReputationConfig `yaml:"reputation"`
	Defaults      GuildDefaults    `yaml:"guild_defaults"`
	Notifications NotifyConfig     `yaml:"notifications"`
	Sweep         SweepConfig      `yaml:"sweep"`
	Batch         BatchConfig      `yaml:"batch"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ReputationConfig struct {
	SafeBrowsingKey      string `yaml:"safe_browsing_key"`
	SafeBrowsingEndpoint string `yaml:"safe_browsing_endpoint"`
	VirusTotalKey        string `yaml:"virustotal_key"`
	VirusTotalEndpoint   string `yaml:"virustotal_endpoint"`
	PhishTankEndpoint    string `yaml:"phishtank_endpoint"`
	ProviderTimeoutMS    int    `yaml:"provider_timeout_ms"`
	CacheTTLSeconds      int    `yaml:"cache_ttl_seconds"`
	CacheSize            int    `yaml:"cache_size"`
	TablesPath           string `yaml:"tables_path"`
}

// GuildDefaults seed per-guild settings for guilds with no stored row.
type GuildDefaults struct {
	LogChannel            string `yaml:"log_channel"`
	RaidEnabled           bool   `yaml:"raid_enabled"`
	RaidJoinRate          int    `yaml:"raid_join_rate"`
	RaidWindowSeconds     int    `yaml:"raid_window_seconds"`
	RaidMinAccountAgeDays int    `yaml:"raid_min_account_age_days"`
	RaidResponse          string `yaml:"raid_response"`
	RaidDurationMinutes   int    `yaml:"raid_duration_minutes"`
	RaidAlertChannel      string `yaml:"raid_alert_channel"`
	GracePeriodMinutes    int    `yaml:"grace_period_minutes"`
	GraceAutoKick         bool   `yaml:"grace_auto_kick"`
	GraceDeleteInvites    bool   `yaml:"grace_delete_invites"`
}

type NotifyConfig struct {
	ChannelNoticeEnabled bool        `yaml:"channel_notice_enabled"`
	DMNoticeEnabled      bool        `yaml:"dm_notice_enabled"`
	EmbedColors          EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

type SweepConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

type BatchConfig struct {
	ThrottleMillis int `yaml:"throttle_millis"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/watchtower.db",
		LogLevel:     "info",
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		Reputation: ReputationConfig{
			SafeBrowsingEndpoint: "https://safebrowsing.googleapis.com/v4/threatMatches:find",
			VirusTotalEndpoint:   "https://www.virustotal.com/api/v3/urls",
			PhishTankEndpoint:    "https://checkurl.phishtank.com/checkurl/",
			ProviderTimeoutMS:    4000,
			CacheTTLSeconds:      300,
			CacheSize:            2048,
		},
		Defaults: GuildDefaults{
			RaidEnabled:           true,
			RaidJoinRate:          5,
			RaidWindowSeconds:     60,
			RaidMinAccountAgeDays: 7,
			RaidResponse:          "alert",
			RaidDurationMinutes:   10,
			GracePeriodMinutes:    0,
			GraceAutoKick:         false,
			GraceDeleteInvites:    true,
		},
		Notifications: NotifyConfig{
			ChannelNoticeEnabled: true,
			DMNoticeEnabled:      true,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
		Sweep: SweepConfig{IntervalMinutes: 60},
		Batch: BatchConfig{ThrottleMillis: 250},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Defaults.RaidResponse = normalizeRaidResponse(cfg.Defaults.RaidResponse)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Reputation.SafeBrowsingKey = envString("SAFE_BROWSING_KEY", cfg.Reputation.SafeBrowsingKey)
	cfg.Reputation.VirusTotalKey = envString("VIRUSTOTAL_KEY", cfg.Reputation.VirusTotalKey)
	cfg.Reputation.TablesPath = envString("REPUTATION_TABLES_PATH", cfg.Reputation.TablesPath)
	cfg.Reputation.ProviderTimeoutMS = envInt("PROVIDER_TIMEOUT_MS", cfg.Reputation.ProviderTimeoutMS)
	cfg.Defaults.LogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.Defaults.LogChannel)
	cfg.Defaults.RaidEnabled = envBool("RAID_ENABLED", cfg.Defaults.RaidEnabled)
	cfg.Defaults.RaidJoinRate = envInt("RAID_JOIN_RATE", cfg.Defaults.RaidJoinRate)
	cfg.Defaults.RaidWindowSeconds = envInt("RAID_WINDOW_SECONDS", cfg.Defaults.RaidWindowSeconds)
	cfg.Defaults.RaidMinAccountAgeDays = envInt("RAID_MIN_ACCOUNT_AGE_DAYS", cfg.Defaults.RaidMinAccountAgeDays)
	cfg.Defaults.RaidResponse = envString("RAID_RESPONSE", cfg.Defaults.RaidResponse)
	cfg.Defaults.RaidDurationMinutes = envInt("RAID_DURATION_MINUTES", cfg.Defaults.RaidDurationMinutes)
	cfg.Defaults.GracePeriodMinutes = envInt("GRACE_PERIOD_MINUTES", cfg.Defaults.GracePeriodMinutes)
	cfg.Defaults.GraceAutoKick = envBool("GRACE_AUTO_KICK", cfg.Defaults.GraceAutoKick)
	cfg.Defaults.GraceDeleteInvites = envBool("GRACE_DELETE_INVITES", cfg.Defaults.GraceDeleteInvites)
	cfg.Notifications.ChannelNoticeEnabled = envBool("CHANNEL_NOTICE_ENABLED", cfg.Notifications.ChannelNoticeEnabled)
	cfg.Notifications.DMNoticeEnabled = envBool("DM_NOTICE_ENABLED", cfg.Notifications.DMNoticeEnabled)
	cfg.Sweep.IntervalMinutes = envInt("SWEEP_INTERVAL_MINUTES", cfg.Sweep.IntervalMinutes)
	cfg.Batch.ThrottleMillis = envInt("BATCH_THROTTLE_MILLIS", cfg.Batch.ThrottleMillis)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeRaidResponse(value string) string {
	switch strings.ToLower(value) {
	case "lockdown", "kick", "ban", "mute", "alert":
		return strings.ToLower(value)
	default:
		return "alert"
	}
}
