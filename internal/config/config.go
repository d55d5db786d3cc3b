package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Environment string
	LogLevel    string

	// SteamDT 聚合价格接口
	SteamDTBaseURL string
	SteamDTAPIKey  string

	// 悠悠有品开放平台
	YoupinBaseURL  string
	YoupinToken    string
	YoupinDeviceID string

	// CSQAQ 租赁/成交数据
	CSQAQBaseURL      string
	CSQAQAPIToken     string
	CSQAQRequestDelay time.Duration

	// Steam 库存（持有状态来源）
	SteamCommunityURL string
	SteamID           string

	AlertWebhookURL string

	// 调度
	CollectInterval time.Duration
	SourceTimeout   time.Duration
	DailyJobAt      string // HH:MM, local time
	RetentionDays   int
	BatchSize       int
	BackfillDays    int           // 补齐缺失日K的最长回看天数
	HistoryDays     int           // 指标计算读取的日K天数
	ImportLookback  time.Duration // 账本导入相对上次拉取的重叠窗口
	JobTimeout      time.Duration

	// 租赁导入匹配容差
	LeasePriceBand  float64
	LeaseTimeWindow time.Duration

	// 套利
	MinAbsSpread              float64
	ArbitrageExcludePlatforms []string

	// 评分阈值
	DefaultTargetPnLPct  float64
	RentalYieldThreshold float64
	SellScoreHighWater   float64
}

func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "csgo_quant.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SteamDTBaseURL: getEnv("STEAMDT_BASE_URL", "https://open.steamdt.com"),
		SteamDTAPIKey:  getEnv("STEAMDT_API_KEY", ""),

		YoupinBaseURL:  getEnv("YOUPIN_BASE_URL", "https://api.youpin898.com"),
		YoupinToken:    getEnv("YOUPIN_TOKEN", ""),
		YoupinDeviceID: getEnv("YOUPIN_DEVICE_ID", ""),

		CSQAQBaseURL:      getEnv("CSQAQ_BASE_URL", "https://api.csqaq.com/api/v1"),
		CSQAQAPIToken:     getEnv("CSQAQ_API_TOKEN", ""),
		CSQAQRequestDelay: getEnvDuration("CSQAQ_REQUEST_DELAY", 1100*time.Millisecond),

		SteamCommunityURL: getEnv("STEAM_COMMUNITY_URL", "https://steamcommunity.com"),
		SteamID:           getEnv("STEAM_ID", ""),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),

		CollectInterval: getEnvDuration("COLLECT_INTERVAL", 30*time.Minute),
		SourceTimeout:   getEnvDuration("SOURCE_TIMEOUT", 20*time.Second),
		DailyJobAt:      getEnv("DAILY_JOB_AT", "00:10"),
		RetentionDays:   getEnvInt("OBSERVATION_RETENTION_DAYS", 7),
		BatchSize:       getEnvInt("STORE_BATCH_SIZE", 100),
		BackfillDays:    getEnvInt("BACKFILL_DAYS", 60),
		HistoryDays:     getEnvInt("HISTORY_DAYS", 400),
		ImportLookback:  getEnvDuration("IMPORT_LOOKBACK", 24*time.Hour),
		JobTimeout:      getEnvDuration("JOB_TIMEOUT", 20*time.Minute),

		LeasePriceBand:  getEnvFloat("LEASE_PRICE_BAND", 0.05),
		LeaseTimeWindow: getEnvDuration("LEASE_TIME_WINDOW", 72*time.Hour),

		MinAbsSpread:              getEnvFloat("ARBITRAGE_MIN_ABS_SPREAD", 5),
		ArbitrageExcludePlatforms: getEnvList("ARBITRAGE_EXCLUDE_PLATFORMS"),

		DefaultTargetPnLPct:  getEnvFloat("DEFAULT_TARGET_PNL_PCT", 30),
		RentalYieldThreshold: getEnvFloat("RENTAL_YIELD_THRESHOLD", 15),
		SellScoreHighWater:   getEnvFloat("SELL_SCORE_HIGH_WATER", 75),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getEnvList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
