package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	AdminAPIToken string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Outbox dispatcher
	DispatchInterval  int // seconds between poll ticks
	DispatchBatchSize int
	ClaimTTL          int // seconds before a claimed event is considered abandoned

	// Business policy
	BusinessTimezone   string
	BusinessHoursStart string // "08:00"
	BusinessHoursEnd   string // "18:00"
	SalesHoursStart    string
	SalesHoursEnd      string
	QuietHoursStart    string // automated sends deferred inside this window
	QuietHoursEnd      string
	QuietHoursChannels string // comma-separated, e.g. "sms,dm"

	FollowupStepsMinutes string // comma-separated offsets from the trigger
	FollowupChannels     string // preferred order, e.g. "sms,email"
	DraftOnlyChannels    string // channels where automation drafts but never sends
	ReminderWindows      string // minutes before appointment start
	SpeedToLeadSLA       int    // minutes
	EscalationEnabled    bool
	TeamNotifyPhone      string // ops phone for task reminder texts
	RescheduleBaseURL    string

	SnowflakeNodeID int64
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()
	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "doorstep-cloud"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Port:          getenv("PORT", "8080"),
		Environment:   environment,
		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "doorstep"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		DispatchInterval:  getenvInt("OUTBOX_DISPATCH_INTERVAL", 15),
		DispatchBatchSize: getenvInt("OUTBOX_DISPATCH_BATCH_SIZE", 25),
		ClaimTTL:          getenvInt("OUTBOX_CLAIM_TTL", 300),

		BusinessTimezone:   getenv("BUSINESS_TIMEZONE", "America/Chicago"),
		BusinessHoursStart: getenv("BUSINESS_HOURS_START", "08:00"),
		BusinessHoursEnd:   getenv("BUSINESS_HOURS_END", "18:00"),
		SalesHoursStart:    getenv("SALES_HOURS_START", "08:00"),
		SalesHoursEnd:      getenv("SALES_HOURS_END", "20:00"),
		QuietHoursStart:    getenv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:      getenv("QUIET_HOURS_END", "08:00"),
		QuietHoursChannels: getenv("QUIET_HOURS_CHANNELS", "sms,dm"),

		FollowupStepsMinutes: getenv("FOLLOWUP_STEPS_MINUTES", "60,1440,4320,10080"),
		FollowupChannels:     getenv("FOLLOWUP_CHANNELS", "sms,email"),
		DraftOnlyChannels:    getenv("AUTOMATION_DRAFT_ONLY_CHANNELS", ""),
		ReminderWindows:      getenv("REMINDER_WINDOWS_MINUTES", "1440,120"),
		SpeedToLeadSLA:       getenvInt("SPEED_TO_LEAD_SLA_MINUTES", 5),
		EscalationEnabled:    getenvBool("SALES_ESCALATION_ENABLED", true),
		TeamNotifyPhone:      strings.TrimSpace(getenv("TEAM_NOTIFY_PHONE", "")),
		RescheduleBaseURL:    getenv("RESCHEDULE_BASE_URL", "https://book.doorstep.example/r"),

		SnowflakeNodeID: getenvInt64("SNOWFLAKE_NODE_ID", 1),
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
