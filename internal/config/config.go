package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	ServerPort string
	JWTSecret  string

	// Background processing knobs. Nothing below is hard-coded into the
	// scanner or the recurrence consumer; they receive these at wiring time.
	ScanInterval      time.Duration
	ReminderLookahead time.Duration
	MessageTimeout    time.Duration
	MaxRedeliveries   int
	RetryMaxElapsed   time.Duration

	DescriptionMaxLen int
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "todoflow_user"),
		DBPassword: getEnv("DB_PASSWORD", "todoflow_pass"),
		DBName:     getEnv("DB_NAME", "todoflow_db"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		JWTSecret:  getEnv("JWT_SECRET", "supersecretkey"),

		ScanInterval:      getEnvDuration("REMINDER_SCAN_INTERVAL", 5*time.Minute),
		ReminderLookahead: getEnvDuration("REMINDER_LOOKAHEAD", 15*time.Minute),
		MessageTimeout:    getEnvDuration("EVENT_MESSAGE_TIMEOUT", 30*time.Second),
		MaxRedeliveries:   getEnvInt("EVENT_MAX_REDELIVERIES", 5),
		RetryMaxElapsed:   getEnvDuration("STORE_RETRY_MAX_ELAPSED", 20*time.Second),

		DescriptionMaxLen: getEnvInt("TASK_DESCRIPTION_MAX_LEN", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("⚠️  Invalid duration for %s: %q, using %s", key, value, defaultVal)
		return defaultVal
	}
	return d
}

func getEnvInt(key string, defaultVal int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("⚠️  Invalid integer for %s: %q, using %d", key, value, defaultVal)
		return defaultVal
	}
	return n
}
