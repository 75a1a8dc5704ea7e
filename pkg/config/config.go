package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// MaxLevel is the highest curriculum level a student can reach.
const MaxLevel = 5

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Program       ProgramConfig
	Review        ReviewConfig
	Notifications NotificationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ProgramConfig holds the static tables driving group assignment,
// promotion and peer-vote bonuses.
type ProgramConfig struct {
	// GroupCapacity bounds non-remedial membership per group.
	GroupCapacity int
	// NewGroupThreshold is the awaiting-new-group queue length that
	// materialises a fresh group.
	NewGroupThreshold int
	// FormationDays maps level -> minimum days between joining a group
	// and its next scheduled exam.
	FormationDays map[int]int
	// ExamWindow is the duration of an exam period once it starts.
	ExamWindow time.Duration
	// VoteLead is how long before exam start the vote window opens.
	VoteLead time.Duration
	// PassingScore is the default passing percentage when an exam
	// definition does not carry its own threshold.
	PassingScore float64
	// RemedialFractions are the delay fractions for the score bands
	// [20,40), [40,60) and [60,100], applied to the level's minimum
	// formation time.
	RemedialFractions [3]float64
	// PeriodScanInterval drives the exam-period close timer.
	PeriodScanInterval time.Duration
}

// ReviewConfig tunes the spaced-repetition delivery loop.
type ReviewConfig struct {
	ScanInterval time.Duration
	// DeliveryTTL bounds how long an undelivered question stays
	// outstanding before the in-flight marker expires.
	DeliveryTTL time.Duration
	ScanLimit   int
}

// NotificationsConfig bounds outbound adapter calls.
type NotificationsConfig struct {
	Channel    string
	Timeout    time.Duration
	Workers    int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	formation, err := parseFormationDays(v.GetString("FORMATION_DAYS"))
	if err != nil {
		return nil, err
	}

	fractions, err := parseFractions(v.GetString("REMEDIAL_DELAY_FRACTIONS"))
	if err != nil {
		return nil, err
	}

	cfg.Program = ProgramConfig{
		GroupCapacity:      v.GetInt("GROUP_CAPACITY"),
		NewGroupThreshold:  v.GetInt("NEW_GROUP_THRESHOLD"),
		FormationDays:      formation,
		ExamWindow:         parseDuration(v.GetString("EXAM_WINDOW"), 6*time.Hour),
		VoteLead:           parseDuration(v.GetString("VOTE_LEAD"), 24*time.Hour),
		PassingScore:       v.GetFloat64("PASSING_SCORE"),
		RemedialFractions:  fractions,
		PeriodScanInterval: parseDuration(v.GetString("PERIOD_SCAN_INTERVAL"), time.Minute),
	}

	cfg.Review = ReviewConfig{
		ScanInterval: parseDuration(v.GetString("REVIEW_SCAN_INTERVAL"), time.Minute),
		DeliveryTTL:  parseDuration(v.GetString("REVIEW_DELIVERY_TTL"), 10*time.Minute),
		ScanLimit:    v.GetInt("REVIEW_SCAN_LIMIT"),
	}

	cfg.Notifications = NotificationsConfig{
		Channel:    v.GetString("NOTIFY_CHANNEL"),
		Timeout:    parseDuration(v.GetString("NOTIFY_TIMEOUT"), 5*time.Second),
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "cohort_program")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GROUP_CAPACITY", 15)
	v.SetDefault("NEW_GROUP_THRESHOLD", 7)
	v.SetDefault("FORMATION_DAYS", "7,10,14,14,21")
	v.SetDefault("EXAM_WINDOW", "6h")
	v.SetDefault("VOTE_LEAD", "24h")
	v.SetDefault("PASSING_SCORE", 70.0)
	v.SetDefault("REMEDIAL_DELAY_FRACTIONS", "0.75,0.5,0.25")
	v.SetDefault("PERIOD_SCAN_INTERVAL", "1m")

	v.SetDefault("REVIEW_SCAN_INTERVAL", "1m")
	v.SetDefault("REVIEW_DELIVERY_TTL", "10m")
	v.SetDefault("REVIEW_SCAN_LIMIT", 100)

	v.SetDefault("NOTIFY_CHANNEL", "cohort:events")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
}

// parseFormationDays reads a comma separated list of per-level minimum
// formation days, one entry per level 1..MaxLevel.
func parseFormationDays(raw string) (map[int]int, error) {
	parts := splitAndTrim(raw)
	if len(parts) != MaxLevel {
		return nil, fmt.Errorf("FORMATION_DAYS expects %d entries, got %d", MaxLevel, len(parts))
	}
	days := make(map[int]int, MaxLevel)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("FORMATION_DAYS entry %q is not a valid day count", part)
		}
		days[i+1] = n
	}
	return days, nil
}

func parseFractions(raw string) ([3]float64, error) {
	var fractions [3]float64
	parts := splitAndTrim(raw)
	if len(parts) != len(fractions) {
		return fractions, fmt.Errorf("REMEDIAL_DELAY_FRACTIONS expects %d entries, got %d", len(fractions), len(parts))
	}
	for i, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f < 0 || f > 1 {
			return fractions, fmt.Errorf("REMEDIAL_DELAY_FRACTIONS entry %q is not a fraction", part)
		}
		fractions[i] = f
	}
	return fractions, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
