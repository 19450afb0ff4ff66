package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Hearings HearingsConfig `json:"hearings"`
	Realtime RealtimeConfig `json:"realtime"`
	Sweeper  SweeperConfig  `json:"sweeper"`
	AWS      AWSConfig      `json:"aws"`
	Audit    AuditConfig    `json:"audit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" envconfig:"SERVER_HOST"`
	Port            int           `json:"port" envconfig:"SERVER_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `json:"allowed_origins" envconfig:"SERVER_ALLOWED_ORIGINS"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host" envconfig:"DATABASE_HOST"`
	Port           int           `json:"port" envconfig:"DATABASE_PORT"`
	User           string        `json:"user" envconfig:"DATABASE_USER"`
	Password       string        `json:"password" envconfig:"DATABASE_PASSWORD"`
	DBName         string        `json:"db_name" envconfig:"DATABASE_DBNAME"`
	SSLMode        string        `json:"ssl_mode" envconfig:"DATABASE_SSLMODE"`
	MaxConnections int           `json:"max_connections" envconfig:"DATABASE_MAX_CONNECTIONS"`
	MaxIdleConns   int           `json:"max_idle_conns" envconfig:"DATABASE_MAX_IDLE_CONNS"`
	MaxLifetime    time.Duration `json:"max_lifetime" envconfig:"DATABASE_MAX_LIFETIME"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTIssuer string `json:"jwt_issuer" envconfig:"JWT_ISSUER"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level" envconfig:"LOG_LEVEL"`
}

// HearingsConfig holds hearing and dispute policy knobs
type HearingsConfig struct {
	MinNoticeHours                 int     `json:"min_notice_hours" envconfig:"HEARING_MIN_NOTICE_HOURS"`
	EmergencyMinNoticeHours        int     `json:"emergency_min_notice_hours" envconfig:"HEARING_EMERGENCY_MIN_NOTICE_HOURS"`
	MaxReschedules                 int     `json:"max_reschedules" envconfig:"HEARING_MAX_RESCHEDULES"`
	RescheduleCutoffHours          int     `json:"reschedule_cutoff_hours" envconfig:"HEARING_RESCHEDULE_CUTOFF_HOURS"`
	ResponseDeadlineDays           int     `json:"response_deadline_days" envconfig:"HEARING_RESPONSE_DEADLINE_DAYS"`
	EarlyStartBufferMinutes        int     `json:"early_start_buffer_minutes" envconfig:"HEARING_EARLY_START_BUFFER_MINUTES"`
	LateThresholdMinutes           int     `json:"late_threshold_minutes" envconfig:"HEARING_LATE_THRESHOLD_MINUTES"`
	VeryLateThresholdMinutes       int     `json:"very_late_threshold_minutes" envconfig:"HEARING_VERY_LATE_THRESHOLD_MINUTES"`
	MinAttendanceRatio             float64 `json:"min_attendance_ratio" envconfig:"HEARING_MIN_ATTENDANCE_RATIO"`
	DefaultDurationMinutes         int     `json:"default_duration_minutes" envconfig:"HEARING_DEFAULT_DURATION_MINUTES"`
	DefaultQuestionDeadlineMinutes int     `json:"default_question_deadline_minutes" envconfig:"HEARING_DEFAULT_QUESTION_DEADLINE_MINUTES"`
	StartSpeakerRole               string  `json:"start_speaker_role" envconfig:"HEARING_START_SPEAKER_ROLE"`
	ResetPhaseOnReschedule         bool    `json:"reset_phase_on_reschedule" envconfig:"HEARING_RESET_PHASE_ON_RESCHEDULE"`
	AllowEmergencyOverlap          bool    `json:"allow_emergency_overlap" envconfig:"HEARING_ALLOW_EMERGENCY_OVERLAP"`
	AppealWindowDays               int     `json:"appeal_window_days" envconfig:"DISPUTE_APPEAL_WINDOW_DAYS"`
	DismissalHoldHours             int     `json:"dismissal_hold_hours" envconfig:"DISPUTE_DISMISSAL_HOLD_HOURS"`
	SettlementExpiryHours          int     `json:"settlement_expiry_hours" envconfig:"DISPUTE_SETTLEMENT_EXPIRY_HOURS"`
	StaffCaseloadLimit             int     `json:"staff_caseload_limit" envconfig:"DISPUTE_STAFF_CASELOAD_LIMIT"`

	SpeakerGracePeriod time.Duration `json:"speaker_grace_period" envconfig:"HEARING_SPEAKER_GRACE_PERIOD"`
}

// RealtimeConfig configures the websocket gateway
type RealtimeConfig struct {
	SendBufferSize int           `json:"send_buffer_size" envconfig:"REALTIME_SEND_BUFFER_SIZE"`
	MaxMessageSize int64         `json:"max_message_size" envconfig:"REALTIME_MAX_MESSAGE_SIZE"`
	PongWait       time.Duration `json:"pong_wait" envconfig:"REALTIME_PONG_WAIT"`
	WriteWait      time.Duration `json:"write_wait" envconfig:"REALTIME_WRITE_WAIT"`
}

// SweeperConfig configures the deadline sweeper
type SweeperConfig struct {
	Enabled bool   `json:"enabled" envconfig:"SWEEPER_ENABLED"`
	Spec    string `json:"spec" envconfig:"SWEEPER_SPEC"`
}

// AWSConfig holds S3 and SNS settings. Empty values select the in-process fallbacks.
type AWSConfig struct {
	Region          string `json:"region" envconfig:"AWS_REGION"`
	Endpoint        string `json:"endpoint" envconfig:"AWS_ENDPOINT"`
	AccessKeyID     string `json:"access_key_id" envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"AWS_SECRET_ACCESS_KEY"`
	EvidenceBucket  string `json:"evidence_bucket" envconfig:"EVIDENCE_BUCKET"`
	RecordsBucket   string `json:"records_bucket" envconfig:"RECORDS_BUCKET"`
	NotifyTopicARN  string `json:"notify_topic_arn" envconfig:"NOTIFY_TOPIC_ARN"`
}

// AuditConfig sizes the async audit queue
type AuditConfig struct {
	QueueSize int `json:"queue_size" envconfig:"AUDIT_QUEUE_SIZE"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "dispute_court",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Security: SecurityConfig{JWTIssuer: "dispute-court"},
		Logging:  LoggingConfig{Level: "info"},
		Hearings: HearingsConfig{
			MinNoticeHours:                 24,
			EmergencyMinNoticeHours:        1,
			MaxReschedules:                 3,
			RescheduleCutoffHours:          2,
			ResponseDeadlineDays:           7,
			EarlyStartBufferMinutes:        15,
			LateThresholdMinutes:           5,
			VeryLateThresholdMinutes:       20,
			MinAttendanceRatio:             0.5,
			DefaultDurationMinutes:         60,
			DefaultQuestionDeadlineMinutes: 10,
			StartSpeakerRole:               "ALL",
			SpeakerGracePeriod:             5 * time.Second,
			AppealWindowDays:               7,
			DismissalHoldHours:             24,
			SettlementExpiryHours:          48,
			StaffCaseloadLimit:             20,
		},
		Realtime: RealtimeConfig{
			SendBufferSize: 256,
			MaxMessageSize: 8192,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
		},
		Sweeper: SweeperConfig{Enabled: true, Spec: "0 * * * * *"},
		AWS:     AWSConfig{Region: "us-east-1"},
		Audit:   AuditConfig{QueueSize: 1024},
	}
}

// LoadConfig loads configuration from file, .env and environment variables, in that order
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process("DISPUTES", config); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would make the service misbehave
func (c *Config) Validate() error {
	h := c.Hearings
	if h.LateThresholdMinutes < 0 || h.VeryLateThresholdMinutes < h.LateThresholdMinutes {
		return fmt.Errorf("invalid attendance thresholds: late=%d very_late=%d", h.LateThresholdMinutes, h.VeryLateThresholdMinutes)
	}
	if h.MinAttendanceRatio < 0 || h.MinAttendanceRatio > 1 {
		return fmt.Errorf("min_attendance_ratio must be within [0,1], got %v", h.MinAttendanceRatio)
	}
	if h.MaxReschedules < 0 {
		return fmt.Errorf("max_reschedules must not be negative")
	}
	switch h.StartSpeakerRole {
	case "ALL", "MODERATOR_ONLY":
	default:
		return fmt.Errorf("start_speaker_role must be ALL or MODERATOR_ONLY, got %q", h.StartSpeakerRole)
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
