// Package config handles loading and validation of application configuration.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/funnelbot/internal/funnel"
)

// Config is the root configuration structure.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Funnel    FunnelConfig    `mapstructure:"funnel"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig holds generator backend settings.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"     validate:"required"`
	ModelName   string        `mapstructure:"model_name"  validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Token          string        `mapstructure:"token"            validate:"required_if=Enabled true"`
	AdminUserID    int64         `mapstructure:"admin_user_id"    validate:"required_if=Enabled true"`
	TypingInterval time.Duration `mapstructure:"typing_interval"  validate:"min=1s"`
	BotInfo        *models.User  `mapstructure:"-"`
}

// HTTPConfig holds settings of the operator/web API.
type HTTPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"            validate:"required_if=Enabled true"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	APIToken       string        `mapstructure:"api_token"`
}

// PaymentConfig holds payment gateway settings.
type PaymentConfig struct {
	BaseURL        string        `mapstructure:"base_url"         validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"          validate:"min=1s"`
	MaxRetries     int           `mapstructure:"max_retries"      validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"min=0"`
	PayerName      string        `mapstructure:"payer_name"`
	PayerEmail     string        `mapstructure:"payer_email"      validate:"omitempty,email"`
}

// FunnelConfig holds the persona script and funnel guardrails.
type FunnelConfig struct {
	PersonaScript     string         `mapstructure:"persona_script"      validate:"required"`
	Pricing           funnel.Pricing `mapstructure:"pricing"`
	AffinityThreshold int            `mapstructure:"affinity_threshold"  validate:"min=0,max=10"`
	MaxPaymentChecks  int            `mapstructure:"max_payment_checks"  validate:"min=0,max=5"`
	GeneratorTimeout  time.Duration  `mapstructure:"generator_timeout"   validate:"min=1s"`
	HistoryMaxTokens  int            `mapstructure:"history_max_tokens"  validate:"min=500"`
	ReactivationAfter time.Duration  `mapstructure:"reactivation_after"  validate:"min=1m"`
	ReactivationBatch int            `mapstructure:"reactivation_batch"  validate:"min=1"`
	ReactivationInput string         `mapstructure:"reactivation_input"  validate:"required"`
}

// DeliveryConfig holds the human-pacing parameters of the delivery scheduler.
type DeliveryConfig struct {
	ReadingWPM        float64       `mapstructure:"reading_wpm"        validate:"gt=0"`
	ReadingMin        time.Duration `mapstructure:"reading_min"`
	ReadingMax        time.Duration `mapstructure:"reading_max"        validate:"gtefield=ReadingMin"`
	TypingCPS         float64       `mapstructure:"typing_cps"         validate:"gt=0"`
	TypingJitter      float64       `mapstructure:"typing_jitter"      validate:"min=0,max=1"`
	ThinkingThreshold int           `mapstructure:"thinking_threshold" validate:"min=0"`
	ThinkingMin       time.Duration `mapstructure:"thinking_min"`
	ThinkingMax       time.Duration `mapstructure:"thinking_max"       validate:"gtefield=ThinkingMin"`
	TypingMin         time.Duration `mapstructure:"typing_min"`
	TypingMax         time.Duration `mapstructure:"typing_max"         validate:"gtefield=TypingMin"`
	PauseMin          time.Duration `mapstructure:"pause_min"`
	PauseMax          time.Duration `mapstructure:"pause_max"          validate:"gtefield=PauseMin"`
}

// RealtimeConfig holds operator sync settings.
type RealtimeConfig struct {
	Grace        time.Duration `mapstructure:"grace"         validate:"min=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=100ms"`
}

// QueueConfig bounds concurrent turn processing.
type QueueConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent" validate:"min=1"`
	MaxPending    int   `mapstructure:"max_pending"    validate:"min=1"`
}

// SchedulerConfig holds settings for scheduled tasks.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig defines the settings for a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds the scripted fragments the engine and handlers emit.
type MessagesConfig struct {
	Fallback            string `mapstructure:"fallback"              validate:"required"`
	MediaUnavailable    string `mapstructure:"media_unavailable"     validate:"required"`
	PaymentFailed       string `mapstructure:"payment_failed"        validate:"required"`
	PaymentPending      string `mapstructure:"payment_pending"       validate:"required"`
	PaymentCodeFmt      string `mapstructure:"payment_code_fmt"      validate:"required"`
	NoChargeFeedback    string `mapstructure:"no_charge_feedback"    validate:"required"`
	PendingFeedback     string `mapstructure:"pending_feedback"      validate:"required"`
	ApprovedFeedback    string `mapstructure:"approved_feedback"     validate:"required"`
	UnknownFeedback     string `mapstructure:"unknown_feedback"      validate:"required"`
	CheckFailedFeedback string `mapstructure:"check_failed_feedback" validate:"required"`
	MediaNoticeFmt      string `mapstructure:"media_notice_fmt"      validate:"required"`

	ErrorGeneralMsg   string `mapstructure:"error_general_msg"  validate:"required"`
	ErrorUnauthorized string `mapstructure:"error_unauthorized" validate:"required"`
	SessionsHeader    string `mapstructure:"sessions_header"    validate:"required"`
	SessionsEmpty     string `mapstructure:"sessions_empty"     validate:"required"`
	StatusChangedFmt  string `mapstructure:"status_changed_fmt" validate:"required"`
	SayUsage          string `mapstructure:"say_usage"          validate:"required"`
	SessionIDUsage    string `mapstructure:"session_id_usage"   validate:"required"`
	SessionNotFound   string `mapstructure:"session_not_found"  validate:"required"`
	MediaHeader       string `mapstructure:"media_header"       validate:"required"`
	MediaEmpty        string `mapstructure:"media_empty"        validate:"required"`
	OperatorSent      string `mapstructure:"operator_sent"      validate:"required"`
	StartInput        string `mapstructure:"start_input"        validate:"required"`
}
