package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendDynamo = "dynamo"
	BackendMemory = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort      string `env:"APP_PORT" envDefault:"3000"`
	AppEnv       string `env:"APP_ENV" envDefault:"development"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamo"`

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`

	DynamoTables DynamoTables `envPrefix:"DYNAMO_TABLE_"`
	S3BucketName string       `env:"S3_BUCKET_NAME" envDefault:"go-calendar-files"`

	JWTPrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH" envDefault:"./private_key.pem"`
	JWTPublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH" envDefault:"./public_key.pem"`
	JWTExpiry         time.Duration `env:"JWT_EXPIRY" envDefault:"168h"`

	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"noreply@example.com"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	FrontendBaseURL string `env:"FRONTEND_BASE_URL" envDefault:"http://localhost:5173"`

	EmailVerifyTTL       time.Duration `env:"EMAIL_VERIFY_TTL" envDefault:"60m"`
	CalendarInviteTTL    time.Duration `env:"CALENDAR_INVITE_TTL" envDefault:"24h"`
	EventInviteTTL       time.Duration `env:"EVENT_INVITE_TTL" envDefault:"24h"`
	VerifyResendCooldown time.Duration `env:"VERIFY_RESEND_COOLDOWN" envDefault:"60s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","` // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users           string `env:"USERS" envDefault:"users"`
	Calendars       string `env:"CALENDARS" envDefault:"calendars"`
	CalendarMembers string `env:"CALENDAR_MEMBERS" envDefault:"calendar_members"`
	Events          string `env:"EVENTS" envDefault:"events"`
	EventMembers    string `env:"EVENT_MEMBERS" envDefault:"event_members"`
	ApprovalTokens  string `env:"APPROVAL_TOKENS" envDefault:"approval_tokens"`
}

// Load reads all configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.StoreBackend {
	case BackendDynamo, BackendMemory:
	default:
		return nil, fmt.Errorf("parse env: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	for name, ttl := range map[string]time.Duration{
		"EMAIL_VERIFY_TTL":    cfg.EmailVerifyTTL,
		"CALENDAR_INVITE_TTL": cfg.CalendarInviteTTL,
		"EVENT_INVITE_TTL":    cfg.EventInviteTTL,
	} {
		if ttl <= 0 {
			return nil, fmt.Errorf("parse env: %s must be positive", name)
		}
	}
	return &cfg, nil
}
