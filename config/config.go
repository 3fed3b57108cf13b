package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Identity provider tokens
	JWTSecret string
	JWTIssuer string

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port     string
	AppEnv   string
	BodySize int

	// Logging
	LogLevel string
	LogFile  string

	// Scheduling
	SessionDurationMinutes int
	Timezone               string

	// Messaging
	LineChannelSecret      string
	LineChannelAccessToken string
	WhatsAppAPIURL         string
	WhatsAppPhoneNumberID  string
	WhatsAppToken          string
	DispatchMaxAttempts    int
	DispatchBackoff        time.Duration

	// Jobs
	ReminderCron       string
	NoShowCron         string
	ArchiveCron        string
	AuditRetentionDays int

	// Feature Toggles
	UseRedisNotifications bool
	UseRedisLocks         bool
	SkipMigrate           bool
	SeedDemoData          bool
}

// GetDSN builds the driver-specific connection string.
func (c *Config) GetDSN() string {
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.Timezone)
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

func (c *Config) IsProduction() bool { return strings.ToLower(c.AppEnv) == "production" }

var AppConfig *Config

var defaults = map[string]interface{}{
	"DB_DRIVER":                 "mysql",
	"DB_HOST":                   "localhost",
	"DB_PORT":                   "3306",
	"DB_USER":                   "root",
	"DB_PASSWORD":               "",
	"DB_NAME":                   "drivingschool_go",
	"REDIS_HOST":                "localhost",
	"REDIS_PORT":                "6379",
	"REDIS_PASSWORD":            "",
	"JWT_SECRET":                "your_super_secret_jwt_key",
	"JWT_ISSUER":                "",
	"AWS_REGION":                "ap-south-1",
	"AWS_ACCESS_KEY_ID":         "",
	"AWS_SECRET_ACCESS_KEY":     "",
	"S3_BUCKET_NAME":            "drivingschool-storage",
	"PORT":                      "3000",
	"APP_ENV":                   "development",
	"BODY_LIMIT":                4 * 1024 * 1024,
	"LOG_LEVEL":                 "info",
	"LOG_FILE":                  "logs/app.log",
	"SESSION_DURATION_MINUTES":  30,
	"TZ":                        "Asia/Kolkata",
	"LINE_CHANNEL_SECRET":       "",
	"LINE_CHANNEL_ACCESS_TOKEN": "",
	"WHATSAPP_API_URL":          "https://graph.facebook.com/v19.0",
	"WHATSAPP_PHONE_NUMBER_ID":  "",
	"WHATSAPP_TOKEN":            "",
	"DISPATCH_MAX_ATTEMPTS":     3,
	"DISPATCH_BACKOFF":          "2s",
	"REMINDER_CRON":             "0 18 * * *",
	"NO_SHOW_CRON":              "30 23 * * *",
	"ARCHIVE_CRON":              "0 2 * * *",
	"AUDIT_RETENTION_DAYS":      90,
	"USE_REDIS_NOTIFICATIONS":   false,
	"USE_REDIS_LOCKS":           false,
	"SKIP_MIGRATE":              false,
	"SEED_DEMO_DATA":            false,
}

// LoadConfig fills AppConfig from .env, the environment and, when USE_SSM is
// set, the SSM parameters under SSM_BASE_PATH/STAGE.
func LoadConfig() {
	v := viper.New()
	v.AutomaticEnv()

	if v.GetBool("USE_SSM") {
		basePath := strings.TrimRight(envOr(v, "SSM_BASE_PATH", "/drivingschool"), "/")
		stage := envOr(v, "STAGE", envOr(v, "APP_ENV", "production"))
		prefix := basePath + "/" + stage

		sess, err := session.NewSession(&aws.Config{Region: aws.String(envOr(v, "AWS_REGION", "ap-south-1"))})
		if err != nil {
			logrus.Fatal("Failed to create AWS session: ", err)
		}
		logrus.Infof("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		for key, value := range fetchSSMParameters(ssm.New(sess), prefix) {
			v.Set(key, value)
		}
	} else if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found, using environment variables")
	}

	cfg, err := Load(v)
	if err != nil {
		logrus.Fatal(err)
	}
	AppConfig = cfg
}

// Load reads a Config from v after applying defaults, then validates it.
func Load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	backoff, err := time.ParseDuration(v.GetString("DISPATCH_BACKOFF"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_BACKOFF: %w", err)
	}

	c := &Config{
		DBDriver:   strings.ToLower(v.GetString("DB_DRIVER")),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetString("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),

		AWSRegion:          v.GetString("AWS_REGION"),
		AWSAccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		S3BucketName:       v.GetString("S3_BUCKET_NAME"),

		Port:     v.GetString("PORT"),
		AppEnv:   v.GetString("APP_ENV"),
		BodySize: v.GetInt("BODY_LIMIT"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),

		SessionDurationMinutes: v.GetInt("SESSION_DURATION_MINUTES"),
		Timezone:               v.GetString("TZ"),

		LineChannelSecret:      v.GetString("LINE_CHANNEL_SECRET"),
		LineChannelAccessToken: v.GetString("LINE_CHANNEL_ACCESS_TOKEN"),
		WhatsAppAPIURL:         strings.TrimRight(v.GetString("WHATSAPP_API_URL"), "/"),
		WhatsAppPhoneNumberID:  v.GetString("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppToken:          v.GetString("WHATSAPP_TOKEN"),
		DispatchMaxAttempts:    v.GetInt("DISPATCH_MAX_ATTEMPTS"),
		DispatchBackoff:        backoff,

		ReminderCron:       v.GetString("REMINDER_CRON"),
		NoShowCron:         v.GetString("NO_SHOW_CRON"),
		ArchiveCron:        v.GetString("ARCHIVE_CRON"),
		AuditRetentionDays: v.GetInt("AUDIT_RETENTION_DAYS"),

		UseRedisNotifications: v.GetBool("USE_REDIS_NOTIFICATIONS"),
		UseRedisLocks:         v.GetBool("USE_REDIS_LOCKS"),
		SkipMigrate:           v.GetBool("SKIP_MIGRATE"),
		SeedDemoData:          v.GetBool("SEED_DEMO_DATA"),
	}

	if err := validateConfig(c); err != nil {
		return nil, err
	}
	return c, nil
}

func envOr(v *viper.Viper, key, def string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return def
}

// fetchSSMParameters reads all parameters under prefix and returns them keyed
// by the UPPERCASE last path segment.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	var next *string
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      next,
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			logrus.Warnf("Unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			key := *p.Name
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				key = key[idx+1:]
			}
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config) error {
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (mysql or postgres)", c.DBDriver)
	}
	if c.SessionDurationMinutes <= 0 {
		return fmt.Errorf("SESSION_DURATION_MINUTES must be positive")
	}
	if c.DispatchMaxAttempts < 1 {
		c.DispatchMaxAttempts = 1
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TZ %q: %w", c.Timezone, err)
	}

	// Only enforce stricter rules in production
	if !c.IsProduction() {
		return nil
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("missing required secret %s in production", k)
		}
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET too short (min 16 chars)")
	}
	return nil
}
