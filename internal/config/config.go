package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Audit struct {
		OverallTargetRTP        float64            `yaml:"overall_target_rtp" default:"96" validate:"gt=0"`
		OverallTolerance        float64            `yaml:"overall_tolerance" default:"0.5" validate:"gt=0"`
		CriticalToleranceFactor float64            `yaml:"critical_tolerance_factor" default:"2" validate:"gte=1"`
		MinRoundsForValidation  int64              `yaml:"min_rounds_for_validation" default:"100" validate:"gt=0"`
		MaxLosingStreak         int                `yaml:"max_losing_streak" default:"50" validate:"gt=0"`
		ClientDeviationFactor   float64            `yaml:"client_deviation_factor" default:"2" validate:"gte=1"`
		GameSpecificRTPs        map[string]float64 `yaml:"game_specific_rtps" validate:"dive,gt=0"`
	} `yaml:"audit"`
	Ingest struct {
		Company        string        `yaml:"company" default:"default"`
		ClientID       string        `yaml:"client_id" default:"auditor" validate:"required"`
		BetAmount      float64       `yaml:"bet_amount" default:"1" validate:"gt=0"`
		SpinsRequested int           `yaml:"spins_requested" default:"1000" validate:"gt=0"`
		BatchSize      int           `yaml:"batch_size" default:"100" validate:"gt=0"`
		BatchTimeout   time.Duration `yaml:"batch_timeout" default:"30s" validate:"gt=0"`
		RetryAttempts  int           `yaml:"retry_attempts" validate:"gte=0"`
		RetryBackoff   time.Duration `yaml:"retry_backoff" default:"1s"`
		Concurrency    int           `yaml:"concurrency" default:"2" validate:"gte=1"`
		Games          []string      `yaml:"games" default:"[\"dice\",\"limbo\",\"crash\",\"target\"]" validate:"min=1,dive,required"`
	} `yaml:"ingest"`
	Supplier struct {
		Type    string `yaml:"type" default:"simulator" validate:"oneof=simulator http"`
		BaseURL string `yaml:"base_url" validate:"required_if=Type http,omitempty,url"`
		APIKey  string `yaml:"api_key"`
		Proxy   string `yaml:"proxy" validate:"omitempty,url"`
	} `yaml:"supplier"`
	Simulator struct {
		ServerSeed string `yaml:"server_seed" default:"rtp-sentinel-server-seed"`
		ClientSeed string `yaml:"client_seed" default:"rtp-sentinel-client-seed"`
		// TargetHitRTP is the RTP the simulated games pay; 0 means the audit target.
		TargetHitRTP float64 `yaml:"target_hit_rtp" validate:"gte=0"`
	} `yaml:"simulator"`
	Schedule struct {
		IngestCron   string `yaml:"ingest_cron" default:"0 */5 * * * *" validate:"required"`
		SnapshotCron string `yaml:"snapshot_cron" default:"30 */5 * * * *" validate:"required"`
		ReportCron   string `yaml:"report_cron" default:"0 0 8 * * *" validate:"required"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id" validate:"required_with=BotToken"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" default:"data/rtp_sentinel.db"`
	} `yaml:"database"`
	ReportFile string `yaml:"report_file" default:"data/report.json"`
	Kafka      struct {
		Brokers      []string `yaml:"brokers"`
		ReportTopic  string   `yaml:"report_topic" default:"rtp.reports"`
		AnomalyTopic string   `yaml:"anomaly_topic" default:"rtp.anomalies"`
	} `yaml:"kafka"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" validate:"gte=0"`
		TTL      time.Duration `yaml:"ttl" default:"24h"`
		Channel  string        `yaml:"channel" default:"rtp:anomalies"`
	} `yaml:"redis"`
	Metrics struct {
		Port string `yaml:"port" default:"9090" validate:"omitempty,numeric"`
	} `yaml:"metrics"`
	Log struct {
		Env   string `yaml:"env" default:"production"`
		Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SUPPLIER_BASE_URL":  &c.Supplier.BaseURL,
		"SUPPLIER_API_KEY":   &c.Supplier.APIKey,
		"HTTPS_PROXY":        &c.Supplier.Proxy,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"REDIS_ADDR":         &c.Redis.Addr,
		"METRICS_PORT":       &c.Metrics.Port,
		"APP_ENV":            &c.Log.Env,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"TARGET_RTP": &c.Audit.OverallTargetRTP,
		"TOLERANCE":  &c.Audit.OverallTolerance,
	}
	for key, dst := range floats {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = f
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, errorMessage(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func errorMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
