package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"SETTLR_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SETTLR_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"SETTLR_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SETTLR_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SETTLR_REDIS_DNS"`
}

// QueueConfig names the asynq queues the reconciliation engine runs on.
// Submission queues are sharded by sender so all work for one account
// lands on the same queue.
type QueueConfig struct {
	PaymentQueue   string `json:"payment_queue" envconfig:"SETTLR_QUEUE_PAYMENT"`
	PollQueue      string `json:"poll_queue" envconfig:"SETTLR_QUEUE_POLL"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"SETTLR_QUEUE_WEBHOOK"`
	NumberOfQueues int    `json:"number_of_queues" envconfig:"SETTLR_QUEUE_NUMBER_OF_QUEUES"`
}

// SettlementConfig points at the external settlement backend RPC
// endpoint. The backend owns its cryptographic signing; we only submit
// and poll.
type SettlementConfig struct {
	Endpoint       string `json:"endpoint" envconfig:"SETTLR_SETTLEMENT_ENDPOINT"`
	Network        string `json:"network" envconfig:"SETTLR_SETTLEMENT_NETWORK"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"SETTLR_SETTLEMENT_TIMEOUT_SECONDS"`
}

// RetryConfig bounds the reconciliation backoff schedule. The delay for
// attempt n is min(base << n, max) plus up to jitter.
type RetryConfig struct {
	MaxAttempts  int `json:"max_attempts" envconfig:"SETTLR_RETRY_MAX_ATTEMPTS"`
	BaseDelayMS  int `json:"base_delay_ms" envconfig:"SETTLR_RETRY_BASE_DELAY_MS"`
	MaxDelayMS   int `json:"max_delay_ms" envconfig:"SETTLR_RETRY_MAX_DELAY_MS"`
	JitterMS     int `json:"jitter_ms" envconfig:"SETTLR_RETRY_JITTER_MS"`
	StuckMinutes int `json:"stuck_minutes" envconfig:"SETTLR_RETRY_STUCK_MINUTES"`
}

// InsightConfig configures the pluggable text-summary provider. A zero
// Url disables the provider entirely; the deterministic fallback is
// used instead.
type InsightConfig struct {
	Url                 string `json:"url" envconfig:"SETTLR_INSIGHT_URL"`
	AuthToken           string `json:"auth_token" envconfig:"SETTLR_INSIGHT_AUTH_TOKEN"`
	TimeoutSeconds      int    `json:"timeout_seconds" envconfig:"SETTLR_INSIGHT_TIMEOUT_SECONDS"`
	SuspiciousThreshold string `json:"suspicious_threshold" envconfig:"SETTLR_INSIGHT_SUSPICIOUS_THRESHOLD"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SETTLR_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SETTLR_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SETTLR_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"SETTLR_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Settlement   SettlementConfig `json:"settlement"`
	Retry        RetryConfig      `json:"retry"`
	Insight      InsightConfig    `json:"insight"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Notification Notification     `json:"notification"`
}

// SettlementTimeout returns the per-call timeout for backend RPCs.
func (cnf *Configuration) SettlementTimeout() time.Duration {
	return time.Duration(cnf.Settlement.TimeoutSeconds) * time.Second
}

// InsightTimeout returns the per-call timeout for the insight provider.
func (cnf *Configuration) InsightTimeout() time.Duration {
	return time.Duration(cnf.Insight.TimeoutSeconds) * time.Second
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("settlr", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called settlr.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Settlr Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
	}

	if cnf.Queue.PaymentQueue == "" {
		cnf.Queue.PaymentQueue = "new:payment"
	}
	if cnf.Queue.PollQueue == "" {
		cnf.Queue.PollQueue = "new:poll"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}

	if cnf.Settlement.Endpoint == "" {
		log.Println("Error: Settlement endpoint is empty. It's a required field.")
		return errors.New("settlement endpoint is required")
	}
	if cnf.Settlement.Network == "" {
		cnf.Settlement.Network = "devnet"
	}
	if cnf.Settlement.TimeoutSeconds <= 0 {
		cnf.Settlement.TimeoutSeconds = 15
	}

	if cnf.Retry.MaxAttempts <= 0 {
		cnf.Retry.MaxAttempts = 8
	}
	if cnf.Retry.BaseDelayMS <= 0 {
		cnf.Retry.BaseDelayMS = 500
	}
	if cnf.Retry.MaxDelayMS <= 0 {
		cnf.Retry.MaxDelayMS = 60000
	}
	if cnf.Retry.JitterMS < 0 {
		cnf.Retry.JitterMS = 0
	}
	if cnf.Retry.StuckMinutes <= 0 {
		cnf.Retry.StuckMinutes = 10
	}

	if cnf.Insight.TimeoutSeconds <= 0 {
		cnf.Insight.TimeoutSeconds = 10
	}
	if cnf.Insight.SuspiciousThreshold == "" {
		cnf.Insight.SuspiciousThreshold = "1000"
	}

	// Rate limiting is disabled when both RPS and Burst are nil.
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
