package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "ballotgate/pkg/platform/strings"
)

// Config groups everything main needs to wire the service. Values come from
// the environment with development-friendly defaults so main stays lean.
type Config struct {
	Server   Server
	Vote     Vote
	Verifier Verifier
	Wallet   Wallet
	Ledger   Ledger
	Database Database
	Redis    Redis
	Kafka    Kafka
	OTel     OTel
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Vote holds the orchestration policy knobs.
type Vote struct {
	SimilarityThreshold       float64
	SessionTimeout            time.Duration
	MaxVerifyAttempts         int
	MaxSubmitAttempts         int
	LedgerConfirmationTimeout time.Duration
	ReconcileInterval         time.Duration
}

// Verifier selects and configures the identity verifier implementation.
type Verifier struct {
	// Mode is "simulated" or "http".
	Mode    string
	URL     string
	Timeout time.Duration
}

// Wallet configures the local signing key used as the authorization provider.
type Wallet struct {
	KeyHex string
}

// Ledger selects the vote ledger implementation.
type Ledger struct {
	// Mode is "memory" or "eth".
	Mode            string
	RPCURL          string
	ContractAddress string
}

// Database configures the PostgreSQL-backed stores. Empty URL means the
// in-memory stores are used instead.
type Database struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis configures the session store. Empty URL disables Redis.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit event sink. Empty brokers disables Kafka.
type Kafka struct {
	Brokers []string
	Topic   string
}

// OTel configures trace export.
type OTel struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getString("BALLOTGATE_ADDR", ":8080"),
			ShutdownTimeout: 10 * time.Second,
		},
		Vote: Vote{
			SimilarityThreshold:       getFloat("SIMILARITY_THRESHOLD", 0.85),
			SessionTimeout:            time.Duration(getInt("SESSION_TIMEOUT_SECONDS", 300)) * time.Second,
			MaxVerifyAttempts:         getInt("MAX_VERIFY_ATTEMPTS", 3),
			MaxSubmitAttempts:         getInt("MAX_SUBMIT_ATTEMPTS", 5),
			LedgerConfirmationTimeout: getMillis("LEDGER_CONFIRMATION_TIMEOUT_MS", 60*time.Second),
			ReconcileInterval:         getMillis("RECONCILE_INTERVAL_MS", time.Minute),
		},
		Verifier: Verifier{
			Mode:    getString("VERIFIER_MODE", "simulated"),
			URL:     getString("VERIFIER_URL", "http://localhost:8000"),
			Timeout: getMillis("VERIFIER_TIMEOUT_MS", 10*time.Second),
		},
		Wallet: Wallet{
			KeyHex: os.Getenv("WALLET_KEY_HEX"),
		},
		Ledger: Ledger{
			Mode:            getString("LEDGER_MODE", "memory"),
			RPCURL:          getString("ETH_RPC_URL", "http://localhost:8545"),
			ContractAddress: os.Getenv("CONTRACT_ADDRESS"),
		},
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getMillis("REDIS_DIAL_TIMEOUT_MS", 5*time.Second),
			ReadTimeout:  getMillis("REDIS_READ_TIMEOUT_MS", 3*time.Second),
			WriteTimeout: getMillis("REDIS_WRITE_TIMEOUT_MS", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: pstrings.DedupeAndTrim(strings.Split(os.Getenv("KAFKA_BROKERS"), ",")),
			Topic:   getString("KAFKA_AUDIT_TOPIC", "ballotgate.audit"),
		},
		OTel: OTel{
			Enabled:     os.Getenv("OTEL_ENABLED") == "true",
			Endpoint:    getString("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			Insecure:    os.Getenv("OTEL_EXPORTER_INSECURE") != "false",
			ServiceName: getString("OTEL_SERVICE_NAME", "ballotgate"),
			SampleRatio: getFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
