package params

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Host        string
	Port        string
	CORSOrigins []string
	// SendBuffer is the per-connection outbound queue depth. A connection
	// whose queue is full drops messages rather than stalling a broadcast.
	SendBuffer int
}

type Batch struct {
	// Size is both the queue length that triggers an immediate flush and
	// the most entries one flush will take.
	Size int
	// Interval bounds how long an entry can wait when traffic is below Size.
	Interval time.Duration
}

type Market struct {
	Symbols []string
	Strict  bool // reject orders for symbols not in Symbols
}

type Log struct {
	Level string
	File  string
}

// Journal enables the pebble trade journal when Dir is set.
type Journal struct {
	Dir string
}

// Kafka enables the trade feed when Brokers is non-empty.
type Kafka struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Server  Server
	Batch   Batch
	Market  Market
	Log     Log
	Journal Journal
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Server: Server{
			Host:        "localhost",
			Port:        "6789",
			CORSOrigins: []string{"*"},
			SendBuffer:  256,
		},
		Batch: Batch{
			Size:     10,
			Interval: 10 * time.Millisecond,
		},
		Market: Market{
			Symbols: []string{"AAPL", "GOOG", "TSLA"},
		},
		Log: Log{
			Level: "info",
			File:  "data/exchange_gateway.log",
		},
		Kafka: Kafka{
			Topic: "trades",
		},
	}
}

// Addr is the listen address for the HTTP/WebSocket server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.Batch.Size)
	}
	if c.Batch.Interval <= 0 {
		return fmt.Errorf("processing interval must be positive, got %v", c.Batch.Interval)
	}
	if c.Server.SendBuffer < 1 {
		return fmt.Errorf("send buffer must be at least 1, got %d", c.Server.SendBuffer)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Server.Host = getEnv("EXCHANGE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("EXCHANGE_PORT", cfg.Server.Port)
	if origins := getList("CORS_ORIGINS"); len(origins) > 0 {
		cfg.Server.CORSOrigins = origins
	}
	if n, ok := getInt("SEND_BUFFER"); ok {
		cfg.Server.SendBuffer = n
	}

	if n, ok := getInt("BATCH_SIZE"); ok {
		cfg.Batch.Size = n
	}
	if ms, ok := getInt("PROCESSING_DELAY_MS"); ok {
		cfg.Batch.Interval = time.Duration(ms) * time.Millisecond
	}

	if symbols := getList("SUPPORTED_SYMBOLS"); len(symbols) > 0 {
		cfg.Market.Symbols = symbols
	}
	if strict := os.Getenv("STRICT_SYMBOLS"); strict != "" {
		cfg.Market.Strict = strict == "true"
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Journal.Dir = getEnv("JOURNAL_DIR", cfg.Journal.Dir)
	cfg.Kafka.Brokers = getList("KAFKA_BROKERS")
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt ignores values that do not parse, keeping the default.
func getInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
