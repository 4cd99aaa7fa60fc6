// Package config reads service configuration from the environment.
//
// All knobs are plain environment variables with defaults chosen for local
// use. An optional .env file in the working directory is loaded first so
// development setups can keep their environment in one place; a missing
// file is not an error.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sink names accepted by EMIT_SINK.
const (
	SinkStdout = "stdout"
	SinkHTTP   = "http"
	SinkRedis  = "redis"
	SinkNATS   = "nats"
	SinkNone   = "none"
)

// Config is the full runtime configuration of the ingestor.
type Config struct {
	DBPath   string
	HTTPAddr string

	Inbox      string
	SuccessDir string
	FailDir    string
	AllowedExt []string
	MaxFileMB  int

	WatchWorkers     int
	WatchMaxQueue    int
	WatchStable      time.Duration
	WatchPoll        time.Duration
	WatchRetries     int
	WatchBackoffBase time.Duration
	WatchRecursive   bool

	DefaultProfile   string
	DocxStripHeaders bool

	EmitSinks       []string
	EmitHTTPURL     string
	EmitRedisURL    string
	EmitRedisList   string
	EmitNATSURL     string
	EmitNATSSubject string

	RateLimitRPS   float64
	RateLimitBurst int

	PushgatewayURL      string
	PushgatewayJob      string
	PushgatewayInstance string
	PushgatewayMode     string
	PushInterval        time.Duration

	LogLevel  string
	LogFormat string
}

// FromEnv loads .env if present, then builds a Config from the environment
// and validates it.
func FromEnv() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:   str("DB_PATH", "lore.db"),
		HTTPAddr: str("HTTP_ADDR", ":8099"),

		Inbox:      str("INBOX", "inbox"),
		SuccessDir: str("SUCCESS_DIR", "success"),
		FailDir:    str("FAIL_DIR", "fail"),
		AllowedExt: extList(str("ALLOWED_EXT", ".txt,.md,.pdf,.docx")),
		MaxFileMB:  integer("MAX_FILE_MB", 20),

		WatchWorkers:     integer("WATCH_WORKERS", 2),
		WatchMaxQueue:    integer("WATCH_MAX_QUEUE", 256),
		WatchStable:      millis("WATCH_STABLE_MS", 500),
		WatchPoll:        seconds("WATCH_POLL_SECONDS", 5),
		WatchRetries:     integer("WATCH_RETRIES", 3),
		WatchBackoffBase: millis("WATCH_BACKOFF_BASE_MS", 250),
		WatchRecursive:   boolean("WATCH_RECURSIVE", false),

		DefaultProfile:   str("INGEST_PROFILE", "default"),
		DocxStripHeaders: boolean("DOCX_STRIP_HEADERS", false),

		EmitSinks:       sinkList(str("EMIT_SINK", SinkStdout)),
		EmitHTTPURL:     str("EMIT_HTTP_URL", ""),
		EmitRedisURL:    str("EMIT_REDIS_URL", ""),
		EmitRedisList:   str("EMIT_REDIS_LIST", "lore_ingest_events"),
		EmitNATSURL:     str("EMIT_NATS_URL", ""),
		EmitNATSSubject: str("EMIT_NATS_SUBJECT", "lore.ingest.events"),

		RateLimitRPS: float("RATE_LIMIT_RPS", 0),

		PushgatewayURL:      str("PUSHGATEWAY_URL", ""),
		PushgatewayJob:      str("PUSHGATEWAY_JOB", "lore_ingest"),
		PushgatewayInstance: str("PUSHGATEWAY_INSTANCE", defaultInstance()),
		PushgatewayMode:     strings.ToLower(str("PUSHGATEWAY_MODE", "pushadd")),
		PushInterval:        seconds("PUSH_INTERVAL_SECONDS", 15),

		LogLevel:  str("LOG_LEVEL", "info"),
		LogFormat: str("LOG_FORMAT", "text"),
	}
	cfg.RateLimitBurst = integer("RATE_LIMIT_BURST", int(cfg.RateLimitRPS*2))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum fields and numeric sanity.
func (c *Config) Validate() error {
	for _, sink := range c.EmitSinks {
		switch sink {
		case SinkStdout, SinkHTTP, SinkRedis, SinkNATS, SinkNone:
		default:
			return fmt.Errorf("config: EMIT_SINK %q is not one of stdout|http|redis|nats|none", sink)
		}
	}
	if len(c.EmitSinks) == 0 {
		return fmt.Errorf("config: EMIT_SINK resolved to an empty list")
	}
	switch c.PushgatewayMode {
	case "push", "pushadd":
	default:
		return fmt.Errorf("config: PUSHGATEWAY_MODE %q is not one of push|pushadd", c.PushgatewayMode)
	}
	if c.WatchWorkers < 1 {
		return fmt.Errorf("config: WATCH_WORKERS must be >= 1, got %d", c.WatchWorkers)
	}
	if c.WatchMaxQueue < 1 {
		return fmt.Errorf("config: WATCH_MAX_QUEUE must be >= 1, got %d", c.WatchMaxQueue)
	}
	if c.MaxFileMB < 1 {
		return fmt.Errorf("config: MAX_FILE_MB must be >= 1, got %d", c.MaxFileMB)
	}
	if len(c.AllowedExt) == 0 {
		return fmt.Errorf("config: ALLOWED_EXT resolved to an empty list")
	}
	return nil
}

// MaxFileBytes returns the file size cap in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileMB) * 1024 * 1024
}

// AllowedExtSet returns the allowed extensions as a lookup set.
func (c *Config) AllowedExtSet() map[string]bool {
	set := make(map[string]bool, len(c.AllowedExt))
	for _, ext := range c.AllowedExt {
		set[ext] = true
	}
	return set
}

// sinkList splits a comma-separated sink list, lowercased. Duplicate kinds
// are collapsed; order of first appearance is kept.
func sinkList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		sink := strings.ToLower(strings.TrimSpace(part))
		if sink == "" || seen[sink] {
			continue
		}
		seen[sink] = true
		out = append(out, sink)
	}
	return out
}

// extList splits a comma-separated extension list, lowercases each entry,
// and guarantees a leading dot. Empty entries are dropped.
func extList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}

func str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func integer(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func float(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func millis(key string, def int) time.Duration {
	return time.Duration(integer(key, def)) * time.Millisecond
}

func seconds(key string, def int) time.Duration {
	return time.Duration(integer(key, def)) * time.Second
}
