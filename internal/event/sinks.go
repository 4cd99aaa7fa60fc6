package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ljramones/lore-ingestor/internal/logging"
)

// Sink delivers one payload somewhere.
type Sink interface {
	Name() string
	Emit(ctx context.Context, r Record) error
	Close() error
}

// DefaultSubject is the Redis list / NATS subject used when none is
// configured.
const DefaultSubject = "document.ingested"

// --- stdout ---

type stdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink writes one JSON line per record to w (os.Stdout when nil).
func NewStdoutSink(w io.Writer) Sink {
	if w == nil {
		w = os.Stdout
	}
	return &stdoutSink{w: w}
}

func (s *stdoutSink) Name() string { return "stdout" }

func (s *stdoutSink) Emit(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *stdoutSink) Close() error { return nil }

// --- http ---

type httpSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink POSTs each record as JSON to url with a short timeout.
func NewHTTPSink(url string) Sink {
	return &httpSink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *httpSink) Name() string { return "http" }

func (s *httpSink) Emit(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post event: status %s", resp.Status)
	}
	return nil
}

func (s *httpSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// --- redis ---

type redisSink struct {
	client *redis.Client
	list   string
}

// NewRedisSink RPUSHes each record onto a named list, queue-style.
func NewRedisSink(rawURL, list string) (Sink, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if list == "" {
		list = DefaultSubject
	}
	return &redisSink{client: redis.NewClient(opts), list: list}, nil
}

func (s *redisSink) Name() string { return "redis" }

func (s *redisSink) Emit(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.RPush(ctx, s.list, data).Err(); err != nil {
		return fmt.Errorf("rpush %q: %w", s.list, err)
	}
	return nil
}

func (s *redisSink) Close() error { return s.client.Close() }

// --- nats ---

type natsSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink publishes each record on a subject over one long-lived
// connection.
func NewNATSSink(url, subject string) (Sink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url, nats.Name("lore-ingestor"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", url, err)
	}
	return &natsSink{conn: conn, subject: subject}, nil
}

func (s *natsSink) Name() string { return "nats" }

func (s *natsSink) Emit(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish %q: %w", s.subject, err)
	}
	return nil
}

func (s *natsSink) Close() error { return s.conn.Drain() }

// --- none ---

type noneSink struct{}

func (noneSink) Name() string                       { return "none" }
func (noneSink) Emit(context.Context, Record) error { return nil }
func (noneSink) Close() error                       { return nil }

// NewNoneSink discards every record.
func NewNoneSink() Sink { return noneSink{} }

// --- construction ---

// Options selects and parameterizes the sink set. Kinds lists sink names
// from stdout|http|redis|nats|none.
type Options struct {
	Kinds       []string
	HTTPURL     string
	RedisURL    string
	RedisList   string
	NATSURL     string
	NATSSubject string
	Stdout      io.Writer
}

// BuildSinks constructs one sink per configured kind. A kind whose
// construction fails degrades to stdout (at most one stdout sink total) so
// events keep flowing somewhere.
func BuildSinks(opts Options, logger *slog.Logger) []Sink {
	log := logging.Default(logger).With("component", "event")

	var (
		sinks      []Sink
		haveStdout bool
	)
	addStdout := func() {
		if !haveStdout {
			sinks = append(sinks, NewStdoutSink(opts.Stdout))
			haveStdout = true
		}
	}
	degrade := func(kind string, err error) {
		log.Error("event.sink.init.error", "sink", kind, "error", err)
		addStdout()
	}

	for _, kind := range opts.Kinds {
		switch kind = strings.ToLower(strings.TrimSpace(kind)); kind {
		case "", "stdout":
			addStdout()
		case "none":
			sinks = append(sinks, NewNoneSink())
		case "http":
			if opts.HTTPURL == "" {
				degrade(kind, errors.New("EMIT_HTTP_URL is required for the http sink"))
				continue
			}
			sinks = append(sinks, NewHTTPSink(opts.HTTPURL))
		case "redis":
			if opts.RedisURL == "" {
				degrade(kind, errors.New("EMIT_REDIS_URL is required for the redis sink"))
				continue
			}
			sink, err := NewRedisSink(opts.RedisURL, opts.RedisList)
			if err != nil {
				degrade(kind, err)
				continue
			}
			sinks = append(sinks, sink)
		case "nats":
			sink, err := NewNATSSink(opts.NATSURL, opts.NATSSubject)
			if err != nil {
				degrade(kind, err)
				continue
			}
			sinks = append(sinks, sink)
		default:
			degrade(kind, fmt.Errorf("unknown sink kind %q", kind))
		}
	}

	if len(sinks) == 0 {
		addStdout()
	}
	return sinks
}
