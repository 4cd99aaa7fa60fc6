package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ljramones/lore-ingestor/internal/logging"
)

// Pushgateway modes. ModeAdd replaces only metrics pushed under this job and
// grouping (Add semantics); ModeReplace replaces the whole group (Push).
const (
	ModeAdd     = "pushadd"
	ModeReplace = "push"
)

// PushOptions configures the periodic pushgateway pusher.
type PushOptions struct {
	URL      string        // pushgateway base URL, e.g. http://pushgw:9091
	Job      string        // job label
	Instance string        // grouping label value; empty omits the label
	Mode     string        // ModeAdd or ModeReplace
	Interval time.Duration // time between pushes
}

// Pusher periodically pushes a registry to a Prometheus pushgateway.
// Failures log and the next tick retries; a dead gateway never affects
// ingestion.
type Pusher struct {
	scheduler gocron.Scheduler
	pusher    *push.Pusher
	mode      string
	logger    *slog.Logger
}

// NewPusher builds a pusher for the gatherer. Start begins the schedule.
func NewPusher(g prometheus.Gatherer, opts PushOptions, logger *slog.Logger) (*Pusher, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("pushgateway URL is empty")
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}

	pp := push.New(opts.URL, opts.Job).Gatherer(g)
	if opts.Instance != "" {
		pp = pp.Grouping("instance", opts.Instance)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create push scheduler: %w", err)
	}

	p := &Pusher{
		scheduler: sched,
		pusher:    pp,
		mode:      opts.Mode,
		logger:    logging.Default(logger).With("component", "pushgateway"),
	}

	_, err = sched.NewJob(
		gocron.DurationJob(opts.Interval),
		gocron.NewTask(p.pushOnce),
		gocron.WithName("pushgateway-push"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("create push job: %w", err)
	}
	return p, nil
}

// Start begins periodic pushing.
func (p *Pusher) Start() {
	p.scheduler.Start()
	p.logger.Info("pushgateway.start", "mode", p.mode)
}

// Stop halts the schedule and waits for an in-flight push to finish.
func (p *Pusher) Stop() error {
	return p.scheduler.Shutdown()
}

func (p *Pusher) pushOnce() {
	var err error
	if p.mode == ModeReplace {
		err = p.pusher.Push()
	} else {
		err = p.pusher.Add()
	}
	if err != nil {
		p.logger.Warn("pushgateway.push.error", "error", err)
	}
}
