package feeder

import (
	"context"
	"sync"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/monitoring"
	"github.com/banshee-data/tankwatch/internal/timeutil"
)

var logf = monitoring.Tagged("feeder")

// Default topics.
const (
	DefaultCommandTopic = "tankwatch/feed/command"
	DefaultStatusTopic  = "tankwatch/feed/status"
)

// Publisher delivers one payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Recorder stores dispatched commands. The run store implements it.
type Recorder interface {
	RecordFeedCommand(ctx context.Context, cmd Command, res Result) error
}

// Result describes what a dispatch did. It never carries an error: delivery
// problems are reported per topic.
type Result struct {
	Skipped          bool     `json:"skipped"`
	Command          *Command `json:"command,omitempty"`
	Status           string   `json:"status_message,omitempty"`
	CommandPublished bool     `json:"command_published"`
	StatusPublished  bool     `json:"status_published"`
	Errors           []string `json:"errors,omitempty"`
}

// Delivered reports whether the command reached the broker.
func (r Result) Delivered() bool { return !r.Skipped && r.CommandPublished }

// Config names the topics and payload encoding.
type Config struct {
	CommandTopic string
	StatusTopic  string
	Format       Format
}

// Dispatcher publishes feed commands. Dispatch is safe for concurrent use;
// dispatches are serialised so command and status pairs never interleave.
type Dispatcher struct {
	cfg      Config
	pub      Publisher
	recorder Recorder
	clock    timeutil.Clock

	mu sync.Mutex
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(cfg Config, pub Publisher, recorder Recorder, clock timeutil.Clock) *Dispatcher {
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = DefaultCommandTopic
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = DefaultStatusTopic
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{cfg: cfg, pub: pub, recorder: recorder, clock: clock}
}

// Dispatch sends the feed command for s followed by its status line. A summary
// with no fish is a silent no-op. Failures are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, s decision.Summary, source Source) Result {
	if s.NumFish <= 0 {
		return Result{Skipped: true}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := NewCommand(s, source, d.clock.Now())
	res := Result{Command: &cmd, Status: cmd.StatusLine()}

	payload, err := cmd.Encode(d.cfg.Format)
	if err != nil {
		logf("encode command for run %s: %v", s.RunID, err)
		res.Errors = append(res.Errors, err.Error())
	} else if err := d.pub.Publish(d.cfg.CommandTopic, payload); err != nil {
		logf("publish to %s failed: %v", d.cfg.CommandTopic, err)
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.CommandPublished = true
	}

	if err := d.pub.Publish(d.cfg.StatusTopic, []byte(res.Status)); err != nil {
		logf("publish to %s failed: %v", d.cfg.StatusTopic, err)
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.StatusPublished = true
	}

	logf("%s (delivered=%t)", res.Status, res.CommandPublished)

	if d.recorder != nil {
		if err := d.recorder.RecordFeedCommand(ctx, cmd, res); err != nil {
			logf("record feed command for run %s: %v", s.RunID, err)
		}
	}
	return res
}
