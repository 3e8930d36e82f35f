package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/timeutil"
)

// SourceOpener opens the configured live source.
type SourceOpener interface {
	Open(ctx context.Context) (frames.Source, error)
}

// SourceOpenerFunc adapts a function to SourceOpener.
type SourceOpenerFunc func(ctx context.Context) (frames.Source, error)

func (f SourceOpenerFunc) Open(ctx context.Context) (frames.Source, error) { return f(ctx) }

// Broadcaster receives every encoded frame. *mjpeg.Stream satisfies it and
// serves the frames to any number of viewers.
type Broadcaster interface {
	UpdateJPEG(jpeg []byte)
}

// ReconnectConfig controls how often the producer retries an unavailable
// source. There is no retry limit: placeholder frames flow between attempts.
type ReconnectConfig struct {
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// calculateBackoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Avoid overflowing the shift for very long outages.
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// ProducerConfig tunes the producer loop.
type ProducerConfig struct {
	Reconnect ReconnectConfig
	// PlaceholderSize is the size of the blank frames sent while the source
	// is unavailable.
	PlaceholderSize measure.Size
	// PlaceholderInterval is the pacing of placeholder frames.
	PlaceholderInterval time.Duration
	// MaxReadFailures consecutive failed reads mark the source as lost.
	MaxReadFailures int
	// ReadRetryDelay is the pause after a failed read.
	ReadRetryDelay time.Duration
}

// DefaultProducerConfig returns 640x480 placeholders at 10 fps.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Reconnect:           DefaultReconnectConfig(),
		PlaceholderSize:     measure.Size{Width: 640, Height: 480},
		PlaceholderInterval: 100 * time.Millisecond,
		MaxReadFailures:     50,
		ReadRetryDelay:      20 * time.Millisecond,
	}
}

// Producer pulls frames from the live source on its own goroutine, hands each
// one to the session and then to the broadcaster.
type Producer struct {
	Config ProducerConfig

	session     *Session
	opener      SourceOpener
	encoder     frames.Encoder
	out         Broadcaster
	placeholder func(size measure.Size) frames.Frame
	clock       timeutil.Clock

	// OnSourceChange, when set, is told whether a real source is open.
	OnSourceChange func(live bool)
}

// NewProducer wires a producer. placeholder builds the blank frame emitted
// while the source is down.
func NewProducer(cfg ProducerConfig, session *Session, opener SourceOpener, enc frames.Encoder, out Broadcaster, placeholder func(measure.Size) frames.Frame) *Producer {
	return &Producer{
		Config:      cfg,
		session:     session,
		opener:      opener,
		encoder:     enc,
		out:         out,
		placeholder: placeholder,
		clock:       session.cfg.Clock,
	}
}

// Run opens the source and streams until ctx is cancelled. A source that
// cannot be opened, or that stops delivering frames, never ends the loop:
// placeholder frames are emitted while reconnect attempts back off.
func (p *Producer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := p.opener.Open(ctx)
		if err != nil {
			attempt++
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
			delay := calculateBackoff(attempt, p.Config.Reconnect)
			logf("%v; emitting placeholder frames, retry %d in %s", err, attempt, delay)
			p.setSource(false, true, attempt, err)
			if err := p.emitPlaceholders(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		logf("live source opened")
		p.setSource(true, false, 0, nil)
		err = p.pump(ctx, src)
		if cerr := src.Close(); cerr != nil {
			logf("closing live source: %v", cerr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.setSource(false, false, 0, nil)
			return ctxErr
		}
		logf("live source lost: %v; reconnecting", err)
		p.setSource(false, true, 0, err)
	}
}

func (p *Producer) setSource(live, placeholder bool, tries int, err error) {
	p.session.setSource(live, placeholder, tries, err)
	if p.OnSourceChange != nil {
		p.OnSourceChange(live)
	}
}

// pump reads until the source ends, fails too often, or ctx is cancelled.
func (p *Producer) pump(ctx context.Context, src frames.Source) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Read()
		if errors.Is(err, io.EOF) {
			return errors.New("source ended")
		}
		if err != nil {
			failures++
			if failures >= p.Config.MaxReadFailures {
				return fmt.Errorf("%d consecutive read failures: %w", failures, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.Config.ReadRetryDelay):
			}
			continue
		}
		failures = 0
		p.emit(f)
	}
}

// emit hands f to the session (and its recording sink) and then encodes the
// same instance for viewers.
func (p *Producer) emit(f frames.Frame) {
	defer f.Close()
	p.session.Observe(f)
	buf, err := p.encoder.EncodeJPEG(f)
	if err != nil {
		logf("encode frame: %v", err)
		return
	}
	p.out.UpdateJPEG(buf)
}

// emitPlaceholders sends blank frames for d, or until ctx is cancelled.
func (p *Producer) emitPlaceholders(ctx context.Context, d time.Duration) error {
	blank := p.placeholder(p.Config.PlaceholderSize)
	buf, err := p.encoder.EncodeJPEG(blank)
	blank.Close()
	if err != nil {
		logf("encode placeholder: %v", err)
	}

	send := func() {
		if len(buf) > 0 {
			p.out.UpdateJPEG(buf)
		}
	}
	send()

	ticker := p.clock.NewTicker(p.Config.PlaceholderInterval)
	defer ticker.Stop()
	deadline := p.clock.After(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C():
			send()
		}
	}
}
