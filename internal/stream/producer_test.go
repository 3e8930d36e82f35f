package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/timeutil"
)

type fakeSource struct {
	mu     sync.Mutex
	frames []frames.Frame
	errs   []error
	closed bool
}

func (s *fakeSource) Read() (frames.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSource) FPS() float64 { return 15 }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type recordingEncoder struct {
	mu      sync.Mutex
	encoded []frames.Frame
}

func (e *recordingEncoder) EncodeJPEG(f frames.Frame) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoded = append(e.encoded, f)
	size := f.Size()
	return []byte{byte(size.Width), byte(size.Height)}, nil
}

func (e *recordingEncoder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoded)
}

type fakeBroadcast struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *fakeBroadcast) UpdateJPEG(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, buf)
}

func (b *fakeBroadcast) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func blankPlaceholder(size measure.Size) frames.Frame {
	return frames.Blank(size.Width, size.Height)
}

func fastProducerConfig() ProducerConfig {
	return ProducerConfig{
		Reconnect:           ReconnectConfig{RetryDelay: 5 * time.Millisecond, MaxRetryDelay: 20 * time.Millisecond},
		PlaceholderSize:     measure.Size{Width: 64, Height: 48},
		PlaceholderInterval: time.Millisecond,
		MaxReadFailures:     3,
		ReadRetryDelay:      time.Millisecond,
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestProducer_SameFrameRecordedAndEncoded(t *testing.T) {
	s, sinks, _ := newTestSession(t)
	s.Observe(frames.Blank(16, 16))
	_, err := s.StartRecording()
	require.NoError(t, err)

	f1, f2 := frames.Blank(16, 16), frames.Blank(16, 16)
	src := &fakeSource{frames: []frames.Frame{f1, f2}}
	var opens int32
	opener := SourceOpenerFunc(func(ctx context.Context) (frames.Source, error) {
		if atomic.AddInt32(&opens, 1) == 1 {
			return src, nil
		}
		return nil, errors.New("camera gone")
	})

	enc := &recordingEncoder{}
	out := &fakeBroadcast{}
	p := NewProducer(fastProducerConfig(), s, opener, enc, out, blankPlaceholder)
	// The session uses a mock clock; drive the producer with real time.
	p.clock = timeutil.RealClock{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return enc.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	sink := sinks.sinks[0]
	sink.mu.Lock()
	written := append([]frames.Frame(nil), sink.written...)
	sink.mu.Unlock()
	require.Len(t, written, 2)

	enc.mu.Lock()
	defer enc.mu.Unlock()
	assert.Same(t, written[0], enc.encoded[0])
	assert.Same(t, written[1], enc.encoded[1])
	assert.True(t, f1.Closed())
	assert.True(t, f2.Closed())
	assert.True(t, src.closed)
}

func TestProducer_PlaceholdersWhileUnavailable(t *testing.T) {
	s, _, _ := newTestSession(t)
	opener := SourceOpenerFunc(func(ctx context.Context) (frames.Source, error) {
		return nil, errors.New("connection refused")
	})
	enc := &recordingEncoder{}
	out := &fakeBroadcast{}
	p := NewProducer(fastProducerConfig(), s, opener, enc, out, blankPlaceholder)
	p.clock = timeutil.RealClock{}

	var liveEvents []bool
	var mu sync.Mutex
	p.OnSourceChange = func(live bool) {
		mu.Lock()
		liveEvents = append(liveEvents, live)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().ReconnectTries >= 2 && out.count() >= 5 }, time.Second, time.Millisecond)
	cancel()
	<-done

	st := s.Status()
	assert.True(t, st.Placeholder)
	assert.Equal(t, StateIdle, st.State)
	assert.Contains(t, st.LastError, ErrSourceUnavailable.Error())
	// Placeholders never count as observed frames.
	assert.False(t, st.HasFrame)

	_, err := s.CaptureSnapshot()
	assert.ErrorIs(t, err, ErrNoFrameAvailable)

	out.mu.Lock()
	assert.Equal(t, []byte{64, 48}, out.frames[0])
	out.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	for _, live := range liveEvents {
		assert.False(t, live)
	}
}

func TestProducer_ReconnectsAfterReadFailures(t *testing.T) {
	s, _, _ := newTestSession(t)
	failing := &fakeSource{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	healthy := &fakeSource{frames: []frames.Frame{frames.Blank(8, 8)}}

	var opens int32
	opener := SourceOpenerFunc(func(ctx context.Context) (frames.Source, error) {
		switch atomic.AddInt32(&opens, 1) {
		case 1:
			return failing, nil
		case 2:
			return healthy, nil
		default:
			return nil, errors.New("gone")
		}
	})
	enc := &recordingEncoder{}
	out := &fakeBroadcast{}
	p := NewProducer(fastProducerConfig(), s, opener, enc, out, blankPlaceholder)
	p.clock = timeutil.RealClock{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().FramesProduced == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&opens), int32(2))
}

func TestProducer_StopsOnCancelWhileWaiting(t *testing.T) {
	s, _, _ := newTestSession(t)
	opener := SourceOpenerFunc(func(ctx context.Context) (frames.Source, error) {
		return nil, errors.New("down")
	})
	cfg := fastProducerConfig()
	cfg.Reconnect = ReconnectConfig{RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	p := NewProducer(cfg, s, opener, &recordingEncoder{}, &fakeBroadcast{}, blankPlaceholder)
	p.clock = timeutil.RealClock{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("producer did not stop")
	}
}
