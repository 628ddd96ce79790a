package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	sinkSampleRate = beep.SampleRate(44100)
	speakerBuffer  = 200 * time.Millisecond
	analyzerBands  = 32
)

var speakerOnce sync.Once

// BeepFactory builds speaker-backed sinks. One speaker is initialized for the
// process; sinks share it and clear it on rebuild.
type BeepFactory struct {
	HTTP *http.Client
}

func (f *BeepFactory) New(cfg SinkConfig, onEnded func(), onError func(error)) (Sink, error) {
	var initErr error
	speakerOnce.Do(func() {
		initErr = speaker.Init(sinkSampleRate, sinkSampleRate.N(speakerBuffer))
	})
	if initErr != nil {
		return nil, initErr
	}

	httpc := f.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	s := &BeepSink{
		cfg:     cfg,
		http:    httpc,
		onEnded: onEnded,
		onError: onError,
	}
	if cfg.Analyzer {
		s.tap = &analyzerTap{}
	}
	return s, nil
}

// BeepSink streams a resolved URL to the speakers. It is the engine's audio
// element: load replaces the stream, the control node pauses and resumes, and
// the optional analyzer tap feeds the visualizer.
type BeepSink struct {
	mu       sync.Mutex
	cfg      SinkConfig
	http     *http.Client
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	tap      *analyzerTap
	onEnded  func()
	onError  func(error)
}

func (s *BeepSink) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("player: stream fetch returned %d", resp.StatusCode)
	}

	streamer, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	speaker.Clear()
	if s.streamer != nil {
		s.streamer.Close()
	}
	s.streamer = streamer
	s.format = format

	var top beep.Streamer = streamer
	if format.SampleRate != sinkSampleRate {
		top = beep.Resample(4, format.SampleRate, sinkSampleRate, streamer)
	}
	// The callback fires on the speaker goroutine while it holds its own
	// lock; dispatch so the engine can touch the sink again.
	done := beep.Callback(func() {
		go s.finished()
	})
	s.ctrl = &beep.Ctrl{Streamer: beep.Seq(top, done), Paused: true}

	if s.tap != nil {
		s.tap.inner = s.ctrl
		speaker.Play(s.tap)
	} else {
		speaker.Play(s.ctrl)
	}
	return nil
}

func (s *BeepSink) finished() {
	s.mu.Lock()
	streamer := s.streamer
	s.mu.Unlock()

	if streamer != nil && streamer.Err() != nil {
		if s.onError != nil {
			s.onError(streamer.Err())
		}
		return
	}
	if s.onEnded != nil {
		s.onEnded()
	}
}

func (s *BeepSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return errors.New("player: no stream loaded")
	}
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (s *BeepSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *BeepSink) Seek(pos time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return
	}
	speaker.Lock()
	n := s.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if max := s.streamer.Len(); n > max {
		n = max
	}
	s.streamer.Seek(n)
	speaker.Unlock()
}

func (s *BeepSink) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := s.streamer.Position()
	speaker.Unlock()
	return s.format.SampleRate.D(pos)
}

func (s *BeepSink) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	return s.format.SampleRate.D(s.streamer.Len())
}

func (s *BeepSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	speaker.Clear()
	if s.streamer != nil {
		err := s.streamer.Close()
		s.streamer = nil
		s.ctrl = nil
		return err
	}
	return nil
}

func (s *BeepSink) Analyzer() Analyzer {
	if s.tap == nil {
		return nil
	}
	return s.tap
}

func (s *BeepSink) SetAnalyzerConnected(connected bool) {
	if s.tap != nil {
		s.tap.setConnected(connected)
	}
}

// analyzerTap sits between the control node and the speaker, folding each
// sample block into coarse band energies. Not a true FFT, but enough signal
// for a bar spectrum.
type analyzerTap struct {
	mu        sync.Mutex
	inner     beep.Streamer
	connected bool
	bands     [analyzerBands]float64
}

func (t *analyzerTap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.inner.Stream(samples)

	t.mu.Lock()
	if t.connected && n > 0 {
		chunk := n / analyzerBands
		if chunk == 0 {
			chunk = 1
		}
		for b := 0; b < analyzerBands; b++ {
			start := b * chunk
			if start >= n {
				t.bands[b] = 0
				continue
			}
			end := start + chunk
			if end > n {
				end = n
			}
			sum := 0.0
			for i := start; i < end; i++ {
				mono := (samples[i][0] + samples[i][1]) / 2
				sum += mono * mono
			}
			t.bands[b] = math.Sqrt(sum / float64(end-start))
		}
	}
	t.mu.Unlock()
	return n, ok
}

func (t *analyzerTap) Err() error {
	return t.inner.Err()
}

func (t *analyzerTap) setConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	if !connected {
		t.bands = [analyzerBands]float64{}
	}
	t.mu.Unlock()
}

func (t *analyzerTap) Magnitudes() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, analyzerBands)
	copy(out, t.bands[:])
	return out
}
