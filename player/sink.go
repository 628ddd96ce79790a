package player

import (
	"context"
	"time"

	"Resonate/song"
)

// SinkConfig is the output sink configuration the engine requires for the
// current stream. CORS mode and analyzer attachment are both practically
// immutable once a sink exists, so a config change forces a rebuild.
type SinkConfig struct {
	CORS     bool
	Analyzer bool
}

// Sink is one audio output. The engine owns exactly one at a time and tears
// it down before building a replacement.
type Sink interface {
	Load(ctx context.Context, url string) error
	Play() error
	Pause()
	Seek(pos time.Duration)
	Position() time.Duration
	Duration() time.Duration
	Close() error
}

// Analyzer exposes frequency-domain magnitudes for the visualizer.
type Analyzer interface {
	Magnitudes() []float64
}

// AnalyzerSink is a sink carrying an analysis tap. The tap is attached once
// per sink instance; connection can be toggled across visibility transitions
// without rebuilding the sink.
type AnalyzerSink interface {
	Sink
	Analyzer() Analyzer
	SetAnalyzerConnected(connected bool)
}

// SinkFactory builds sinks for a required configuration. The ended/error
// callbacks are wired at construction, mirroring media element events.
type SinkFactory interface {
	New(cfg SinkConfig, onEnded func(), onError func(error)) (Sink, error)
}

// MediaSession mirrors playback state to OS-level media controls.
// Implementations are best-effort; the engine never depends on them.
type MediaSession interface {
	SetMetadata(s *song.Song)
	SetPlaybackState(playing bool)
	SetPosition(position, duration time.Duration)
}

// NoopMediaSession is used where the platform exposes no media controls.
type NoopMediaSession struct{}

func (NoopMediaSession) SetMetadata(*song.Song)                   {}
func (NoopMediaSession) SetPlaybackState(bool)                    {}
func (NoopMediaSession) SetPosition(time.Duration, time.Duration) {}
