package player

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"Resonate/song"
	"Resonate/store"

	"github.com/Strum355/log"
	"github.com/spf13/viper"
)

// Resolver turns a song into a playable stream URL. The aggregator implements
// this; it already handles per-source dispatch and cross-source fallback.
type Resolver interface {
	SongURL(ctx context.Context, s song.Song) string
}

// Engine owns the single audio sink and the playback session. All state
// transitions funnel through it; no other component touches the sink.
type Engine struct {
	mu      sync.Mutex
	sess    Session
	state   State
	lastErr error

	factory  SinkFactory
	sink     Sink
	sinkCfg  SinkConfig
	haveSink bool

	resolver Resolver
	kv       store.KV
	media    MediaSession
	rng      *rand.Rand

	// On platforms where backgrounding suspends the processing graph the
	// analyzer is never attached; background audio beats visualization.
	noAnalyzer bool
	retriedLow bool
	visible    bool
}

func NewEngine(factory SinkFactory, resolver Resolver, kv store.KV, media MediaSession) *Engine {
	if media == nil {
		media = NoopMediaSession{}
	}
	e := &Engine{
		factory:    factory,
		resolver:   resolver,
		kv:         kv,
		media:      media,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		noAnalyzer: viper.GetBool("platform.background_suspends_audio"),
		visible:    true,
	}
	e.sess.Mode = ModeSequence
	e.sess.Quality = song.Quality(viper.GetString("audio.quality"))
	if e.sess.Quality != song.Quality320 && e.sess.Quality != song.Quality128 {
		e.sess.Quality = song.Quality320
	}
	return e
}

// RestoreSession rehydrates queue, current song, mode and quality from the
// store. Nothing starts playing; the restored song needs a fresh resolution.
func (e *Engine) RestoreSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.restore(e.kv)
}

// PlaySong starts playback of a song. Calling it again with the song that is
// already loaded toggles play/pause instead of re-resolving.
func (e *Engine) PlaySong(ctx context.Context, s song.Song) error {
	if !s.IsValidID || song.IsPlaceholderID(s.ID) {
		return fmt.Errorf("player: %q has no resolvable id", s.Name)
	}

	e.mu.Lock()
	if e.sameCurrentLocked(s) && e.haveSink && e.state != StateIdle && e.state != StateLoading {
		e.togglePlayLocked()
		e.mu.Unlock()
		return nil
	}
	quality := e.sess.Quality
	e.retriedLow = false
	e.mu.Unlock()

	return e.load(ctx, s, quality, 0)
}

func (e *Engine) sameCurrentLocked(s song.Song) bool {
	return e.sess.Current != nil &&
		e.sess.Current.ID == s.ID &&
		e.sess.Current.Source == s.Source
}

// load resolves and starts one song at one quality. The resolution happens
// outside the lock; a newer PlaySong call wins by identity comparison and the
// stale result is dropped silently.
func (e *Engine) load(ctx context.Context, s song.Song, quality song.Quality, resume time.Duration) error {
	e.mu.Lock()
	e.state = StateLoading
	current := s
	current.URL = ""
	e.sess.Current = &current
	e.sess.enqueue(s)
	e.sess.Quality = quality
	e.sess.persist(e.kv)
	e.updateMediaLocked()
	e.mu.Unlock()

	url := e.resolver.SongURL(ctx, s)

	e.mu.Lock()
	if !e.sameCurrentLocked(s) {
		// A newer request replaced this song mid-resolution.
		e.mu.Unlock()
		return nil
	}
	if url == "" {
		e.state = StateIdle
		e.sess.Playing = false
		e.sess.persist(e.kv)
		e.updateMediaLocked()
		e.mu.Unlock()
		return fmt.Errorf("player: no stream URL for %q", s.Name)
	}
	e.sess.Current.URL = url

	if err := e.ensureSinkLocked(SinkConfig{CORS: true, Analyzer: !e.noAnalyzer}); err != nil {
		e.state = StateIdle
		e.mu.Unlock()
		return err
	}
	sink := e.sink
	e.mu.Unlock()

	// Loading fetches and decodes the stream, which can take a while; it runs
	// unlocked like the resolution above, with the same stale check after.
	loadErr := sink.Load(ctx, url)

	e.mu.Lock()
	if !e.sameCurrentLocked(s) || !e.haveSink || e.sink != sink {
		e.mu.Unlock()
		return nil
	}
	if loadErr != nil {
		return e.failLocked(ctx, s, loadErr)
	}
	if resume > 0 {
		// Quality-only switches pick up where the previous stream stopped.
		e.sink.Seek(resume)
	}

	// Optimistic: report playing before the sink confirms, so quality
	// switches don't flicker through a paused-looking state.
	e.state = StatePlaying
	e.sess.Playing = true
	e.sess.persist(e.kv)
	e.updateMediaLocked()

	if err := e.sink.Play(); err != nil {
		return e.failLocked(ctx, s, err)
	}
	e.mu.Unlock()
	return nil
}

// failLocked handles a playback failure. Exactly one automatic retry happens,
// at the lowest quality tier; any further failure is terminal. The mutex is
// held on entry and released on exit.
func (e *Engine) failLocked(ctx context.Context, s song.Song, err error) error {
	if e.sess.Quality != song.Lowest() && !e.retriedLow {
		e.retriedLow = true
		e.state = StateErrorRetry
		resume := time.Duration(0)
		if e.haveSink {
			resume = e.sink.Position()
		}
		e.mu.Unlock()

		log.WithFields(log.Fields{"song": s.Name}).WithError(err).
			Info("Playback failed, retrying at lowest quality")
		return e.load(ctx, s, song.Lowest(), resume)
	}

	e.state = StateIdle
	e.sess.Playing = false
	e.lastErr = err
	e.sess.persist(e.kv)
	e.updateMediaLocked()
	e.mu.Unlock()

	log.WithFields(log.Fields{"song": s.Name}).WithError(err).Error("Playback failed, giving up")
	return err
}

// ensureSinkLocked rebuilds the sink when the required configuration differs
// from the current one, tearing the old sink down first.
func (e *Engine) ensureSinkLocked(cfg SinkConfig) error {
	if e.haveSink && e.sinkCfg == cfg {
		return nil
	}
	if e.haveSink {
		e.sink.Close()
		e.haveSink = false
	}
	sink, err := e.factory.New(cfg, e.onTrackEnd, e.onSinkError)
	if err != nil {
		return err
	}
	e.sink = sink
	e.sinkCfg = cfg
	e.haveSink = true
	if as, ok := sink.(AnalyzerSink); ok && cfg.Analyzer {
		as.SetAnalyzerConnected(e.visible)
	}
	return nil
}

// onTrackEnd advances the queue when a track finishes naturally. Loop mode
// restarts in place without touching the network.
func (e *Engine) onTrackEnd() {
	e.mu.Lock()
	if e.sess.Current == nil {
		e.mu.Unlock()
		return
	}

	if e.sess.Mode == ModeLoop {
		sink := e.sink
		e.state = StatePlaying
		e.sess.Playing = true
		e.updateMediaLocked()
		e.mu.Unlock()
		sink.Seek(0)
		sink.Play()
		return
	}

	next, ok := e.sess.nextSong(e.rng)
	if !ok {
		e.state = StateIdle
		e.sess.Playing = false
		e.sess.persist(e.kv)
		e.updateMediaLocked()
		e.mu.Unlock()
		return
	}
	quality := e.sess.Quality
	e.retriedLow = false
	e.mu.Unlock()

	if err := e.load(context.Background(), next, quality, 0); err != nil {
		log.WithFields(log.Fields{"song": next.Name}).WithError(err).Error("Failed to advance queue")
	}
}

func (e *Engine) onSinkError(err error) {
	e.mu.Lock()
	if e.sess.Current == nil {
		e.mu.Unlock()
		return
	}
	s := *e.sess.Current
	e.failLocked(context.Background(), s, err)
}

// TogglePlay flips play/pause for the loaded track.
func (e *Engine) TogglePlay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.togglePlayLocked()
}

func (e *Engine) togglePlayLocked() {
	if !e.haveSink || e.sess.Current == nil {
		return
	}
	switch e.state {
	case StatePlaying:
		e.sink.Pause()
		e.state = StatePaused
		e.sess.Playing = false
	case StatePaused:
		if err := e.sink.Play(); err != nil {
			return
		}
		e.state = StatePlaying
		e.sess.Playing = true
	default:
		return
	}
	e.sess.persist(e.kv)
	e.updateMediaLocked()
}

// Next skips to the following queue entry. Loop mode advances like sequence
// on an explicit skip.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	mode := e.sess.Mode
	if mode == ModeLoop {
		e.sess.Mode = ModeSequence
	}
	next, ok := e.sess.nextSong(e.rng)
	e.sess.Mode = mode
	if !ok {
		e.mu.Unlock()
		return nil
	}
	quality := e.sess.Quality
	e.retriedLow = false
	e.mu.Unlock()

	return e.load(ctx, next, quality, 0)
}

// SetQuality switches the quality tier. A loaded track is re-resolved at the
// new tier and resumes from its previous position.
func (e *Engine) SetQuality(ctx context.Context, quality song.Quality) error {
	if quality != song.Quality320 && quality != song.Quality128 {
		return fmt.Errorf("player: unknown quality %q", quality)
	}

	e.mu.Lock()
	if e.sess.Quality == quality {
		e.mu.Unlock()
		return nil
	}
	if e.sess.Current == nil || !e.haveSink {
		e.sess.Quality = quality
		e.sess.persist(e.kv)
		e.mu.Unlock()
		return nil
	}
	current := *e.sess.Current
	resume := e.sink.Position()
	e.retriedLow = false
	e.mu.Unlock()

	return e.load(ctx, current, quality, resume)
}

// SetMode switches the queue advancement policy.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch mode {
	case ModeSequence, ModeLoop, ModeShuffle:
		e.sess.Mode = mode
		e.sess.persist(e.kv)
	}
}

// SetVisible toggles the analyzer connection across visibility transitions.
// Audio keeps flowing either way; only the visualization tap moves.
func (e *Engine) SetVisible(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = visible
	if !e.haveSink || e.noAnalyzer || !e.sinkCfg.Analyzer {
		return
	}
	if as, ok := e.sink.(AnalyzerSink); ok {
		as.SetAnalyzerConnected(visible)
	}
}

// RemoveFromQueue drops a song from the queue without touching playback.
func (e *Engine) RemoveFromQueue(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.remove(id)
	e.sess.persist(e.kv)
}

// Analyzer returns the current sink's analysis tap, or nil when none is
// attached.
func (e *Engine) Analyzer() Analyzer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveSink || !e.sinkCfg.Analyzer {
		return nil
	}
	if as, ok := e.sink.(AnalyzerSink); ok {
		return as.Analyzer()
	}
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Current() *song.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Current == nil {
		return nil
	}
	cp := *e.sess.Current
	return &cp
}

func (e *Engine) Queue() []song.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]song.Song, len(e.sess.Queue))
	copy(out, e.sess.Queue)
	return out
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Mode
}

func (e *Engine) Quality() song.Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Quality
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Playing
}

func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Position reports the sink position, for progress display.
func (e *Engine) Position() (time.Duration, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveSink {
		return 0, 0
	}
	return e.sink.Position(), e.sink.Duration()
}

// Stop tears the sink down and clears playback state; the queue survives.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.haveSink {
		e.sink.Close()
		e.haveSink = false
	}
	e.state = StateIdle
	e.sess.Playing = false
	e.sess.persist(e.kv)
	e.updateMediaLocked()
}

func (e *Engine) updateMediaLocked() {
	e.media.SetMetadata(e.sess.Current)
	e.media.SetPlaybackState(e.sess.Playing)
	if e.haveSink {
		e.media.SetPosition(e.sink.Position(), e.sink.Duration())
	}
}
