package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Resonate/song"
	"Resonate/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTap struct {
	connected bool
}

func (t *fakeTap) Magnitudes() []float64 { return []float64{0.5, 0.25} }

type fakeSink struct {
	mu      sync.Mutex
	factory *fakeFactory
	cfg     SinkConfig
	tap     fakeTap

	loads      []string
	playCalls  int
	pauseCalls int
	seeks      []time.Duration
	pos        time.Duration
	closed     bool
}

func (s *fakeSink) Load(_ context.Context, url string) error {
	s.mu.Lock()
	s.loads = append(s.loads, url)
	s.mu.Unlock()
	if gate := s.factory.gate(); gate != nil {
		<-gate
	}
	return s.factory.popLoadErr()
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playCalls++
	return s.factory.playErr
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls++
}

func (s *fakeSink) Seek(pos time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, pos)
}

func (s *fakeSink) Position() time.Duration { return s.pos }
func (s *fakeSink) Duration() time.Duration { return 3 * time.Minute }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) Analyzer() Analyzer { return &s.tap }

func (s *fakeSink) SetAnalyzerConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap.connected = connected
}

type fakeFactory struct {
	mu       sync.Mutex
	sinks    []*fakeSink
	loadErrs []error
	loadGate chan struct{}
	playErr  error
	onEnded  func()
	onError  func(error)
}

func (f *fakeFactory) New(cfg SinkConfig, onEnded func(), onError func(error)) (Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSink{factory: f, cfg: cfg}
	f.sinks = append(f.sinks, s)
	f.onEnded = onEnded
	f.onError = onError
	return s, nil
}

func (f *fakeFactory) popLoadErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loadErrs) == 0 {
		return nil
	}
	err := f.loadErrs[0]
	f.loadErrs = f.loadErrs[1:]
	return err
}

func (f *fakeFactory) gate() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadGate
}

func (f *fakeFactory) last() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

type fakeResolver struct {
	mu    sync.Mutex
	urls  map[string]string
	calls int
	hook  func(s song.Song)
}

func (r *fakeResolver) SongURL(_ context.Context, s song.Song) string {
	r.mu.Lock()
	r.calls++
	hook := r.hook
	r.hook = nil
	url := r.urls[s.ID]
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return url
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestEngine(t *testing.T, urls map[string]string) (*Engine, *fakeFactory, *fakeResolver) {
	t.Helper()
	factory := &fakeFactory{}
	resolver := &fakeResolver{urls: urls}
	e := NewEngine(factory, resolver, store.NewMemoryKV(), nil)
	return e, factory, resolver
}

func testSong(id, name string) song.Song {
	s := song.New(id, song.SourceYouTube)
	s.Name = name
	return s
}

func TestPlaySong_ResolvesAndPlays(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	require.NoError(t, err)

	assert.Equal(t, StatePlaying, e.State())
	assert.True(t, e.Playing())
	assert.Equal(t, 1, resolver.callCount())
	require.Len(t, e.Queue(), 1)
	assert.Equal(t, []string{"https://cdn.example/a"}, factory.last().loads)
	assert.Equal(t, 1, factory.last().playCalls)
}

func TestPlaySong_SameSongTogglesInsteadOfReloading(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	a := testSong("a", "A")

	require.NoError(t, e.PlaySong(context.Background(), a))
	require.NoError(t, e.PlaySong(context.Background(), a))

	assert.Equal(t, StatePaused, e.State())
	assert.Equal(t, 1, factory.last().pauseCalls)
	assert.Equal(t, 1, resolver.callCount())

	require.NoError(t, e.PlaySong(context.Background(), a))
	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, 1, resolver.callCount())
}

func TestPlaySong_RejectsPlaceholder(t *testing.T) {
	e, _, resolver := newTestEngine(t, nil)

	err := e.PlaySong(context.Background(), song.Placeholder(song.SourceLegacy))
	assert.Error(t, err)
	assert.Equal(t, 0, resolver.callCount())
}

func TestPlaySong_NoURLGoesIdle(t *testing.T) {
	e, _, _ := newTestEngine(t, map[string]string{})

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	assert.Error(t, err)
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Playing())
}

func TestPlaybackFailure_RetriesOnceAtLowestQuality(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	factory.loadErrs = []error{errors.New("decode failed")}

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	require.NoError(t, err)

	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, song.Quality128, e.Quality())
	assert.Equal(t, 2, resolver.callCount())
	assert.Len(t, factory.last().loads, 2)
}

func TestPlaybackFailure_SecondFailureIsTerminal(t *testing.T) {
	e, factory, _ := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	factory.loadErrs = []error{errors.New("first"), errors.New("second")}

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	require.Error(t, err)

	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Playing())
	assert.EqualError(t, e.LastError(), "second")
}

func TestPlaybackFailure_AlreadyLowestFailsImmediately(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.SetQuality(context.Background(), song.Quality128))
	factory.loadErrs = []error{errors.New("decode failed")}

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	require.Error(t, err)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 1, resolver.callCount())
}

func TestStaleResolution_NewerSongWins(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{
		"a": "https://cdn.example/a",
		"b": "https://cdn.example/b",
	})
	b := testSong("b", "B")
	resolver.hook = func(song.Song) {
		require.NoError(t, e.PlaySong(context.Background(), b))
	}

	err := e.PlaySong(context.Background(), testSong("a", "A"))
	require.NoError(t, err)

	require.NotNil(t, e.Current())
	assert.Equal(t, "b", e.Current().ID)
	assert.Equal(t, []string{"https://cdn.example/b"}, factory.last().loads)
}

func TestEngine_ResponsiveWhileSinkLoads(t *testing.T) {
	e, factory, _ := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	factory.loadGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- e.PlaySong(context.Background(), testSong("a", "A")) }()

	// With the sink still fetching, state accessors must not block.
	require.Eventually(t, func() bool { return e.State() == StateLoading },
		time.Second, time.Millisecond)
	assert.NotNil(t, e.Current())
	e.Position()

	close(factory.loadGate)
	require.NoError(t, <-done)
	assert.Equal(t, StatePlaying, e.State())
}

func TestTrackEnd_SequenceAdvances(t *testing.T) {
	e, factory, _ := newTestEngine(t, map[string]string{
		"a": "https://cdn.example/a",
		"b": "https://cdn.example/b",
	})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("b", "B")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))

	factory.onEnded()

	require.NotNil(t, e.Current())
	assert.Equal(t, "b", e.Current().ID)
	assert.Equal(t, StatePlaying, e.State())
}

func TestTrackEnd_LoopRestartsWithoutResolving(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	e.SetMode(ModeLoop)
	before := resolver.callCount()

	factory.onEnded()

	assert.Equal(t, before, resolver.callCount())
	assert.Contains(t, factory.last().seeks, time.Duration(0))
	assert.Equal(t, StatePlaying, e.State())
}

func TestTrackEnd_ShuffleNeverRepicksCurrent(t *testing.T) {
	urls := map[string]string{
		"a": "https://cdn.example/a",
		"b": "https://cdn.example/b",
		"c": "https://cdn.example/c",
	}
	e, factory, _ := newTestEngine(t, urls)
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("b", "B")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("c", "C")))
	e.SetMode(ModeShuffle)

	for i := 0; i < 25; i++ {
		prev := e.Current().ID
		factory.onEnded()
		assert.NotEqual(t, prev, e.Current().ID)
	}
}

func TestNext_LoopAdvancesLikeSequence(t *testing.T) {
	e, _, _ := newTestEngine(t, map[string]string{
		"a": "https://cdn.example/a",
		"b": "https://cdn.example/b",
	})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("b", "B")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	e.SetMode(ModeLoop)

	require.NoError(t, e.Next(context.Background()))

	assert.Equal(t, "b", e.Current().ID)
	assert.Equal(t, ModeLoop, e.Mode())
}

func TestSetQuality_ReloadsAndResumes(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	factory.last().pos = 42 * time.Second

	require.NoError(t, e.SetQuality(context.Background(), song.Quality128))

	assert.Equal(t, song.Quality128, e.Quality())
	assert.Equal(t, 2, resolver.callCount())
	assert.Contains(t, factory.last().seeks, 42*time.Second)

	// Same tier again is a no-op.
	require.NoError(t, e.SetQuality(context.Background(), song.Quality128))
	assert.Equal(t, 2, resolver.callCount())
}

func TestSetQuality_RejectsUnknownTier(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	assert.Error(t, e.SetQuality(context.Background(), song.Quality("64k")))
}

func TestSinkError_TriggersQualityRetry(t *testing.T) {
	e, factory, resolver := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))

	factory.onError(errors.New("stalled"))

	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, song.Quality128, e.Quality())
	assert.Equal(t, 2, resolver.callCount())
}

func TestSetVisible_TogglesAnalyzerConnection(t *testing.T) {
	e, factory, _ := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	sink := factory.last()
	require.True(t, sink.cfg.Analyzer)
	assert.True(t, sink.tap.connected)

	e.SetVisible(false)
	assert.False(t, sink.tap.connected)

	e.SetVisible(true)
	assert.True(t, sink.tap.connected)

	require.NotNil(t, e.Analyzer())
}

func TestRemoveFromQueue(t *testing.T) {
	e, _, _ := newTestEngine(t, map[string]string{
		"a": "https://cdn.example/a",
		"b": "https://cdn.example/b",
	})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))
	require.NoError(t, e.PlaySong(context.Background(), testSong("b", "B")))

	e.RemoveFromQueue("a")

	q := e.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, "b", q[0].ID)
}

func TestRestoreSession(t *testing.T) {
	kv := store.NewMemoryKV()
	factory := &fakeFactory{}
	resolver := &fakeResolver{urls: map[string]string{"a": "https://cdn.example/a"}}

	first := NewEngine(factory, resolver, kv, nil)
	require.NoError(t, first.PlaySong(context.Background(), testSong("a", "A")))
	first.SetMode(ModeShuffle)

	second := NewEngine(&fakeFactory{}, resolver, kv, nil)
	second.RestoreSession()

	require.NotNil(t, second.Current())
	assert.Equal(t, "a", second.Current().ID)
	assert.Empty(t, second.Current().URL)
	assert.Equal(t, ModeShuffle, second.Mode())
	assert.False(t, second.Playing())
	require.Len(t, second.Queue(), 1)
}

func TestStop_KeepsQueue(t *testing.T) {
	e, factory, _ := newTestEngine(t, map[string]string{"a": "https://cdn.example/a"})
	require.NoError(t, e.PlaySong(context.Background(), testSong("a", "A")))

	e.Stop()

	assert.Equal(t, StateIdle, e.State())
	assert.True(t, factory.last().closed)
	assert.Len(t, e.Queue(), 1)
}
