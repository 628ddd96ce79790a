package player

import (
	"math/rand"
	"time"

	"Resonate/song"
	"Resonate/store"

	"github.com/Strum355/log"
)

// Mode is the queue advancement policy.
type Mode string

const (
	ModeSequence Mode = "sequence"
	ModeLoop     Mode = "loop"
	ModeShuffle  Mode = "shuffle"
)

// State is the engine's playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateErrorRetry
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateErrorRetry:
		return "error-retry"
	default:
		return "unknown"
	}
}

// Session is the playback session state. It spans page views and process
// restarts: every mutation is mirrored to the store and rehydrated at
// startup. The engine's mutex guards all access.
type Session struct {
	Current  *song.Song
	Playing  bool
	Position time.Duration
	Duration time.Duration
	Queue    []song.Song
	Mode     Mode
	Quality  song.Quality
}

// enqueue appends a song unless it is already queued, keyed by id.
func (s *Session) enqueue(item song.Song) {
	if s.indexOf(item.ID) >= 0 {
		return
	}
	item.URL = ""
	s.Queue = append(s.Queue, item)
}

func (s *Session) indexOf(id string) int {
	for i, q := range s.Queue {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) remove(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
	}
}

// nextSong picks the track that follows the current one under the session's
// mode. Loop is handled by the engine before this is consulted. Shuffle never
// re-selects the current entry while more than one is queued.
func (s *Session) nextSong(rng *rand.Rand) (song.Song, bool) {
	n := len(s.Queue)
	if n == 0 {
		return song.Song{}, false
	}
	current := 0
	if s.Current != nil {
		if i := s.indexOf(s.Current.ID); i >= 0 {
			current = i
		}
	}

	if s.Mode == ModeShuffle && n > 1 {
		next := rng.Intn(n - 1)
		if next >= current {
			next++
		}
		return s.Queue[next], true
	}
	return s.Queue[(current+1)%n], true
}

// persist mirrors the session to the store. Failures are logged and ignored;
// persistence is a convenience, never a playback dependency.
func (s *Session) persist(kv store.KV) {
	if kv == nil {
		return
	}
	if err := kv.Set(store.KeyQueue, s.Queue); err != nil {
		log.WithError(err).Debug("Failed to persist queue")
	}
	if err := kv.Set(store.KeyCurrentSong, s.Current); err != nil {
		log.WithError(err).Debug("Failed to persist current song")
	}
	if err := kv.Set(store.KeyPlayMode, s.Mode); err != nil {
		log.WithError(err).Debug("Failed to persist play mode")
	}
	if err := kv.Set(store.KeyAudioQuality, s.Quality); err != nil {
		log.WithError(err).Debug("Failed to persist audio quality")
	}
}

// restore rehydrates the session from the store, falling back to defaults
// for anything missing or corrupt.
func (s *Session) restore(kv store.KV) {
	if kv == nil {
		return
	}
	kv.Get(store.KeyQueue, &s.Queue)
	kv.Get(store.KeyCurrentSong, &s.Current)
	kv.Get(store.KeyPlayMode, &s.Mode)
	kv.Get(store.KeyAudioQuality, &s.Quality)

	switch s.Mode {
	case ModeSequence, ModeLoop, ModeShuffle:
	default:
		s.Mode = ModeSequence
	}
	switch s.Quality {
	case song.Quality320, song.Quality128:
	default:
		s.Quality = song.Quality320
	}
	// A restored song never keeps a stream URL; those expire upstream.
	if s.Current != nil {
		s.Current.URL = ""
	}
	s.Playing = false
}
