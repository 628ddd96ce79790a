package visualizer

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// BarCount is the fixed number of spectrum bars rendered per frame.
const BarCount = 20

const (
	attack      = 0.65
	release     = 0.12
	decayFactor = 0.85
	floor       = 0.004
	kickPeriod  = 24
)

// Analyzer supplies frequency-domain magnitudes. The player's sink tap
// implements it; nil means no real signal is available.
type Analyzer interface {
	Magnitudes() []float64
}

// Visualizer folds analyzer magnitudes into a fixed bar spectrum. With no
// analyzer it synthesizes bars procedurally, and while paused it decays the
// last frame to the floor and stops emitting until playback resumes.
type Visualizer struct {
	mu       sync.Mutex
	bars     [BarCount]float64
	analyzer Analyzer
	playing  bool
	active   bool
	frame    int
	rng      *rand.Rand
	render   func(bars []float64)
	resume   chan struct{}
}

// New builds a visualizer rendering through the given callback. analyzer may
// be nil; the visualizer then runs in simulated mode.
func New(analyzer Analyzer, render func(bars []float64)) *Visualizer {
	if render == nil {
		render = func([]float64) {}
	}
	return &Visualizer{
		analyzer: analyzer,
		render:   render,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		resume:   make(chan struct{}, 1),
	}
}

// SetAnalyzer swaps the magnitude source, e.g. after a sink rebuild.
func (v *Visualizer) SetAnalyzer(analyzer Analyzer) {
	v.mu.Lock()
	v.analyzer = analyzer
	v.mu.Unlock()
}

// SetPlaying switches between live rendering and the decay tail. Resuming
// wakes a Run loop that went dormant after the tail settled.
func (v *Visualizer) SetPlaying(playing bool) {
	v.mu.Lock()
	v.playing = playing
	if playing {
		v.active = true
	}
	v.mu.Unlock()
	if playing {
		select {
		case v.resume <- struct{}{}:
		default:
		}
	}
}

// Bars returns a copy of the current frame.
func (v *Visualizer) Bars() []float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]float64, BarCount)
	copy(out, v.bars[:])
	return out
}

// Advance computes and renders one frame. It returns false once the decay
// tail has bottomed out; callers stop stepping until playback resumes.
func (v *Visualizer) Advance() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return false
	}
	v.frame++

	switch {
	case v.playing && v.analyzer != nil:
		v.stepReal()
	case v.playing:
		v.stepSimulated()
	default:
		if done := v.stepDecay(); done {
			v.active = false
			v.render(v.bars[:])
			return false
		}
	}
	v.render(v.bars[:])
	return true
}

// Run steps frames on a ticker until the context ends. Once Advance reports
// the decay tail has settled, the ticker stops and the loop sleeps until
// SetPlaying(true) wakes it; no frames fire while dormant.
func (v *Visualizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v.Advance() {
				continue
			}
			ticker.Stop()
			select {
			case <-ctx.Done():
				return
			case <-v.resume:
				ticker.Reset(interval)
			}
		}
	}
}

// stepReal buckets magnitudes logarithmically so low frequencies get more
// bars, then eases each bar toward its target: fast up, slow down.
func (v *Visualizer) stepReal() {
	mags := v.analyzer.Magnitudes()
	if len(mags) == 0 {
		v.stepSimulated()
		return
	}
	for i := 0; i < BarCount; i++ {
		lo := logBucket(i, len(mags))
		hi := logBucket(i+1, len(mags))
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(mags) {
			hi = len(mags)
		}
		sum := 0.0
		for j := lo; j < hi; j++ {
			sum += mags[j]
		}
		target := shape(sum / float64(hi-lo))
		v.ease(i, target)
	}
}

func logBucket(i, n int) int {
	f := math.Pow(float64(n), float64(i)/BarCount)
	return int(f) - 1
}

// shape is the display curve: perceptual boost for quiet signal, clamped.
func shape(x float64) float64 {
	if x <= 0 {
		return 0
	}
	y := math.Pow(x, 0.6) * 1.4
	if y > 1 {
		y = 1
	}
	return y
}

func (v *Visualizer) ease(i int, target float64) {
	if target > v.bars[i] {
		v.bars[i] += (target - v.bars[i]) * attack
	} else {
		v.bars[i] += (target - v.bars[i]) * release
	}
}

// stepSimulated fakes a spectrum: smooth per-bar noise with a periodic kick
// on the low end.
func (v *Visualizer) stepSimulated() {
	kick := v.frame%kickPeriod < 3
	for i := 0; i < BarCount; i++ {
		base := 0.25 + 0.2*math.Sin(float64(v.frame)/9+float64(i)*0.7)
		target := base + v.rng.Float64()*0.25
		if kick && i < BarCount/4 {
			target += 0.4
		}
		if target > 1 {
			target = 1
		}
		v.ease(i, target)
	}
}

// stepDecay shrinks every bar toward zero; reports true once all are gone.
func (v *Visualizer) stepDecay() bool {
	done := true
	for i := range v.bars {
		v.bars[i] *= decayFactor
		if v.bars[i] < floor {
			v.bars[i] = 0
		} else {
			done = false
		}
	}
	return done
}
