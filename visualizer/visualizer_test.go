package visualizer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	mags []float64
}

func (s *stubAnalyzer) Magnitudes() []float64 { return s.mags }

func TestRealMode_BarsFollowSignal(t *testing.T) {
	an := &stubAnalyzer{mags: make([]float64, 32)}
	for i := range an.mags {
		an.mags[i] = 0.8
	}
	v := New(an, nil)
	v.SetPlaying(true)

	require.True(t, v.Advance())

	bars := v.Bars()
	require.Len(t, bars, BarCount)
	for i, b := range bars {
		assert.Greater(t, b, 0.0, "bar %d", i)
		assert.LessOrEqual(t, b, 1.0, "bar %d", i)
	}
}

func TestRealMode_FastAttackSlowRelease(t *testing.T) {
	an := &stubAnalyzer{mags: []float64{1, 1, 1, 1, 1, 1, 1, 1}}
	v := New(an, nil)
	v.SetPlaying(true)
	v.Advance()
	loud := v.Bars()[0]

	// Signal drops to silence; the bar should fall much slower than it rose.
	for i := range an.mags {
		an.mags[i] = 0
	}
	v.Advance()
	quiet := v.Bars()[0]

	assert.Greater(t, loud, 0.5)
	assert.Greater(t, quiet, loud*(1-2*release))
	assert.Less(t, quiet, loud)
}

func TestSimulatedMode_ProducesMotion(t *testing.T) {
	v := New(nil, nil)
	v.SetPlaying(true)

	for i := 0; i < 5; i++ {
		require.True(t, v.Advance())
	}

	moving := false
	for _, b := range v.Bars() {
		if b > 0 {
			moving = true
		}
	}
	assert.True(t, moving)
}

func TestDecay_SelfTerminates(t *testing.T) {
	v := New(nil, nil)
	v.SetPlaying(true)
	for i := 0; i < 10; i++ {
		v.Advance()
	}
	v.SetPlaying(false)

	steps := 0
	for v.Advance() {
		steps++
		require.Less(t, steps, 500, "decay never terminated")
	}

	for _, b := range v.Bars() {
		assert.Zero(t, b)
	}
	// Once terminated, no further frames until playback resumes.
	assert.False(t, v.Advance())

	v.SetPlaying(true)
	assert.True(t, v.Advance())
}

func TestRun_GoesDormantAfterDecayAndResumes(t *testing.T) {
	var frames atomic.Int64
	v := New(nil, func([]float64) { frames.Add(1) })
	v.SetPlaying(true)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go v.Run(ctx, time.Millisecond)

	require.Eventually(t, func() bool { return frames.Load() > 10 },
		time.Second, 5*time.Millisecond)

	v.SetPlaying(false)
	require.Eventually(t, func() bool {
		for _, b := range v.Bars() {
			if b != 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	// The tail has settled, so the loop must stop producing frames entirely
	// until playback resumes.
	time.Sleep(10 * time.Millisecond)
	dormant := frames.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, frames.Load(), dormant+1)

	v.SetPlaying(true)
	require.Eventually(t, func() bool { return frames.Load() > dormant+5 },
		time.Second, 5*time.Millisecond)
}

func TestRenderCallbackReceivesFrames(t *testing.T) {
	frames := 0
	v := New(nil, func(bars []float64) {
		frames++
		assert.Len(t, bars, BarCount)
	})
	v.SetPlaying(true)

	v.Advance()
	v.Advance()

	assert.Equal(t, 2, frames)
}
