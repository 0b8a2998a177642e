// Package excite models the hammer strike: a one-shot Gaussian dwell
// filter that shapes how much of each mode the finite felt contact
// excites, the register-dependent onset ramp time, and a decaying
// bandpass noise burst for the impact transient.
package excite

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-epiano/notetable"
)

// DwellTime returns the hammer contact duration in seconds. Contact lasts
// roughly three quarters of a cycle at full velocity and stretches toward
// a full cycle as the soft pad lingers at low velocity, clamped to
// [0.3 ms, 20 ms].
func DwellTime(velocity, fundamentalHz float64) float64 {
	cycles := 0.75 + 0.25*(1-velocity)
	return math.Min(math.Max(cycles/fundamentalHz, 0.0003), 0.020)
}

// OnsetRampTime returns the amplitude ramp duration in seconds, modelling
// reed mechanical inertia: two fundamental periods at full velocity, four
// at the softest touch, clamped to [2 ms, 30 ms]. Heavy bass reeds ring up
// slowly; treble reeds are near-instant.
func OnsetRampTime(velocity, fundamentalHz float64) float64 {
	periods := 2 + 2*(1-velocity)
	return math.Min(math.Max(periods/fundamentalHz, 0.002), 0.030)
}

// DwellAttenuation returns per-mode multipliers from the Gaussian dwell
// filter, normalized so mode 1 is unity. Longer contact suppresses the
// upper modes harder.
func DwellAttenuation(velocity, fundamentalHz float64, ratios [notetable.NumModes]float64) [notetable.NumModes]float64 {
	tDwell := DwellTime(velocity, fundamentalHz)
	const sigmaSq = 8.0 * 8.0

	var atten [notetable.NumModes]float64
	for i := 0; i < notetable.NumModes; i++ {
		ft := fundamentalHz * ratios[i] * tDwell
		atten[i] = math.Exp(-ft * ft / (2 * sigmaSq))
	}

	a0 := atten[0]
	if a0 > 1e-30 {
		for i := range atten {
			atten[i] /= a0
		}
	}
	return atten
}

// burstFilter is a bandpass biquad (constant skirt gain), direct form II
// transposed. Local to the noise burst; the rest of the chain uses
// first-order sections.
type burstFilter struct {
	b0, b1, b2 float64
	a1, a2     float64
	s1, s2     float64
}

func newBurstFilter(centerHz, q, sampleRate float64) burstFilter {
	w0 := 2 * math.Pi * centerHz / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)

	a0 := 1 + alpha
	return burstFilter{
		b0: alpha / a0,
		b2: -alpha / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *burstFilter) process(x float64) float64 {
	y := f.b0*x + f.s1
	f.s1 = f.b1*x - f.a1*y + f.s2
	f.s2 = f.b2*x - f.a2*y
	return y
}

// AttackNoise is the exponentially decaying bandpass noise burst that
// models the mechanical impact of felt on steel. The center frequency
// tracks the note at five times the fundamental, clamped to 200-2000 Hz,
// so the burst blends with the tone instead of sounding detached.
type AttackNoise struct {
	amplitude      float64
	decayPerSample float64
	remaining      int
	bpf            burstFilter
	rngState       uint32
}

// NewAttackNoise creates a burst for one strike. The seed should derive
// from the note and a strike counter so simultaneous notes decorrelate.
func NewAttackNoise(velocity, fundamentalHz, sampleRate float64, seed uint32) (*AttackNoise, error) {
	a := &AttackNoise{}
	if err := a.Init(velocity, fundamentalHz, sampleRate, seed); err != nil {
		return nil, err
	}
	return a, nil
}

// Init rearms the burst in place for a new strike, replacing all
// previous state without allocating.
func (a *AttackNoise) Init(velocity, fundamentalHz, sampleRate float64, seed uint32) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("sample rate must be > 0 and finite: %f", sampleRate)
	}
	if velocity < 0 || velocity > 1 || math.IsNaN(velocity) {
		return fmt.Errorf("velocity must be in [0, 1]: %f", velocity)
	}
	if fundamentalHz <= 0 || math.IsNaN(fundamentalHz) || math.IsInf(fundamentalHz, 0) {
		return fmt.Errorf("fundamental must be > 0 and finite: %f", fundamentalHz)
	}

	const tau = 0.003
	center := math.Min(math.Max(fundamentalHz*5, 200), 2000)

	*a = AttackNoise{
		amplitude:      0.025 * velocity * velocity,
		decayPerSample: math.Exp(-1 / (tau * sampleRate)),
		remaining:      int(0.015 * sampleRate),
		bpf:            newBurstFilter(center, 0.7, sampleRate),
		rngState:       seed,
	}
	return nil
}

// Render adds burst samples into out and returns how many were written.
func (a *AttackNoise) Render(out []float64) int {
	count := a.remaining
	if count > len(out) {
		count = len(out)
	}
	amp := a.amplitude

	for i := 0; i < count; i++ {
		a.rngState = a.rngState*1664525 + 1013904223
		noise := float64(int32(a.rngState)) / float64(math.MaxInt32)
		out[i] += amp * a.bpf.process(noise)
		amp *= a.decayPerSample
	}

	a.amplitude = amp
	a.remaining -= count
	return count
}

// Done reports whether the burst has fully played out.
func (a *AttackNoise) Done() bool { return a.remaining == 0 }
