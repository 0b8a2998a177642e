// Package modal implements the modal reed oscillator: seven damped
// sinusoidal modes per voice, each a quadrature sin/cos pair rotated per
// sample so the render loop needs no transcendental calls.
//
// Per-mode frequency jitter (an Ornstein-Uhlenbeck process) breaks the
// perfect phase coherence of digital oscillators. Real reeds have
// nonlinear frequency-amplitude coupling, pickup loading and
// micro-turbulence that make each mode's frequency wander slightly;
// without it the static interference pattern sounds metallic.
package modal

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-approx"

	"github.com/cwbudde/algo-epiano/notetable"
)

const (
	// RMS frequency jitter as a fraction of mode frequency (~4 cents peak).
	jitterSigma = 0.0004

	// OU correlation time in seconds. Long enough for perceptible beating,
	// short enough to evolve within a note's sustain.
	jitterTau = 0.020

	// Uniform(-sqrt3, sqrt3) has unit variance, matching the Gaussian.
	sqrt3 = 1.7320508080

	// Jitter subsample interval. The OU correlation time spans ~880 samples
	// at 44.1 kHz, so updating every 16 samples is far below it.
	jitterSubsample = 16

	// Quadrature renormalization interval: correct each (s, c) radius to
	// stop accumulated rounding drift.
	renormInterval = 1024
)

// mode is one quadrature oscillator plus its envelopes.
type mode struct {
	s, c        float64
	cosInc      float64
	sinInc      float64
	phaseInc    float64
	amplitude   float64
	decayMult   float64
	envelope    float64
	jitterDrift float64
	damperRate  float64
	damperMult  float64
}

// Strike holds the per-note parameters resolved at note-on.
type Strike struct {
	// FundamentalHz is the fundamental after detuning.
	FundamentalHz float64
	// Ratios are f_n/f_1 for each mode.
	Ratios [notetable.NumModes]float64
	// Amplitudes are the initial mode amplitudes, post dwell filter and
	// variation.
	Amplitudes [notetable.NumModes]float64
	// DecayRatesDB are natural decay rates in dB/s.
	DecayRatesDB [notetable.NumModes]float64
	// OnsetTime is the ramp duration in seconds (reed mechanical inertia).
	OnsetTime float64
	// Velocity in [0, 1] controls the onset ramp shape.
	Velocity float64
	// JitterSeed decorrelates the frequency jitter of simultaneous voices.
	JitterSeed uint32
}

// Validate reports whether the strike parameters are usable.
func (s Strike) Validate() error {
	if s.FundamentalHz <= 0 || math.IsNaN(s.FundamentalHz) || math.IsInf(s.FundamentalHz, 0) {
		return fmt.Errorf("fundamental must be > 0 and finite: %f", s.FundamentalHz)
	}
	if s.Velocity < 0 || s.Velocity > 1 || math.IsNaN(s.Velocity) {
		return fmt.Errorf("velocity must be in [0, 1]: %f", s.Velocity)
	}
	if s.OnsetTime < 0 || math.IsNaN(s.OnsetTime) || math.IsInf(s.OnsetTime, 0) {
		return fmt.Errorf("onset time must be >= 0 and finite: %f", s.OnsetTime)
	}
	for i, r := range s.Ratios {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
			return fmt.Errorf("mode %d ratio must be finite and >= 0: %f", i+1, r)
		}
	}
	return nil
}

// Bank is the modal oscillator state for one voice.
type Bank struct {
	modes      [notetable.NumModes]mode
	sample     uint64
	sampleRate float64

	onsetRampSamples uint64
	onsetRampInc     float64
	onsetShapeExp    float64

	damperActive       bool
	damperRampSamples  float64
	damperReleaseCount float64
	damperRampDone     bool

	jitterState     uint32
	jitterRevert    float64
	jitterDiffusion float64
}

// lcgNext advances the LCG and returns uniform noise scaled to unit variance.
func lcgNext(state *uint32) float64 {
	*state = *state*1664525 + 1013904223
	u := float64(*state>>1) / (float64(math.MaxUint32) / 2)
	return (u*2 - 1) * sqrt3
}

// NewBank creates the oscillator bank for one strike.
func NewBank(sampleRate float64, s Strike) (*Bank, error) {
	b := &Bank{}
	if err := b.Init(sampleRate, s); err != nil {
		return nil, err
	}
	return b, nil
}

// Fraction of the sample rate above which a mode would fold back as an
// alias instead of sounding at its own frequency.
const nyquistFraction = 0.45

// Init strikes the bank in place, replacing all previous state. Voice
// pools reuse one Bank per slot across notes, so Init must not allocate.
func (b *Bank) Init(sampleRate float64, s Strike) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("sample rate must be > 0 and finite: %f", sampleRate)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	twoPi := 2 * math.Pi
	dt := 1 / sampleRate
	revert := math.Exp(-dt / jitterTau)
	diffusion := jitterSigma * math.Sqrt(1-revert*revert)

	// Draw each mode's initial drift from the OU stationary distribution
	// via Box-Muller, so the jitter starts settled rather than at zero.
	jitterState := s.JitterSeed
	if jitterState == 0 {
		jitterState = 1
	}
	var initialDrifts [notetable.NumModes]float64
	for i := range initialDrifts {
		jitterState = jitterState*1664525 + 1013904223
		u1 := float64(jitterState>>1) / (float64(math.MaxUint32) / 2)
		jitterState = jitterState*1664525 + 1013904223
		u2 := float64(jitterState>>1) / (float64(math.MaxUint32) / 2)
		r := math.Sqrt(-2 * math.Log(math.Max(u1, 1e-30)))
		initialDrifts[i] = jitterSigma * r * math.Cos(twoPi*u2)
	}

	*b = Bank{
		sampleRate:      sampleRate,
		jitterState:     jitterState,
		jitterRevert:    revert,
		jitterDiffusion: diffusion,
	}
	for i := range b.modes {
		freq := s.FundamentalHz * s.Ratios[i]
		phaseInc := twoPi * freq / sampleRate
		alphaNepers := s.DecayRatesDB[i] / 8.686
		decayPerSample := alphaNepers / sampleRate

		amplitude := s.Amplitudes[i]
		if freq > nyquistFraction*sampleRate {
			amplitude = 0
		}

		b.modes[i] = mode{
			s:           0,
			c:           1,
			cosInc:      math.Cos(phaseInc),
			sinInc:      math.Sin(phaseInc),
			phaseInc:    phaseInc,
			amplitude:   amplitude,
			decayMult:   math.Exp(-decayPerSample),
			envelope:    1,
			jitterDrift: initialDrifts[i],
			damperMult:  1,
		}
	}

	rampSamps := uint64(math.Round(s.OnsetTime * sampleRate))
	if rampSamps > 0 {
		b.onsetRampInc = math.Pi / float64(rampSamps)
	}
	b.onsetRampSamples = rampSamps
	b.onsetShapeExp = 1 + (1 - s.Velocity)

	return nil
}

// StartDamper begins the three-phase progressive release: the felt ramps
// onto the reed over a register-dependent time, then holds a constant rate
// with higher modes damped far more aggressively. The top five keys have
// no damper and ring out naturally.
func (b *Bank) StartDamper(midi int) {
	if midi >= 92 {
		return
	}

	baseRate := math.Max(55.0*math.Pow(2, (float64(midi)-60)/24), 0.5)
	factor := 1.0
	for m := range b.modes {
		rate := math.Min(baseRate*factor, 2000) / b.sampleRate
		b.modes[m].damperRate = rate
		b.modes[m].damperMult = math.Exp(-rate)
		factor *= 3
	}

	rampTime := 0.008
	switch {
	case midi < 48:
		rampTime = 0.050
	case midi < 72:
		rampTime = 0.025
	}

	b.damperRampSamples = rampTime * b.sampleRate
	b.damperActive = true
	b.damperReleaseCount = 0
	b.damperRampDone = false
}

// Render adds the bank output into out. The buffer is not cleared.
func (b *Bank) Render(out []float64) {
	revert := b.jitterRevert
	diffusion := b.jitterDiffusion

	for n := range out {
		sum := 0.0

		if b.damperActive {
			b.damperReleaseCount++
			t := b.damperReleaseCount
			ramp := b.damperRampSamples
			if !b.damperRampDone {
				if t > ramp {
					b.damperRampDone = true
				} else {
					for m := range b.modes {
						instRate := b.modes[m].damperRate * t / ramp
						b.modes[m].envelope *= float64(approx.FastExp(float32(-instRate)))
					}
				}
			}
			if b.damperRampDone {
				for m := range b.modes {
					b.modes[m].envelope *= b.modes[m].damperMult
				}
			}
		}

		// Onset ramp: raised cosine, shape exponent between 1 (ff) and 2 (pp).
		onset := 1.0
		if b.sample < b.onsetRampSamples {
			cosine := 0.5 * (1 - math.Cos(float64(b.sample)*b.onsetRampInc))
			switch {
			case b.onsetShapeExp <= 1.001:
				onset = cosine
			case b.onsetShapeExp >= 1.999:
				onset = cosine * cosine
			default:
				onset = math.Pow(cosine, b.onsetShapeExp)
			}
		}

		if b.sample&(jitterSubsample-1) == 0 {
			for m := range b.modes {
				noise := lcgNext(&b.jitterState)
				b.modes[m].jitterDrift = revert*b.modes[m].jitterDrift + diffusion*noise
			}
		}

		for m := range b.modes {
			md := &b.modes[m]
			sum += md.amplitude * md.s * onset * md.envelope

			// First-order Taylor correction of the rotation for the
			// jittered phase increment; the residual error stays below the
			// renormalization threshold.
			deltaPhase := md.jitterDrift * md.phaseInc
			ci := md.cosInc - deltaPhase*md.sinInc
			si := md.sinInc + deltaPhase*md.cosInc
			sNew := md.s*ci + md.c*si
			cNew := md.c*ci - md.s*si
			md.s = sNew
			md.c = cNew

			md.envelope *= md.decayMult
		}

		if b.sample&(renormInterval-1) == 0 && b.sample > 0 {
			for m := range b.modes {
				md := &b.modes[m]
				rInv := 1 / math.Sqrt(md.s*md.s+md.c*md.c)
				md.s *= rInv
				md.c *= rInv
			}
		}

		out[n] += sum
		b.sample++
	}
}

// Silent reports whether every mode has decayed below thresholdDB.
func (b *Bank) Silent(thresholdDB float64) bool {
	thresholdLinear := math.Pow(10, thresholdDB/20)
	for m := range b.modes {
		if math.Abs(b.modes[m].amplitude*b.modes[m].envelope) > thresholdLinear {
			return false
		}
	}
	return true
}

// Damping reports whether the damper has been started.
func (b *Bank) Damping() bool { return b.damperActive }

// ReleaseSeconds returns the elapsed release time, zero before note-off.
func (b *Bank) ReleaseSeconds() float64 {
	if !b.damperActive {
		return 0
	}
	return b.damperReleaseCount / b.sampleRate
}
