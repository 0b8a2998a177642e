// Package tremolo models the lamp-and-photoresistor modulation source
// that varies the amplifier's feedback resistance. A sine LFO is
// half-wave rectified (the lamp only conducts on positive half-cycles),
// smoothed by an asymmetric envelope follower standing in for the CdS
// cell's fast-attack slow-release memory, then mapped through the
// cell's power law onto a resistance range.
package tremolo

import (
	"fmt"
	"math"
)

const (
	defaultRateHz = 5.5
	defaultDepth  = 0.0

	attackTau  = 0.003
	releaseTau = 0.050

	// CdS cell limits: fully illuminated vs dark.
	resistanceMin = 50.0
	resistanceMax = 1_000_000.0

	// Power-law exponent of the photoresistor.
	cdsGamma = 0.7

	// Fixed series resistor in the lamp path.
	seriesFixed = 18_000.0
	// Intensity pot: full value in series at depth 0.
	seriesPot = 50_000.0
)

// Tremolo generates a periodically varying resistance value.
type Tremolo struct {
	sampleRate float64

	phase    float64
	phaseInc float64
	depth    float64

	envelope    float64
	attackCoef  float64
	releaseCoef float64

	resistance float64
	series     float64
}

// Option configures a Tremolo.
type Option func(*Tremolo) error

// WithRate sets the LFO rate in Hz.
func WithRate(rateHz float64) Option {
	return func(t *Tremolo) error {
		return t.SetRate(rateHz)
	}
}

// WithDepth sets the modulation depth in [0, 1].
func WithDepth(depth float64) Option {
	return func(t *Tremolo) error {
		return t.SetDepth(depth)
	}
}

// New creates a tremolo for the given sample rate.
func New(sampleRate float64, opts ...Option) (*Tremolo, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("tremolo: sample rate must be positive and finite, got %v", sampleRate)
	}

	t := &Tremolo{
		sampleRate:  sampleRate,
		resistance:  resistanceMax,
		attackCoef:  math.Exp(-1.0 / (attackTau * sampleRate)),
		releaseCoef: math.Exp(-1.0 / (releaseTau * sampleRate)),
	}
	if err := t.SetRate(defaultRateHz); err != nil {
		return nil, err
	}
	if err := t.SetDepth(defaultDepth); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// SetRate sets the LFO rate in Hz.
func (t *Tremolo) SetRate(rateHz float64) error {
	if rateHz <= 0 || math.IsNaN(rateHz) || math.IsInf(rateHz, 0) {
		return fmt.Errorf("tremolo: rate must be positive and finite, got %v", rateHz)
	}
	if rateHz >= t.sampleRate/2 {
		return fmt.Errorf("tremolo: rate %v exceeds Nyquist for sample rate %v", rateHz, t.sampleRate)
	}
	t.phaseInc = 2 * math.Pi * rateHz / t.sampleRate
	return nil
}

// SetDepth sets the modulation depth. The intensity pot sits in series
// with the lamp, so low depth both weakens the lamp drive and raises
// the series resistance.
func (t *Tremolo) SetDepth(depth float64) error {
	if math.IsNaN(depth) || depth < 0 || depth > 1 {
		return fmt.Errorf("tremolo: depth must be in [0, 1], got %v", depth)
	}
	t.depth = depth
	t.series = seriesFixed + seriesPot*(1-depth)
	return nil
}

// Rate returns the LFO rate in Hz.
func (t *Tremolo) Rate() float64 {
	return t.phaseInc * t.sampleRate / (2 * math.Pi)
}

// Depth returns the modulation depth.
func (t *Tremolo) Depth() float64 {
	return t.depth
}

// Process advances the LFO by one sample and returns the total path
// resistance in ohms (series network plus photoresistor).
func (t *Tremolo) Process() float64 {
	lfo := math.Sin(t.phase)
	t.phase += t.phaseInc
	if t.phase >= 2*math.Pi {
		t.phase -= 2 * math.Pi
	}

	lampDrive := math.Max(lfo, 0) * t.depth

	coef := t.releaseCoef
	if lampDrive > t.envelope {
		coef = t.attackCoef
	}
	t.envelope = lampDrive + coef*(t.envelope-lampDrive)

	drive := math.Min(math.Max(t.envelope, 0), 1)
	if drive < 1e-6 {
		t.resistance = resistanceMax
	} else {
		t.resistance = resistanceMin + (resistanceMax-resistanceMin)*math.Pow(1-drive, 1/cdsGamma)
	}

	return t.series + t.resistance
}

// Resistance returns the current path resistance without advancing the LFO.
func (t *Tremolo) Resistance() float64 {
	return t.series + t.resistance
}

// RestingResistance returns the path resistance with the lamp dark.
func (t *Tremolo) RestingResistance() float64 {
	return t.series + resistanceMax
}

// Reset returns the LFO and photoresistor to their initial dark state.
func (t *Tremolo) Reset() {
	t.phase = 0
	t.envelope = 0
	t.resistance = resistanceMax
}
