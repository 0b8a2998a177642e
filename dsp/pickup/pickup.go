// Package pickup models the electrostatic pickup: reed vibration
// modulates the capacitance between the reed and a charged plate, and the
// capacitance varies as C(y) = C0/(1-y) with normalized displacement y.
//
// The y/(1-y) transfer is the primary source of the instrument's bark: it
// is asymmetric, so the even harmonics it generates grow with displacement
// amplitude. The downstream preamp contributes well under a percent of
// distortion at playing levels; the character comes from here. A one-pole
// RC highpass at 2312 Hz shapes the output and also lifts H2 relative to
// the fundamental.
package pickup

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-epiano/dsp/filter/onepole"
)

// Plate sensitivity: V_hv * C0/(C0+Cp) = 147 * 3/240.
const sensitivity = 1.8375

// Pickup RC corner: R_total = 1M || 402K = 287K with C = 240 pF.
const hpfCutoffHz = 2312.0

// The reed can never touch the plate; y = 1 is a singularity.
const maxY = 0.90

// Default displacement scale when none is set per note. Converts reed
// model units (fundamental amplitude 1.0) to the physical gap fraction.
const defaultDisplacementScale = 0.70

// Pickup converts reed displacement to plate voltage. The filter is
// held by value so one Pickup can be reinitialized per note without
// allocating.
type Pickup struct {
	hpf               onepole.HPF
	displacementScale float64
}

// New creates a pickup at the given sample rate.
func New(sampleRate float64) (*Pickup, error) {
	p := &Pickup{}
	if err := p.Init(sampleRate); err != nil {
		return nil, err
	}
	return p, nil
}

// Init reconfigures the pickup in place, clearing filter state and
// restoring the default displacement scale.
func (p *Pickup) Init(sampleRate float64) error {
	if err := p.hpf.Init(hpfCutoffHz, sampleRate); err != nil {
		return err
	}
	p.displacementScale = defaultDisplacementScale
	return nil
}

// SetDisplacementScale overrides the displacement scale. Higher means a
// tighter gap, more nonlinearity and more bark.
func (p *Pickup) SetDisplacementScale(scale float64) error {
	if scale <= 0 || scale >= 1 || math.IsNaN(scale) {
		return fmt.Errorf("displacement scale must be in (0, 1): %f", scale)
	}
	p.displacementScale = scale
	return nil
}

// DisplacementScale returns the current displacement scale.
func (p *Pickup) DisplacementScale() float64 { return p.displacementScale }

// ProcessInPlace transforms reed displacement samples into pickup voltage.
func (p *Pickup) ProcessInPlace(buf []float64) {
	scale := p.displacementScale
	for i, x := range buf {
		y := x * scale
		if y > maxY {
			y = maxY
		} else if y < -maxY {
			y = -maxY
		}

		// Signal voltage goes with deltaC/C = y/(1-y): excursions toward
		// the plate are amplified more than excursions away, which is
		// where the even harmonics come from.
		v := y / (1 - y) * sensitivity

		buf[i] = p.hpf.Process(v)
	}
}

// Reset clears filter state.
func (p *Pickup) Reset() {
	p.hpf.Reset()
}
