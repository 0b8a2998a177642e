package preamp

import (
	"math"

	"github.com/cwbudde/algo-epiano/dsp/filter/onepole"
)

// millerFilter is the dominant-pole lowpass inside a gain stage.
// Stage 1 uses the trapezoidal form for accurate phase at its 23 Hz
// pole, which gives enough instantaneous input coupling for the
// feedback iteration to converge. Stage 2's pole sits near Nyquist
// where forward Euler is accurate and avoids tan() warping.
type millerFilter interface {
	Process(x float64) float64
	State() float64
	SetState(s float64)
	Reset()
}

// bjtStage is a single common-emitter gain stage: exponential transfer,
// asymmetric soft clip for the collector rail limits, then the Miller
// lowpass.
type bjtStage struct {
	// scale = gm*Rc / b; for small signals the gain is scale*b.
	scale float64
	// b = 1/(n*Vt).
	b float64
	// Local emitter degeneration fraction Re/Rc; zero for stage 1
	// whose feedback arrives externally.
	k float64
	// Headroom toward saturation and cutoff.
	posLimit float64
	negLimit float64

	miller  millerFilter
	prevRaw float64
}

// newStage1 builds the high-gain first stage.
func newStage1(sampleRate float64) (*bjtStage, error) {
	miller, err := onepole.NewTPT(23, sampleRate)
	if err != nil {
		return nil, err
	}
	return &bjtStage{
		scale:    420.0 / 38.5,
		b:        38.5,
		k:        0,
		posLimit: 2.05,
		negLimit: 10.9,
		miller:   miller,
	}, nil
}

// newStage2 builds the degenerated second stage.
func newStage2(sampleRate float64) (*bjtStage, error) {
	miller, err := onepole.NewLPF(81_000, sampleRate)
	if err != nil {
		return nil, err
	}
	return &bjtStage{
		scale:    238.0 / 38.5,
		b:        38.5,
		k:        820.0 / 1800.0,
		posLimit: 5.3,
		negLimit: 6.2,
		miller:   miller,
	}, nil
}

// computeRaw evaluates raw = scale*(exp(b*x)-1). With local
// degeneration the equation is implicit and solved by Newton-Raphson
// from the linearized guess.
func (s *bjtStage) computeRaw(inputEff float64) float64 {
	if s.k < 1e-10 {
		arg := clamp(s.b*inputEff, -20, 20)
		return s.scale * (math.Exp(arg) - 1)
	}

	a := s.scale * s.b
	raw := a * inputEff / (1 + a*s.k)
	for iter := 0; iter < 4; iter++ {
		arg := clamp(s.b*(inputEff-s.k*raw), -20, 20)
		expVal := math.Exp(arg)
		f := s.scale*(expVal-1) - raw
		df := -s.scale*s.b*s.k*expVal - 1
		raw -= f / df
	}
	return raw
}

// softClip limits the output asymmetrically: less headroom toward
// saturation than toward cutoff.
func (s *bjtStage) softClip(raw float64) float64 {
	if raw >= 0 {
		return s.posLimit * (1 - math.Exp(-raw/s.posLimit))
	}
	return -s.negLimit * (1 - math.Exp(raw/s.negLimit))
}

// process runs one sample through the stage. fb is subtracted from the
// input before the nonlinearity.
func (s *bjtStage) process(input, fb float64) float64 {
	raw := s.computeRaw(input - fb)
	clipped := s.softClip(raw)
	s.prevRaw = raw
	return s.miller.Process(clipped)
}

type bjtStageState struct {
	miller  float64
	prevRaw float64
}

func (s *bjtStage) saveState() bjtStageState {
	return bjtStageState{miller: s.miller.State(), prevRaw: s.prevRaw}
}

func (s *bjtStage) restoreState(st bjtStageState) {
	s.miller.SetState(st.miller)
	s.prevRaw = st.prevRaw
}

func (s *bjtStage) reset() {
	s.miller.Reset()
	s.prevRaw = 0
}

// Number of zero-delay feedback iterations per sample. Loop gain is
// about 0.3 at midband, so three iterations leave under 0.25 dB of
// residual.
const zdfIterations = 3

// Simple is the two-stage zero-delay-feedback amplifier model. The
// emitter feedback from the output resistor is converged within each
// sample by fixed-point iteration, seeded from the previous output.
type Simple struct {
	stage1  *bjtStage
	stage2  *bjtStage
	dcBlock *onepole.DCBlocker

	// Fraction of the stage 2 output reaching the stage 1 emitter,
	// set by the photoresistor path resistance.
	fbFraction float64
	prevS2Out  float64

	faults uint64
}

// NewSimple builds the reference model at the given (oversampled)
// sample rate, with the photoresistor dark.
func NewSimple(sampleRate float64) (*Simple, error) {
	stage1, err := newStage1(sampleRate)
	if err != nil {
		return nil, err
	}
	stage2, err := newStage2(sampleRate)
	if err != nil {
		return nil, err
	}
	dcBlock, err := onepole.NewDCBlocker(sampleRate)
	if err != nil {
		return nil, err
	}
	return &Simple{
		stage1:     stage1,
		stage2:     stage2,
		dcBlock:    dcBlock,
		fbFraction: fbFraction(1_000_000),
	}, nil
}

// fbFraction maps photoresistor path resistance to the feedback
// fraction. Dark (1M) gives ~0.5 for 6 dB closed-loop gain; bright
// (19k) gives ~0.25 for 12 dB.
func fbFraction(ohms float64) float64 {
	return 0.509 * ohms / (ohms + 20_000)
}

// ProcessSample runs one sample through both stages with the feedback
// converged in-sample.
func (p *Simple) ProcessSample(input float64) float64 {
	s1State := p.stage1.saveState()
	s2State := p.stage2.saveState()

	fbEst := p.prevS2Out * p.fbFraction
	var s2Out float64

	for iter := 0; iter < zdfIterations; iter++ {
		p.stage1.restoreState(s1State)
		p.stage2.restoreState(s2State)

		s1Out := p.stage1.process(input, fbEst)
		s2Out = p.stage2.process(s1Out, 0)
		fbEst = s2Out * p.fbFraction
	}

	p.prevS2Out = s2Out

	result := p.dcBlock.Process(s2Out)

	if math.IsNaN(result) || math.IsInf(result, 0) {
		p.faults++
		p.Reset()
		return 0
	}
	return result
}

// SetLDRResistance sets the photoresistor path resistance in ohms.
func (p *Simple) SetLDRResistance(ohms float64) {
	p.fbFraction = fbFraction(ohms)
}

// Faults returns the number of divergence resets since construction.
func (p *Simple) Faults() uint64 { return p.faults }

// Reset clears all stage and filter state.
func (p *Simple) Reset() {
	p.stage1.reset()
	p.stage2.reset()
	p.dcBlock.Reset()
	p.prevS2Out = 0
}
