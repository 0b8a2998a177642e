// Package onepole provides the first-order filter primitives shared by the
// reed piano signal chain: RC highpass and lowpass, a trapezoidal (TPT)
// lowpass for zero-delay feedback loops, and a DC blocker.
package onepole

import (
	"fmt"
	"math"
)

// HPF is a one-pole highpass: y[n] = alpha * (y[n-1] + x[n] - x[n-1]).
type HPF struct {
	alpha float64
	prevX float64
	prevY float64
}

// NewHPF creates a highpass with the analog RC mapping.
func NewHPF(cutoffHz, sampleRate float64) (*HPF, error) {
	f := &HPF{}
	if err := f.Init(cutoffHz, sampleRate); err != nil {
		return nil, err
	}
	return f, nil
}

// Init reconfigures the filter in place and clears its state, so a
// caller can embed the HPF by value and retune it without allocating.
func (f *HPF) Init(cutoffHz, sampleRate float64) error {
	if err := checkRate(cutoffHz, sampleRate); err != nil {
		return err
	}
	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / sampleRate
	f.alpha = rc / (rc + dt)
	f.prevX = 0
	f.prevY = 0
	return nil
}

// Process processes one sample.
func (f *HPF) Process(x float64) float64 {
	y := f.alpha * (f.prevY + x - f.prevX)
	f.prevX = x
	f.prevY = y
	return y
}

// Reset clears filter state.
func (f *HPF) Reset() {
	f.prevX = 0
	f.prevY = 0
}

// LPF is a one-pole lowpass: y[n] = alpha * x[n] + (1 - alpha) * y[n-1].
type LPF struct {
	alpha         float64
	oneMinusAlpha float64
	dt            float64
	prevY         float64
}

// NewLPF creates a lowpass with the analog RC mapping.
func NewLPF(cutoffHz, sampleRate float64) (*LPF, error) {
	if err := checkRate(cutoffHz, sampleRate); err != nil {
		return nil, err
	}
	f := &LPF{dt: 1 / sampleRate}
	f.setCutoff(cutoffHz)
	return f, nil
}

// SetCutoff updates the cutoff without resetting state.
func (f *LPF) SetCutoff(cutoffHz float64) error {
	if cutoffHz <= 0 || math.IsNaN(cutoffHz) || math.IsInf(cutoffHz, 0) {
		return fmt.Errorf("cutoff must be > 0 and finite: %f", cutoffHz)
	}
	f.setCutoff(cutoffHz)
	return nil
}

func (f *LPF) setCutoff(cutoffHz float64) {
	rc := 1 / (2 * math.Pi * cutoffHz)
	f.alpha = f.dt / (rc + f.dt)
	f.oneMinusAlpha = 1 - f.alpha
}

// Process processes one sample.
func (f *LPF) Process(x float64) float64 {
	y := f.alpha*x + f.oneMinusAlpha*f.prevY
	f.prevY = y
	return y
}

// State returns the internal state for save/restore around feedback iteration.
func (f *LPF) State() float64 { return f.prevY }

// SetState restores previously saved state.
func (f *LPF) SetState(s float64) { f.prevY = s }

// Reset clears filter state.
func (f *LPF) Reset() { f.prevY = 0 }

// TPT is a topology-preserving-transform one-pole lowpass using the
// bilinear integrator. Compared with forward Euler it keeps both the phase
// response near analog at high frequencies and an instantaneous input path,
// which is what lets zero-delay feedback iteration converge.
type TPT struct {
	g          float64
	gDenom     float64
	s          float64
	sampleRate float64
}

// NewTPT creates a trapezoidal lowpass.
func NewTPT(cutoffHz, sampleRate float64) (*TPT, error) {
	if err := checkRate(cutoffHz, sampleRate); err != nil {
		return nil, err
	}
	f := &TPT{sampleRate: sampleRate}
	f.setCutoff(cutoffHz)
	return f, nil
}

// SetCutoff updates the cutoff without resetting state.
func (f *TPT) SetCutoff(cutoffHz float64) error {
	if cutoffHz <= 0 || math.IsNaN(cutoffHz) || math.IsInf(cutoffHz, 0) {
		return fmt.Errorf("cutoff must be > 0 and finite: %f", cutoffHz)
	}
	f.setCutoff(cutoffHz)
	return nil
}

func (f *TPT) setCutoff(cutoffHz float64) {
	f.g = math.Tan(math.Pi * cutoffHz / f.sampleRate)
	f.gDenom = f.g / (1 + f.g)
}

// Process processes one sample.
func (f *TPT) Process(x float64) float64 {
	v := (x - f.s) * f.gDenom
	y := v + f.s
	f.s = y + v
	return y
}

// State returns the integrator state for save/restore around ZDF iteration.
func (f *TPT) State() float64 { return f.s }

// SetState restores previously saved state.
func (f *TPT) SetState(s float64) { f.s = s }

// Reset clears filter state.
func (f *TPT) Reset() { f.s = 0 }

// DCBlocker removes DC with a 20 Hz one-pole highpass.
type DCBlocker struct {
	hpf *HPF
}

// NewDCBlocker creates a DC blocker.
func NewDCBlocker(sampleRate float64) (*DCBlocker, error) {
	hpf, err := NewHPF(20, sampleRate)
	if err != nil {
		return nil, err
	}
	return &DCBlocker{hpf: hpf}, nil
}

// Process processes one sample.
func (f *DCBlocker) Process(x float64) float64 { return f.hpf.Process(x) }

// Reset clears filter state.
func (f *DCBlocker) Reset() { f.hpf.Reset() }

func checkRate(cutoffHz, sampleRate float64) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("sample rate must be > 0 and finite: %f", sampleRate)
	}
	if cutoffHz <= 0 || math.IsNaN(cutoffHz) || math.IsInf(cutoffHz, 0) {
		return fmt.Errorf("cutoff must be > 0 and finite: %f", cutoffHz)
	}
	return nil
}
