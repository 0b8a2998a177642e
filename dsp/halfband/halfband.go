// Package halfband implements a 2x polyphase IIR half-band oversampler
// built from two parallel cascades of first-order allpass sections
// (Regalia-Mitra decomposition of an elliptic half-band filter). The
// nonlinear amplifier runs at the doubled rate between Upsample and
// Downsample so the harmonics it generates cannot alias.
package halfband

// Published elliptic half-band coefficients, three sections per branch,
// transition band ~0.1*fs.
var (
	branchACoeffs = [3]float64{0.036681502163648, 0.248030921580110, 0.643184620136480}
	branchBCoeffs = [3]float64{0.110377634768680, 0.420399304190880, 0.854640112701920}
)

// allpassBranch is a cascade of first-order allpass sections
// y = (a + z^-1) / (1 + a*z^-1).
type allpassBranch struct {
	a     [3]float64
	state [3]float64
}

func newAllpassBranch(coeffs [3]float64) allpassBranch {
	return allpassBranch{a: coeffs}
}

func (b *allpassBranch) process(x float64) float64 {
	y := x
	for i := range b.a {
		out := b.a[i]*y + b.state[i]
		b.state[i] = y - b.a[i]*out
		y = out
	}
	return y
}

func (b *allpassBranch) reset() {
	b.state = [3]float64{}
}

// Oversampler converts between the base rate and the 2x processing rate.
type Oversampler struct {
	upA   allpassBranch
	upB   allpassBranch
	downA allpassBranch
	downB allpassBranch

	// One-sample delay aligning branch B during decimation.
	downDelay float64
}

// New creates an oversampler with cleared state.
func New() *Oversampler {
	return &Oversampler{
		upA:   newAllpassBranch(branchACoeffs),
		upB:   newAllpassBranch(branchBCoeffs),
		downA: newAllpassBranch(branchACoeffs),
		downB: newAllpassBranch(branchBCoeffs),
	}
}

// Upsample writes 2*len(in) samples at the doubled rate into out.
// Branch A produces the even samples, branch B the odd ones.
func (o *Oversampler) Upsample(in, out []float64) {
	_ = out[2*len(in)-1]
	for i, x := range in {
		out[i*2] = o.upA.process(x)
		out[i*2+1] = o.upB.process(x)
	}
}

// Downsample filters and decimates 2*len(out) input samples into out.
func (o *Oversampler) Downsample(in, out []float64) {
	_ = in[2*len(out)-1]
	for i := range out {
		a := o.downA.process(in[i*2])
		b := o.downB.process(in[i*2+1])
		out[i] = (a + o.downDelay) * 0.5
		o.downDelay = b
	}
}

// Reset clears all filter state.
func (o *Oversampler) Reset() {
	o.upA.reset()
	o.upB.reset()
	o.downA.reset()
	o.downB.reset()
	o.downDelay = 0
}
