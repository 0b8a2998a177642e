package notetable

import (
	"fmt"
	"math"
)

// NumModes is the number of bending modes carried per reed.
const NumModes = 7

// Playable key range: 64 reeds, A1 through C7.
const (
	MIDILow  = 33
	MIDIHigh = 96
)

// BaseModeAmplitudes holds the calibrated per-mode excitation amplitudes.
// Mode 2 and above sit far below the naive 1/omega_n prediction: real reeds
// carry solder tip mass and hammer coupling that suppress upper modes, and
// the audible "bark" comes from the pickup nonlinearity at 2x the
// fundamental rather than from mechanical mode 2.
var BaseModeAmplitudes = [NumModes]float64{1.0, 0.005, 0.0035, 0.0018, 0.0011, 0.0007, 0.0005}

// MIDIToFreq converts a MIDI note number to its fundamental in Hz (A440).
func MIDIToFreq(midi int) float64 {
	return 440.0 * math.Pow(2, (float64(midi)-69.0)/12.0)
}

// TipMassRatio estimates the solder tip mass ratio mu for a key.
// Anchors: long bass reeds carry heavy solder (mu ~0.10 at A1), the
// mid-register is close to a bare beam, and short treble reeds need only
// a trace. Linear interpolation between anchors.
func TipMassRatio(midi int) float64 {
	anchors := [...][2]float64{
		{33, 0.10},
		{52, 0.00},
		{62, 0.00},
		{74, 0.02},
		{96, 0.01},
	}
	return interpAnchors(anchors[:], float64(midi))
}

func interpAnchors(anchors [][2]float64, x float64) float64 {
	if x <= anchors[0][0] {
		return anchors[0][1]
	}
	last := anchors[len(anchors)-1]
	if x >= last[0] {
		return last[1]
	}
	for i := 0; i < len(anchors)-1; i++ {
		x0, y0 := anchors[i][0], anchors[i][1]
		x1, y1 := anchors[i+1][0], anchors[i+1][1]
		if x <= x1 {
			t := (x - x0) / (x1 - x0)
			return y0 + t*(y1-y0)
		}
	}
	return 0
}

// eigRow is one row of the cantilever-with-tip-mass eigenvalue table,
// solutions of 1 + cos(b)cosh(b) + b*mu*(cos(b)sinh(b) - sin(b)cosh(b)) = 0.
type eigRow struct {
	mu    float64
	betas [NumModes]float64
}

var eigTable = []eigRow{
	{0.00, [NumModes]float64{1.8751, 4.6941, 7.8548, 10.9955, 14.1372, 17.2788, 20.4204}},
	{0.01, [NumModes]float64{1.8584, 4.6849, 7.8504, 10.9930, 14.1356, 17.2776, 20.4195}},
	{0.05, [NumModes]float64{1.7920, 4.6477, 7.8316, 10.9830, 14.1288, 17.2726, 20.4158}},
	{0.10, [NumModes]float64{1.7227, 4.6024, 7.8077, 10.9700, 14.1198, 17.2660, 20.4110}},
	{0.15, [NumModes]float64{1.6625, 4.5618, 7.7859, 10.9580, 14.1114, 17.2598, 20.4065}},
	{0.20, [NumModes]float64{1.6097, 4.5254, 7.7659, 10.9470, 14.1036, 17.2540, 20.4023}},
	{0.30, [NumModes]float64{1.5201, 4.4620, 7.7310, 10.9280, 14.0894, 17.2434, 20.3946}},
	{0.50, [NumModes]float64{1.3853, 4.3601, 7.6745, 10.8970, 14.0650, 17.2252, 20.3814}},
}

func eigenvalues(mu float64) [NumModes]float64 {
	muC := math.Min(math.Max(mu, 0), 0.50)

	lo := 0
	for i := 0; i < len(eigTable)-1; i++ {
		if eigTable[i+1].mu > muC {
			lo = i
			break
		}
		lo = i
	}
	hi := lo + 1
	if hi > len(eigTable)-1 {
		hi = len(eigTable) - 1
	}

	t := 0.0
	if eigTable[hi].mu > eigTable[lo].mu {
		t = (muC - eigTable[lo].mu) / (eigTable[hi].mu - eigTable[lo].mu)
	}

	var betas [NumModes]float64
	for i := 0; i < NumModes; i++ {
		betas[i] = eigTable[lo].betas[i] + t*(eigTable[hi].betas[i]-eigTable[lo].betas[i])
	}
	return betas
}

// ModeRatios returns f_n/f_1 for a cantilever beam with tip mass ratio mu.
// Mode 1 is always 1.0; higher modes follow (beta_n/beta_1)^2.
func ModeRatios(mu float64) [NumModes]float64 {
	betas := eigenvalues(mu)
	b1Sq := betas[0] * betas[0]
	var ratios [NumModes]float64
	for i := 0; i < NumModes; i++ {
		ratios[i] = betas[i] * betas[i] / b1Sq
	}
	return ratios
}

// ReedLengthMM returns the reed length in millimetres.
// Two-segment formula over reed number n = midi-32:
// bass reeds 1-20 run 3.0 - n/20 inches, treble 2.0 - (n-20)/44 inches.
func ReedLengthMM(midi int) float64 {
	n := math.Min(math.Max(float64(midi)-32, 1), 64)
	var inches float64
	if n <= 20 {
		inches = 3.0 - n/20.0
	} else {
		inches = 2.0 - (n-20)/44.0
	}
	return inches * 25.4
}

// ReedBlankDims returns the blank width and thickness in millimetres.
// Five blank widths step across the keyboard; the bass-to-mid thickness
// change is smoothed across ten semitones to model the grinding taper at
// blank boundaries.
func ReedBlankDims(midi int) (widthMM, thicknessMM float64) {
	reed := midi - 32
	if reed < 1 {
		reed = 1
	}
	if reed > 64 {
		reed = 64
	}

	var widthInch float64
	switch {
	case reed <= 14:
		widthInch = 0.151
	case reed <= 20:
		widthInch = 0.127
	case reed <= 42:
		widthInch = 0.121
	case reed <= 50:
		widthInch = 0.111
	default:
		widthInch = 0.098
	}

	var thicknessInch float64
	switch {
	case reed <= 16:
		thicknessInch = 0.026
	case reed <= 26:
		t := (float64(reed) - 16) / 10
		thicknessInch = 0.026 + t*(0.034-0.026)
	default:
		thicknessInch = 0.034
	}

	return widthInch * 25.4, thicknessInch * 25.4
}

// ReedCompliance returns the beam tip compliance proxy L^3/(w*t^3).
// Long thin bass reeds deflect roughly 25x further than short thick treble
// reeds for the same hammer force, which sets how hard each note drives the
// pickup nonlinearity.
func ReedCompliance(midi int) float64 {
	l := ReedLengthMM(midi)
	w, t := ReedBlankDims(midi)
	return (l * l * l) / (w * t * t * t)
}

// Displacement scale calibration for the pickup nonlinearity.
const (
	dsAtC4     = 0.85
	dsExponent = 0.65
	dsClampLo  = 0.02
	dsClampHi  = 0.85
)

// Calibration carries the runtime-overridable voicing parameters.
// Zero value is not usable; start from DefaultCalibration.
type Calibration struct {
	DSAtC4       float64
	DSExponent   float64
	DSClampLo    float64
	DSClampHi    float64
	TargetDB     float64
	VoicingSlope float64
	ZeroTrim     bool
}

// DefaultCalibration returns the stock voicing.
func DefaultCalibration() Calibration {
	return Calibration{
		DSAtC4:       dsAtC4,
		DSExponent:   dsExponent,
		DSClampLo:    dsClampLo,
		DSClampHi:    dsClampHi,
		TargetDB:     -13.0,
		VoicingSlope: -0.04,
	}
}

// Validate reports whether the calibration values are usable.
func (c Calibration) Validate() error {
	if c.DSAtC4 <= 0 || c.DSAtC4 >= 1 || math.IsNaN(c.DSAtC4) {
		return fmt.Errorf("displacement scale at C4 must be in (0, 1): %f", c.DSAtC4)
	}
	if c.DSClampLo <= 0 || c.DSClampHi >= 1 || c.DSClampLo > c.DSClampHi {
		return fmt.Errorf("displacement clamp must satisfy 0 < lo <= hi < 1: [%f, %f]", c.DSClampLo, c.DSClampHi)
	}
	if math.IsNaN(c.TargetDB) || math.IsInf(c.TargetDB, 0) {
		return fmt.Errorf("target level must be finite: %f", c.TargetDB)
	}
	return nil
}

// PickupDisplacementScale returns the per-note displacement scale derived
// from beam compliance relative to the C4 reference. Stiffer treble reeds
// deflect less and drive the pickup more linearly.
func PickupDisplacementScale(midi int) float64 {
	return PickupDisplacementScaleCal(midi, DefaultCalibration())
}

// PickupDisplacementScaleCal is PickupDisplacementScale with explicit calibration.
func PickupDisplacementScaleCal(midi int, cal Calibration) float64 {
	c := ReedCompliance(midi)
	cRef := ReedCompliance(60)
	ds := cal.DSAtC4 * math.Pow(c/cRef, cal.DSExponent)
	return math.Min(math.Max(ds, cal.DSClampLo), cal.DSClampHi)
}

// modeShape evaluates the cantilever mode shape phi_n(xi) with tip mass,
// xi in [0, 1] from clamp to tip.
func modeShape(beta, xi float64) float64 {
	sigma := (math.Cosh(beta) + math.Cos(beta)) / (math.Sinh(beta) + math.Sin(beta))
	bx := beta * xi
	return math.Cosh(bx) - math.Cos(bx) - sigma*(math.Sinh(bx)-math.Sin(bx))
}

// Active pickup plate length in mm, the electrode region that effectively
// senses reed displacement.
const plateActiveLengthMM = 6.0

// SpatialCouplingCoefficients returns per-mode pickup coupling, normalized
// to mode 1. The plate integrates displacement over a finite window near
// the tip; the spatial lobes of higher bending modes partially cancel in
// that window, attenuating inharmonic modes relative to the fundamental.
func SpatialCouplingCoefficients(mu, reedLenMM float64) [NumModes]float64 {
	betas := eigenvalues(mu)
	ellOverL := math.Min(math.Max(plateActiveLengthMM/reedLenMM, 0), 1)

	var kappaRaw [NumModes]float64

	const nSimpson = 32
	xiStart := 1.0 - ellOverL

	for mode := 0; mode < NumModes; mode++ {
		beta := betas[mode]
		tipVal := modeShape(beta, 1.0)

		if math.Abs(tipVal) < 1e-30 || ellOverL < 1e-12 {
			kappaRaw[mode] = 1.0
			continue
		}

		h := ellOverL / nSimpson
		sum := modeShape(beta, xiStart) + modeShape(beta, 1.0)
		for j := 1; j < nSimpson; j++ {
			xi := xiStart + float64(j)*h
			coeff := 2.0
			if j%2 == 1 {
				coeff = 4.0
			}
			sum += coeff * modeShape(beta, xi)
		}

		integral := sum * h / 3.0
		k := math.Abs(integral / (ellOverL * tipVal))
		kappaRaw[mode] = math.Min(math.Max(k, 0), 1)
	}

	// Normalize to mode 1: the displacement scale is already calibrated for
	// tip-referenced sensing, so only the differential suppression matters.
	k1 := kappaRaw[0]
	if k1 <= 1e-30 {
		return [NumModes]float64{1, 1, 1, 1, 1, 1, 1}
	}
	var kappa [NumModes]float64
	for i := 0; i < NumModes; i++ {
		kappa[i] = math.Min(math.Max(kappaRaw[i]/k1, 0), 1)
	}
	return kappa
}

// HammerSpatialCoupling returns per-mode excitation coupling for a hammer
// contacting the reed over xi in [0.20, 0.40], normalized to mode 1.
// Not folded into NoteParams: the base amplitudes were measured from
// recordings that already include the real hammer's excitation profile.
func HammerSpatialCoupling(mu float64) [NumModes]float64 {
	betas := eigenvalues(mu)

	const (
		xiStart    = 0.20
		xiEnd      = 0.40
		contactLen = xiEnd - xiStart
		nSimpson   = 32
	)
	h := contactLen / nSimpson

	var raw [NumModes]float64
	for mode := 0; mode < NumModes; mode++ {
		beta := betas[mode]
		sum := modeShape(beta, xiStart) + modeShape(beta, xiEnd)
		for j := 1; j < nSimpson; j++ {
			xi := xiStart + float64(j)*h
			coeff := 2.0
			if j%2 == 1 {
				coeff = 4.0
			}
			sum += coeff * modeShape(beta, xi)
		}
		raw[mode] = math.Abs(sum*h/3.0) / contactLen
	}

	k1 := raw[0]
	if k1 <= 1e-30 {
		return [NumModes]float64{1, 1, 1, 1, 1, 1, 1}
	}
	var coupling [NumModes]float64
	for i := 0; i < NumModes; i++ {
		coupling[i] = raw[i] / k1
	}
	return coupling
}

// Frequency-independent losses (clamping friction, air damping) put a floor
// under the decay law for bass reeds.
const minDecayRate = 3.0

// FundamentalDecayRate returns the fundamental decay rate in dB/s,
// following the power law 0.005*f^1.22 floored at 3.0 dB/s. The exponent
// slightly above 1 corresponds to Q falling gently with frequency, the
// thermoelastic trend for shorter stiffer reeds.
func FundamentalDecayRate(midi int) float64 {
	f := MIDIToFreq(midi)
	return math.Max(0.005*math.Pow(f, 1.22), minDecayRate)
}

// Super-linear mode damping: thermoelastic, radiation and clamping losses
// all scale faster than linearly with frequency. At 2.0 the inharmonic
// partials confine themselves to the first few cycles of the attack.
const modeDecayExponent = 2.0

// ModeDecayRates returns per-mode decay rates in dB/s.
func ModeDecayRates(midi int, ratios [NumModes]float64) [NumModes]float64 {
	base := FundamentalDecayRate(midi)
	var rates [NumModes]float64
	for i := 0; i < NumModes; i++ {
		rates[i] = base * math.Pow(ratios[i], modeDecayExponent)
	}
	return rates
}

// PickupRMSProxy estimates post-pickup RMS for a sine of displacement ds.
// For y = ds*sin(theta) the Fourier magnitudes of y/(1-y) are
// c_n = 2*r^n/sqrt(1-ds^2) with r = (1-sqrt(1-ds^2))/ds; each harmonic
// passes the pickup HPF with gain n*f0/sqrt((n*f0)^2 + fc^2). The proxy
// sums the first eight harmonics.
func PickupRMSProxy(ds, f0, fc float64) float64 {
	if ds < 1e-10 {
		return 0
	}
	r := (1 - math.Sqrt(1-ds*ds)) / ds
	invSqrt := 1 / math.Sqrt(1-ds*ds)
	sumSq := 0.0
	rn := r
	for n := 1; n <= 8; n++ {
		cn := 2 * rn * invSqrt
		nf := float64(n) * f0
		hpfN := nf / math.Sqrt(nf*nf+fc*fc)
		sumSq += (cn * hpfN) * (cn * hpfN)
		rn *= r
	}
	return math.Sqrt(sumSq)
}

// RegisterTrimDB returns the empirical per-register level trim in dB,
// correcting residual imbalance the analytic proxy cannot model (input
// coupling HPF, clamp effects, mode interaction). C4 is the 0 dB reference.
func RegisterTrimDB(midi int) float64 {
	anchors := [...][2]float64{
		{36, -4.9},
		{40, -3.6},
		{44, -5.0},
		{48, -3.0},
		{52, -2.4},
		{56, -3.1},
		{60, 0.0},
		{64, 0.1},
		{68, 0.1},
		{72, -1.3},
		{76, 0.5},
		{80, 1.1},
		{84, 2.4},
	}
	return interpAnchors(anchors[:], float64(midi))
}

// OutputScale returns the post-pickup gain that balances the keyboard.
// Applied after the nonlinearity so volume trims never change bark
// character. Velocity matters: at ff the bass gains harmonic energy that
// passes the 2312 Hz pickup HPF, at pp the nonlinearity is nearly linear
// and that boost vanishes; the proxy models this directly.
func OutputScale(midi int, velocity float64) float64 {
	return OutputScaleCal(midi, velocity, DefaultCalibration())
}

// OutputScaleCal is OutputScale with explicit calibration.
func OutputScaleCal(midi int, velocity float64, cal Calibration) float64 {
	const hpfFc = 2312.0

	ds := PickupDisplacementScaleCal(midi, cal)
	f0 := MIDIToFreq(midi)

	scurveV := VelocityScurve(velocity)
	velScale := math.Pow(scurveV, VelocityExponent(midi))
	velScaleC4 := math.Pow(scurveV, VelocityExponent(60))
	effectiveDS := math.Max(ds*velScale, 1e-6)
	effectiveDSRef := math.Max(cal.DSAtC4*velScaleC4, 1e-6)

	rms := PickupRMSProxy(effectiveDS, f0, hpfFc)
	rmsRef := PickupRMSProxy(effectiveDSRef, MIDIToFreq(60), hpfFc)

	flatDB := -20 * math.Log10(rms/rmsRef)
	voicingDB := cal.VoicingSlope * math.Max(float64(midi)-60, 0)
	trim := 0.0
	if !cal.ZeroTrim {
		trim = RegisterTrimDB(midi)
	}

	// Blend the register trim in with velocity so the full-velocity
	// calibration is preserved while mf keeps a few dB of spread.
	velBlend := math.Pow(velocity, 1.3)
	effectiveTrim := trim * velBlend

	return math.Pow(10, (cal.TargetDB+flatDB+voicingDB+effectiveTrim)/20)
}

// VelocityExponent returns the register-dependent dynamics exponent.
// Mid-register keys have the widest dynamic range because hammer weight
// and reed stiffness are well matched there; heavy bass reeds and light
// treble reeds both compress. Bell curve centered on D4.
func VelocityExponent(midi int) float64 {
	const (
		center = 62.0
		sigma  = 15.0
		minExp = 1.3
		maxExp = 1.7
	)
	m := float64(midi)
	t := math.Exp(-0.5 * ((m - center) / sigma) * ((m - center) / sigma))
	return minExp + t*(maxExp-minExp)
}

// VelocityScurve applies mild sigmoid shaping to a normalized velocity,
// modelling the compression curve of the neoprene hammer pad. k=1.5 keeps
// mf and ff nearly linear with slight softening at pp.
func VelocityScurve(velocity float64) float64 {
	const k = 1.5
	s := 1 / (1 + math.Exp(-k*(velocity-0.5)))
	s0 := 1 / (1 + math.Exp(k*0.5))
	s1 := 1 / (1 + math.Exp(-k*0.5))
	return (s - s0) / (s1 - s0)
}

// NoteParams is the full modal parameter set for one key.
type NoteParams struct {
	FundamentalHz  float64
	ModeRatios     [NumModes]float64
	ModeAmplitudes [NumModes]float64
	ModeDecayRates [NumModes]float64
}

// Params computes the modal parameters for a key: inharmonic ratios from
// the tip-mass eigenvalues, calibrated base amplitudes shaped by the
// pickup's spatial coupling window, and power-law decay rates.
func Params(midi int) NoteParams {
	fundamental := MIDIToFreq(midi)
	mu := TipMassRatio(midi)
	ratios := ModeRatios(mu)
	decayRates := ModeDecayRates(midi, ratios)

	amplitudes := BaseModeAmplitudes
	coupling := SpatialCouplingCoefficients(mu, ReedLengthMM(midi))
	for i := 0; i < NumModes; i++ {
		amplitudes[i] *= coupling[i]
	}

	return NoteParams{
		FundamentalHz:  fundamental,
		ModeRatios:     ratios,
		ModeAmplitudes: amplitudes,
		ModeDecayRates: decayRates,
	}
}
