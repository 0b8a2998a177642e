package notetable

import (
	"math"
	"testing"
)

func TestMIDIToFreq(t *testing.T) {
	cases := []struct {
		midi int
		want float64
		tol  float64
	}{
		{69, 440.0, 0.01},
		{60, 261.63, 0.1},
		{33, 55.0, 0.1},
	}
	for _, tc := range cases {
		got := MIDIToFreq(tc.midi)
		if math.Abs(got-tc.want) > tc.tol {
			t.Errorf("MIDIToFreq(%d) = %f, want %f", tc.midi, got, tc.want)
		}
	}
}

func TestModeRatiosBareBeam(t *testing.T) {
	r := ModeRatios(0)
	if math.Abs(r[0]-1.0) > 1e-6 {
		t.Errorf("mode 1 ratio = %f, want 1.0", r[0])
	}
	if math.Abs(r[1]-6.267) > 0.01 {
		t.Errorf("mode 2 ratio = %f, want ~6.267", r[1])
	}
	if math.Abs(r[2]-17.547) > 0.02 {
		t.Errorf("mode 3 ratio = %f, want ~17.547", r[2])
	}
}

func TestModeRatiosWithTipMass(t *testing.T) {
	r := ModeRatios(0.10)
	if math.Abs(r[1]-7.13) > 0.05 {
		t.Errorf("mode 2 ratio at mu=0.10 = %f, want ~7.13", r[1])
	}
}

func TestTipMassRatioRange(t *testing.T) {
	if TipMassRatio(33) <= 0.05 {
		t.Errorf("bass tip mass ratio too small: %f", TipMassRatio(33))
	}
	if TipMassRatio(57) >= 0.02 {
		t.Errorf("mid tip mass ratio too large: %f", TipMassRatio(57))
	}
}

func TestDecayRateMonotoneWithPitch(t *testing.T) {
	prev := 0.0
	for midi := MIDILow; midi <= MIDIHigh; midi++ {
		rate := FundamentalDecayRate(midi)
		if rate < prev {
			t.Fatalf("decay rate decreased at MIDI %d: %f < %f", midi, rate, prev)
		}
		prev = rate
	}
}

func TestDecayRateCalibration(t *testing.T) {
	if bass := FundamentalDecayRate(36); math.Abs(bass-3.0) > 0.5 {
		t.Errorf("C2 decay should sit near the 3.0 dB/s floor, got %f", bass)
	}
	if c4 := FundamentalDecayRate(60); c4 < 3.5 || c4 > 7.0 {
		t.Errorf("C4 decay should be ~4.5 dB/s, got %f", c4)
	}
	if c6 := FundamentalDecayRate(84); c6 < 17.0 || c6 > 35.0 {
		t.Errorf("C6 decay should be ~24 dB/s, got %f", c6)
	}
}

func TestModeDecayRatesSuperLinear(t *testing.T) {
	ratios := ModeRatios(0)
	rates := ModeDecayRates(60, ratios)
	for i := 1; i < NumModes; i++ {
		if rates[i] <= rates[i-1] {
			t.Errorf("mode %d decay (%f) should exceed mode %d (%f)", i+1, rates[i], i, rates[i-1])
		}
	}
}

func TestReedLengthKnownValues(t *testing.T) {
	if l := ReedLengthMM(33); math.Abs(l-74.93) > 0.1 {
		t.Errorf("reed 1 length = %f, want ~74.93", l)
	}
	if l := ReedLengthMM(96); math.Abs(l-25.4) > 0.1 {
		t.Errorf("reed 64 length = %f, want ~25.4", l)
	}
	if l := ReedLengthMM(52); math.Abs(l-50.8) > 0.1 {
		t.Errorf("reed 20 length = %f, want ~50.8", l)
	}
}

func TestBlankDimsSmoothTransition(t *testing.T) {
	_, t48 := ReedBlankDims(48)
	_, t53 := ReedBlankDims(53)
	_, t58 := ReedBlankDims(58)

	if math.Abs(t48-0.026*25.4) > 0.01 {
		t.Errorf("MIDI 48 thickness = %f, want pure bass 0.6604", t48)
	}
	if math.Abs(t58-0.034*25.4) > 0.01 {
		t.Errorf("MIDI 58 thickness = %f, want pure mid 0.8636", t58)
	}
	if t53 <= t48+0.02 || t53 >= t58-0.02 {
		t.Errorf("MIDI 53 thickness %f should lie between %f and %f", t53, t48, t58)
	}
}

func TestComplianceBassGreaterThanTreble(t *testing.T) {
	cBass := ReedCompliance(33)
	cMid := ReedCompliance(60)
	cTreb := ReedCompliance(96)

	if cBass <= cMid*5 {
		t.Errorf("bass compliance (%f) should be >5x mid (%f)", cBass, cMid)
	}
	if cMid <= cTreb*2 {
		t.Errorf("mid compliance (%f) should be >2x treble (%f)", cMid, cTreb)
	}
}

func TestDisplacementScaleCalibration(t *testing.T) {
	if ds := PickupDisplacementScale(60); math.Abs(ds-0.85) > 0.001 {
		t.Errorf("C4 displacement scale = %f, want 0.85", ds)
	}

	ds33 := PickupDisplacementScale(33)
	ds60 := PickupDisplacementScale(60)
	ds96 := PickupDisplacementScale(96)
	if ds33 < ds60 {
		t.Errorf("bass scale (%f) should be >= mid (%f)", ds33, ds60)
	}
	if ds60 <= ds96 {
		t.Errorf("mid scale (%f) should exceed treble (%f)", ds60, ds96)
	}
	if ds96 >= 0.35 {
		t.Errorf("treble scale should be nearly clean, got %f", ds96)
	}
}

func TestSpatialCouplingMode1Unity(t *testing.T) {
	for midi := MIDILow; midi <= MIDIHigh; midi += 4 {
		kappa := SpatialCouplingCoefficients(TipMassRatio(midi), ReedLengthMM(midi))
		if math.Abs(kappa[0]-1.0) > 1e-10 {
			t.Errorf("MIDI %d: mode 1 coupling = %.10f, want exactly 1.0", midi, kappa[0])
		}
		for i := 1; i < NumModes; i++ {
			if kappa[i] > kappa[0]+1e-6 {
				t.Errorf("MIDI %d: mode %d coupling %f exceeds mode 1 %f", midi, i+1, kappa[i], kappa[0])
			}
		}
		if kappa[1] >= kappa[0] {
			t.Errorf("MIDI %d: mode 2 coupling %f should be below mode 1", midi, kappa[1])
		}
	}
}

func TestSpatialCouplingRegisterVariation(t *testing.T) {
	kappaBass := SpatialCouplingCoefficients(TipMassRatio(33), ReedLengthMM(33))
	kappaTreb := SpatialCouplingCoefficients(TipMassRatio(96), ReedLengthMM(96))

	// Shorter treble reeds put more of their length under the plate, so
	// their upper modes cancel harder.
	for i := 2; i < NumModes; i++ {
		if kappaTreb[i] >= kappaBass[i] {
			t.Errorf("mode %d: treble coupling %f should be below bass %f", i+1, kappaTreb[i], kappaBass[i])
		}
	}
}

func TestVelocityExponentBell(t *testing.T) {
	mid := VelocityExponent(62)
	if math.Abs(mid-1.7) > 1e-9 {
		t.Errorf("D4 exponent = %f, want 1.7", mid)
	}
	if edge := VelocityExponent(33); edge > 1.45 {
		t.Errorf("A1 exponent = %f, want near 1.3", edge)
	}
	if VelocityExponent(48) <= VelocityExponent(36) {
		t.Error("exponent should rise toward the mid register")
	}
}

func TestVelocityScurveEndpoints(t *testing.T) {
	if v := VelocityScurve(0); math.Abs(v) > 1e-12 {
		t.Errorf("scurve(0) = %g, want 0", v)
	}
	if v := VelocityScurve(1); math.Abs(v-1) > 1e-12 {
		t.Errorf("scurve(1) = %g, want 1", v)
	}
	if VelocityScurve(0.6) <= VelocityScurve(0.4) {
		t.Error("scurve must be increasing")
	}
}

func TestOutputScaleFinite(t *testing.T) {
	for midi := MIDILow; midi <= MIDIHigh; midi++ {
		for _, v := range []float64{0.1, 0.5, 1.0} {
			s := OutputScale(midi, v)
			if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
				t.Fatalf("OutputScale(%d, %f) = %f", midi, v, s)
			}
		}
	}
}

func TestCalibrationValidate(t *testing.T) {
	if err := DefaultCalibration().Validate(); err != nil {
		t.Fatalf("default calibration invalid: %v", err)
	}
	bad := DefaultCalibration()
	bad.DSAtC4 = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for displacement scale >= 1")
	}
}

func TestParamsAppliesSpatialCoupling(t *testing.T) {
	p := Params(96)
	if p.ModeAmplitudes[0] != BaseModeAmplitudes[0] {
		t.Errorf("mode 1 amplitude should be unmodified, got %f", p.ModeAmplitudes[0])
	}
	for i := 1; i < NumModes; i++ {
		if p.ModeAmplitudes[i] >= BaseModeAmplitudes[i] {
			t.Errorf("mode %d amplitude %g should be attenuated below base %g",
				i+1, p.ModeAmplitudes[i], BaseModeAmplitudes[i])
		}
	}
}
