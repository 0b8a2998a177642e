package preamp

import (
	"math"
	"testing"
)

const testRate = 88200.0

func measureGain(t *testing.T, s Solver, freq, amplitude float64) float64 {
	t.Helper()
	s.Reset()
	nSettle := int(testRate * 0.3)
	nMeasure := int(testRate * 0.2)

	for i := 0; i < nSettle; i++ {
		in := amplitude * math.Sin(2*math.Pi*freq*float64(i)/testRate)
		s.ProcessSample(in)
	}

	peak := 0.0
	for i := 0; i < nMeasure; i++ {
		in := amplitude * math.Sin(2*math.Pi*freq*float64(nSettle+i)/testRate)
		out := s.ProcessSample(in)
		if a := math.Abs(out); a > peak {
			peak = a
		}
	}
	return peak / amplitude
}

func dftMagnitude(signal []float64, freq float64) float64 {
	n := float64(len(signal))
	var re, im float64
	for i, s := range signal {
		phase := 2 * math.Pi * freq * float64(i) / testRate
		re += s * math.Cos(phase)
		im -= s * math.Sin(phase)
	}
	return math.Hypot(re/n, im/n)
}

func newSolver(t *testing.T, v Variant) Solver {
	t.Helper()
	s, err := New(testRate, WithVariant(v))
	if err != nil {
		t.Fatalf("New(%v): %v", v, err)
	}
	return s
}

func TestExtremeInputStaysFinite(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		t.Run(v.String(), func(t *testing.T) {
			s := newSolver(t, v)

			// Alternating rails far beyond any audio level, with the
			// photoresistor slammed between its extremes every sample.
			for i := 0; i < 20000; i++ {
				in := 1e6
				r := 1000.0
				if i&1 == 1 {
					in = -1e6
					r = 1_068_000
				}
				s.SetLDRResistance(r)
				out := s.ProcessSample(in)
				if math.IsNaN(out) || math.IsInf(out, 0) {
					t.Fatalf("non-finite output %v at sample %d", out, i)
				}
			}

			// Back to normal drive afterwards.
			s.SetLDRResistance(1_068_000)
			for i := 0; i < 4096; i++ {
				in := 0.005 * math.Sin(2*math.Pi*440*float64(i)/testRate)
				out := s.ProcessSample(in)
				if math.IsNaN(out) || math.IsInf(out, 0) {
					t.Fatalf("non-finite output %v after extreme drive", out)
				}
			}
		})
	}
}

func TestDivergenceRecoversWithinOneSample(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		t.Run(v.String(), func(t *testing.T) {
			s := newSolver(t, v)

			// A NaN input poisons the whole solver state; the guard must
			// catch it in the same sample.
			if out := s.ProcessSample(math.NaN()); out != 0 {
				t.Fatalf("divergent sample should be replaced by 0, got %v", out)
			}

			f, ok := s.(interface{ Faults() uint64 })
			if !ok {
				t.Fatal("solver should expose a fault counter")
			}
			if f.Faults() == 0 {
				t.Error("fault counter should record the divergence")
			}

			// The very next sample runs from a clean operating point.
			for i := 0; i < 1024; i++ {
				in := 0.005 * math.Sin(2*math.Pi*440*float64(i)/testRate)
				out := s.ProcessSample(in)
				if math.IsNaN(out) || math.IsInf(out, 0) {
					t.Fatalf("non-finite output %v at sample %d after recovery", out, i)
				}
			}
			if got := f.Faults(); got != 1 {
				t.Errorf("Faults() = %d after recovery, want 1", got)
			}
		})
	}
}

func TestCoupledOperatingPoint(t *testing.T) {
	p, err := NewCoupled(testRate)
	if err != nil {
		t.Fatalf("NewCoupled: %v", err)
	}
	v := p.vDC

	checks := []struct {
		name string
		node int
		want float64
		tol  float64
	}{
		{"base1", nodeBase1, 2.854, 0.1},
		{"emit1", nodeEmit1, 2.297, 0.1},
		{"coll1", nodeColl1, 4.556, 0.5},
		{"emit2", nodeEmit2, 3.897, 0.5},
		{"coll2", nodeColl2, 8.551, 1.0},
	}
	for _, c := range checks {
		if math.Abs(v[c.node]-c.want) > c.tol {
			t.Errorf("%s = %.3f V, want ~%.3f V", c.name, v[c.node], c.want)
		}
	}

	vbe1 := v[nodeBase1] - v[nodeEmit1]
	vbe2 := v[nodeColl1] - v[nodeEmit2]
	if vbe1 < 0.45 || vbe1 > 0.70 {
		t.Errorf("Vbe1 = %.3f V, want 0.45-0.70 V", vbe1)
	}
	if vbe2 < 0.55 || vbe2 > 0.75 {
		t.Errorf("Vbe2 = %.3f V, want 0.55-0.75 V", vbe2)
	}
}

func TestGainNoTremolo(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		s := newSolver(t, v)
		s.SetLDRResistance(1_000_000)

		gain := measureGain(t, s, 1000, 0.001)
		gainDB := 20 * math.Log10(gain)
		if gainDB <= 3 || gainDB >= 12 {
			t.Errorf("%v: gain at 1 kHz dark = %.1f dB, want ~6 dB", v, gainDB)
		}
	}
}

func TestGainIncreasesWithBrightLDR(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		s := newSolver(t, v)

		s.SetLDRResistance(1_000_000)
		gainDark := measureGain(t, s, 1000, 0.001)

		s.SetLDRResistance(19_000)
		gainBright := measureGain(t, s, 1000, 0.001)

		if gainBright <= gainDark*1.2 {
			t.Errorf("%v: bright gain %.2fx should exceed dark gain %.2fx by 20%%",
				v, gainBright, gainDark)
		}
	}
}

func TestSecondHarmonicDominates(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		s := newSolver(t, v)
		s.SetLDRResistance(1_000_000)

		const freq = 440.0
		n := int(testRate * 0.3)
		output := make([]float64, n)
		for i := range output {
			in := 0.005 * math.Sin(2*math.Pi*freq*float64(i)/testRate)
			output[i] = s.ProcessSample(in)
		}

		steady := output[n*3/4:]
		h2 := dftMagnitude(steady, 2*freq)
		h3 := dftMagnitude(steady, 3*freq)

		if h3 > 1e-15 && h2 <= h3 {
			t.Errorf("%v: H2 (%.2e) should dominate H3 (%.2e)", v, h2, h3)
		}
	}
}

func TestStabilityAfterImpulse(t *testing.T) {
	for _, tc := range []struct {
		variant Variant
		seconds float64
		limit   float64
	}{
		// The feedback coupling cap against the dark photoresistor has
		// a multi-second time constant, hence the loose coupled limit.
		{VariantCoupled, 2.0, 1e-3},
		{VariantSimple, 1.0, 1e-4},
	} {
		s := newSolver(t, tc.variant)
		s.ProcessSample(0.01)

		var last float64
		for i := 0; i < int(testRate*tc.seconds); i++ {
			last = s.ProcessSample(0)
		}
		if math.Abs(last) >= tc.limit {
			t.Errorf("%v: output %.2e after impulse, want < %.0e", tc.variant, last, tc.limit)
		}
	}
}

func TestBandwidthRolloff(t *testing.T) {
	for _, v := range []Variant{VariantCoupled, VariantSimple} {
		s := newSolver(t, v)
		s.SetLDRResistance(1_000_000)

		gain1k := measureGain(t, s, 1000, 0.001)
		gain15k := measureGain(t, s, 15000, 0.001)
		if gain15k >= gain1k {
			t.Errorf("%v: expected HF rolloff: 1 kHz %.2fx, 15 kHz %.2fx", v, gain1k, gain15k)
		}
	}
}

func TestCoupledBandwidthIndependentOfLDR(t *testing.T) {
	p, err := NewCoupled(testRate)
	if err != nil {
		t.Fatalf("NewCoupled: %v", err)
	}

	p.SetLDRResistance(1_000_000)
	ratioDark := measureGain(t, p, 10000, 0.001) / measureGain(t, p, 1000, 0.001)

	p.SetLDRResistance(19_000)
	ratioBright := measureGain(t, p, 10000, 0.001) / measureGain(t, p, 1000, 0.001)

	delta := math.Abs(20*math.Log10(ratioDark) - 20*math.Log10(ratioBright))
	if delta >= 6 {
		t.Errorf("relative 10k/1k response moved %.1f dB with the photoresistor, want < 6 dB", delta)
	}
}

func TestShadowBypassSkips(t *testing.T) {
	p, err := NewCoupled(testRate)
	if err != nil {
		t.Fatalf("NewCoupled: %v", err)
	}
	p.SetShadowBypass(true)

	const n = 1000
	for i := 0; i < n; i++ {
		out := p.ProcessSample(0.001)
		if math.IsNaN(out) || math.IsInf(out, 0) {
			t.Fatalf("non-finite output at sample %d", i)
		}
	}
	if got := p.ShadowSkips(); got != n {
		t.Errorf("ShadowSkips() = %d, want %d", got, n)
	}

	// Re-enabling the shadow must re-sync it without a transient blowup.
	p.SetShadowBypass(false)
	out := p.ProcessSample(0.001)
	if math.Abs(out) > 1 {
		t.Errorf("output %.3f after shadow re-sync, want small", out)
	}
}

func TestNoFaultsInNormalOperation(t *testing.T) {
	p, err := NewCoupled(testRate)
	if err != nil {
		t.Fatalf("NewCoupled: %v", err)
	}
	for i := 0; i < 10000; i++ {
		p.ProcessSample(0.01 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	if p.Faults() != 0 {
		t.Errorf("Faults() = %d, want 0", p.Faults())
	}
}

func TestMatInverse(t *testing.T) {
	p, err := NewCoupled(testRate)
	if err != nil {
		t.Fatalf("NewCoupled: %v", err)
	}

	g := p.gDCBase
	inv, err := matInverse(&g)
	if err != nil {
		t.Fatalf("matInverse: %v", err)
	}
	for i := 0; i < numNodes; i++ {
		var e vec8
		e[i] = 1
		x := matVecMul(&inv, &e)
		back := matVecMul(&g, &x)
		for j := 0; j < numNodes; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(back[j]-want) > 1e-9 {
				t.Fatalf("inverse roundtrip [%d][%d] = %.2e, want %.0f", i, j, back[j], want)
			}
		}
	}
}

func TestStage1SmallSignalGain(t *testing.T) {
	stage, err := newStage1(testRate)
	if err != nil {
		t.Fatalf("newStage1: %v", err)
	}

	// Sustained input lets the 23 Hz Miller pole settle.
	const input = 0.00001
	var out float64
	for i := 0; i < int(testRate*0.05); i++ {
		out = stage.process(input, 0)
	}

	ratio := out / input
	if ratio <= 300 || ratio >= 500 {
		t.Errorf("stage 1 small-signal gain = %.0f, want ~420", ratio)
	}
}

func TestStage1AsymmetricClipping(t *testing.T) {
	stage, err := newStage1(testRate)
	if err != nil {
		t.Fatalf("newStage1: %v", err)
	}

	posOut := stage.process(0.01, 0)
	stage.reset()
	negOut := stage.process(-0.01, 0)

	if math.Abs(negOut) <= math.Abs(posOut) {
		t.Errorf("cutoff headroom should exceed saturation headroom: pos=%.4f neg=%.4f", posOut, negOut)
	}
}

func TestStage2Gain(t *testing.T) {
	stage, err := newStage2(testRate)
	if err != nil {
		t.Fatalf("newStage2: %v", err)
	}

	const input = 0.001
	out := stage.process(input, 0)
	ratio := out / input
	if ratio <= 1.5 || ratio >= 4.0 {
		t.Errorf("stage 2 degenerated gain = %.2f, want ~2.2", ratio)
	}
}

func TestVariantString(t *testing.T) {
	if VariantCoupled.String() != "coupled" || VariantSimple.String() != "simple" {
		t.Errorf("unexpected variant names: %q, %q", VariantCoupled, VariantSimple)
	}
}

func TestInvalidArguments(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) should fail")
	}
	if _, err := New(testRate, WithVariant(Variant(99))); err == nil {
		t.Error("unknown variant should fail")
	}
	if _, err := NewCoupled(math.NaN()); err == nil {
		t.Error("NaN sample rate should fail")
	}
}
