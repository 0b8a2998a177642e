package spectral

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-epiano/internal/testutil"
)

func TestHarmonicMagnitudesPureSine(t *testing.T) {
	const (
		sr = 44100.0
		f0 = 1000.0
	)
	sig := testutil.DeterministicSine(f0, sr, 1.0, 16384)
	mags, err := HarmonicMagnitudes(sig, sr, f0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if mags[0] <= 0 {
		t.Fatal("fundamental magnitude should be positive")
	}
	// A pure sine keeps H2 and H3 at least 60 dB down.
	if DB(mags[1]/mags[0]) > -60 {
		t.Errorf("H2/H1 = %.1f dB for a pure sine", DB(mags[1]/mags[0]))
	}
	if DB(mags[2]/mags[0]) > -60 {
		t.Errorf("H3/H1 = %.1f dB for a pure sine", DB(mags[2]/mags[0]))
	}
}

func TestHarmonicMagnitudesDetectsSecondHarmonic(t *testing.T) {
	const (
		sr = 44100.0
		f0 = 500.0
	)
	n := 16384
	sig := make([]float64, n)
	for i := range sig {
		ph := 2 * math.Pi * f0 * float64(i) / sr
		sig[i] = math.Sin(ph) + 0.1*math.Sin(2*ph)
	}
	mags, err := HarmonicMagnitudes(sig, sr, f0, 2)
	if err != nil {
		t.Fatal(err)
	}
	ratio := mags[1] / mags[0]
	if math.Abs(ratio-0.1) > 0.02 {
		t.Errorf("H2/H1 = %f, want ~0.1", ratio)
	}
}

func TestHarmonicBeyondNyquistIsZero(t *testing.T) {
	const sr = 8000.0
	sig := testutil.DeterministicSine(3000, sr, 1.0, 4096)
	mags, err := HarmonicMagnitudes(sig, sr, 3000, 4)
	if err != nil {
		t.Fatal(err)
	}
	for k := 1; k < 4; k++ {
		if mags[k] != 0 {
			t.Errorf("harmonic %d beyond nyquist should be zero, got %f", k+1, mags[k])
		}
	}
}

func TestRMSAndPeak(t *testing.T) {
	sig := testutil.DeterministicSine(100, 44100, 1.0, 44100)
	if rms := RMS(sig); math.Abs(rms-1/math.Sqrt2) > 0.01 {
		t.Errorf("sine RMS = %f, want ~0.707", rms)
	}
	if p := PeakAbs(sig); math.Abs(p-1) > 0.001 {
		t.Errorf("sine peak = %f, want ~1", p)
	}
	if RMS(nil) != 0 {
		t.Error("empty RMS should be 0")
	}
}

func TestDBFloor(t *testing.T) {
	if DB(0) != -300 {
		t.Errorf("DB(0) = %f, want -300", DB(0))
	}
	if math.Abs(DB(10)-20) > 1e-12 {
		t.Errorf("DB(10) = %f, want 20", DB(10))
	}
}

func TestValidation(t *testing.T) {
	sig := testutil.DeterministicSine(100, 44100, 1.0, 1024)
	if _, err := HarmonicMagnitudes(sig[:4], 44100, 100, 2); err == nil {
		t.Error("expected error for short signal")
	}
	if _, err := HarmonicMagnitudes(sig, 44100, 0, 2); err == nil {
		t.Error("expected error for zero fundamental")
	}
	if _, err := HarmonicMagnitudes(sig, 44100, 100, 0); err == nil {
		t.Error("expected error for zero harmonic count")
	}
}
