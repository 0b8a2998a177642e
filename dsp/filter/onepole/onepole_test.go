package onepole

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-epiano/internal/testutil"
)

func peakAfterSettle(process func(float64) float64, freqHz, sampleRate float64) float64 {
	n := int(sampleRate * 0.1)
	peak := 0.0
	for i := 0; i < n; i++ {
		x := math.Sin(2 * math.Pi * freqHz * float64(i) / sampleRate)
		y := process(x)
		if i > n/2 && math.Abs(y) > peak {
			peak = math.Abs(y)
		}
	}
	return peak
}

func TestHPFPassesHighFreq(t *testing.T) {
	hpf, err := NewHPF(1000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if peak := peakAfterSettle(hpf.Process, 5000, 44100); peak < 0.9 {
		t.Errorf("HPF attenuated 5 kHz too much: %f", peak)
	}
}

func TestHPFAttenuatesLowFreq(t *testing.T) {
	hpf, err := NewHPF(2000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if peak := peakAfterSettle(hpf.Process, 200, 44100); peak > 0.15 {
		t.Errorf("HPF passed too much 200 Hz: %f", peak)
	}
}

func TestLPFPassband(t *testing.T) {
	lpf, err := NewLPF(5000, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if peak := peakAfterSettle(lpf.Process, 200, 44100); peak < 0.9 {
		t.Errorf("LPF attenuated 200 Hz too much: %f", peak)
	}

	lpf2, err := NewLPF(500, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if peak := peakAfterSettle(lpf2.Process, 10000, 44100); peak > 0.1 {
		t.Errorf("LPF passed too much 10 kHz: %f", peak)
	}
}

func TestDCBlockerRemovesDC(t *testing.T) {
	dc, err := NewDCBlocker(44100)
	if err != nil {
		t.Fatal(err)
	}
	in := testutil.DC(1.0, 22050)
	last := 0.0
	for _, x := range in {
		last = dc.Process(x)
	}
	if math.Abs(last) > 0.01 {
		t.Errorf("DC blocker left %f after settling", last)
	}
}

func TestTPTDCGain(t *testing.T) {
	lpf, err := NewTPT(23, 88200)
	if err != nil {
		t.Fatal(err)
	}
	out := 0.0
	for i := 0; i < 44100; i++ {
		out = lpf.Process(1.0)
	}
	if math.Abs(out-1.0) > 1e-6 {
		t.Errorf("TPT DC gain = %f, want 1.0", out)
	}
}

func TestTPTPhaseCloserToAnalogThanEuler(t *testing.T) {
	const (
		sr     = 88200.0
		freq   = 10000.0
		cutoff = 23.0
	)

	fe, err := NewLPF(cutoff, sr)
	if err != nil {
		t.Fatal(err)
	}
	tpt, err := NewTPT(cutoff, sr)
	if err != nil {
		t.Fatal(err)
	}

	phaseFE := measurePhase(fe.Process, freq, sr)
	phaseTPT := measurePhase(tpt.Process, freq, sr)
	analog := -math.Atan(freq/cutoff) * 180 / math.Pi

	feErr := math.Abs(phaseFE - analog)
	tptErr := math.Abs(phaseTPT - analog)
	if tptErr >= feErr {
		t.Errorf("TPT phase error %.1f deg should beat forward Euler %.1f deg", tptErr, feErr)
	}
	if tptErr >= 2 {
		t.Errorf("TPT phase error %.1f deg too large", tptErr)
	}
}

// measurePhase returns the steady-state phase shift in degrees at freq,
// via correlation against sin/cos after a settling period.
func measurePhase(process func(float64) float64, freq, sr float64) float64 {
	nSettle := int(sr * 0.2)
	nMeasure := int(sr * 0.1)

	for i := 0; i < nSettle; i++ {
		process(math.Sin(2 * math.Pi * freq * float64(i) / sr))
	}

	cosCorr, sinCorr := 0.0, 0.0
	for i := 0; i < nMeasure; i++ {
		tSec := float64(nSettle+i) / sr
		w := 2 * math.Pi * freq * tSec
		y := process(math.Sin(w))
		cosCorr += y * math.Cos(w)
		sinCorr += y * math.Sin(w)
	}

	outputPhase := math.Atan2(-sinCorr, cosCorr)
	phase := (outputPhase + math.Pi/2) * 180 / math.Pi
	for phase > 0 {
		phase -= 360
	}
	for phase < -180 {
		phase += 360
	}
	return phase
}

func TestInvalidArgs(t *testing.T) {
	if _, err := NewHPF(0, 44100); err == nil {
		t.Error("expected error for zero cutoff")
	}
	if _, err := NewLPF(100, -1); err == nil {
		t.Error("expected error for negative sample rate")
	}
	if _, err := NewTPT(math.NaN(), 44100); err == nil {
		t.Error("expected error for NaN cutoff")
	}
}
