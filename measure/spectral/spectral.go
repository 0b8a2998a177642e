// Package spectral provides harmonic-level measurement for calibration and
// regression tests: Hann-windowed FFT magnitudes sampled at multiples of a
// known fundamental.
package spectral

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// HarmonicMagnitudes returns the spectrum magnitude at k*f0 for k = 1..count.
// The signal is Hann windowed and zero padded to a power of two; each
// harmonic takes the peak bin within a small search window to absorb bin
// quantization and the detune of real notes.
func HarmonicMagnitudes(signal []float64, sampleRate, f0 float64, count int) ([]float64, error) {
	if len(signal) < 8 {
		return nil, fmt.Errorf("signal too short: %d samples", len(signal))
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("sample rate must be > 0 and finite: %f", sampleRate)
	}
	if f0 <= 0 || f0 >= sampleRate/2 {
		return nil, fmt.Errorf("fundamental must be in (0, nyquist): %f", f0)
	}
	if count < 1 {
		return nil, fmt.Errorf("harmonic count must be >= 1: %d", count)
	}

	mags, binHz, err := magnitudeSpectrum(signal, sampleRate)
	if err != nil {
		return nil, err
	}

	out := make([]float64, count)
	maxBin := len(mags) - 1
	for k := 1; k <= count; k++ {
		center := int(math.Round(float64(k) * f0 / binHz))
		if center > maxBin {
			break
		}
		lo := center - 2
		if lo < 1 {
			lo = 1
		}
		hi := center + 2
		if hi > maxBin {
			hi = maxBin
		}
		peak := 0.0
		for b := lo; b <= hi; b++ {
			if mags[b] > peak {
				peak = mags[b]
			}
		}
		out[k-1] = peak
	}
	return out, nil
}

// magnitudeSpectrum returns non-negative-frequency bin magnitudes and the
// bin width in Hz.
func magnitudeSpectrum(signal []float64, sampleRate float64) ([]float64, float64, error) {
	fftSize := nextPowerOf2(len(signal))
	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, 0, err
	}

	in := make([]complex128, fftSize)
	n := float64(len(signal) - 1)
	for i, v := range signal {
		// Hann window.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/n))
		in[i] = complex(v*w, 0)
	}

	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return nil, 0, err
	}

	half := fftSize/2 + 1
	re := make([]float64, half)
	im := make([]float64, half)
	for i := 0; i < half; i++ {
		re[i] = real(out[i])
		im[i] = imag(out[i])
	}
	mags := make([]float64, half)
	vecmath.Magnitude(mags, re, im)

	return mags, sampleRate / float64(fftSize), nil
}

// RMS returns the root mean square of the signal, zero for empty input.
func RMS(signal []float64) float64 {
	if len(signal) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range signal {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(signal)))
}

// PeakAbs returns the largest absolute sample value.
func PeakAbs(signal []float64) float64 {
	peak := 0.0
	for _, v := range signal {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// DB converts a linear ratio or level to decibels, with a -300 dB floor
// for zero input.
func DB(x float64) float64 {
	if x <= 0 {
		return -300
	}
	return 20 * math.Log10(x)
}

func nextPowerOf2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
