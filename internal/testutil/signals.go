// Package testutil provides deterministic test signals and slice
// assertions shared by the synthesis and measurement package tests.
package testutil

import (
	"math"
	"math/rand"
)

// DeterministicSine returns a sine burst starting at phase zero. The same
// arguments always produce the same samples, so renders driven by it can be
// compared bit-exactly across runs.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	omega := 2 * math.Pi * freqHz / sampleRate
	for n := range out {
		out[n] = amplitude * math.Sin(omega*float64(n))
	}
	return out
}

// DeterministicNoise returns uniform white noise in [-amplitude, amplitude]
// from a seeded source. Useful for exciting a chain without committing a
// fixture file.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for n := range out {
		out[n] = amplitude * (2*rng.Float64() - 1)
	}
	return out
}

// DC returns a constant signal, typically used to measure operating points
// and DC rejection.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for n := range out {
		out[n] = value
	}
	return out
}
