package notetable

import "math"

// Intermodulation risk analysis. The pickup nonlinearity mixes inharmonic
// modes into products that land near, but not on, integer harmonics of the
// fundamental; the residual offset beats audibly in the 3-15 Hz range.
// These reports are diagnostic only and drive no audio-path behavior.

// IntermodProduct describes one mode's proximity to an integer harmonic.
type IntermodProduct struct {
	Mode               int
	ModeRatio          float64
	NearestInteger     int
	FractionalOffset   float64
	BeatHz             float64
	EffectiveAmplitude float64
	PerceptualWeight   float64
	RiskScore          float64
}

// IntermodReport summarizes intermodulation risk for one key.
type IntermodReport struct {
	MIDI          int
	FundamentalHz float64
	Mu            float64
	Products      []IntermodProduct
	MaxRisk       float64
	TotalRisk     float64
}

// PerceptualBeatWeight weights a beat frequency by audibility: peak
// sensitivity at 5-10 Hz, ramping up from 0.5 Hz, decaying to a 0.1 floor
// above 40 Hz.
func PerceptualBeatWeight(beatHz float64) float64 {
	switch {
	case beatHz < 0.5:
		return 0
	case beatHz < 2.0:
		return 0.5 * (beatHz - 0.5) / 1.5
	case beatHz <= 5.0:
		return 0.5 + 0.5*(beatHz-2.0)/3.0
	case beatHz <= 10.0:
		return 1.0
	case beatHz <= 40.0:
		return 0.1 + 0.9*(40.0-beatHz)/30.0
	default:
		return 0.1
	}
}

// dwellAttenuationFF is the full-velocity dwell filter (0.75 cycles of
// hammer contact), normalized to mode 1.
func dwellAttenuationFF(fundamentalHz float64, ratios [NumModes]float64) [NumModes]float64 {
	tDwell := math.Min(math.Max(0.75/fundamentalHz, 0.0003), 0.020)
	const sigmaSq = 8.0 * 8.0

	var atten [NumModes]float64
	for i := 0; i < NumModes; i++ {
		ft := fundamentalHz * ratios[i] * tDwell
		atten[i] = math.Exp(-ft * ft / (2 * sigmaSq))
	}
	a0 := atten[0]
	if a0 > 1e-30 {
		for i := range atten {
			atten[i] /= a0
		}
	}
	return atten
}

// IntermodRisk computes the worst-case attack-phase intermodulation risk
// for a key, weighting each inharmonic mode's effective amplitude by the
// audibility of its beat against the nearest integer harmonic.
func IntermodRisk(midi int) IntermodReport {
	fundamental := MIDIToFreq(midi)
	mu := TipMassRatio(midi)
	ratios := ModeRatios(mu)
	dwell := dwellAttenuationFF(fundamental, ratios)
	coupling := SpatialCouplingCoefficients(mu, ReedLengthMM(midi))

	report := IntermodReport{
		MIDI:          midi,
		FundamentalHz: fundamental,
		Mu:            mu,
		Products:      make([]IntermodProduct, 0, NumModes-1),
	}

	for i := 1; i < NumModes; i++ {
		ratio := ratios[i]
		nearest := int(math.Round(ratio))
		offset := math.Abs(ratio - float64(nearest))
		beatHz := offset * fundamental
		effAmp := BaseModeAmplitudes[i] * coupling[i] * dwell[i]
		weight := PerceptualBeatWeight(beatHz)
		risk := effAmp * weight

		if risk > report.MaxRisk {
			report.MaxRisk = risk
		}
		report.TotalRisk += risk

		report.Products = append(report.Products, IntermodProduct{
			Mode:               i + 1,
			ModeRatio:          ratio,
			NearestInteger:     nearest,
			FractionalOffset:   offset,
			BeatHz:             beatHz,
			EffectiveAmplitude: effAmp,
			PerceptualWeight:   weight,
			RiskScore:          risk,
		})
	}
	return report
}
