package engine

import (
	"math"

	"github.com/cwbudde/algo-epiano/dsp/excite"
	"github.com/cwbudde/algo-epiano/dsp/modal"
	"github.com/cwbudde/algo-epiano/dsp/pickup"
	"github.com/cwbudde/algo-epiano/notetable"
	"github.com/cwbudde/algo-vecmath"
)

// voice is one sounding key: modal reed bank, attack noise burst,
// pickup transducer, and the post-pickup voicing gain. The components
// are held by value so the pool can preallocate every voice at
// construction and restrike it in place; neither note-on nor rendering
// allocates.
type voice struct {
	bank     modal.Bank
	pickup   pickup.Pickup
	noise    excite.AttackNoise
	postGain float64
	midi     int
}

// init resolves all per-note parameters and restrikes the voice in
// place, replacing whatever note it previously played.
func (v *voice) init(midi int, velocity, sampleRate float64, noiseSeed uint32, cal notetable.Calibration) error {
	params := notetable.Params(midi)
	detuned := params.FundamentalHz * notetable.FreqDetune(midi)

	dwell := excite.DwellAttenuation(velocity, detuned, params.ModeRatios)
	onset := excite.OnsetRampTime(velocity, detuned)
	ampOffsets := notetable.ModeAmplitudeOffsets(midi)

	// Hammer force curve applies pre-pickup so it shapes the bark;
	// the voicing gain applies post-pickup so it only shapes level.
	velScale := math.Pow(notetable.VelocityScurve(velocity), notetable.VelocityExponent(midi))

	var amplitudes [notetable.NumModes]float64
	for i := range amplitudes {
		amplitudes[i] = params.ModeAmplitudes[i] * dwell[i] * ampOffsets[i] * velScale
	}

	if err := v.bank.Init(sampleRate, modal.Strike{
		FundamentalHz: detuned,
		Ratios:        params.ModeRatios,
		Amplitudes:    amplitudes,
		DecayRatesDB:  params.ModeDecayRates,
		OnsetTime:     onset,
		Velocity:      velocity,
		JitterSeed:    noiseSeed,
	}); err != nil {
		return err
	}

	if err := v.pickup.Init(sampleRate); err != nil {
		return err
	}
	if err := v.pickup.SetDisplacementScale(notetable.PickupDisplacementScaleCal(midi, cal)); err != nil {
		return err
	}

	if err := v.noise.Init(velocity, detuned, sampleRate, noiseSeed); err != nil {
		return err
	}

	v.postGain = notetable.OutputScaleCal(midi, velocity, cal)
	v.midi = midi
	return nil
}

// render overwrites out with the voice output.
func (v *voice) render(out []float64) {
	for i := range out {
		out[i] = 0
	}

	v.bank.Render(out)
	if !v.noise.Done() {
		v.noise.Render(out)
	}
	v.pickup.ProcessInPlace(out)
	vecmath.ScaleBlock(out, out, v.postGain)
}

// noteOff starts the progressive damper.
func (v *voice) noteOff() {
	v.bank.StartDamper(v.midi)
}

const silenceFloorDB = -80.0

// releaseCapSeconds frees voices whose damper never quite reaches the
// silence floor.
const releaseCapSeconds = 10.0

func (v *voice) silent() bool {
	if v.bank.Damping() && v.bank.ReleaseSeconds() > releaseCapSeconds {
		return true
	}
	return v.bank.Silent(silenceFloorDB)
}

// RenderNote renders a complete isolated note through the reed, noise
// and pickup stages (no amplifier chain). Intended for offline
// profiling and calibration work.
func RenderNote(midi int, velocity, durationSecs, sampleRate float64) ([]float64, error) {
	seed := uint32(midi) * 2654435761
	var v voice
	if err := v.init(midi, velocity, sampleRate, seed, notetable.DefaultCalibration()); err != nil {
		return nil, err
	}

	n := int(durationSecs * sampleRate)
	out := make([]float64, n)

	const chunk = 1024
	for offset := 0; offset < n; offset += chunk {
		end := offset + chunk
		if end > n {
			end = n
		}
		v.render(out[offset:end])
	}
	return out, nil
}
