package notetable

// Deterministic per-note variation. Each physical reed has slightly
// different tuning, solder mass and mounting, so every key gets fixed
// hash-derived offsets: note 60 always sounds the same, but never quite
// like note 61.

// hashUnit maps (midi, seed) to [0, 1) via an FNV-style mix.
func hashUnit(midi int, seed uint32) float64 {
	h := uint32(2166136261)
	h ^= uint32(midi)
	h *= 16777619
	h ^= seed
	h *= 16777619
	h ^= h >> 16
	h *= 2654435769
	return float64(h&0x00FFFFFF) / 16777216.0
}

// FreqDetune returns the per-note tuning multiplier, within +/-0.8%.
func FreqDetune(midi int) float64 {
	r := hashUnit(midi, 0xDEAD)*2 - 1
	return 1 + r*0.008
}

// ModeAmplitudeOffsets returns per-mode amplitude multipliers, within +/-8%.
func ModeAmplitudeOffsets(midi int) [NumModes]float64 {
	var offsets [NumModes]float64
	for i := 0; i < NumModes; i++ {
		r := hashUnit(midi, 0xBEEF+uint32(i))*2 - 1
		offsets[i] = 1 + r*0.08
	}
	return offsets
}
