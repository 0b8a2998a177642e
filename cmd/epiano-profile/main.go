// Command epiano-profile renders reed piano notes and prints their
// level, decay and harmonic profile.
//
// Usage:
//
//	epiano-profile [flags] [midi-note ...]
//
// Without arguments it profiles C4 (MIDI 60).
//
// Examples:
//
//	epiano-profile 48 60 72
//	epiano-profile -velocity 0.3 -duration 2 60
//	epiano-profile -variant simple -tremolo-depth 0.8 60
//	epiano-profile -raw note.f64 60
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cwbudde/algo-epiano/dsp/preamp"
	"github.com/cwbudde/algo-epiano/engine"
	"github.com/cwbudde/algo-epiano/measure/spectral"
	"github.com/cwbudde/algo-epiano/notetable"
)

const numHarmonics = 8

func main() {
	sampleRate := flag.Float64("rate", 44100, "output sample rate in Hz")
	velocity := flag.Float64("velocity", 0.8, "strike velocity in [0, 1]")
	duration := flag.Float64("duration", 2.0, "render duration in seconds")
	variant := flag.String("variant", "coupled", "amplifier model: coupled or simple")
	tremRate := flag.Float64("tremolo-rate", 5.5, "tremolo LFO rate in Hz")
	tremDepth := flag.Float64("tremolo-depth", 0.0, "tremolo depth in [0, 1]")
	voiceOnly := flag.Bool("voice-only", false, "skip the amplifier chain, profile the raw voice")
	rawPath := flag.String("raw", "", "write rendered samples as little-endian float64 to this file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: epiano-profile [flags] [midi-note ...]\n\n")
		fmt.Fprintf(os.Stderr, "Renders notes and prints level, decay and harmonic profile.\n")
		fmt.Fprintf(os.Stderr, "Notes are MIDI numbers in %d..%d. Default: 60 (C4).\n\n", notetable.MIDILow, notetable.MIDIHigh)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	notes, err := parseNotes(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "note\tfreq (Hz)\tpeak (dBFS)\tdecay (dB/s)\tH2/H1 (dB)\tH3/H1 (dB)")

	for _, note := range notes {
		out, err := render(note, *sampleRate, *velocity, *duration, *variant, *tremRate, *tremDepth, *voiceOnly)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: note %d: %v\n", note, err)
			os.Exit(1)
		}

		if *rawPath != "" {
			if err := writeRaw(*rawPath, out); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		}

		printProfile(w, note, out, *sampleRate)
	}
	w.Flush()
}

func parseNotes(args []string) ([]int, error) {
	if len(args) == 0 {
		return []int{60}, nil
	}
	notes := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid note %q", arg)
		}
		if n < notetable.MIDILow || n > notetable.MIDIHigh {
			return nil, fmt.Errorf("note %d out of range %d..%d", n, notetable.MIDILow, notetable.MIDIHigh)
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func render(note int, sampleRate, velocity, duration float64, variant string, tremRate, tremDepth float64, voiceOnly bool) ([]float64, error) {
	if voiceOnly {
		return engine.RenderNote(note, velocity, duration, sampleRate)
	}

	var v preamp.Variant
	switch variant {
	case "coupled":
		v = preamp.VariantCoupled
	case "simple":
		v = preamp.VariantSimple
	default:
		return nil, fmt.Errorf("unknown variant %q", variant)
	}

	e, err := engine.New(sampleRate, engine.WithPreampVariant(v))
	if err != nil {
		return nil, err
	}
	if err := e.SetTremoloRate(tremRate); err != nil {
		return nil, err
	}
	if err := e.SetTremoloDepth(tremDepth); err != nil {
		return nil, err
	}

	e.NoteOn(1, note, velocity)
	out := make([]float64, int(duration*sampleRate))
	const block = 1024
	for offset := 0; offset < len(out); offset += block {
		end := offset + block
		if end > len(out) {
			end = len(out)
		}
		e.Process(out[offset:end])
	}
	return out, nil
}

func printProfile(w *tabwriter.Writer, note int, out []float64, sampleRate float64) {
	peak := spectral.PeakAbs(out)
	f0 := notetable.MIDIToFreq(note)

	// Decay from RMS levels a second apart, past the attack.
	decay := math.NaN()
	w1End := int(sampleRate * 0.35)
	w2Start := int(sampleRate * 1.25)
	w2End := int(sampleRate * 1.35)
	if w2End <= len(out) {
		early := spectral.RMS(out[int(sampleRate*0.25):w1End])
		late := spectral.RMS(out[w2Start:w2End])
		decay = spectral.DB(early) - spectral.DB(late)
	}

	h2db, h3db := math.NaN(), math.NaN()
	seg := out[len(out)/4:]
	if mags, err := spectral.HarmonicMagnitudes(seg, sampleRate, f0, numHarmonics); err == nil && mags[0] > 0 {
		h2db = spectral.DB(mags[1] / mags[0])
		h3db = spectral.DB(mags[2] / mags[0])
	}

	fmt.Fprintf(w, "%d\t%.2f\t%.1f\t%.1f\t%.1f\t%.1f\n",
		note, f0, spectral.DB(peak), decay, h2db, h3db)
}

func writeRaw(path string, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, s := range samples {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s))
		if _, err := f.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
