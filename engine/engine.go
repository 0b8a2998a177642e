package engine

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-epiano/dsp/halfband"
	"github.com/cwbudde/algo-epiano/dsp/preamp"
	"github.com/cwbudde/algo-epiano/dsp/tremolo"
	"github.com/cwbudde/algo-epiano/notetable"
	"github.com/cwbudde/algo-vecmath"
)

const (
	defaultVoiceCount   = 12
	defaultMaxBlockSize = 8192

	stealFadeSeconds = 0.005
)

type slotState int

const (
	slotFree slotState = iota
	slotHeld
	slotReleasing
)

// voiceSlot owns exactly two preallocated voices. One is current; the
// other is either idle (spare) or fading out after a steal
// (stealVoice). Note-on only moves the pointers, never allocates.
type voiceSlot struct {
	voice *voice
	spare *voice
	id    uint32
	state slotState
	midi  int
	age   uint64

	// Outgoing voice during a steal, faded linearly.
	stealVoice   *voice
	stealID      uint32
	stealFade    int
	stealFadeLen int
}

type eventKind int

const (
	eventNoteOn eventKind = iota
	eventNoteOff
)

// eventConsumed marks an event already applied within Process.
const eventConsumed eventKind = -1

type event struct {
	kind     eventKind
	offset   int
	id       uint32
	key      int
	velocity float64
}

// VoiceEndedFunc is called from Process when a voice stops sounding,
// either by decaying below the silence floor, by the release cap, or
// by being stolen.
type VoiceEndedFunc func(id uint32)

// Engine is the complete instrument: a fixed voice pool mixed down to
// mono, oversampled 2x through the tremolo-modulated amplifier solver,
// and decimated back to the output rate.
type Engine struct {
	sampleRate float64
	osRate     float64

	slots      []voiceSlot
	ageCounter uint64

	solver      preamp.Solver
	variant     preamp.Variant
	trem        *tremolo.Tremolo
	oversampler *halfband.Oversampler

	cal        notetable.Calibration
	voiceEnded VoiceEndedFunc

	events []event

	maxBlock int
	voiceBuf []float64
	sumBuf   []float64
	upBuf    []float64
}

// Option configures an Engine.
type Option func(*Engine) error

// WithVoiceCount sets the number of voice slots.
func WithVoiceCount(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("engine: voice count must be >= 1, got %d", n)
		}
		e.slots = make([]voiceSlot, n)
		return nil
	}
}

// WithMaxBlockSize sets the largest block Process handles in one pass.
// Larger blocks are split internally.
func WithMaxBlockSize(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("engine: max block size must be >= 1, got %d", n)
		}
		e.maxBlock = n
		return nil
	}
}

// WithVoiceEndedFunc registers the voice-ended notification callback.
func WithVoiceEndedFunc(fn VoiceEndedFunc) Option {
	return func(e *Engine) error {
		e.voiceEnded = fn
		return nil
	}
}

// WithCalibration overrides the voicing calibration for all notes.
func WithCalibration(cal notetable.Calibration) Option {
	return func(e *Engine) error {
		if err := cal.Validate(); err != nil {
			return err
		}
		e.cal = cal
		return nil
	}
}

// WithPreampVariant selects the amplifier model.
func WithPreampVariant(v preamp.Variant) Option {
	return func(e *Engine) error {
		e.variant = v
		return nil
	}
}

// New creates an engine at the given output sample rate.
func New(sampleRate float64, opts ...Option) (*Engine, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("engine: sample rate must be positive and finite, got %v", sampleRate)
	}

	e := &Engine{
		sampleRate: sampleRate,
		osRate:     sampleRate * 2,
		slots:      make([]voiceSlot, defaultVoiceCount),
		variant:    preamp.VariantCoupled,
		cal:        notetable.DefaultCalibration(),
		maxBlock:   defaultMaxBlockSize,
		events:     make([]event, 0, 128),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	// All voice storage lives here; note-on and stealing reuse it.
	for i := range e.slots {
		e.slots[i].voice = &voice{}
		e.slots[i].spare = &voice{}
	}

	if err := e.buildRateDependent(); err != nil {
		return nil, err
	}
	return e, nil
}

// buildRateDependent constructs everything tied to the sample rate.
func (e *Engine) buildRateDependent() error {
	solver, err := preamp.New(e.osRate, preamp.WithVariant(e.variant))
	if err != nil {
		return err
	}
	trem, err := tremolo.New(e.osRate)
	if err != nil {
		return err
	}

	e.solver = solver
	e.trem = trem
	e.oversampler = halfband.New()
	e.voiceBuf = make([]float64, e.maxBlock)
	e.sumBuf = make([]float64, e.maxBlock)
	e.upBuf = make([]float64, e.maxBlock*2)
	e.syncShadowBypass()
	return nil
}

// SampleRate returns the output sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// SetSampleRate rebuilds all rate-dependent state. Active voices are
// released immediately with voice-ended notifications. Must not be
// called concurrently with Process.
func (e *Engine) SetSampleRate(sampleRate float64) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("engine: sample rate must be positive and finite, got %v", sampleRate)
	}
	rate, depth := e.trem.Rate(), e.trem.Depth()

	e.sampleRate = sampleRate
	e.osRate = sampleRate * 2
	e.dropAllVoices()
	if err := e.buildRateDependent(); err != nil {
		return err
	}
	if err := e.trem.SetRate(rate); err != nil {
		return err
	}
	return e.trem.SetDepth(depth)
}

// SetTremoloRate sets the tremolo LFO rate in Hz. Takes effect at the
// next block.
func (e *Engine) SetTremoloRate(rateHz float64) error {
	return e.trem.SetRate(rateHz)
}

// SetTremoloDepth sets the tremolo depth in [0, 1]. At zero depth the
// amplifier's shadow solver is bypassed.
func (e *Engine) SetTremoloDepth(depth float64) error {
	if err := e.trem.SetDepth(depth); err != nil {
		return err
	}
	e.syncShadowBypass()
	return nil
}

// syncShadowBypass skips the shadow circuit solve while the
// photoresistor is static.
func (e *Engine) syncShadowBypass() {
	if c, ok := e.solver.(*preamp.Coupled); ok {
		c.SetShadowBypass(e.trem.Depth() == 0)
	}
}

// NoteOn starts a note at the beginning of the next block. The id
// identifies the voice in NoteOff and voice-ended notifications.
func (e *Engine) NoteOn(id uint32, key int, velocity float64) {
	e.NoteOnAt(id, key, velocity, 0)
}

// NoteOnAt starts a note at a sample offset inside the next block.
func (e *Engine) NoteOnAt(id uint32, key int, velocity float64, offset int) {
	e.events = append(e.events, event{
		kind:     eventNoteOn,
		offset:   offset,
		id:       id,
		key:      key,
		velocity: velocity,
	})
}

// NoteOff releases the held voice with the given id at the beginning
// of the next block.
func (e *Engine) NoteOff(id uint32) {
	e.NoteOffAt(id, 0)
}

// NoteOffAt releases a note at a sample offset inside the next block.
func (e *Engine) NoteOffAt(id uint32, offset int) {
	e.events = append(e.events, event{kind: eventNoteOff, offset: offset, id: id})
}

// noteOn resolves a queued note-on: allocates a slot, stealing the
// oldest voice when the pool is full.
func (e *Engine) noteOn(id uint32, key int, velocity float64) {
	if key < notetable.MIDILow {
		key = notetable.MIDILow
	}
	if key > notetable.MIDIHigh {
		key = notetable.MIDIHigh
	}
	velocity = math.Min(math.Max(velocity, 0), 1)

	idx := e.allocate()
	slot := &e.slots[idx]

	if slot.state != slotFree {
		fade := int(e.sampleRate * stealFadeSeconds)
		if fade < 1 {
			fade = 1
		}
		// An unfinished earlier steal in the same slot ends now and
		// returns its voice to the spare.
		if slot.stealVoice != nil {
			if e.voiceEnded != nil {
				e.voiceEnded(slot.stealID)
			}
			slot.spare = slot.stealVoice
		}
		slot.stealVoice = slot.voice
		slot.voice = slot.spare
		slot.spare = nil
		slot.stealID = slot.id
		slot.stealFade = fade
		slot.stealFadeLen = fade
	}

	e.ageCounter++
	seed := uint32(key)*2654435761 + uint32(e.ageCounter)
	if err := slot.voice.init(key, velocity, e.sampleRate, seed, e.cal); err != nil {
		// Key and velocity are clamped above; restriking cannot fail
		// for in-range values.
		slot.state = slotFree
		return
	}
	slot.id = id
	slot.state = slotHeld
	slot.midi = key
	slot.age = e.ageCounter
}

func (e *Engine) noteOff(id uint32) {
	for i := range e.slots {
		slot := &e.slots[i]
		if slot.state == slotHeld && slot.id == id {
			slot.state = slotReleasing
			slot.voice.noteOff()
			return
		}
	}
}

// allocate picks a slot: free first, then oldest releasing, then
// oldest held.
func (e *Engine) allocate() int {
	for i := range e.slots {
		if e.slots[i].state == slotFree {
			return i
		}
	}

	oldestAge := uint64(math.MaxUint64)
	oldestIdx := -1
	for i := range e.slots {
		if e.slots[i].state == slotReleasing && e.slots[i].age < oldestAge {
			oldestAge = e.slots[i].age
			oldestIdx = i
		}
	}
	if oldestIdx >= 0 {
		return oldestIdx
	}

	oldestAge = uint64(math.MaxUint64)
	oldestIdx = 0
	for i := range e.slots {
		if e.slots[i].age < oldestAge {
			oldestAge = e.slots[i].age
			oldestIdx = i
		}
	}
	return oldestIdx
}

// Process renders len(out) mono samples. Queued events split the block
// at their sample offsets so note starts are sample accurate.
func (e *Engine) Process(out []float64) {
	for base := 0; base < len(out); base += e.maxBlock {
		end := base + e.maxBlock
		if end > len(out) {
			end = len(out)
		}
		e.processBlock(out[base:end], base)
	}

	// Drain events with offsets beyond the block; they take effect now
	// so the notes sound from the start of the next block.
	for i := range e.events {
		ev := &e.events[i]
		switch ev.kind {
		case eventNoteOn:
			e.noteOn(ev.id, ev.key, ev.velocity)
		case eventNoteOff:
			e.noteOff(ev.id)
		}
	}
	e.events = e.events[:0]
	e.cleanup()
}

func (e *Engine) processBlock(out []float64, eventBase int) {
	n := len(out)
	blockStart := 0

	for blockStart < n {
		// Apply events due at or before the current position.
		for i := range e.events {
			ev := &e.events[i]
			if ev.kind == eventConsumed || ev.offset-eventBase > blockStart {
				continue
			}
			switch ev.kind {
			case eventNoteOn:
				e.noteOn(ev.id, ev.key, ev.velocity)
			case eventNoteOff:
				e.noteOff(ev.id)
			}
			ev.kind = eventConsumed
		}

		blockEnd := n
		for i := range e.events {
			if e.events[i].kind == eventConsumed {
				continue
			}
			if off := e.events[i].offset - eventBase; off > blockStart && off < blockEnd {
				blockEnd = off
			}
		}

		e.renderSubblock(out[blockStart:blockEnd])
		blockStart = blockEnd
	}
}

// renderSubblock sums voices and pushes them through the oversampled
// amplifier chain.
func (e *Engine) renderSubblock(out []float64) {
	n := len(out)
	sum := e.sumBuf[:n]
	for i := range sum {
		sum[i] = 0
	}

	for si := range e.slots {
		slot := &e.slots[si]
		if slot.state == slotFree && slot.stealVoice == nil {
			continue
		}

		if slot.state != slotFree {
			slot.voice.render(e.voiceBuf[:n])
			vecmath.AddBlockInPlace(sum, e.voiceBuf[:n])
		}

		if slot.stealVoice != nil {
			slot.stealVoice.render(e.voiceBuf[:n])
			fadeLen := float64(slot.stealFadeLen)
			for i := 0; i < n; i++ {
				remaining := slot.stealFade - i
				if remaining < 0 {
					remaining = 0
				}
				sum[i] += e.voiceBuf[i] * float64(remaining) / fadeLen
			}
			slot.stealFade -= n
			if slot.stealFade <= 0 {
				slot.spare = slot.stealVoice
				slot.stealVoice = nil
				if e.voiceEnded != nil {
					e.voiceEnded(slot.stealID)
				}
			}
		}
	}

	up := e.upBuf[:2*n]
	e.oversampler.Upsample(sum, up)
	for i := range up {
		e.solver.SetLDRResistance(e.trem.Process())
		up[i] = e.solver.ProcessSample(up[i])
	}
	e.oversampler.Downsample(up, out)
}

// cleanup frees voices that have decayed to silence.
func (e *Engine) cleanup() {
	for i := range e.slots {
		slot := &e.slots[i]
		if slot.state == slotFree {
			continue
		}
		if slot.voice.silent() {
			slot.state = slotFree
			if e.voiceEnded != nil {
				e.voiceEnded(slot.id)
			}
		}
	}
}

// ActiveVoices returns the number of held or releasing voices.
func (e *Engine) ActiveVoices() int {
	count := 0
	for i := range e.slots {
		if e.slots[i].state != slotFree {
			count++
		}
	}
	return count
}

// dropAllVoices frees every slot, notifying for active voices.
func (e *Engine) dropAllVoices() {
	for i := range e.slots {
		slot := &e.slots[i]
		if slot.stealVoice != nil {
			if e.voiceEnded != nil {
				e.voiceEnded(slot.stealID)
			}
			slot.spare = slot.stealVoice
			slot.stealVoice = nil
			slot.stealFade = 0
		}
		if slot.state != slotFree {
			if e.voiceEnded != nil {
				e.voiceEnded(slot.id)
			}
			slot.state = slotFree
		}
	}
	e.events = e.events[:0]
}

// Reset returns the engine to its initial state.
func (e *Engine) Reset() {
	e.dropAllVoices()
	e.ageCounter = 0
	e.solver.Reset()
	e.trem.Reset()
	e.oversampler.Reset()
	e.syncShadowBypass()
}
