// Package engine assembles the full instrument: a fixed pool of reed
// voices with oldest-first stealing, a mono mix bus, and the 2x
// oversampled tremolo-plus-amplifier chain. Note events queue between
// blocks and are applied sample accurately inside Process.
package engine
