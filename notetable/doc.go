// Package notetable provides per-note synthesis parameters for a reed
// electric piano voiced over MIDI 33 (A1) to MIDI 96 (C7).
//
// The tables derive from Euler-Bernoulli beam theory for a cantilever reed
// with a solder tip mass: eigenvalue interpolation yields inharmonic mode
// ratios, blank geometry yields tip compliance and pickup displacement
// scale, and calibrated power laws yield per-mode decay rates. Hash-based
// per-note variation keeps every key subtly different while staying
// bit-identical across runs.
package notetable
