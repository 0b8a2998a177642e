// Package preamp models the two-stage direct-coupled transistor
// amplifier that gives the reed piano its bark. It runs at the
// oversampled rate between the Upsample and Downsample halves of the
// signal chain. Two interchangeable models are provided:
//
//   - VariantCoupled:
//     Full 8-node nodal-analysis solver with trapezoidal capacitor
//     companions and a 2x2 Newton-Raphson kernel over the two
//     base-emitter voltages. The Miller capacitors are coupled state
//     variables, so bandwidth stays put while the photoresistor swings
//     the gain. A shadow instance advanced with zero input cancels the
//     low-frequency pump the gain modulation injects at the output.
//
//   - VariantSimple:
//     Two exponential gain stages with asymmetric soft clipping,
//     closed over a three-iteration zero-delay feedback loop. Cheaper
//     and adequate when the tremolo is off.
//
// The photoresistor path resistance produced by the tremolo package
// feeds SetLDRResistance on either model.
package preamp
