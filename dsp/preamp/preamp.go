package preamp

import (
	"fmt"
	"math"
)

// Solver is the nonlinear amplifier core. ProcessSample runs at the
// oversampled rate; SetLDRResistance takes the photoresistor path
// resistance in ohms and may be called every sample.
type Solver interface {
	ProcessSample(in float64) float64
	SetLDRResistance(ohms float64)
	Reset()
}

// Variant selects the amplifier model.
type Variant int

const (
	// VariantCoupled is the full coupled circuit solver. Default.
	VariantCoupled Variant = iota
	// VariantSimple is the two-stage zero-delay feedback model.
	VariantSimple
)

func (v Variant) String() string {
	switch v {
	case VariantCoupled:
		return "coupled"
	case VariantSimple:
		return "simple"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

func validVariant(v Variant) bool {
	return v == VariantCoupled || v == VariantSimple
}

type config struct {
	variant      Variant
	shadowBypass bool
}

// Option configures the solver returned by New.
type Option func(*config) error

// WithVariant selects the amplifier model.
func WithVariant(v Variant) Option {
	return func(c *config) error {
		if !validVariant(v) {
			return fmt.Errorf("preamp: unknown variant %d", int(v))
		}
		c.variant = v
		return nil
	}
}

// WithShadowBypass sets the initial shadow-solver bypass state of the
// coupled model. Bypass is appropriate while the photoresistor sits at
// its dark resistance; the shadow output is then constant and the
// second circuit solve can be skipped. Ignored by VariantSimple.
func WithShadowBypass(bypass bool) Option {
	return func(c *config) error {
		c.shadowBypass = bypass
		return nil
	}
}

// New creates a solver for the given (oversampled) sample rate.
func New(sampleRate float64, opts ...Option) (Solver, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("preamp: sample rate must be positive and finite, got %v", sampleRate)
	}

	cfg := config{variant: VariantCoupled}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.variant {
	case VariantCoupled:
		c, err := NewCoupled(sampleRate)
		if err != nil {
			return nil, err
		}
		c.SetShadowBypass(cfg.shadowBypass)
		return c, nil
	case VariantSimple:
		return NewSimple(sampleRate)
	default:
		return nil, fmt.Errorf("preamp: unknown variant %d", int(cfg.variant))
	}
}
