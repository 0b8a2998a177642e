package preamp

import (
	"testing"

	"github.com/cwbudde/algo-epiano/internal/testutil"
)

func BenchmarkProcessSample(b *testing.B) {
	in := testutil.DeterministicSine(440, testRate, 0.01, 4096)

	for _, variant := range []Variant{VariantCoupled, VariantSimple} {
		b.Run(variant.String(), func(b *testing.B) {
			s, err := New(testRate, WithVariant(variant))
			if err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()

			for i := range b.N {
				s.ProcessSample(in[i%len(in)])
			}
		})
	}
}
