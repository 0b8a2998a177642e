package tremolo_test

import (
	"fmt"
	"log"

	"github.com/cwbudde/algo-epiano/dsp/tremolo"
)

func ExampleTremolo_RestingResistance() {
	trem, err := tremolo.New(88200)
	if err != nil {
		log.Fatal(err)
	}

	// Depth defaults to zero: lamp dark, pot fully in circuit.
	fmt.Printf("%.0f ohms\n", trem.RestingResistance())
	// Output:
	// 1068000 ohms
}
