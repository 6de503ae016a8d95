// Command striga runs one-shot Striga risk computations from the command
// line: full assessments, raster point samples, and rainfall intensity
// indices. Settings come from flags, STRIGA_* environment variables, or a
// striga.yaml config file, in that order of precedence.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
