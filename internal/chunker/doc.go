// Package chunker splits input text into bounded pieces for synthesis.
// Pieces follow the largest semantic boundary that fits, so prosody is
// preserved wherever possible.
package chunker
