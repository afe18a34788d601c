package session

import (
	"strings"
	"time"

	"github.com/dgnsrekt/streamtts/internal/chunker"
)

// ShrinkStep is one way of breaking up text the engine rejected.
type ShrinkStep struct {
	Name    string
	Applies func(text string) bool
	Split   func(text string) []string
}

// RetryPolicy is the ladder applied to a failing chunk.
//
// Transient errors and timeouts are retried on the same backend up to
// MaxRetries times, then once on the fallback backend when DemoteOnExhaust
// is set. Malformed input walks Shrink; each piece descends the remaining
// steps on its own.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration

	// CallTimeout bounds one engine call. A call that outlives it is
	// abandoned and awaited for up to CallGrace before the next call.
	CallTimeout time.Duration
	CallGrace   time.Duration

	DemoteOnExhaust bool
	Shrink          []ShrinkStep
}

// DefaultRetryPolicy returns the standard ladder.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		Backoff:         500 * time.Millisecond,
		CallTimeout:     30 * time.Second,
		CallGrace:       2 * time.Second,
		DemoteOnExhaust: true,
		Shrink:          DefaultShrinkSteps(),
	}
}

// DefaultShrinkSteps halves the text, then splits it into sentences, then
// into groups of four words.
func DefaultShrinkSteps() []ShrinkStep {
	return []ShrinkStep{
		{
			Name:    "halves",
			Applies: func(s string) bool { return len(strings.Fields(s)) > 1 },
			Split:   chunker.Halves,
		},
		{
			Name:    "sentences",
			Applies: func(s string) bool { return len(chunker.Sentences(s)) > 1 },
			Split:   chunker.Sentences,
		},
		{
			Name:    "word-groups",
			Applies: func(s string) bool { return len(strings.Fields(s)) > 4 },
			Split:   func(s string) []string { return chunker.WordGroups(s, 4) },
		},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = def.CallTimeout
	}
	if p.CallGrace <= 0 {
		p.CallGrace = def.CallGrace
	}
	return p
}
