// Package prompt estimates the token cost of a composed system prompt plus
// window payload, feeding both the rate gate's token-budget dimension (C1)
// and the scheduler's batch sizing (C4).
package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for a string, preferring a real BPE encoding and
// falling back to a fixed bytes-per-token ratio when the encoding can't be
// loaded (offline runs with no cached vocab file).
type Estimator struct {
	bytesPerToken int
	enc           *tiktoken.Tiktoken
}

var (
	encOnce sync.Once
	encAny  *tiktoken.Tiktoken
)

// loadEncoding lazily resolves the cl100k_base BPE once per process; every
// Estimator reuses it instead of re-parsing the vocab file per instance.
func loadEncoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encAny = enc
		}
	})
	return encAny
}

// NewEstimator returns a token estimator. bytesPerToken <= 0 defaults to 4
// and is only consulted as the fallback path.
func NewEstimator(bytesPerToken int) *Estimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return &Estimator{bytesPerToken: bpt, enc: loadEncoding()}
}

// Estimate returns the token count for s.
func (e *Estimator) Estimate(s string) int {
	if s == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(s, nil, nil))
	}
	n := len(s)
	return (n + e.bytesPerToken - 1) / e.bytesPerToken
}
