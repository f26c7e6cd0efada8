package budget

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rs/zerolog"
)

const encodingName = "cl100k_base"

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// Estimator counts tokens with the cl100k_base BPE and falls back to
// runes/4 when the encoding cannot be loaded.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the BPE ranks from the embedded offline loader so no
// network access happens at startup.
func NewEstimator(logger zerolog.Logger) *Estimator {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", encodingName).Msg("tokenizer unavailable, using length estimate")
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// NewApproxEstimator returns an Estimator that only uses the length heuristic.
func NewApproxEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.enc == nil {
		return Approx(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// Approx is the length heuristic: one token per four characters, rounded down.
func Approx(text string) int {
	return utf8.RuneCountInString(text) / 4
}
