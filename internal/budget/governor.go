// Package budget enforces token ceilings on ingestion and sizes retrieval.
package budget

import (
	"fmt"
)

const (
	DefaultMaxPerDocument   = 50000
	DefaultMaxPerSession    = 200000
	DefaultMaxContextTokens = 28000

	// contextReserve is kept free in the context window for the system
	// prompt, the question and the answer.
	contextReserve = 4000
	minK           = 8
	maxK           = 25
)

const (
	ReasonDocumentTooLarge = "document_too_large"
	ReasonSessionExceeded  = "session_budget_exceeded"
)

type Limits struct {
	MaxPerDocument int
	MaxPerSession  int
}

// Details is the machine-readable part of a rejection.
type Details struct {
	NewDocumentTokens     int     `json:"new_document_tokens"`
	ExistingSessionTokens int     `json:"existing_session_tokens"`
	TotalAfter            int     `json:"total_after"`
	MaxPerDocument        int     `json:"max_per_document"`
	MaxPerSession         int     `json:"max_per_session"`
	OveragePercent        float64 `json:"overage_percent,omitempty"`
	Remaining             int     `json:"remaining"`
}

type RejectedError struct {
	Reason  string
	Message string
	Details Details
}

func (e *RejectedError) Error() string {
	return e.Message
}

type Governor struct {
	limits Limits
}

func NewGovernor(limits Limits) *Governor {
	if limits.MaxPerDocument <= 0 {
		limits.MaxPerDocument = DefaultMaxPerDocument
	}
	if limits.MaxPerSession <= 0 {
		limits.MaxPerSession = DefaultMaxPerSession
	}
	return &Governor{limits: limits}
}

func (g *Governor) Limits() Limits {
	return g.limits
}

// Validate admits a document of newDocTokens on top of existingTokens, which
// must already include anything admitted earlier in the same batch. A
// rejection is returned as *RejectedError.
func (g *Governor) Validate(newDocTokens, existingTokens int) error {
	maxDoc, maxSession := g.limits.MaxPerDocument, g.limits.MaxPerSession
	details := Details{
		NewDocumentTokens:     newDocTokens,
		ExistingSessionTokens: existingTokens,
		TotalAfter:            existingTokens + newDocTokens,
		MaxPerDocument:        maxDoc,
		MaxPerSession:         maxSession,
		Remaining:             max(0, maxSession-existingTokens),
	}

	if newDocTokens > maxDoc {
		details.OveragePercent = float64(newDocTokens-maxDoc) / float64(maxDoc) * 100
		return &RejectedError{
			Reason: ReasonDocumentTooLarge,
			Message: fmt.Sprintf(
				"document is too large (~%d tokens), the limit is %d tokens (over by %.3f%%); split it into smaller parts",
				newDocTokens, maxDoc, details.OveragePercent,
			),
			Details: details,
		}
	}

	if details.TotalAfter > maxSession {
		return &RejectedError{
			Reason: ReasonSessionExceeded,
			Message: fmt.Sprintf(
				"session token budget exceeded: current %d, new %d, total %d (limit %d); %d tokens remaining, remove documents or start a new session",
				existingTokens, newDocTokens, details.TotalAfter, maxSession, details.Remaining,
			),
			Details: details,
		}
	}
	return nil
}

// OptimalK picks how many chunks to retrieve for a session of totalChunks
// chunks holding totalTokens tokens (0 when unknown). The result lies in
// [8, min(25, totalChunks)], or equals totalChunks when there are fewer than 8.
func OptimalK(totalChunks, totalTokens, maxContextTokens int) int {
	if totalChunks <= 0 {
		return 0
	}
	if totalChunks < minK {
		return totalChunks
	}
	if maxContextTokens <= 0 {
		maxContextTokens = DefaultMaxContextTokens
	}

	byTokens := func() int {
		avg := float64(totalTokens) / float64(totalChunks)
		return max(minK, int(float64(maxContextTokens-contextReserve)/avg))
	}

	var suggested int
	switch {
	case totalTokens > 0 && totalTokens <= 10000:
		suggested = min(totalChunks, byTokens())
	case totalTokens > 0:
		switch {
		case totalTokens <= 30000:
			suggested = 15
		case totalTokens <= 50000:
			suggested = 18
		default:
			suggested = maxK
		}
		suggested = min(suggested, byTokens())
	default:
		switch {
		case totalChunks <= 20:
			suggested = totalChunks
		case totalChunks <= 40:
			suggested = 15
		case totalChunks <= 60:
			suggested = 18
		default:
			suggested = maxK
		}
	}

	return max(minK, min(suggested, maxK, totalChunks))
}
